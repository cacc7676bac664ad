package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jakopako/punchclock/internal/output"
	"github.com/jakopako/punchclock/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func setRequired(t *testing.T) {
	t.Setenv("PUNCH_TYPE", "上班")
	t.Setenv("COMPANY_ID", "acme")
	t.Setenv("EMPLOYEE_ID", "E042")
	t.Setenv("PASSWORD", "hunter2")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	setRequired(t)
	c, err := Load("", "")
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	return c
}

func TestLoad_Defaults(t *testing.T) {
	c := validConfig(t)

	assert.Equal(t, types.ClockIn, c.Action())
	assert.False(t, c.IsProduction)
	assert.Equal(t, "https://portal.nueip.com/login", c.Portal.LoginURL)
	assert.Equal(t, "**/home", c.Portal.HomePattern)
	assert.Equal(t, "**/login**", c.Portal.LoginResponsePattern)
	assert.Equal(t, []string{"打卡成功", "成功打卡"}, c.Labels.SuccessPhrases)
	assert.Equal(t, 25.033964, c.Geo.Latitude)
	assert.True(t, c.Geo.Verify)
	assert.Equal(t, 30*time.Second, c.Timeouts.Home)
	assert.Equal(t, 500*time.Millisecond, c.Timeouts.Settle)
	assert.Equal(t, output.STDOUT_WRITER_TYPE, c.Writer.Type)

	auth := c.AuthPolicy()
	assert.Equal(t, 3, auth.MaxAttempts)
	assert.Equal(t, 2*time.Second, auth.InitialDelay)
	assert.Equal(t, 2.0, auth.BackoffFactor)
	assert.Equal(t, 500*time.Millisecond, c.PunchPolicy().Settle)
	assert.Zero(t, auth.Settle)
}

func TestLoad_EnvFile(t *testing.T) {
	unsetenv(t, "PUNCH_TYPE", "COMPANY_ID", "EMPLOYEE_ID", "PASSWORD")
	t.Setenv("EMPLOYEE_ID", "from-env")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PUNCH_TYPE=下班\nCOMPANY_ID=acme\nEMPLOYEE_ID=from-file\nPASSWORD=hunter2\n"), 0600))

	c, err := Load("", envFile)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, types.ClockOut, c.Action())
	assert.Equal(t, "acme", c.Credentials.CompanyID)
	// variables already set win over the file
	assert.Equal(t, "from-env", c.Credentials.EmployeeID)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	setRequired(t)
	_, err := Load("", filepath.Join(t.TempDir(), "does-not-exist.env"))
	assert.NoError(t, err)
}

func TestLoad_YAMLFile(t *testing.T) {
	setRequired(t)
	t.Setenv("COMPANY_ID", "env-wins")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `punch_type: clock-out
credentials:
  company_id: from-yaml
labels:
  clock_in: 上班打卡
  clock_out: 下班打卡
timeouts:
  verify: 45s
punch_retry:
  max_attempts: 5
writer:
  type: file
  filedir: out
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0600))

	c, err := Load(path, "")
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "env-wins", c.Credentials.CompanyID)
	assert.Equal(t, "上班打卡", c.Labels.ClockIn)
	assert.Equal(t, 45*time.Second, c.Timeouts.Verify)
	assert.Equal(t, 5, c.PunchPolicy().MaxAttempts)
	assert.Equal(t, output.FILE_WRITER_TYPE, c.Writer.Type)
	// untouched values still get their defaults
	assert.Equal(t, "打卡成功", c.Labels.SuccessMarker)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown punch type", func(c *Config) { c.PunchType = "lunch" }, "unknown punch type"},
		{"missing password", func(c *Config) { c.Credentials.Password = "" }, "PASSWORD is not set"},
		{"same labels", func(c *Config) { c.Labels.ClockOut = c.Labels.ClockIn }, "must differ"},
		{"empty marker", func(c *Config) { c.Labels.SuccessMarker = " " }, "success marker label is empty"},
		{"no phrases", func(c *Config) { c.Labels.SuccessPhrases = nil }, "success phrase"},
		{"relative login url", func(c *Config) { c.Portal.LoginURL = "/login" }, "login url"},
		{"empty home pattern", func(c *Config) { c.Portal.HomePattern = "" }, "home pattern"},
		{"bad retry", func(c *Config) { c.AuthRetry.MaxAttempts = 0 }, "auth retry"},
		{"bad backoff", func(c *Config) { c.PunchRetry.BackoffFactor = 0.5 }, "punch retry"},
		{"bad latitude", func(c *Config) { c.Geo.Latitude = 123 }, "out of range"},
		{"bad viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }, "viewport"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"no run bound", func(c *Config) { c.Timeouts.Run = 0 }, "TIMEOUT_RUN must be positive"},
		{"no navigation bound", func(c *Config) { c.Timeouts.Navigation = 0 }, "TIMEOUT_NAVIGATION"},
		{"no field bound", func(c *Config) { c.Timeouts.Field = 0 }, "TIMEOUT_FIELD"},
		{"negative home wait", func(c *Config) { c.Timeouts.Home = -time.Second }, "TIMEOUT_HOME"},
		{"no punch visible bound", func(c *Config) { c.Timeouts.PunchVisible = 0 }, "TIMEOUT_PUNCH_VISIBLE"},
		{"no verify bound", func(c *Config) { c.Timeouts.Verify = 0 }, "TIMEOUT_VERIFY"},
		{"no content scan bound", func(c *Config) { c.Timeouts.ContentScan = 0 }, "TIMEOUT_CONTENT_SCAN"},
		{"no geo verify bound", func(c *Config) { c.Timeouts.GeoVerify = 0 }, "TIMEOUT_GEO_VERIFY"},
		{"no screenshot bound", func(c *Config) { c.Timeouts.Screenshot = 0 }, "TIMEOUT_SCREENSHOT"},
		{"negative settle", func(c *Config) { c.Timeouts.Settle = -time.Millisecond }, "SETTLE_DELAY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryTimeout(t *testing.T) {
	c := validConfig(t)
	c.Timeouts.Run = 0
	c.Timeouts.Field = 0
	c.Timeouts.Home = -time.Second
	c.Timeouts.Verify = 0

	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, name := range []string{"TIMEOUT_RUN", "TIMEOUT_FIELD", "TIMEOUT_HOME", "TIMEOUT_VERIFY"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestValidate_ZeroSettleIsAllowed(t *testing.T) {
	c := validConfig(t)
	c.Timeouts.Settle = 0
	c.Timeouts.LoginResponse = 0
	assert.NoError(t, c.Validate())
}

func TestLoad_UnreadableConfigFileIsInvalid(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_GeoDisabledIgnoresPosition(t *testing.T) {
	c := validConfig(t)
	c.Geo.Enabled = false
	c.Geo.Latitude = 500
	assert.NoError(t, c.Validate())
}

func TestRequest(t *testing.T) {
	c := validConfig(t)
	req := c.Request()
	assert.Equal(t, types.ClockIn, req.Action)
	assert.Equal(t, "hunter2", req.Credentials.Password)
	assert.Equal(t, 121.564468, req.Geolocation.Longitude)
	assert.Equal(t, 50.0, req.Geolocation.Accuracy)
}

func TestStageConfigs(t *testing.T) {
	c := validConfig(t)

	auth := c.AuthConfig()
	assert.Equal(t, types.ByRole(types.RoleTextbox, "公司代碼"), auth.CompanyID)
	assert.Equal(t, types.ByPlaceholder("密碼"), auth.Password)
	assert.Equal(t, types.ByRole(types.RoleButton, "登入"), auth.Submit)

	punch := c.PunchConfig()
	assert.Equal(t, "上班", punch.ClockInLabel)
	assert.Equal(t, "下班", punch.ClockOutLabel)

	verify := c.VerifyConfig()
	assert.Equal(t, types.RoleAlert, verify.Alert.Role)
	assert.Equal(t, "打卡成功", verify.Marker)
}

func TestOptions(t *testing.T) {
	c := validConfig(t)
	c.DryRun = true
	opts := c.Options(false)
	assert.Equal(t, "https://portal.nueip.com/login", opts.LoginURL)
	assert.True(t, opts.Geolocation)
	assert.True(t, opts.Punch.DryRun)
	assert.Equal(t, 60*time.Second, opts.NavigationTimeout)
	assert.Equal(t, ".", opts.ScreenshotDir)
}

func TestLaunchOptions(t *testing.T) {
	tests := []struct {
		production bool
		headful    bool
		headless   bool
		verbose    bool
	}{
		{false, false, false, true},
		{true, false, true, false},
		{true, true, false, false},
	}
	for _, tt := range tests {
		c := validConfig(t)
		c.IsProduction = tt.production
		opts := c.LaunchOptions(tt.headful)
		assert.Equal(t, tt.headless, opts.Headless, "production=%v headful=%v", tt.production, tt.headful)
		assert.Equal(t, tt.verbose, opts.Verbose)
		assert.Equal(t, "Asia/Taipei", opts.Timezone)
		assert.Equal(t, 1280, opts.ViewportWidth)
	}
}

func TestYAMLIsRedacted(t *testing.T) {
	c := validConfig(t)
	c.Writer.Password = "writer-secret"

	data, err := c.YAML()
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "writer-secret")
	assert.Contains(t, out, "****")
	// the original is untouched
	assert.Equal(t, "hunter2", c.Credentials.Password)
}

func TestDescription(t *testing.T) {
	d, err := Description()
	require.NoError(t, err)
	for _, name := range []string{"PUNCH_TYPE", "COMPANY_ID", "PASSWORD", "SUCCESS_PHRASES", "OUTPUT_TYPE"} {
		assert.True(t, strings.Contains(d, name), name)
	}
}
