// Package config builds the run configuration from a .env file, an optional
// YAML file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/geo"
	"github.com/jakopako/punchclock/internal/output"
	"github.com/jakopako/punchclock/internal/retry"
	"github.com/jakopako/punchclock/internal/stage"
	"github.com/jakopako/punchclock/internal/types"
	"github.com/jakopako/punchclock/internal/workflow"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every error from loading or validating.
var ErrInvalid = errors.New("invalid configuration")

const redacted = "****"

type CredentialsConfig struct {
	CompanyID  string `yaml:"company_id" env:"COMPANY_ID" env-description:"company code used to log in"`
	EmployeeID string `yaml:"employee_id" env:"EMPLOYEE_ID" env-description:"employee number used to log in"`
	Password   string `yaml:"password" env:"PASSWORD" env-description:"portal password"`
}

type GeoConfig struct {
	Enabled   bool    `yaml:"enabled" env:"GEO_ENABLED" env-default:"true" env-description:"inject a fixed device position"`
	Latitude  float64 `yaml:"latitude" env:"GEO_LATITUDE" env-default:"25.033964" env-description:"injected latitude"`
	Longitude float64 `yaml:"longitude" env:"GEO_LONGITUDE" env-default:"121.564468" env-description:"injected longitude"`
	Accuracy  float64 `yaml:"accuracy" env:"GEO_ACCURACY" env-default:"50" env-description:"injected accuracy in meters"`
	Verify    bool    `yaml:"verify" env:"GEO_VERIFY" env-default:"true" env-description:"check the position the page sees after login, disable through the environment"`
}

type PortalConfig struct {
	LoginURL             string `yaml:"login_url" env:"PORTAL_LOGIN_URL" env-default:"https://portal.nueip.com/login" env-description:"login page"`
	HomePattern          string `yaml:"home_pattern" env:"PORTAL_HOME_PATTERN" env-default:"**/home" env-description:"url glob of the page shown after login"`
	LoginResponsePattern string `yaml:"login_response_pattern" env:"PORTAL_LOGIN_RESPONSE_PATTERN" env-default:"**/login**" env-description:"url glob of the login request, empty disables response logging"`
}

type LabelConfig struct {
	CompanyID           string   `yaml:"company_id" env:"LABEL_COMPANY_ID" env-default:"公司代碼" env-description:"accessible name of the company code textbox"`
	EmployeeID          string   `yaml:"employee_id" env:"LABEL_EMPLOYEE_ID" env-default:"員工編號" env-description:"accessible name of the employee number textbox"`
	PasswordPlaceholder string   `yaml:"password_placeholder" env:"LABEL_PASSWORD_PLACEHOLDER" env-default:"密碼" env-description:"placeholder of the password field"`
	Submit              string   `yaml:"submit" env:"LABEL_SUBMIT" env-default:"登入" env-description:"accessible name of the login button"`
	ClockIn             string   `yaml:"clock_in" env:"LABEL_CLOCK_IN" env-default:"上班" env-description:"accessible name of the clock-in button"`
	ClockOut            string   `yaml:"clock_out" env:"LABEL_CLOCK_OUT" env-default:"下班" env-description:"accessible name of the clock-out button"`
	SuccessMarker       string   `yaml:"success_marker" env:"LABEL_SUCCESS_MARKER" env-default:"打卡成功" env-description:"text the success alert contains"`
	SuccessPhrases      []string `yaml:"success_phrases" env:"SUCCESS_PHRASES" env-default:"打卡成功,成功打卡" env-separator:"," env-description:"phrases accepted when scanning the page content"`
}

type BrowserConfig struct {
	Locale         string `yaml:"locale" env:"BROWSER_LOCALE" env-default:"zh-TW" env-description:"browser locale"`
	Timezone       string `yaml:"timezone" env:"BROWSER_TIMEZONE" env-default:"Asia/Taipei" env-description:"browser timezone"`
	ViewportWidth  int    `yaml:"viewport_width" env:"BROWSER_VIEWPORT_WIDTH" env-default:"1280" env-description:"window width"`
	ViewportHeight int    `yaml:"viewport_height" env:"BROWSER_VIEWPORT_HEIGHT" env-default:"800" env-description:"window height"`
	UserAgent      string `yaml:"user_agent" env:"BROWSER_USER_AGENT" env-description:"user agent override"`
	ExecPath       string `yaml:"exec_path" env:"BROWSER_EXEC_PATH" env-description:"chrome binary, found on PATH if empty"`
}

type TimeoutConfig struct {
	Run           time.Duration `yaml:"run" env:"TIMEOUT_RUN" env-default:"5m" env-description:"upper bound for the whole run"`
	Navigation    time.Duration `yaml:"navigation" env:"TIMEOUT_NAVIGATION" env-default:"60s" env-description:"loading the login page"`
	Field         time.Duration `yaml:"field" env:"TIMEOUT_FIELD" env-default:"30s" env-description:"waiting for a login form control"`
	Home          time.Duration `yaml:"home" env:"TIMEOUT_HOME" env-default:"30s" env-description:"waiting for the home page after submitting"`
	LoginResponse time.Duration `yaml:"login_response" env:"TIMEOUT_LOGIN_RESPONSE" env-default:"5s" env-description:"waiting for the login response, 0 means 5s"`
	PunchVisible  time.Duration `yaml:"punch_visible" env:"TIMEOUT_PUNCH_VISIBLE" env-default:"30s" env-description:"waiting for the punch button"`
	Verify        time.Duration `yaml:"verify" env:"TIMEOUT_VERIFY" env-default:"30s" env-description:"waiting for the success alert"`
	ContentScan   time.Duration `yaml:"content_scan" env:"TIMEOUT_CONTENT_SCAN" env-default:"10s" env-description:"reading the page for the fallback scan"`
	GeoVerify     time.Duration `yaml:"geo_verify" env:"TIMEOUT_GEO_VERIFY" env-default:"10s" env-description:"asking the page for its position"`
	Screenshot    time.Duration `yaml:"screenshot" env:"TIMEOUT_SCREENSHOT" env-default:"30s" env-description:"capturing a screenshot"`
	Settle        time.Duration `yaml:"settle" env:"SETTLE_DELAY" env-default:"500ms" env-description:"pause between the punch button turning visible and the click"`
}

// validate requires every bounded wait to be positive. A zero would
// either remove the bound or expire the wait before it starts.
func (t TimeoutConfig) validate() []error {
	var errs []error
	bounds := []struct {
		name  string
		value time.Duration
	}{
		{"TIMEOUT_RUN", t.Run},
		{"TIMEOUT_NAVIGATION", t.Navigation},
		{"TIMEOUT_FIELD", t.Field},
		{"TIMEOUT_HOME", t.Home},
		{"TIMEOUT_PUNCH_VISIBLE", t.PunchVisible},
		{"TIMEOUT_VERIFY", t.Verify},
		{"TIMEOUT_CONTENT_SCAN", t.ContentScan},
		{"TIMEOUT_GEO_VERIFY", t.GeoVerify},
		{"TIMEOUT_SCREENSHOT", t.Screenshot},
	}
	for _, b := range bounds {
		if b.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", b.name, b.value))
		}
	}
	if t.LoginResponse < 0 {
		errs = append(errs, fmt.Errorf("TIMEOUT_LOGIN_RESPONSE must not be negative, got %v", t.LoginResponse))
	}
	if t.Settle < 0 {
		errs = append(errs, fmt.Errorf("SETTLE_DELAY must not be negative, got %v", t.Settle))
	}
	return errs
}

type AuthRetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"AUTH_RETRY_MAX_ATTEMPTS" env-default:"3" env-description:"login attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"AUTH_RETRY_INITIAL_DELAY" env-default:"2s" env-description:"pause before the first login retry"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"AUTH_RETRY_BACKOFF_FACTOR" env-default:"2" env-description:"growth of the pause between login retries"`
}

type PunchRetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"PUNCH_RETRY_MAX_ATTEMPTS" env-default:"3" env-description:"click attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"PUNCH_RETRY_INITIAL_DELAY" env-default:"1s" env-description:"pause before the first click retry"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"PUNCH_RETRY_BACKOFF_FACTOR" env-default:"2" env-description:"growth of the pause between click retries"`
}

// Config defines the overall structure of the punch configuration.
// Values will be taken from a config yml file or environment variables
// or both.
type Config struct {
	PunchType    string `yaml:"punch_type" env:"PUNCH_TYPE" env-description:"上班/clock-in or 下班/clock-out"`
	IsProduction bool   `yaml:"is_production" env:"IS_PRODUCTION" env-default:"false" env-description:"run headless and without debug output"`
	DryRun       bool   `yaml:"dry_run" env:"DRY_RUN" env-default:"false" env-description:"find the punch button without clicking it"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Geo         GeoConfig         `yaml:"geo"`
	Portal      PortalConfig      `yaml:"portal"`
	Labels      LabelConfig       `yaml:"labels"`
	Browser     BrowserConfig     `yaml:"browser"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	AuthRetry   AuthRetryConfig   `yaml:"auth_retry"`
	PunchRetry  PunchRetryConfig  `yaml:"punch_retry"`

	ScreenshotDir string `yaml:"screenshot_dir" env:"SCREENSHOT_DIR" env-default:"." env-description:"directory failure screenshots are written to"`
	LogFormat     string `yaml:"log_format" env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`

	Writer output.WriterConfig `yaml:"writer"`
}

// Load reads envFile into the process environment without overriding
// variables that are already set, then fills the configuration from
// configPath, if given, and the environment. A missing envFile is not an
// error.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: error reading env file %s: %w", ErrInvalid, envFile, err)
			}
			slog.Debug(fmt.Sprintf("no env file found at %s", envFile))
		}
	}

	var config Config
	if configPath != "" {
		if err := cleanenv.ReadConfig(configPath, &config); err != nil {
			return nil, fmt.Errorf("%w: error reading config file %s: %w", ErrInvalid, configPath, err)
		}
		return &config, nil
	}
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, fmt.Errorf("%w: error reading environment: %w", ErrInvalid, err)
	}
	return &config, nil
}

// Description lists every supported environment variable.
func Description() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}

// Validate checks everything a run depends on and reports all problems at
// once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := types.ParsePunchAction(c.PunchType); err != nil {
		errs = append(errs, err)
	}
	if c.Credentials.CompanyID == "" {
		errs = append(errs, errors.New("COMPANY_ID is not set"))
	}
	if c.Credentials.EmployeeID == "" {
		errs = append(errs, errors.New("EMPLOYEE_ID is not set"))
	}
	if c.Credentials.Password == "" {
		errs = append(errs, errors.New("PASSWORD is not set"))
	}

	if _, err := geo.Origin(c.Portal.LoginURL); err != nil {
		errs = append(errs, fmt.Errorf("login url: %w", err))
	}
	if c.Portal.HomePattern == "" {
		errs = append(errs, errors.New("home pattern is empty"))
	} else if _, err := browser.CompileURLPattern(c.Portal.HomePattern); err != nil {
		errs = append(errs, fmt.Errorf("home pattern: %w", err))
	}
	if p := c.Portal.LoginResponsePattern; p != "" {
		if _, err := browser.CompileURLPattern(p); err != nil {
			errs = append(errs, fmt.Errorf("login response pattern: %w", err))
		}
	}

	l := c.Labels
	labels := []struct{ name, value string }{
		{"company id", l.CompanyID},
		{"employee id", l.EmployeeID},
		{"password placeholder", l.PasswordPlaceholder},
		{"submit", l.Submit},
		{"clock-in", l.ClockIn},
		{"clock-out", l.ClockOut},
		{"success marker", l.SuccessMarker},
	}
	for _, label := range labels {
		if strings.TrimSpace(label.value) == "" {
			errs = append(errs, fmt.Errorf("%s label is empty", label.name))
		}
	}
	if l.ClockIn == l.ClockOut {
		errs = append(errs, fmt.Errorf("clock-in and clock-out labels must differ, both are %q", l.ClockIn))
	}
	if len(l.SuccessPhrases) == 0 {
		errs = append(errs, errors.New("at least one success phrase is needed"))
	}

	if c.Geo.Enabled {
		if c.Geo.Latitude < -90 || c.Geo.Latitude > 90 || c.Geo.Longitude < -180 || c.Geo.Longitude > 180 {
			errs = append(errs, fmt.Errorf("geolocation %v, %v is out of range", c.Geo.Latitude, c.Geo.Longitude))
		}
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d is not positive", c.Browser.ViewportWidth, c.Browser.ViewportHeight))
	}
	errs = append(errs, c.Timeouts.validate()...)
	if err := c.AuthPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth retry: %w", err))
	}
	if err := c.PunchPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("punch retry: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Action is the configured punch action. Call Validate first.
func (c *Config) Action() types.PunchAction {
	a, _ := types.ParsePunchAction(c.PunchType)
	return a
}

// Request bundles everything the run submits.
func (c *Config) Request() types.PunchRequest {
	return types.PunchRequest{
		Action: c.Action(),
		Credentials: types.Credentials{
			CompanyID:  c.Credentials.CompanyID,
			EmployeeID: c.Credentials.EmployeeID,
			Password:   c.Credentials.Password,
		},
		Geolocation: types.Coordinates{
			Latitude:  c.Geo.Latitude,
			Longitude: c.Geo.Longitude,
			Accuracy:  c.Geo.Accuracy,
		},
	}
}

func (c *Config) AuthPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:   c.AuthRetry.MaxAttempts,
		InitialDelay:  c.AuthRetry.InitialDelay,
		BackoffFactor: c.AuthRetry.BackoffFactor,
	}
}

func (c *Config) PunchPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:   c.PunchRetry.MaxAttempts,
		InitialDelay:  c.PunchRetry.InitialDelay,
		BackoffFactor: c.PunchRetry.BackoffFactor,
		Settle:        c.Timeouts.Settle,
	}
}

// LaunchOptions runs headless in production unless headful is forced.
func (c *Config) LaunchOptions(headful bool) browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:       c.IsProduction && !headful,
		Verbose:        !c.IsProduction,
		Locale:         c.Browser.Locale,
		Timezone:       c.Browser.Timezone,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		UserAgent:      c.Browser.UserAgent,
		ExecPath:       c.Browser.ExecPath,
	}
}

func (c *Config) AuthConfig() stage.AuthConfig {
	return stage.AuthConfig{
		CompanyID:       types.ByRole(types.RoleTextbox, c.Labels.CompanyID),
		EmployeeID:      types.ByRole(types.RoleTextbox, c.Labels.EmployeeID),
		Password:        types.ByPlaceholder(c.Labels.PasswordPlaceholder),
		Submit:          types.ByRole(types.RoleButton, c.Labels.Submit),
		FieldTimeout:    c.Timeouts.Field,
		HomePattern:     c.Portal.HomePattern,
		HomeTimeout:     c.Timeouts.Home,
		ResponsePattern: c.Portal.LoginResponsePattern,
		ResponseTimeout: c.Timeouts.LoginResponse,
		Retry:           c.AuthPolicy(),
	}
}

func (c *Config) PunchConfig() stage.PunchConfig {
	return stage.PunchConfig{
		ClockInLabel:   c.Labels.ClockIn,
		ClockOutLabel:  c.Labels.ClockOut,
		VisibleTimeout: c.Timeouts.PunchVisible,
		Retry:          c.PunchPolicy(),
		DryRun:         c.DryRun,
	}
}

func (c *Config) VerifyConfig() stage.VerifyConfig {
	return stage.VerifyConfig{
		Alert:          types.Locator{Role: types.RoleAlert},
		Marker:         c.Labels.SuccessMarker,
		Phrases:        c.Labels.SuccessPhrases,
		Timeout:        c.Timeouts.Verify,
		ContentTimeout: c.Timeouts.ContentScan,
	}
}

// Options assembles everything the workflow runner needs.
func (c *Config) Options(headful bool) workflow.Options {
	return workflow.Options{
		Launch:            c.LaunchOptions(headful),
		LoginURL:          c.Portal.LoginURL,
		RunTimeout:        c.Timeouts.Run,
		NavigationTimeout: c.Timeouts.Navigation,
		Geolocation:       c.Geo.Enabled,
		GeoVerify:         c.Geo.Verify,
		GeoVerifyTimeout:  c.Timeouts.GeoVerify,
		Auth:              c.AuthConfig(),
		Punch:             c.PunchConfig(),
		Verify:            c.VerifyConfig(),
		ScreenshotDir:     c.ScreenshotDir,
		ScreenshotTimeout: c.Timeouts.Screenshot,
	}
}

// Redacted returns a copy with every secret replaced.
func (c Config) Redacted() Config {
	if c.Credentials.Password != "" {
		c.Credentials.Password = redacted
	}
	if c.Writer.Password != "" {
		c.Writer.Password = redacted
	}
	c.Labels.SuccessPhrases = append([]string(nil), c.Labels.SuccessPhrases...)
	return c
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	r := c.Redacted()
	data, err := yaml.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("error while marshalling config: %w", err)
	}
	return data, nil
}
