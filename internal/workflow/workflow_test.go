package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/report"
	"github.com/jakopako/punchclock/internal/retry"
	"github.com/jakopako/punchclock/internal/stage"
	"github.com/jakopako/punchclock/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	loginURL = "https://portal.nueip.com/login"
	homeURL  = "https://portal.nueip.com/home"
)

var (
	companyField  = types.ByRole(types.RoleTextbox, "公司代碼")
	employeeField = types.ByRole(types.RoleTextbox, "員工編號")
	passwordField = types.ByPlaceholder("密碼")
	submitButton  = types.ByRole(types.RoleButton, "登入")
	clockIn       = types.ByRole(types.RoleButton, "上班")
	clockOut      = types.ByRole(types.RoleButton, "下班")
	alertRegion   = types.Locator{Role: types.RoleAlert}

	taipei101 = types.Coordinates{Latitude: 25.033964, Longitude: 121.564468, Accuracy: 50}
)

type retryCounter struct {
	mu     sync.Mutex
	events []retry.Event
}

func (c *retryCounter) record(e retry.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *retryCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testOptions(retries *retryCounter) Options {
	policy := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2, OnRetry: retries.record}
	return Options{
		Launch:            browser.LaunchOptions{Headless: true, Locale: "zh-TW", Timezone: "Asia/Taipei"},
		LoginURL:          loginURL,
		RunTimeout:        5 * time.Second,
		NavigationTimeout: time.Second,
		Geolocation:       true,
		GeoVerify:         true,
		Auth: stage.AuthConfig{
			CompanyID:    companyField,
			EmployeeID:   employeeField,
			Password:     passwordField,
			Submit:       submitButton,
			FieldTimeout: 50 * time.Millisecond,
			HomePattern:  "**/home",
			HomeTimeout:  20 * time.Millisecond,
			PollInterval: 2 * time.Millisecond,
			Retry:        policy,
		},
		Punch: stage.PunchConfig{
			ClockInLabel:   "上班",
			ClockOutLabel:  "下班",
			VisibleTimeout: 20 * time.Millisecond,
			Retry:          policy,
		},
		Verify: stage.VerifyConfig{
			Alert:          alertRegion,
			Marker:         "打卡成功",
			Phrases:        []string{"打卡成功", "成功打卡"},
			Timeout:        20 * time.Millisecond,
			ContentTimeout: 50 * time.Millisecond,
			PollInterval:   2 * time.Millisecond,
		},
		ScreenshotDir: "shots",
	}
}

// portal scripts a page that behaves like the real portal: submitting the
// form leads home and both punch buttons raise the success alert.
func portal() *browser.MockPage {
	p := browser.NewMockPage()
	for _, loc := range []types.Locator{companyField, employeeField, passwordField} {
		p.SetControl(loc, &browser.MockControl{Visible: true})
	}
	p.SetControl(submitButton, &browser.MockControl{Visible: true, OnClick: func(p *browser.MockPage) {
		p.SetURL(homeURL)
	}})
	showAlert := func(p *browser.MockPage) {
		p.SetControl(alertRegion, &browser.MockControl{Visible: true, Text: "打卡成功"})
	}
	p.SetControl(clockIn, &browser.MockControl{Visible: true, OnClick: showAlert})
	p.SetControl(clockOut, &browser.MockControl{Visible: true, OnClick: showAlert})
	return p
}

type harness struct {
	page        *browser.MockPage
	launcher    *browser.MockLauncher
	retries     *retryCounter
	annotations *bytes.Buffer
	runner      *Runner
	transitions []stage.State
}

func newHarness(t *testing.T, page *browser.MockPage, mutate func(o *Options)) *harness {
	t.Helper()
	h := &harness{
		page:        page,
		launcher:    &browser.MockLauncher{PageToUse: page},
		retries:     &retryCounter{},
		annotations: &bytes.Buffer{},
	}
	opts := testOptions(h.retries)
	if mutate != nil {
		mutate(&opts)
	}
	h.runner = NewRunner(h.launcher, opts, report.NewAnnotations(h.annotations))
	h.runner.Now = func() time.Time { return time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC) }
	h.runner.OnTransition = func(_, to stage.State) { h.transitions = append(h.transitions, to) }
	return h
}

func (h *harness) run(action types.PunchAction) types.OutcomeReport {
	return h.runner.Run(context.Background(), types.PunchRequest{
		Action:      action,
		Credentials: types.Credentials{CompanyID: "acme", EmployeeID: "E042", Password: "hunter2"},
		Geolocation: taipei101,
	})
}

func (h *harness) closes(t *testing.T) int {
	t.Helper()
	require.Len(t, h.launcher.Sessions, 1)
	return h.launcher.Sessions[0].Closes()
}

func TestRun_Success(t *testing.T) {
	tests := []struct {
		action  types.PunchAction
		clicked types.Locator
		other   types.Locator
	}{
		{types.ClockIn, clockIn, clockOut},
		{types.ClockOut, clockOut, clockIn},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			h := newHarness(t, portal(), nil)
			rep := h.run(tt.action)

			assert.True(t, rep.Success)
			assert.Equal(t, 0, rep.ExitCode())
			assert.Nil(t, rep.Error)
			assert.NotEmpty(t, rep.RunID)
			assert.Equal(t, tt.action, rep.Action)
			assert.Empty(t, h.page.ScreenshotPaths())
			assert.Zero(t, h.retries.count())
			assert.Equal(t, 1, h.closes(t))
			assert.Equal(t, 1, h.page.ClickCount(tt.clicked))
			assert.Zero(t, h.page.ClickCount(tt.other))
			assert.Equal(t, []stage.State{stage.Success}, h.transitions)
			assert.Empty(t, h.annotations.String())

			assert.Equal(t, []string{loginURL}, h.page.Navigations)
			assert.Equal(t, []string{"https://portal.nueip.com"}, h.page.Granted)
			assert.Equal(t, taipei101, h.page.Position)
			assert.Equal(t, "hunter2", h.page.Filled[passwordField])
		})
	}
}

func TestRun_AuthenticationFailure(t *testing.T) {
	page := portal()
	page.SetControl(submitButton, &browser.MockControl{Visible: true})
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockIn)
	assert.False(t, rep.Success)
	assert.Equal(t, 1, rep.ExitCode())
	require.NotNil(t, rep.Error)
	assert.Equal(t, "Authentication", rep.Error.Stage)
	assert.Equal(t, string(stage.KindAuthenticationFailure), rep.Error.Kind)
	assert.True(t, rep.Error.AttemptsExhausted)
	assert.Equal(t, 1, h.retries.count())
	assert.Equal(t, 1, h.closes(t))
	assert.Equal(t, []string{"shots/error-2024-3-5---9-00-00.png"}, h.page.ScreenshotPaths())
	assert.Zero(t, h.page.ClickCount(clockIn))
	assert.True(t, strings.HasPrefix(h.annotations.String(), "::error title=打卡失敗::"))
}

func TestRun_PunchFailure(t *testing.T) {
	page := portal()
	delete(page.Controls, clockOut)
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockOut)
	assert.False(t, rep.Success)
	require.NotNil(t, rep.Error)
	assert.Equal(t, "PunchAction", rep.Error.Stage)
	assert.Equal(t, string(stage.KindElementNotFound), rep.Error.Kind)
	assert.Equal(t, 1, h.closes(t))
	assert.Len(t, h.page.ScreenshotPaths(), 1)
	// the other control is never used as a substitute
	assert.Zero(t, h.page.ClickCount(clockIn))
}

func TestRun_PunchClickExhausted(t *testing.T) {
	page := portal()
	detached := errors.New("node is detached from document")
	page.SetControl(clockIn, &browser.MockControl{Visible: true, ClickErrs: []error{detached, detached}})
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockIn)
	require.NotNil(t, rep.Error)
	assert.Equal(t, string(stage.KindPunchActionFailure), rep.Error.Kind)
	assert.Equal(t, 2, rep.Error.Attempts)
	assert.Equal(t, 1, h.retries.count())
	assert.Equal(t, 1, h.closes(t))
}

func TestRun_VerificationFailure(t *testing.T) {
	page := portal()
	page.SetControl(clockIn, &browser.MockControl{Visible: true})
	page.SetHTML(`<html><body>系統忙碌中</body></html>`)
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockIn)
	assert.False(t, rep.Success)
	require.NotNil(t, rep.Error)
	assert.Equal(t, "Verification", rep.Error.Stage)
	assert.Equal(t, string(stage.KindVerificationTimeout), rep.Error.Kind)
	assert.Equal(t, 1, h.closes(t))
	assert.Equal(t, []string{"shots/check-punch-error-2024-3-5---9-00-00.png"}, h.page.ScreenshotPaths())
	assert.Equal(t, "shots/check-punch-error-2024-3-5---9-00-00.png", rep.ScreenshotPath)
	assert.Equal(t, []stage.State{stage.ContentScanFallback, stage.Failed}, h.transitions)

	lines := strings.Split(strings.TrimSpace(h.annotations.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "::warning title=打卡成功提示超時::"))
	assert.True(t, strings.HasPrefix(lines[1], "::error title=打卡失敗::"))
}

func TestRun_VerificationFallback(t *testing.T) {
	page := portal()
	page.SetControl(clockIn, &browser.MockControl{Visible: true})
	page.SetHTML(`<html><body><span>成功打卡</span></body></html>`)
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockIn)
	assert.True(t, rep.Success)
	assert.Empty(t, h.page.ScreenshotPaths())
	assert.Equal(t, []stage.State{stage.ContentScanFallback, stage.Success}, h.transitions)
}

func TestRun_NavigationFailure(t *testing.T) {
	page := portal()
	page.NavigateErr = context.DeadlineExceeded
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockIn)
	require.NotNil(t, rep.Error)
	assert.Equal(t, "Navigation", rep.Error.Stage)
	assert.Equal(t, string(stage.KindNavigationTimeout), rep.Error.Kind)
	assert.Equal(t, 1, h.closes(t))
}

func TestRun_LaunchFailure(t *testing.T) {
	h := newHarness(t, portal(), nil)
	h.launcher.LaunchErr = errors.New("chrome not found")

	rep := h.run(types.ClockIn)
	assert.False(t, rep.Success)
	require.NotNil(t, rep.Error)
	assert.Equal(t, "Unknown", rep.Error.Stage)
	assert.Empty(t, h.launcher.Sessions)
	assert.Empty(t, rep.ScreenshotPath)
}

func TestRun_PanicIsReported(t *testing.T) {
	page := portal()
	page.SetControl(clockIn, &browser.MockControl{Visible: true, OnClick: func(*browser.MockPage) {
		panic("unexpected dialog")
	}})
	h := newHarness(t, page, nil)

	rep := h.run(types.ClockIn)
	assert.False(t, rep.Success)
	require.NotNil(t, rep.Error)
	assert.Equal(t, "Unknown", rep.Error.Stage)
	assert.Contains(t, rep.Error.Cause, "unexpected dialog")
	assert.Equal(t, 1, h.closes(t))
	assert.Len(t, h.page.ScreenshotPaths(), 1)
	assert.False(t, rep.FinishedAt.IsZero())
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t, portal(), func(o *Options) { o.Punch.DryRun = true })

	rep := h.run(types.ClockIn)
	assert.True(t, rep.Success)
	assert.True(t, rep.DryRun)
	assert.Zero(t, h.page.ClickCount(clockIn))
	assert.Empty(t, h.transitions)
	assert.Equal(t, 1, h.closes(t))
}

func TestRun_WithoutGeolocation(t *testing.T) {
	h := newHarness(t, portal(), func(o *Options) { o.Geolocation = false })

	rep := h.run(types.ClockIn)
	assert.True(t, rep.Success)
	assert.Empty(t, h.page.Granted)
}
