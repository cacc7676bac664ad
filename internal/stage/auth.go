package stage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antchfx/jsonquery"
	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/retry"
	"github.com/jakopako/punchclock/internal/types"
	"github.com/jakopako/punchclock/internal/utils"
)

// AuthConfig describes the login form and how long to wait for it to work.
type AuthConfig struct {
	CompanyID  types.Locator
	EmployeeID types.Locator
	Password   types.Locator
	Submit     types.Locator

	// FieldTimeout bounds the wait for each form control.
	FieldTimeout time.Duration
	// HomePattern is the URL glob of the page shown after a successful login.
	HomePattern string
	HomeTimeout time.Duration
	// PollInterval is how often the URL is checked, zero means the default.
	PollInterval time.Duration
	// ResponsePattern, if set, is the URL glob of the login request whose
	// response is logged for diagnostics.
	ResponsePattern string
	ResponseTimeout time.Duration

	Retry retry.Policy
}

// Authenticator fills in and submits the login form.
type Authenticator struct {
	cfg AuthConfig
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Run logs in. It only succeeds once the page has navigated to the home
// pattern; each failed attempt is retried according to the policy.
func (a *Authenticator) Run(ctx context.Context, page browser.Page, creds types.Credentials) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("stage", Authentication.String()))
	ctx = log.ContextWithLogger(ctx, logger)

	err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context, attempt int) error {
		return a.attempt(ctx, page, creds, attempt)
	})
	if err != nil {
		return Wrap(Authentication, err)
	}
	return nil
}

func (a *Authenticator) attempt(ctx context.Context, page browser.Page, creds types.Credentials, attempt int) error {
	logger := log.LoggerFromContext(ctx).With(slog.Int("attempt", attempt))

	if attempt > 1 {
		// a slow redirect from the previous attempt may have landed in the meantime
		if u, err := page.URL(ctx); err == nil {
			if ok, _ := browser.MatchURL(a.cfg.HomePattern, u); ok {
				logger.Info("already on home page, skipping login form", slog.String("url", u))
				return nil
			}
		}
	}

	logger.Info("filling login form")
	fields := []struct {
		loc   types.Locator
		value string
	}{
		{a.cfg.CompanyID, creds.CompanyID},
		{a.cfg.EmployeeID, creds.EmployeeID},
		{a.cfg.Password, creds.Password},
	}
	for _, f := range fields {
		if err := a.bounded(ctx, a.cfg.FieldTimeout, func(ctx context.Context) error {
			return page.Fill(ctx, f.loc, f.value)
		}); err != nil {
			return fmt.Errorf("fill %s: %w", f.loc, err)
		}
		logger.Debug(fmt.Sprintf("filled %s", f.loc))
	}

	var waiter browser.ResponseWaiter
	if a.cfg.ResponsePattern != "" {
		w, err := page.ExpectResponse(ctx, a.cfg.ResponsePattern)
		if err != nil {
			logger.Warn("cannot watch login response", slog.String("err", err.Error()))
		} else {
			waiter = w
			defer w.Stop()
		}
	}

	logger.Info("submitting login form")
	if err := a.bounded(ctx, a.cfg.FieldTimeout, func(ctx context.Context) error {
		return page.Click(ctx, a.cfg.Submit)
	}); err != nil {
		return fmt.Errorf("click %s: %w", a.cfg.Submit, err)
	}

	logger.Info("waiting for home page")
	homeCtx, cancel := context.WithTimeout(ctx, a.cfg.HomeTimeout)
	u, navErr := browser.WaitForURL(homeCtx, page, a.cfg.HomePattern, a.cfg.PollInterval)
	cancel()

	if waiter != nil {
		a.correlate(ctx, waiter, logger)
	}

	if navErr != nil {
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, navErr)
	}
	logger.Info("navigated to home page", slog.String("url", u))
	return nil
}

// correlate logs the login response. Its absence is not an error, the
// navigation outcome decides.
func (a *Authenticator) correlate(ctx context.Context, w browser.ResponseWaiter, logger *slog.Logger) {
	timeout := a.cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := w.Wait(rctx)
	if err != nil {
		logger.Warn("no login response observed", slog.String("pattern", a.cfg.ResponsePattern), slog.String("err", err.Error()))
		return
	}
	attrs := []any{slog.Int("status", r.Status), slog.String("url", r.URL)}
	for k, v := range DescribeResponse(r) {
		attrs = append(attrs, slog.String(k, utils.ShortenString(v, 200)))
	}
	logger.Info("login response received", attrs...)
}

// DescribeResponse extracts the status and message fields from a JSON
// response body, if there are any.
func DescribeResponse(r browser.Response) map[string]string {
	fields := map[string]string{}
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		return fields
	}
	doc, err := jsonquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fields
	}
	for _, key := range []string{"status", "message", "msg", "code"} {
		if n := jsonquery.FindOne(doc, "//"+key); n != nil {
			if v := strings.TrimSpace(n.InnerText()); v != "" {
				fields[key] = v
			}
		}
	}
	return fields
}

func (a *Authenticator) bounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
