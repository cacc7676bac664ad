// Package workflow runs one punch from browser launch to the final outcome.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/geo"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/report"
	"github.com/jakopako/punchclock/internal/stage"
	"github.com/jakopako/punchclock/internal/types"
)

type Options struct {
	Launch            browser.LaunchOptions
	LoginURL          string
	RunTimeout        time.Duration
	NavigationTimeout time.Duration

	Geolocation      bool
	GeoVerify        bool
	GeoVerifyTimeout time.Duration

	Auth   stage.AuthConfig
	Punch  stage.PunchConfig
	Verify stage.VerifyConfig

	ScreenshotDir     string
	ScreenshotTimeout time.Duration
}

// Runner sequences the stages of a punch. It owns the browser session for
// the duration of Run and always releases it.
type Runner struct {
	launcher    browser.Launcher
	opts        Options
	annotations *report.Annotations
	auth        *stage.Authenticator
	puncher     *stage.Puncher

	// Now is the clock used for timestamps and artifact names.
	Now func() time.Time
	// OnTransition is passed on to the success verifier.
	OnTransition func(from, to stage.State)
}

func NewRunner(l browser.Launcher, opts Options, annotations *report.Annotations) *Runner {
	return &Runner{
		launcher:    l,
		opts:        opts,
		annotations: annotations,
		auth:        stage.NewAuthenticator(opts.Auth),
		puncher:     stage.NewPuncher(opts.Punch),
		Now:         time.Now,
	}
}

// Run never fails: every error ends up in the returned report.
func (r *Runner) Run(ctx context.Context, req types.PunchRequest) (rep types.OutcomeReport) {
	start := r.Now()
	rep = types.OutcomeReport{
		RunID:     uuid.NewString(),
		Action:    req.Action,
		StartedAt: start,
		DryRun:    r.opts.Punch.DryRun,
	}
	logger := log.LoggerFromContext(ctx).With(slog.String("run_id", rep.RunID), slog.String("action", req.Action.String()))
	ctx = log.ContextWithLogger(ctx, logger)
	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	reporter := &report.Reporter{
		Screenshots: &report.Screenshots{
			Dir:     r.opts.ScreenshotDir,
			Stamp:   report.Stamp(start),
			Timeout: r.opts.ScreenshotTimeout,
		},
		Annotations: r.annotations,
	}

	label := r.label(req.Action)
	logger.Info(fmt.Sprintf("開始執行 [%s] 打卡", label), slog.Any("credentials", req.Credentials))
	defer func() {
		if p := recover(); p != nil {
			reporter.Fail(ctx, nil, &rep, &stage.Error{Stage: stage.Unknown, Cause: fmt.Errorf("panic: %v", p)})
		}
		rep.FinishedAt = r.Now()
		if rep.Success {
			logger.Info(fmt.Sprintf("[%s] 打卡成功", label))
		}
		logger.Info(fmt.Sprintf("Total time elapsed: %.3f seconds", rep.Duration().Seconds()))
	}()

	r.execute(ctx, req, reporter, &rep)
	return rep
}

func (r *Runner) execute(ctx context.Context, req types.PunchRequest, reporter *report.Reporter, rep *types.OutcomeReport) {
	logger := log.LoggerFromContext(ctx)

	logger.Info("launching browser", slog.Bool("headless", r.opts.Launch.Headless))
	session, err := r.launcher.Launch(ctx, r.opts.Launch)
	if err != nil {
		reporter.Fail(ctx, nil, rep, stage.Wrap(stage.Unknown, fmt.Errorf("launch browser: %w", err)))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("error while closing browser", slog.String("err", err.Error()))
		}
		logger.Debug("browser closed")
	}()

	page := session.Page()
	defer func() {
		if p := recover(); p != nil {
			reporter.Fail(ctx, page, rep, &stage.Error{Stage: stage.Unknown, Cause: fmt.Errorf("panic: %v", p)})
		}
	}()

	if err := r.stages(ctx, page, req, reporter.Screenshots); err != nil {
		reporter.Fail(ctx, page, rep, err)
		return
	}
	rep.Success = true
}

func (r *Runner) stages(ctx context.Context, page browser.Page, req types.PunchRequest, shots *report.Screenshots) error {
	logger := log.LoggerFromContext(ctx)

	var spoofer *geo.Spoofer
	if r.opts.Geolocation {
		origin, err := geo.Origin(r.opts.LoginURL)
		if err != nil {
			return stage.Wrap(stage.Unknown, err)
		}
		spoofer = geo.NewSpoofer()
		if r.opts.GeoVerifyTimeout > 0 {
			spoofer.VerifyTimeout = r.opts.GeoVerifyTimeout
		}
		if err := spoofer.Apply(ctx, page, req.Geolocation, origin); err != nil {
			return stage.Wrap(stage.Unknown, err)
		}
	}

	logger.Info("navigating to login page", slog.String("url", r.opts.LoginURL))
	if err := r.navigate(ctx, page); err != nil {
		return stage.Wrap(stage.Navigation, err)
	}
	logger.Info("login page loaded")

	if err := r.auth.Run(ctx, page, req.Credentials); err != nil {
		return err
	}
	if u, err := page.URL(ctx); err == nil {
		logger.Info("logged in", slog.String("url", u))
	}

	if spoofer != nil && r.opts.GeoVerify {
		spoofer.Verify(ctx, page)
	}

	logger.Info(fmt.Sprintf("locating and clicking [%s] button", r.label(req.Action)))
	if err := r.puncher.Run(ctx, page, req.Action); err != nil {
		return err
	}
	if r.opts.Punch.DryRun {
		logger.Info("dry run, skipping success verification")
		return nil
	}

	verifier := stage.NewVerifier(r.opts.Verify, shots, r.annotations)
	verifier.OnTransition = r.OnTransition
	_, err := verifier.Check(ctx, page)
	return err
}

func (r *Runner) navigate(ctx context.Context, page browser.Page) error {
	if r.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.NavigationTimeout)
		defer cancel()
	}
	if err := page.Navigate(ctx, r.opts.LoginURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", r.opts.LoginURL, err)
	}
	return nil
}

// label is the portal wording of action, used in progress lines.
func (r *Runner) label(action types.PunchAction) string {
	switch action {
	case types.ClockIn:
		return r.opts.Punch.ClockInLabel
	case types.ClockOut:
		return r.opts.Punch.ClockOutLabel
	default:
		return action.String()
	}
}
