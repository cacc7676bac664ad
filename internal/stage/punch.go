package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/retry"
	"github.com/jakopako/punchclock/internal/types"
	"github.com/jakopako/punchclock/internal/utils"
)

// PunchConfig holds the exact labels of the two punch controls.
type PunchConfig struct {
	ClockInLabel  string
	ClockOutLabel string

	VisibleTimeout time.Duration
	// Retry drives the click. Its settle delay is waited once the control
	// is visible.
	Retry retry.Policy
	// DryRun stops after the control has been found.
	DryRun bool
}

// Puncher activates the punch control that matches the requested action.
type Puncher struct {
	cfg PunchConfig
}

func NewPuncher(cfg PunchConfig) *Puncher {
	return &Puncher{cfg: cfg}
}

// Locator resolves action to its control. The name match is exact, so the
// clock-in control never resolves to the clock-out one and vice versa.
func (p *Puncher) Locator(action types.PunchAction) (types.Locator, error) {
	switch action {
	case types.ClockIn:
		return types.ByRole(types.RoleButton, p.cfg.ClockInLabel), nil
	case types.ClockOut:
		return types.ByRole(types.RoleButton, p.cfg.ClockOutLabel), nil
	default:
		return types.Locator{}, fmt.Errorf("unsupported punch action %d", action)
	}
}

func (p *Puncher) Run(ctx context.Context, page browser.Page, action types.PunchAction) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("stage", PunchAction.String()), slog.String("action", action.String()))
	ctx = log.ContextWithLogger(ctx, logger)

	loc, err := p.Locator(action)
	if err != nil {
		return Wrap(PunchAction, err)
	}

	logger.Info("waiting for punch control", slog.String("locator", loc.String()))
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.VisibleTimeout)
	err = page.WaitVisible(waitCtx, loc)
	cancel()
	if err != nil {
		p.diagnose(ctx, page, loc, err)
		return Wrap(PunchAction, fmt.Errorf("wait for %s: %w", loc, err))
	}

	if p.cfg.DryRun {
		logger.Info("dry run, punch control found but not clicked", slog.String("locator", loc.String()))
		return nil
	}

	err = retry.Do(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) error {
		clickCtx, cancel := context.WithTimeout(ctx, p.cfg.VisibleTimeout)
		defer cancel()
		if err := page.Click(clickCtx, loc); err != nil {
			return fmt.Errorf("click %s: %w", loc, err)
		}
		logger.Info("punch control clicked", slog.Int("attempt", attempt))
		return nil
	})
	if err != nil {
		return Wrap(PunchAction, err)
	}
	return nil
}

// diagnose logs the closest visible button label when the wanted one is
// missing, which is usually a renamed control.
func (p *Puncher) diagnose(ctx context.Context, page browser.Page, loc types.Locator, cause error) {
	if !errors.Is(cause, browser.ErrElementNotFound) {
		return
	}
	logger := log.LoggerFromContext(ctx)
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	labels, err := page.Labels(lctx, types.RoleButton)
	if err != nil {
		logger.Debug("cannot list button labels", slog.String("err", err.Error()))
		return
	}
	if closest, dist, ok := utils.ClosestString(loc.Name, labels); ok {
		logger.Warn("punch control not found", slog.String("wanted", loc.Name), slog.String("closest", closest), slog.Int("distance", dist))
	}
}
