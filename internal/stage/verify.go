package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/types"
	"github.com/jakopako/punchclock/internal/utils"
)

// State is a step of the success confirmation.
type State int

const (
	Waiting State = iota
	ContentScanFallback
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case ContentScanFallback:
		return "ContentScanFallback"
	case Success:
		return "Success"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Capturer saves a screenshot of page and returns the file it wrote.
type Capturer interface {
	Capture(ctx context.Context, page browser.Page, prefix string) (string, error)
}

// Annotator emits CI annotation lines.
type Annotator interface {
	Warning(title string, payload any)
}

// VerificationScreenshotPrefix names screenshots taken when no confirmation
// was found.
const VerificationScreenshotPrefix = "check-punch-error"

// VerificationWarningTitle is the title of the annotation emitted on failure.
const VerificationWarningTitle = "打卡成功提示超時"

type VerifyConfig struct {
	// Alert is the region the portal shows its toast in.
	Alert types.Locator
	// Marker has to be part of the alert text.
	Marker string
	// Phrases are searched in the page text once the alert timed out.
	Phrases []string

	Timeout        time.Duration
	ContentTimeout time.Duration
	PollInterval   time.Duration
}

// Verifier confirms a punch by the success alert, falling back to a scan of
// the page text.
type Verifier struct {
	cfg       VerifyConfig
	capturer  Capturer
	annotator Annotator

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)
}

func NewVerifier(cfg VerifyConfig, c Capturer, a Annotator) *Verifier {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = 10 * time.Second
	}
	return &Verifier{cfg: cfg, capturer: c, annotator: a}
}

// Check runs the confirmation to a terminal state. A Failed state comes
// with a *Error that already carries the screenshot path.
func (v *Verifier) Check(ctx context.Context, page browser.Page) (State, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("stage", Verification.String()))
	ctx = log.ContextWithLogger(ctx, logger)

	state := Waiting
	move := func(to State) {
		logger.Debug("verification state changed", slog.String("from", state.String()), slog.String("to", to.String()))
		if v.OnTransition != nil {
			v.OnTransition(state, to)
		}
		state = to
	}

	logger.Info("waiting for success alert", slog.String("marker", v.cfg.Marker))
	alertErr := v.waitAlert(ctx, page)
	if alertErr == nil {
		move(Success)
		logger.Info("punch confirmed by alert")
		return state, nil
	}
	// After the run deadline the fallback still runs, detached and bounded
	// by ContentTimeout.
	runErr := ctx.Err()
	if runErr != nil {
		logger.Warn("run deadline reached while waiting for the success alert", slog.String("err", runErr.Error()))
		ctx = context.WithoutCancel(ctx)
	}

	logger.Warn("success alert did not appear in time, scanning page content", slog.String("err", alertErr.Error()))
	move(ContentScanFallback)
	phrase, scanErr := v.scan(ctx, page)
	if scanErr == nil {
		move(Success)
		logger.Info("punch confirmed by page content", slog.String("phrase", phrase))
		return state, nil
	}

	move(Failed)
	serr := &Error{
		Stage: Verification,
		Cause: fmt.Errorf("%w: %w", ErrVerificationTimeout, errors.Join(scanErr, runErr)),
	}
	if v.capturer != nil {
		path, err := v.capturer.Capture(ctx, page, VerificationScreenshotPrefix)
		if err != nil {
			logger.Error("cannot capture verification screenshot", slog.String("err", err.Error()))
		} else {
			serr.ScreenshotPath = path
		}
	}
	if v.annotator != nil {
		v.annotator.Warning(VerificationWarningTitle, serr.Info())
	}
	return state, serr
}

// waitAlert returns nil once the alert is visible and contains the marker.
func (v *Verifier) waitAlert(ctx context.Context, page browser.Page) error {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	if err := page.WaitVisible(ctx, v.cfg.Alert); err != nil {
		return err
	}
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()
	var last string
	for {
		text, err := page.Text(ctx, v.cfg.Alert)
		if err == nil {
			last = text
			if strings.Contains(text, v.cfg.Marker) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("alert text %q does not contain %q: %w", utils.ShortenString(last, 80), v.cfg.Marker, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (v *Verifier) scan(ctx context.Context, page browser.Page) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.ContentTimeout)
	defer cancel()

	html, err := page.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	text, err := PageText(html)
	if err != nil {
		return "", err
	}
	phrase, ok := utils.FirstContained(text, v.cfg.Phrases)
	if !ok {
		return "", fmt.Errorf("none of %q found in page text", v.cfg.Phrases)
	}
	return phrase, nil
}

// PageText returns the rendered text of an HTML document without the
// contents of script-like elements.
func PageText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page content: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	return doc.Find("body").Text(), nil
}
