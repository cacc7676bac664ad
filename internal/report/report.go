package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/stage"
	"github.com/jakopako/punchclock/internal/types"
)

const (
	// FailureScreenshotPrefix names screenshots of unrecovered failures.
	FailureScreenshotPrefix = "error"
	// FailureTitle is the title of the failure annotation.
	FailureTitle = "打卡失敗"
)

// Screenshots captures full page PNGs into Dir, named <prefix>-<stamp>.png.
type Screenshots struct {
	Dir     string
	Stamp   string
	Timeout time.Duration
}

// Capture writes the screenshot. It still runs when ctx is already done,
// bounded by Timeout.
func (s *Screenshots) Capture(ctx context.Context, page browser.Page, prefix string) (string, error) {
	if page == nil {
		return "", fmt.Errorf("%w: no page", stage.ErrScreenshotCapture)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	path := filepath.Join(s.Dir, fmt.Sprintf("%s-%s.png", prefix, s.Stamp))
	if err := page.Screenshot(ctx, path); err != nil {
		return "", fmt.Errorf("%w: %w", stage.ErrScreenshotCapture, err)
	}
	log.LoggerFromContext(ctx).Info("screenshot saved", slog.String("path", path))
	return path, nil
}

// Reporter handles a failure that no stage could recover from.
type Reporter struct {
	Screenshots *Screenshots
	Annotations *Annotations
}

type failure struct {
	*types.ErrorInfo
	RunID      string `json:"runId,omitempty"`
	Action     string `json:"action"`
	Screenshot string `json:"screenshot,omitempty"`
}

// Fail marks rep as failed and records err. page may be nil if the browser
// never came up. A screenshot is only taken if err does not already carry
// one; not being able to take it is logged and never replaces err.
func (r *Reporter) Fail(ctx context.Context, page browser.Page, rep *types.OutcomeReport, err error) *stage.Error {
	se := stage.Wrap(stage.Unknown, err)
	logger := log.LoggerFromContext(ctx)
	logger.Error("punch failed",
		slog.String("stage", se.Stage.String()),
		slog.String("kind", string(se.Kind())),
		slog.Bool("attempts_exhausted", se.AttemptsExhausted),
		slog.Int("attempts", se.Attempts),
		slog.String("err", se.Error()))

	if se.ScreenshotPath == "" && page != nil && r.Screenshots != nil {
		path, cerr := r.Screenshots.Capture(ctx, page, FailureScreenshotPrefix)
		if cerr != nil {
			logger.Error("cannot capture failure screenshot", slog.String("kind", string(stage.KindScreenshotCaptureFailure)), slog.String("err", cerr.Error()))
		} else {
			se.ScreenshotPath = path
		}
	}

	rep.Success = false
	rep.Error = se.Info()
	rep.ScreenshotPath = se.ScreenshotPath

	if r.Annotations != nil {
		r.Annotations.Error(FailureTitle, failure{
			ErrorInfo:  rep.Error,
			RunID:      rep.RunID,
			Action:     rep.Action.String(),
			Screenshot: rep.ScreenshotPath,
		})
	}
	return se
}
