package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jakopako/punchclock/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushgatewayWriter pushes the outcome of the last run as gauges, grouped
// by action.
type PushgatewayWriter struct {
	*WriterConfig
	client *http.Client
	logger *slog.Logger
}

// NewPushgatewayWriter returns a new PushgatewayWriter
func NewPushgatewayWriter(wc *WriterConfig) (*PushgatewayWriter, error) {
	if wc.Uri == "" {
		return nil, errors.New("uri needs to be specified for the PushgatewayWriter")
	}
	if wc.Job == "" {
		wc.Job = "punchclock"
	}
	return &PushgatewayWriter{
		WriterConfig: wc,
		client:       &http.Client{Timeout: time.Second * 30},
		logger:       slog.With(slog.String("writer", string(PUSHGATEWAY_WRITER_TYPE))),
	}, nil
}

func (w *PushgatewayWriter) Write(ctx context.Context, rep types.OutcomeReport) error {
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "punchclock_last_run_success",
		Help: "1 if the last punch run succeeded, 0 otherwise.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "punchclock_last_run_duration_seconds",
		Help: "Wall time of the last punch run.",
	})
	timestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "punchclock_last_run_timestamp_seconds",
		Help: "Unix time the last punch run finished.",
	})

	if rep.Success {
		success.Set(1)
	}
	duration.Set(rep.Duration().Seconds())
	finished := rep.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	timestamp.Set(float64(finished.Unix()))

	pusher := push.New(w.Uri, w.Job).
		Client(w.client).
		Collector(success).
		Collector(duration).
		Collector(timestamp).
		Grouping("action", rep.Action.String())
	if w.User != "" {
		pusher = pusher.BasicAuth(w.User, w.Password)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("error while pushing outcome metrics: %w", err)
	}
	w.logger.Info(fmt.Sprintf("pushed outcome metrics of run %s to %s", rep.RunID, w.Uri))
	return nil
}
