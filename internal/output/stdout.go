package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jakopako/punchclock/internal/types"
	"github.com/olekukonko/tablewriter"
)

// StdoutWriter renders the outcome as a table
type StdoutWriter struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		out:    os.Stdout,
		logger: slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(ctx context.Context, rep types.OutcomeReport) error {
	table := tablewriter.NewWriter(w.out)
	table.Header("Field", "Value")
	for _, row := range summaryRows(rep) {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("error while building outcome table: %w", err)
		}
	}
	return table.Render()
}

func summaryRows(rep types.OutcomeReport) [][]string {
	result := "success"
	switch {
	case !rep.Success:
		result = "failed"
	case rep.DryRun:
		result = "success (dry run)"
	}
	rows := [][]string{
		{"Run", rep.RunID},
		{"Action", rep.Action.String()},
		{"Result", result},
		{"Started", rep.StartedAt.Format(time.RFC3339)},
		{"Duration", strconv.FormatFloat(rep.Duration().Seconds(), 'f', 1, 64) + "s"},
	}
	if rep.Error != nil {
		rows = append(rows,
			[]string{"Stage", rep.Error.Stage},
			[]string{"Kind", rep.Error.Kind},
			[]string{"Attempts", strconv.Itoa(rep.Error.Attempts)},
			[]string{"Cause", rep.Error.Cause},
		)
	}
	if rep.ScreenshotPath != "" {
		rows = append(rows, []string{"Screenshot", rep.ScreenshotPath})
	}
	return rows
}
