package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/jakopako/punchclock/internal/types"
)

const outcomeFilename = "outcome.json"

// FileWriter represents a writer that writes to a file
type FileWriter struct {
	*WriterConfig
	logger *slog.Logger
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *WriterConfig) (*FileWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the FileWriter")
	}

	if err := os.MkdirAll(wc.FileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", wc.FileDir, err)
	}

	return &FileWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(FILE_WRITER_TYPE))),
	}, nil
}

func (w *FileWriter) Write(ctx context.Context, rep types.OutcomeReport) error {
	data, err := marshalReport(rep)
	if err != nil {
		return err
	}
	filepath := path.Join(w.FileDir, outcomeFilename)
	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("error while writing outcome to file: %w", err)
	}
	w.logger.Info(fmt.Sprintf("wrote outcome to file %s", filepath))
	return nil
}

// marshalReport encodes rep as indented json. html characters are not
// escaped so that error causes stay readable.
func marshalReport(rep types.OutcomeReport) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(rep); err != nil {
		return nil, fmt.Errorf("error while encoding outcome: %w", err)
	}

	var indentBuffer bytes.Buffer
	if err := json.Indent(&indentBuffer, buffer.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("error while indenting json: %w", err)
	}
	return indentBuffer.Bytes(), nil
}
