// Package output provides the interface, configuration and implementations
// for writers that publish the outcome of a run.
package output

import (
	"context"
	"fmt"

	"github.com/jakopako/punchclock/internal/types"
)

// Writer publishes an outcome report to a specific output.
type Writer interface {
	Write(ctx context.Context, rep types.OutcomeReport) error
}

// WriterConfig defines the necessary parameters to make a new writer.
type WriterConfig struct {
	Type     WriterType `yaml:"type" env:"OUTPUT_TYPE" env-default:"stdout" env-description:"outcome writer: stdout, file, api or pushgateway"`
	Uri      string     `yaml:"uri" env:"OUTPUT_URI" env-description:"endpoint of the api or pushgateway writer"`
	User     string     `yaml:"user" env:"OUTPUT_USER" env-description:"basic auth user of the api or pushgateway writer"`
	Password string     `yaml:"password" env:"OUTPUT_PASSWORD" env-description:"basic auth password of the api or pushgateway writer"`
	FileDir  string     `yaml:"filedir" env:"OUTPUT_FILE_DIR" env-default:"." env-description:"directory the file writer writes outcome.json to"`
	Job      string     `yaml:"job" env:"OUTPUT_JOB" env-default:"punchclock" env-description:"pushgateway job name"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	STDOUT_WRITER_TYPE      WriterType = "stdout"
	FILE_WRITER_TYPE        WriterType = "file"
	API_WRITER_TYPE         WriterType = "api"
	PUSHGATEWAY_WRITER_TYPE WriterType = "pushgateway"
)

// NewWriter returns a new writer depending on the writer type
func NewWriter(wc *WriterConfig) (Writer, error) {
	switch wc.Type {
	case STDOUT_WRITER_TYPE, "":
		return NewStdoutWriter(wc), nil
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case API_WRITER_TYPE:
		return NewAPIWriter(wc)
	case PUSHGATEWAY_WRITER_TYPE:
		return NewPushgatewayWriter(wc)
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}
