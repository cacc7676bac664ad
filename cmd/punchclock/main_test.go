package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jakopako/punchclock/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("PUNCH_TYPE", "上班")
	t.Setenv("COMPANY_ID", "acme")
	t.Setenv("EMPLOYEE_ID", "E042")
	t.Setenv("PASSWORD", "hunter2")
	t.Setenv("IS_PRODUCTION", "true")
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		handled  bool
	}{
		{"success", nil, 0, true},
		{"punch failed", exitError(1), 1, true},
		{"invalid config", config.ErrInvalid, 2, true},
		{"wrapped invalid config", errors.Join(errors.New("boom"), config.ErrInvalid), 2, true},
		{"other", errors.New("boom"), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, handled := exitStatus(tt.err)
			assert.Equal(t, tt.expected, status)
			assert.Equal(t, tt.handled, handled)
		})
	}
}

func TestRunCmd_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) RunCmd
	}{
		{"missing config file", func(t *testing.T) RunCmd {
			return RunCmd{Source: Source{Config: filepath.Join(t.TempDir(), "missing.yaml")}}
		}},
		{"unknown writer", func(t *testing.T) RunCmd {
			t.Setenv("OUTPUT_TYPE", "carrier-pigeon")
			return RunCmd{}
		}},
		{"validation", func(t *testing.T) RunCmd {
			t.Setenv("TIMEOUT_RUN", "0s")
			return RunCmd{}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			rc := tt.setup(t)

			err := rc.Run()
			require.Error(t, err)
			status, handled := exitStatus(err)
			assert.True(t, handled)
			assert.Equal(t, 2, status)
		})
	}
}
