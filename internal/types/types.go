// Package types defines shared types used across the application.
package types

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// PunchAction is the attendance event a run submits.
type PunchAction int

const (
	ClockIn PunchAction = iota + 1
	ClockOut
)

// ParsePunchAction accepts the english tokens as well as the wording
// used on the portal itself.
func ParsePunchAction(s string) (PunchAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clock-in", "clockin", "in", "上班":
		return ClockIn, nil
	case "clock-out", "clockout", "out", "下班":
		return ClockOut, nil
	default:
		return 0, fmt.Errorf("unknown punch type %q, must be one of [clock-in, clock-out, 上班, 下班]", s)
	}
}

func (a PunchAction) String() string {
	switch a {
	case ClockIn:
		return "clock-in"
	case ClockOut:
		return "clock-out"
	default:
		return "unknown"
	}
}

func (a PunchAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *PunchAction) UnmarshalText(text []byte) error {
	p, err := ParsePunchAction(string(text))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

// Credentials identify the employee on the portal.
type Credentials struct {
	CompanyID  string
	EmployeeID string
	Password   string
}

// LogValue makes sure the password never ends up in a log line.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("company_id", c.CompanyID),
		slog.String("employee_id", c.EmployeeID),
		slog.String("password", Presence(c.Password)),
	)
}

// Presence reports whether a secret is set without revealing it.
func Presence(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "set"
}

// Coordinates is a synthetic device position.
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("(%.6f, %.6f ±%.0fm)", c.Latitude, c.Longitude, c.Accuracy)
}

// PunchRequest is everything a single run needs to know about what to submit.
// It is built once and passed by value.
type PunchRequest struct {
	Action      PunchAction
	Credentials Credentials
	Geolocation Coordinates
}

// Locator references a UI control semantically, by ARIA role and exact
// accessible name. A textbox without a name can be addressed by its
// placeholder instead.
type Locator struct {
	Role        string `yaml:"role"`
	Name        string `yaml:"name,omitempty"`
	Placeholder string `yaml:"placeholder,omitempty"`
}

const (
	RoleTextbox = "textbox"
	RoleButton  = "button"
	RoleAlert   = "alert"
)

func (l Locator) String() string {
	switch {
	case l.Name != "":
		return fmt.Sprintf("%s[name=%q]", l.Role, l.Name)
	case l.Placeholder != "":
		return fmt.Sprintf("%s[placeholder=%q]", l.Role, l.Placeholder)
	default:
		return l.Role
	}
}

// ByRole returns a locator for the control with the given role and name.
func ByRole(role, name string) Locator {
	return Locator{Role: role, Name: name}
}

// ByPlaceholder returns a textbox locator addressed by placeholder text.
func ByPlaceholder(placeholder string) Locator {
	return Locator{Role: RoleTextbox, Placeholder: placeholder}
}

// OutcomeReport is the single terminal result of a run.
type OutcomeReport struct {
	RunID          string      `json:"runId"`
	Action         PunchAction `json:"action"`
	Success        bool        `json:"success"`
	StartedAt      time.Time   `json:"startedAt"`
	FinishedAt     time.Time   `json:"finishedAt"`
	Error          *ErrorInfo  `json:"error,omitempty"`
	ScreenshotPath string      `json:"screenshotPath,omitempty"`
	DryRun         bool        `json:"dryRun,omitempty"`
}

// ErrorInfo is the serializable form of a stage error.
type ErrorInfo struct {
	Stage             string `json:"stage"`
	Kind              string `json:"kind"`
	Cause             string `json:"cause"`
	AttemptsExhausted bool   `json:"attemptsExhausted"`
	Attempts          int    `json:"attempts,omitempty"`
}

// Duration is the wall time of the run.
func (r OutcomeReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode is the process status that corresponds to the report.
func (r OutcomeReport) ExitCode() int {
	if r.Success {
		return 0
	}
	return 1
}
