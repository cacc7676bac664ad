// Package stage implements the discrete phases of a punch run: logging in,
// activating the punch control and confirming the portal accepted it.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/retry"
	"github.com/jakopako/punchclock/internal/types"
)

// Stage names the phase of the workflow an error originated in.
type Stage int

const (
	Unknown Stage = iota
	Authentication
	Navigation
	PunchAction
	Verification
)

func (s Stage) String() string {
	switch s {
	case Authentication:
		return "Authentication"
	case Navigation:
		return "Navigation"
	case PunchAction:
		return "PunchAction"
	case Verification:
		return "Verification"
	default:
		return "Unknown"
	}
}

// Kind classifies a failure for reporting.
type Kind string

const (
	KindNavigationTimeout        Kind = "NavigationTimeout"
	KindAuthenticationFailure    Kind = "AuthenticationFailure"
	KindElementNotFound          Kind = "ElementNotFound"
	KindPunchActionFailure       Kind = "PunchActionFailure"
	KindVerificationTimeout      Kind = "VerificationTimeout"
	KindScreenshotCaptureFailure Kind = "ScreenshotCaptureFailure"
	KindUnknown                  Kind = "UnknownError"
)

var (
	ErrNavigationTimeout   = errors.New("navigation timeout")
	ErrVerificationTimeout = errors.New("success confirmation did not appear")
	ErrScreenshotCapture   = errors.New("screenshot capture failed")
)

// Error is the single tagged error every stage failure is reported as.
type Error struct {
	Stage             Stage
	Cause             error
	AttemptsExhausted bool
	Attempts          int
	// ScreenshotPath is set when the failing stage already captured one.
	ScreenshotPath string
}

// Wrap tags err with stage. Retry information is lifted from a *retry.Error
// in the chain; errors that are already tagged are returned unchanged.
func Wrap(s Stage, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	e := &Error{Stage: s, Cause: err}
	var re *retry.Error
	if errors.As(err, &re) {
		e.AttemptsExhausted = re.Exhausted
		e.Attempts = re.Attempts
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Kind() Kind {
	switch {
	case e.Stage == Verification && errors.Is(e.Cause, ErrVerificationTimeout):
		return KindVerificationTimeout
	case e.Stage == Authentication && e.AttemptsExhausted:
		return KindAuthenticationFailure
	case e.Stage == PunchAction && e.AttemptsExhausted:
		return KindPunchActionFailure
	case errors.Is(e.Cause, browser.ErrElementNotFound), errors.Is(e.Cause, browser.ErrElementNotVisible):
		return KindElementNotFound
	case errors.Is(e.Cause, ErrNavigationTimeout):
		return KindNavigationTimeout
	case e.Stage == Navigation && errors.Is(e.Cause, context.DeadlineExceeded):
		return KindNavigationTimeout
	case errors.Is(e.Cause, ErrScreenshotCapture):
		return KindScreenshotCaptureFailure
	default:
		return KindUnknown
	}
}

// Info is the serializable summary used in reports and annotations.
func (e *Error) Info() *types.ErrorInfo {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return &types.ErrorInfo{
		Stage:             e.Stage.String(),
		Kind:              string(e.Kind()),
		Cause:             cause,
		AttemptsExhausted: e.AttemptsExhausted,
		Attempts:          e.Attempts,
	}
}
