// Package retry runs an action a bounded number of times with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jakopako/punchclock/internal/log"
)

// Policy describes how often and how patiently an action is retried.
// The delay before retry i (0-based) is InitialDelay * BackoffFactor^i.
type Policy struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	// Settle is waited once before the first attempt, for actions on
	// controls that are rendered but not yet interactive.
	Settle time.Duration `yaml:"settle"`

	// OnRetry is called once per failed, non-final attempt before sleeping.
	OnRetry func(Event) `yaml:"-"`
	// Sleep replaces the context aware timer, mostly for tests.
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

// Event describes a failed attempt that is about to be retried.
type Event struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// Error is returned when an action did not succeed within the policy.
type Error struct {
	Attempts int
	// Exhausted is false when the loop was interrupted by the context
	// before all attempts were used.
	Exhausted bool
	Err       error
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("interrupted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1, BackoffFactor: 1}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative, got %v", p.InitialDelay)
	}
	if p.Settle < 0 {
		return fmt.Errorf("settle delay must not be negative, got %v", p.Settle)
	}
	if p.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be at least 1, got %v", p.BackoffFactor)
	}
	return nil
}

// Delay returns the pause before the retry with the given 0-based index.
func (p Policy) Delay(retryIndex int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(retryIndex)))
}

// Execute runs fn until it succeeds or the policy is used up. Attempts are
// numbered from 1 and run strictly one after the other.
func Execute[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	logger := log.LoggerFromContext(ctx)
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	if p.Settle > 0 {
		if err := sleep(ctx, p.Settle); err != nil {
			return zero, &Error{Err: err}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt - 1)
		logger.Warn(fmt.Sprintf("attempt %d/%d failed, retrying in %v", attempt, p.MaxAttempts, delay), slog.String("err", err.Error()))
		if p.OnRetry != nil {
			p.OnRetry(Event{Attempt: attempt, Delay: delay, Err: err})
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, &Error{Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}
	return zero, &Error{Attempts: p.MaxAttempts, Exhausted: true, Err: lastErr}
}

// Do is Execute for actions without a result.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	return wait(ctx, d)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
