// Package geo makes the browser report a fixed device position.
package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/jakopako/punchclock/internal/browser"
	"github.com/jakopako/punchclock/internal/log"
	"github.com/jakopako/punchclock/internal/types"
)

// Tolerance is the largest difference in degrees still treated as the
// injected position.
const Tolerance = 1e-4

// Spoofer injects a position into a page and checks that the page sees it.
type Spoofer struct {
	// VerifyTimeout bounds the in-page position query.
	VerifyTimeout time.Duration

	applied *types.Coordinates
}

func NewSpoofer() *Spoofer {
	return &Spoofer{VerifyTimeout: 10 * time.Second}
}

// Apply grants the geolocation permission to origin and overrides the
// device position. It has to run before the first navigation.
func (s *Spoofer) Apply(ctx context.Context, page browser.Page, c types.Coordinates, origin string) error {
	if err := validate(c); err != nil {
		return err
	}
	if err := page.GrantGeolocation(ctx, origin); err != nil {
		return fmt.Errorf("grant geolocation to %s: %w", origin, err)
	}
	if err := page.OverrideGeolocation(ctx, c); err != nil {
		return fmt.Errorf("override geolocation: %w", err)
	}
	s.applied = &c
	log.LoggerFromContext(ctx).Info("geolocation applied", slog.String("position", c.String()), slog.String("origin", origin))
	return nil
}

// Verify asks the page for its position and logs whether it matches what
// was applied. Failures are only logged.
func (s *Spoofer) Verify(ctx context.Context, page browser.Page) {
	logger := log.LoggerFromContext(ctx)
	if s.applied == nil {
		logger.Warn("geolocation check skipped, no position applied")
		return
	}
	if s.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.VerifyTimeout)
		defer cancel()
	}
	got, err := page.Geolocation(ctx)
	if err != nil {
		logger.Warn("geolocation check failed", slog.String("err", err.Error()))
		return
	}
	if !Matches(*s.applied, got) {
		logger.Warn("page reports a different position", slog.String("want", s.applied.String()), slog.String("got", got.String()))
		return
	}
	logger.Info("geolocation verified", slog.String("position", got.String()))
}

// Matches reports whether b is within Tolerance of a.
func Matches(a, b types.Coordinates) bool {
	return math.Abs(a.Latitude-b.Latitude) <= Tolerance && math.Abs(a.Longitude-b.Longitude) <= Tolerance
}

// Origin returns the scheme and host part of rawURL, which is what
// permissions are granted to.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute url", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func validate(c types.Coordinates) error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", c.Longitude)
	}
	if c.Accuracy < 0 {
		return fmt.Errorf("accuracy %v must not be negative", c.Accuracy)
	}
	return nil
}
