// Package browser abstracts the automation driver the punch workflow runs on.
// The workflow only talks to the Launcher, Session and Page interfaces; the
// chromedp implementation lives next to a scriptable mock used in tests.
package browser

import (
	"context"
	"errors"

	"github.com/jakopako/punchclock/internal/types"
)

var (
	ErrElementNotFound   = errors.New("element not found")
	ErrElementNotVisible = errors.New("element not visible")
)

// LaunchOptions configure the browser process and its single browsing context.
type LaunchOptions struct {
	Headless bool
	// Verbose forwards console, exception and network events to the debug log.
	Verbose        bool
	Locale         string
	Timezone       string
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	ExecPath       string
}

// A Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// A Session owns one browser process, one context and one page.
// Close releases everything and may be called more than once.
type Session interface {
	Page() Page
	Close() error
}

// Page is the set of primitives the workflow needs from a browser tab.
// All blocking calls are bounded by the deadline of the context passed in.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	Fill(ctx context.Context, loc types.Locator, value string) error
	Click(ctx context.Context, loc types.Locator) error
	// WaitVisible blocks until a control matching loc is visible.
	WaitVisible(ctx context.Context, loc types.Locator) error
	// Text returns the rendered text of every control matching loc.
	Text(ctx context.Context, loc types.Locator) (string, error)
	// Labels lists the accessible names of all controls with the given role.
	Labels(ctx context.Context, role string) ([]string, error)

	Content(ctx context.Context) (string, error)
	// Screenshot writes a full page PNG to path.
	Screenshot(ctx context.Context, path string) error

	GrantGeolocation(ctx context.Context, origin string) error
	OverrideGeolocation(ctx context.Context, c types.Coordinates) error
	// Geolocation asks the page itself where it thinks it is.
	Geolocation(ctx context.Context) (types.Coordinates, error)

	// ExpectResponse starts watching for a network response whose URL
	// matches the glob pattern. Watching stops with Stop or once ctx is done.
	ExpectResponse(ctx context.Context, pattern string) (ResponseWaiter, error)
}

// Response is a network response observed by the page.
type Response struct {
	URL      string
	Status   int
	MIMEType string
	Body     []byte
}

type ResponseWaiter interface {
	Wait(ctx context.Context) (Response, error)
	Stop()
}
