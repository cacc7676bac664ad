package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jakopako/punchclock/internal/types"
)

// MockControl is a scripted UI control on a MockPage.
type MockControl struct {
	Visible bool
	Text    string
	// ClickErrs are returned by consecutive clicks before clicks succeed.
	ClickErrs []error
	// OnClick runs after a successful click, e.g. to navigate or show an alert.
	OnClick func(p *MockPage)
}

// MockPage is an in-memory Page whose behavior is scripted by tests.
type MockPage struct {
	mu sync.Mutex

	CurrentURL  string
	NavigateErr error
	// NavigateTo maps a requested URL to the URL the page ends up on.
	NavigateTo map[string]string
	Controls   map[types.Locator]*MockControl
	HTML       string

	Position       types.Coordinates
	GeolocationErr error
	Granted        []string
	ScreenshotErr  error
	Responses      []Response

	// recorded interactions
	Navigations []string
	Filled      map[types.Locator]string
	Clicks      []types.Locator
	Screenshots []string
}

func NewMockPage() *MockPage {
	return &MockPage{
		NavigateTo: map[string]string{},
		Controls:   map[types.Locator]*MockControl{},
		Filled:     map[types.Locator]string{},
	}
}

// SetControl adds or replaces a control.
func (p *MockPage) SetControl(loc types.Locator, c *MockControl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Controls[loc] = c
}

// SetURL changes the current location, as a navigation would.
func (p *MockPage) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = u
}

func (p *MockPage) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HTML = html
}

func (p *MockPage) ClickCount(loc types.Locator) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Clicks {
		if c == loc {
			n++
		}
	}
	return n
}

func (p *MockPage) ScreenshotPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Screenshots...)
}

func (p *MockPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.Navigations = append(p.Navigations, url)
	if target, ok := p.NavigateTo[url]; ok {
		p.CurrentURL = target
	} else {
		p.CurrentURL = url
	}
	return ctx.Err()
}

func (p *MockPage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *MockPage) lookup(loc types.Locator) (*MockControl, error) {
	c, ok := p.Controls[loc]
	if !ok {
		return nil, fmt.Errorf("%s: %w", loc, ErrElementNotFound)
	}
	if !c.Visible {
		return nil, fmt.Errorf("%s: %w", loc, ErrElementNotVisible)
	}
	return c, nil
}

func (p *MockPage) Fill(ctx context.Context, loc types.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.lookup(loc); err != nil {
		return err
	}
	p.Filled[loc] = value
	return nil
}

func (p *MockPage) Click(ctx context.Context, loc types.Locator) error {
	p.mu.Lock()
	c, err := p.lookup(loc)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if len(c.ClickErrs) > 0 {
		err := c.ClickErrs[0]
		c.ClickErrs = c.ClickErrs[1:]
		p.mu.Unlock()
		return err
	}
	p.Clicks = append(p.Clicks, loc)
	onClick := c.OnClick
	p.mu.Unlock()

	if onClick != nil {
		onClick(p)
	}
	return nil
}

func (p *MockPage) WaitVisible(ctx context.Context, loc types.Locator) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		_, err := p.lookup(loc)
		p.mu.Unlock()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *MockPage) Text(ctx context.Context, loc types.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.Controls[loc]
	if !ok {
		return "", fmt.Errorf("%s: %w", loc, ErrElementNotFound)
	}
	return c.Text, nil
}

func (p *MockPage) Labels(ctx context.Context, role string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var labels []string
	for loc := range p.Controls {
		if loc.Role == role && loc.Name != "" {
			labels = append(labels, loc.Name)
		}
	}
	return labels, nil
}

func (p *MockPage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *MockPage) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return p.ScreenshotErr
	}
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

func (p *MockPage) GrantGeolocation(ctx context.Context, origin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Granted = append(p.Granted, origin)
	return nil
}

func (p *MockPage) OverrideGeolocation(ctx context.Context, c types.Coordinates) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Navigations) > 0 {
		return errors.New("geolocation overridden after navigation")
	}
	p.Position = c
	return nil
}

func (p *MockPage) Geolocation(ctx context.Context) (types.Coordinates, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GeolocationErr != nil {
		return types.Coordinates{}, p.GeolocationErr
	}
	return p.Position, nil
}

func (p *MockPage) ExpectResponse(ctx context.Context, pattern string) (ResponseWaiter, error) {
	g, err := CompileURLPattern(pattern)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &mockWaiter{ch: make(chan Response, 1)}
	for _, r := range p.Responses {
		if g.Match(r.URL) {
			w.ch <- r
			break
		}
	}
	return w, nil
}

type mockWaiter struct {
	ch chan Response
}

func (w *mockWaiter) Wait(ctx context.Context) (Response, error) {
	select {
	case r := <-w.ch:
		return r, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (w *mockWaiter) Stop() {}

// MockSession wraps a MockPage and counts Close calls.
type MockSession struct {
	page   *MockPage
	mu     sync.Mutex
	closes int
}

func (s *MockSession) Page() Page { return s.page }

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Closes returns how often Close was called.
func (s *MockSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// MockLauncher hands out sessions on a single scripted page.
type MockLauncher struct {
	PageToUse *MockPage
	LaunchErr error

	Options  []LaunchOptions
	Sessions []*MockSession
}

func (l *MockLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	l.Options = append(l.Options, opts)
	s := &MockSession{page: l.PageToUse}
	l.Sessions = append(l.Sessions, s)
	return s, nil
}
