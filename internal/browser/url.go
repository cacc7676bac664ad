package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/gobwas/glob"
)

// CompileURLPattern compiles a playwright style URL glob: '*' stays within a
// path segment, '**' crosses segments.
func CompileURLPattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
	}
	return g, nil
}

// MatchURL reports whether url matches the glob pattern.
func MatchURL(pattern, url string) (bool, error) {
	g, err := CompileURLPattern(pattern)
	if err != nil {
		return false, err
	}
	return g.Match(url), nil
}

// WaitForURL polls the page location until it matches pattern or ctx is done.
func WaitForURL(ctx context.Context, p Page, pattern string, interval time.Duration) (string, error) {
	g, err := CompileURLPattern(pattern)
	if err != nil {
		return "", err
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		u, err := p.URL(ctx)
		if err == nil {
			last = u
			if g.Match(u) {
				return u, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("url %q never matched %q: %w", last, pattern, ctx.Err())
		case <-ticker.C:
		}
	}
}
