package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/punchclock/internal/log"
)

// ChromeLauncher starts a local Chrome through chromedp.
type ChromeLauncher struct{}

func (ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("driver", "chromedp"))

	width, height := opts.ViewportWidth, opts.ViewportHeight
	if width == 0 || height == 0 {
		width, height = 1280, 800
	}
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(width, height),
		// the portal asks for camera access on some tenants
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !opts.Headless {
		allocOpts = append(allocOpts,
			chromedp.Flag("headless", false),
			chromedp.Flag("hide-scrollbars", false),
			chromedp.Flag("auto-open-devtools-for-tabs", true),
		)
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// the browser must outlive per-stage deadlines, it is torn down by Close
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Warn(fmt.Sprintf(format, args...)) }),
	)

	s := &chromeSession{
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}
	s.page = &chromePage{ctx: tabCtx, logger: logger}

	actions := []chromedp.Action{
		network.Enable(),
		runtime.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, _, userAgent, _, err := cdpbrowser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, userAgent=%s", protocolVersion, product, userAgent))
			return nil
		}),
	}
	if opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(opts.Timezone))
	}
	if opts.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(opts.UserAgent)
		if opts.Locale != "" {
			ua = ua.WithAcceptLanguage(opts.Locale)
		}
		actions = append(actions, ua)
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if opts.Verbose {
		s.page.logEvents()
	}
	logger.Info("browser launched",
		slog.Bool("headless", opts.Headless),
		slog.String("locale", opts.Locale),
		slog.String("timezone", opts.Timezone),
		slog.Int("width", width), slog.Int("height", height))
	return s, nil
}

type chromeSession struct {
	page        *chromePage
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *slog.Logger
	once        sync.Once
	err         error
}

func (s *chromeSession) Page() Page { return s.page }

func (s *chromeSession) Close() error {
	s.once.Do(func() {
		s.err = chromedp.Cancel(s.page.ctx)
		s.cancelTab()
		s.cancelAlloc()
		s.logger.Debug("browser closed")
	})
	return s.err
}

// logEvents forwards browser side diagnostics to the debug log.
func (p *chromePage) logEvents() {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			args := make([]string, 0, len(ev.Args))
			for _, a := range ev.Args {
				args = append(args, remoteObjectString(a))
			}
			p.logger.Debug("browser console", slog.String("type", string(ev.Type)), slog.String("text", strings.Join(args, " ")))
		case *runtime.EventExceptionThrown:
			p.logger.Debug("browser exception", slog.String("text", ev.ExceptionDetails.Error()))
		case *network.EventResponseReceived:
			p.logger.Debug("network response",
				slog.Int64("status", ev.Response.Status),
				slog.String("url", ev.Response.URL),
				slog.String("type", string(ev.Type)))
		}
	})
}

func remoteObjectString(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal([]byte(o.Value), &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	return o.Description
}
