package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/punchclock/internal/types"
)

const pollInterval = 200 * time.Millisecond

const (
	jsIsVisible = `function() {
		const style = window.getComputedStyle(this);
		if (style.visibility === 'hidden' || style.display === 'none' || style.opacity === '0') return false;
		const rect = this.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}`
	jsInnerText = `function() { return this.innerText || this.textContent || ""; }`
	jsClearValue = `function() {
		this.value = "";
		this.dispatchEvent(new Event('input', { bubbles: true }));
	}`
	jsGeolocation = `new Promise((resolve, reject) => {
		if (!navigator.geolocation) { reject(new Error("geolocation api not available")); return; }
		navigator.geolocation.getCurrentPosition(
			(pos) => resolve({ latitude: pos.coords.latitude, longitude: pos.coords.longitude, accuracy: pos.coords.accuracy }),
			(err) => reject(new Error(err.message)),
			{ timeout: 5000, maximumAge: 0 });
	})`
)

type chromePage struct {
	ctx    context.Context
	logger *slog.Logger
}

// bind derives a context that carries the tab's executor but honors the
// deadline and cancellation of the caller's context.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if d, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, d)
		parentCancel := cancel
		cancel = func() { cancelDeadline(); parentCancel() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.bind(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("navigating", slog.String("url", url))
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

// resolve returns the backend ids of every node matching loc.
func resolve(ctx context.Context, loc types.Locator) ([]cdp.BackendNodeID, error) {
	if loc.Name == "" && loc.Placeholder != "" {
		sel := fmt.Sprintf(`input[placeholder=%q], textarea[placeholder=%q]`, loc.Placeholder, loc.Placeholder)
		var nodes []*cdp.Node
		if err := chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return nil, err
		}
		ids := make([]cdp.BackendNodeID, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.BackendNodeID)
		}
		return ids, nil
	}

	axNodes, err := queryAXTree(ctx, loc.Role, loc.Name)
	if err != nil {
		return nil, err
	}
	ids := make([]cdp.BackendNodeID, 0, len(axNodes))
	for _, n := range axNodes {
		ids = append(ids, n.BackendDOMNodeID)
	}
	return ids, nil
}

func queryAXTree(ctx context.Context, role, name string) ([]*accessibility.Node, error) {
	root, err := dom.GetDocument().WithDepth(0).Do(ctx)
	if err != nil {
		return nil, err
	}
	q := accessibility.QueryAXTree().WithBackendNodeID(root.BackendNodeID).WithRole(role)
	if name != "" {
		q = q.WithAccessibleName(name)
	}
	nodes, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	result := nodes[:0]
	for _, n := range nodes {
		if n.Ignored || n.BackendDOMNodeID == 0 {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

// callOn runs a function declaration with the node bound to this and
// decodes the returned value into out (if not nil).
func callOn(ctx context.Context, id cdp.BackendNodeID, fn string, out any) error {
	obj, err := dom.ResolveNode().WithBackendNodeID(id).Do(ctx)
	if err != nil {
		return err
	}
	defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj.ObjectID).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return err
	}
	if exc != nil {
		return exc
	}
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(res.Value), out)
}

// firstVisible polls until a node matching loc is visible.
func firstVisible(ctx context.Context, loc types.Locator) (cdp.BackendNodeID, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ids, err := resolve(ctx, loc)
		if err != nil && ctx.Err() != nil {
			return 0, errors.Join(fmt.Errorf("%s: %w", loc, ErrElementNotFound), ctx.Err())
		}
		lastErr := fmt.Errorf("%s: %w", loc, ErrElementNotFound)
		for _, id := range ids {
			var visible bool
			if err := callOn(ctx, id, jsIsVisible, &visible); err == nil && visible {
				return id, nil
			}
			lastErr = fmt.Errorf("%s: %w", loc, ErrElementNotVisible)
		}
		select {
		case <-ctx.Done():
			return 0, errors.Join(lastErr, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *chromePage) WaitVisible(ctx context.Context, loc types.Locator) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := firstVisible(ctx, loc)
		return err
	}))
}

func (p *chromePage) Click(ctx context.Context, loc types.Locator) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := firstVisible(ctx, loc)
		if err != nil {
			return err
		}
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx); err != nil {
			return fmt.Errorf("scroll %s into view: %w", loc, err)
		}
		box, err := dom.GetBoxModel().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("box model of %s: %w", loc, err)
		}
		x, y := quadCenter(box.Content)
		p.logger.Debug(fmt.Sprintf("clicking %s at (%.0f, %.0f)", loc, x, y))
		return chromedp.MouseClickXY(x, y).Do(ctx)
	}))
}

func quadCenter(q dom.Quad) (float64, float64) {
	var x, y float64
	n := len(q) / 2
	if n == 0 {
		return 0, 0
	}
	for i := 0; i < n; i++ {
		x += q[2*i]
		y += q[2*i+1]
	}
	return x / float64(n), y / float64(n)
}

func (p *chromePage) Fill(ctx context.Context, loc types.Locator, value string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := firstVisible(ctx, loc)
		if err != nil {
			return err
		}
		if err := dom.Focus().WithBackendNodeID(id).Do(ctx); err != nil {
			return fmt.Errorf("focus %s: %w", loc, err)
		}
		if err := callOn(ctx, id, jsClearValue, nil); err != nil {
			return fmt.Errorf("clear %s: %w", loc, err)
		}
		return input.InsertText(value).Do(ctx)
	}))
}

func (p *chromePage) Text(ctx context.Context, loc types.Locator) (string, error) {
	var texts []string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		ids, err := resolve(ctx, loc)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("%s: %w", loc, ErrElementNotFound)
		}
		for _, id := range ids {
			var s string
			if err := callOn(ctx, id, jsInnerText, &s); err != nil {
				return err
			}
			texts = append(texts, s)
		}
		return nil
	}))
	return strings.Join(texts, "\n"), err
}

func (p *chromePage) Labels(ctx context.Context, role string) ([]string, error) {
	var labels []string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		nodes, err := queryAXTree(ctx, role, "")
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if n.Name == nil || len(n.Name.Value) == 0 {
				continue
			}
			var name string
			if err := json.Unmarshal([]byte(n.Name.Value), &name); err == nil && name != "" {
				labels = append(labels, name)
			}
		}
		return nil
	}))
	return labels, err
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var body string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return body, err
}

func (p *chromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for screenshot: %w", err)
		}
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot to file: %w", err)
	}
	p.logger.Debug(fmt.Sprintf("writing screenshot to file %s", path))
	return nil
}

func (p *chromePage) GrantGeolocation(ctx context.Context, origin string) error {
	grant := cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{cdpbrowser.PermissionTypeGeolocation})
	if origin != "" {
		grant = grant.WithOrigin(origin)
	}
	return p.run(ctx, grant)
}

func (p *chromePage) OverrideGeolocation(ctx context.Context, c types.Coordinates) error {
	return p.run(ctx, emulation.SetGeolocationOverride().
		WithLatitude(c.Latitude).
		WithLongitude(c.Longitude).
		WithAccuracy(c.Accuracy))
}

func (p *chromePage) Geolocation(ctx context.Context) (types.Coordinates, error) {
	var c types.Coordinates
	err := p.run(ctx, chromedp.Evaluate(jsGeolocation, &c, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	return c, err
}

func (p *chromePage) ExpectResponse(ctx context.Context, pattern string) (ResponseWaiter, error) {
	g, err := CompileURLPattern(pattern)
	if err != nil {
		return nil, err
	}
	listenCtx, cancel := p.bind(ctx)
	w := &chromeResponseWaiter{
		page:   p,
		events: make(chan *network.EventResponseReceived, 1),
		cancel: cancel,
	}
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && g.Match(e.Response.URL) {
			select {
			case w.events <- e:
			default:
			}
		}
	})
	return w, nil
}

type chromeResponseWaiter struct {
	page   *chromePage
	events chan *network.EventResponseReceived
	cancel context.CancelFunc
}

func (w *chromeResponseWaiter) Wait(ctx context.Context) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case ev := <-w.events:
		r := Response{
			URL:      ev.Response.URL,
			Status:   int(ev.Response.Status),
			MIMEType: ev.Response.MimeType,
		}
		// the body may already be gone, it is only used for diagnostics
		_ = w.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			body, err := network.GetResponseBody(ev.RequestID).Do(ctx)
			if err == nil {
				r.Body = body
			}
			return err
		}))
		return r, nil
	}
}

func (w *chromeResponseWaiter) Stop() {
	w.cancel()
}
