package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
)

// ChromeLauncher starts Chrome sessions through the DevTools protocol
type ChromeLauncher struct {
	config replayflow.BrowserConfig
	logger zerolog.Logger
}

// NewChromeLauncher creates a launcher. A RemoteURL attaches to a running
// browser instead of starting a local one.
func NewChromeLauncher(config replayflow.BrowserConfig, logger zerolog.Logger) *ChromeLauncher {
	return &ChromeLauncher{config: config, logger: logger.With().Str("component", "browser").Logger()}
}

// Launch opens a new browser tab that lives until the returned page is closed.
// The session is detached from ctx so it survives the request that started it.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if l.config.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), l.config.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.config.Headless),
			chromedp.WindowSize(l.config.WindowWidth, l.config.WindowHeight),
		)
		if l.config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	logger := l.logger
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug().Msgf(format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn().Msgf(format, args...)
		}),
	)

	page := &ChromePage{
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		config:      l.config,
		logger:      logger,
	}

	// An empty Run starts the browser and attaches the tab
	if err := page.run(ctx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug().Bool("remote", l.config.RemoteURL != "").Msg("Browser session started")
	return page, nil
}

// ChromePage is a Page backed by one chromedp tab
type ChromePage struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	config      replayflow.BrowserConfig
	logger      zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

var _ Page = (*ChromePage)(nil)

// run executes actions on the tab, bounded by the action timeout and by ctx
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if p.config.ActionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, p.config.ActionTimeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *ChromePage) eval(ctx context.Context, out any, fn string, args ...any) error {
	expr, err := script(fn, args...)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	p.waitLoaded(ctx)
	return nil
}

// waitLoaded polls document.readyState until complete. Slow pages are
// tolerated: the step that follows has its own waits.
func (p *ChromePage) waitLoaded(ctx context.Context) {
	if p.config.PageLoadTimeout <= 0 {
		return
	}
	deadline := time.Now().Add(p.config.PageLoadTimeout)
	for time.Now().Before(deadline) {
		var state string
		if err := p.eval(ctx, &state, readyStateFn); err == nil && state == "complete" {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	p.logger.Debug().Dur("timeout", p.config.PageLoadTimeout).Msg("Page load did not complete in time")
}

func (p *ChromePage) Location(ctx context.Context) (string, string, error) {
	var url, title string
	if err := p.run(ctx, chromedp.Location(&url), chromedp.Title(&title)); err != nil {
		return "", "", err
	}
	return url, title, nil
}

func (p *ChromePage) Snapshot(ctx context.Context, maxDepth int) (*Snapshot, error) {
	var snap Snapshot
	if err := p.eval(ctx, &snap, snapshotFn, maxDepth, MaxScanElements); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &snap, nil
}

func (p *ChromePage) Query(ctx context.Context, selector string, maxDepth int) (*Snapshot, error) {
	var snap Snapshot
	if err := p.eval(ctx, &snap, queryFn, selector, maxDepth); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if snap.Error != "" {
		return nil, fmt.Errorf("query %q: %s", selector, snap.Error)
	}
	return &snap, nil
}

func (p *ChromePage) VisibleText(ctx context.Context, maxDepth int) (string, error) {
	var text string
	if err := p.eval(ctx, &text, visibleTextFn, maxDepth); err != nil {
		return "", err
	}
	return text, nil
}

func (p *ChromePage) Click(ctx context.Context, el Element) error {
	var point struct {
		Found bool    `json:"found"`
		Clear bool    `json:"clear"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}
	if err := p.eval(ctx, &point, clickPointFn, framePathArg(el.Frame), el.Ref); err != nil {
		return err
	}
	if !point.Found {
		return fmt.Errorf("element %s is no longer attached", el.Ref)
	}
	if point.Clear {
		return p.run(ctx, chromedp.MouseClickXY(point.X, point.Y))
	}

	// Something covers the element center; let the DOM dispatch the click
	p.logger.Debug().Str("ref", el.Ref).Msg("Click point obstructed, using DOM click")
	var ok bool
	if err := p.eval(ctx, &ok, domClickFn, framePathArg(el.Frame), el.Ref); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s is no longer attached", el.Ref)
	}
	return nil
}

func (p *ChromePage) Type(ctx context.Context, el Element, text string, clearFirst bool) (TypeResult, error) {
	var prep struct {
		Found           bool `json:"found"`
		Editable        bool `json:"editable"`
		ContentEditable bool `json:"contentEditable"`
	}
	path := framePathArg(el.Frame)
	if err := p.eval(ctx, &prep, prepareTypeFn, path, el.Ref, clearFirst); err != nil {
		return TypeResult{}, err
	}
	if !prep.Found {
		return TypeResult{}, fmt.Errorf("element %s is no longer attached", el.Ref)
	}
	if !prep.Editable {
		return TypeResult{}, errors.New("element does not accept text input")
	}

	insert := chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	})
	if err := p.run(ctx, insert); err != nil {
		// Some widgets swallow synthetic input; set the value directly
		var ok bool
		if jsErr := p.eval(ctx, &ok, setValueFn, path, el.Ref, text); jsErr != nil || !ok {
			return TypeResult{}, fmt.Errorf("insert text: %w", err)
		}
	}

	var res TypeResult
	if err := p.eval(ctx, &res, finishTypeFn, path, el.Ref); err != nil {
		return TypeResult{}, err
	}
	if res.Verifiable && !strings.Contains(res.Value, text) && text != "" {
		var ok bool
		if err := p.eval(ctx, &ok, setValueFn, path, el.Ref, text); err == nil && ok {
			err = p.eval(ctx, &res, finishTypeFn, path, el.Ref)
			if err != nil {
				return TypeResult{}, err
			}
		}
	}
	return res, nil
}

func (p *ChromePage) SelectOption(ctx context.Context, el Element, value string) (SelectResult, error) {
	var res SelectResult
	if err := p.eval(ctx, &res, selectFn, framePathArg(el.Frame), el.Ref, value); err != nil {
		return SelectResult{}, err
	}
	return res, nil
}

func (p *ChromePage) PressEnter(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (p *ChromePage) ScrollIntoView(ctx context.Context, el Element) error {
	var ok bool
	if err := p.eval(ctx, &ok, scrollIntoViewFn, framePathArg(el.Frame), el.Ref); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s is no longer attached", el.Ref)
	}
	return nil
}

func (p *ChromePage) ScrollBy(ctx context.Context, dx, dy int) error {
	var ok bool
	return p.eval(ctx, &ok, scrollByFn, dx, dy)
}

func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close ends the tab and the browser process. Safe to call more than once.
func (p *ChromePage) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.tabCancel()
		p.allocCancel()
		p.logger.Debug().Msg("Browser session closed")
	})
	return nil
}

func framePathArg(path FramePath) []int {
	if path == nil {
		return []int{}
	}
	return path
}
