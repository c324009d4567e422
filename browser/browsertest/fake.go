// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sicko7947/replayflow/browser"
)

// Page is a scriptable fake page. Exported fields may be set before use and
// read after; methods take the lock.
type Page struct {
	mu sync.Mutex

	URL      string
	Title    string
	Text     string
	Elements []browser.Element
	Viewport browser.Viewport

	// Selectors overrides CSS matching: selector -> element refs
	Selectors map[string][]string
	// Options lists the choices of <select> elements by ref
	Options map[string][]string
	// Values holds typed field values by ref
	Values map[string]string

	// Hooks run after the action is recorded, without the lock held
	OnNavigate func(p *Page, url string)
	OnClick    func(p *Page, el browser.Element)

	// Truncated is reported by Snapshot as documents cut short
	Truncated []string

	// Errors injected per method name ("click", "type", "screenshot", ...)
	Errors map[string]error

	Navigations []string
	Clicks      []string
	Typed       []string
	Selected    []string
	Enters      int
	Scrolls     []int

	SnapshotCalls   int
	QueryCalls      int
	ScreenshotCalls int
	CloseCalls      int
}

var _ browser.Page = (*Page)(nil)

// NewPage creates a page with a 1200x900 viewport
func NewPage() *Page {
	return &Page{
		Viewport:  browser.Viewport{Width: 1200, Height: 900},
		Selectors: map[string][]string{},
		Options:   map[string][]string{},
		Values:    map[string]string{},
		Errors:    map[string]error{},
	}
}

// Button is a visible button element
func Button(ref, text string, x, y float64) browser.Element {
	return browser.Element{
		Ref: ref, Tag: "button", Text: text, OwnText: text, Visible: true, TagCount: 1,
		DOMPath: "1/" + ref,
		Rect:    browser.Rect{X: x, Y: y, Width: 80, Height: 30},
	}
}

// Input is a visible text input
func Input(ref, name, placeholder string, x, y float64) browser.Element {
	return browser.Element{
		Ref: ref, Tag: "input", Type: "text", Name: name, NameCount: 1, Placeholder: placeholder,
		Editable: true, Visible: true, TagCount: 1,
		DOMPath: "1/" + ref,
		Rect:    browser.Rect{X: x, Y: y, Width: 200, Height: 24},
	}
}

// SetDOM replaces the elements of the page
func (p *Page) SetDOM(url, title string, elements ...browser.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URL = url
	p.Title = title
	p.Elements = elements
}

// Closed returns how many times Close was called
func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CloseCalls
}

// Counts returns the snapshot and query call counts
func (p *Page) Counts() (snapshots, queries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SnapshotCalls, p.QueryCalls
}

// ClickedRefs returns a copy of the clicked refs
func (p *Page) ClickedRefs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Clicks...)
}

func (p *Page) fail(op string) error {
	if p.CloseCalls > 0 {
		return browser.ErrSessionClosed
	}
	return p.Errors[op]
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if err := p.fail("navigate"); err != nil {
		p.mu.Unlock()
		return err
	}
	p.Navigations = append(p.Navigations, url)
	p.URL = url
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) Location(ctx context.Context) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("location"); err != nil {
		return "", "", err
	}
	return p.URL, p.Title, nil
}

func (p *Page) Snapshot(ctx context.Context, maxDepth int) (*browser.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SnapshotCalls++
	if err := p.fail("snapshot"); err != nil {
		return nil, err
	}
	var out []browser.Element
	for _, el := range p.Elements {
		if len(el.Frame) <= maxDepth {
			out = append(out, el)
		}
	}
	return &browser.Snapshot{Elements: out, Viewport: p.Viewport, Frames: 1, Truncated: p.Truncated}, nil
}

func (p *Page) Query(ctx context.Context, selector string, maxDepth int) (*browser.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryCalls++
	if err := p.fail("query"); err != nil {
		return nil, err
	}

	var out []browser.Element
	if refs, ok := p.Selectors[selector]; ok {
		for _, ref := range refs {
			if el, found := p.byRef(ref); found {
				out = append(out, el)
			}
		}
	} else {
		m, err := compile(selector)
		if err != nil {
			return nil, err
		}
		for _, el := range p.Elements {
			if len(el.Frame) <= maxDepth && m(el) {
				out = append(out, el)
			}
		}
	}
	return &browser.Snapshot{Elements: out, Viewport: p.Viewport, Frames: 1}, nil
}

func (p *Page) VisibleText(ctx context.Context, maxDepth int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("text"); err != nil {
		return "", err
	}
	parts := []string{p.Text}
	for _, el := range p.Elements {
		if el.Visible && el.OwnText != "" {
			parts = append(parts, el.OwnText)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (p *Page) Click(ctx context.Context, el browser.Element) error {
	p.mu.Lock()
	if err := p.fail("click"); err != nil {
		p.mu.Unlock()
		return err
	}
	if _, ok := p.byRef(el.Ref); !ok {
		p.mu.Unlock()
		return fmt.Errorf("element %s is no longer attached", el.Ref)
	}
	p.Clicks = append(p.Clicks, el.Ref)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, el)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, el browser.Element, text string, clearFirst bool) (browser.TypeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("type"); err != nil {
		return browser.TypeResult{}, err
	}
	current, ok := p.byRef(el.Ref)
	if !ok {
		return browser.TypeResult{}, fmt.Errorf("element %s is no longer attached", el.Ref)
	}
	if !current.Editable {
		return browser.TypeResult{}, errors.New("element does not accept text input")
	}
	if clearFirst {
		p.Values[el.Ref] = text
	} else {
		p.Values[el.Ref] += text
	}
	p.Typed = append(p.Typed, el.Ref+"="+text)
	return browser.TypeResult{Value: p.Values[el.Ref], Verifiable: true}, nil
}

func (p *Page) SelectOption(ctx context.Context, el browser.Element, value string) (browser.SelectResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("select"); err != nil {
		return browser.SelectResult{}, err
	}
	if el.Tag != "select" {
		return browser.SelectResult{}, nil
	}
	options := p.Options[el.Ref]
	for _, o := range options {
		if o == value || strings.Contains(strings.ToLower(o), strings.ToLower(value)) {
			p.Selected = append(p.Selected, el.Ref+"="+o)
			return browser.SelectResult{Native: true, Selected: true, Matched: o, Options: options}, nil
		}
	}
	return browser.SelectResult{Native: true, Options: options}, nil
}

func (p *Page) PressEnter(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("enter"); err != nil {
		return err
	}
	p.Enters++
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el browser.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fail("scroll")
}

func (p *Page) ScrollBy(ctx context.Context, dx, dy int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("scroll"); err != nil {
		return err
	}
	p.Scrolls = append(p.Scrolls, dy)
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ScreenshotCalls++
	if err := p.fail("screenshot"); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}

func (p *Page) byRef(ref string) (browser.Element, bool) {
	for _, el := range p.Elements {
		if el.Ref == ref {
			return el, true
		}
	}
	return browser.Element{}, false
}

var (
	idSelector    = regexp.MustCompile(`^#([A-Za-z_][\w-]*)$`)
	idAttr        = regexp.MustCompile(`^\[id="([^"]*)"\]$`)
	nameSelector  = regexp.MustCompile(`^([a-z0-9]+)\[name="([^"]*)"\]$`)
	classSelector = regexp.MustCompile(`^([a-z0-9]+)((?:\.[A-Za-z_][\w-]*)+)$`)
	tagSelector   = regexp.MustCompile(`^[a-z0-9]+$`)
)

// compile understands the selector shapes the resolver generates
func compile(selector string) (func(browser.Element) bool, error) {
	s := strings.TrimSpace(selector)
	switch {
	case idSelector.MatchString(s):
		id := idSelector.FindStringSubmatch(s)[1]
		return func(el browser.Element) bool { return el.ID == id }, nil
	case idAttr.MatchString(s):
		id := idAttr.FindStringSubmatch(s)[1]
		return func(el browser.Element) bool { return el.ID == id }, nil
	case nameSelector.MatchString(s):
		m := nameSelector.FindStringSubmatch(s)
		return func(el browser.Element) bool { return el.Tag == m[1] && el.Name == m[2] }, nil
	case classSelector.MatchString(s):
		m := classSelector.FindStringSubmatch(s)
		want := strings.Split(strings.TrimPrefix(m[2], "."), ".")
		return func(el browser.Element) bool {
			if el.Tag != m[1] {
				return false
			}
			have := map[string]bool{}
			for _, c := range el.Classes {
				have[c] = true
			}
			for _, c := range want {
				if !have[c] {
					return false
				}
			}
			return true
		}, nil
	case tagSelector.MatchString(s):
		return func(el browser.Element) bool { return el.Tag == s }, nil
	}
	return func(browser.Element) bool { return false }, nil
}

// Launcher hands out fake pages and records every session
type Launcher struct {
	mu sync.Mutex

	// NewPage builds each session; defaults to NewPage
	NewPage func() *Page
	Err     error

	Pages []*Page
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	build := l.NewPage
	if build == nil {
		build = NewPage
	}
	page := build()
	l.Pages = append(l.Pages, page)
	return page, nil
}

// Launched returns the number of sessions started
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Pages)
}

// Page returns the i-th launched page
func (l *Launcher) Page(i int) *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.Pages) {
		return nil
	}
	return l.Pages[i]
}
