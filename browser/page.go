// Package browser drives a live browser session.
//
// Element lookups never keep a cursor into a frame. Every Element carries
// the frame path it was found in and a ref stamped on the node, so acting on
// it re-enters the frame from the top document each time.
package browser

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrSessionClosed is returned by pages after Close
var ErrSessionClosed = errors.New("browser session closed")

// FramePath is the index path from the top document to a nested frame.
// Index i selects the i-th iframe/frame element of the current document.
type FramePath []int

// String renders the path as "0/2"; the top document is ""
func (p FramePath) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "/")
}

// Equal reports whether p and other name the same document. Nil and empty
// both mean the top document.
func (p FramePath) Equal(other FramePath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Rect is a bounding box in top-level viewport coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Viewport is the size of the top-level window
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element describes one DOM node found in a snapshot or query
type Element struct {
	Ref     string    `json:"ref"`
	Frame   FramePath `json:"frame"`
	DOMPath string    `json:"domPath"` // child indices from <html>, "/" separated

	Tag     string   `json:"tag"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Role    string   `json:"role"`

	// Match counts within the element's own document
	IDCount    int `json:"idCount"`
	ClassCount int `json:"classCount"` // tag plus every class
	NameCount  int `json:"nameCount"`  // tag plus name attribute
	TagCount   int `json:"tagCount"`

	OwnText       string `json:"ownText"`
	Text          string `json:"text"`
	TextTruncated bool   `json:"textTruncated"`
	Value         string `json:"value"`
	AriaLabel     string `json:"ariaLabel"`
	Title         string `json:"title"`
	Placeholder   string `json:"placeholder"`

	Editable bool `json:"editable"`
	Visible  bool `json:"visible"`
	Rect     Rect `json:"rect"`
}

// InFrame reports whether the element lives below the top document
func (e Element) InFrame() bool {
	return len(e.Frame) > 0
}

// Key identifies the element across one snapshot
func (e Element) Key() string {
	return e.Frame.String() + "|" + e.Ref
}

// IsAncestorOf reports whether e contains other in the DOM
func (e Element) IsAncestorOf(other Element) bool {
	if e.Frame.String() != other.Frame.String() || e.DOMPath == "" {
		return false
	}
	return strings.HasPrefix(other.DOMPath, e.DOMPath+"/")
}

// Snapshot is the result of scanning the page and its frames
type Snapshot struct {
	Elements []Element `json:"elements"`
	Viewport Viewport  `json:"viewport"`
	Frames   int       `json:"frames"`            // documents searched, top included
	Skipped  []string  `json:"skipped,omitempty"` // frames that could not be entered
	// Truncated lists documents scanned only up to MaxScanElements nodes,
	// as frame paths ("" is the top document)
	Truncated []string `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Visible returns only the displayed elements
func (s *Snapshot) Visible() []Element {
	if s == nil {
		return nil
	}
	out := make([]Element, 0, len(s.Elements))
	for _, el := range s.Elements {
		if el.Visible {
			out = append(out, el)
		}
	}
	return out
}

// TypeResult reports the field state after typing
type TypeResult struct {
	Value      string `json:"value"`
	Verifiable bool   `json:"verifiable"` // false for content-editable targets
}

// SelectResult reports the outcome of choosing an option
type SelectResult struct {
	Native   bool     `json:"native"` // target is a <select>
	Selected bool     `json:"selected"`
	Matched  string   `json:"matched"`
	Options  []string `json:"options"`
}

// Page is one live browser session.
// Implementations are not safe for concurrent use; a run owns its page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (url, title string, err error)

	// Snapshot scans the top document and same-origin frames up to maxDepth
	Snapshot(ctx context.Context, maxDepth int) (*Snapshot, error)
	// Query evaluates a CSS selector in every searched document
	Query(ctx context.Context, selector string, maxDepth int) (*Snapshot, error)
	// VisibleText returns the rendered text of every searched document
	VisibleText(ctx context.Context, maxDepth int) (string, error)

	Click(ctx context.Context, el Element) error
	Type(ctx context.Context, el Element, text string, clearFirst bool) (TypeResult, error)
	SelectOption(ctx context.Context, el Element, value string) (SelectResult, error)
	PressEnter(ctx context.Context) error
	ScrollIntoView(ctx context.Context, el Element) error
	ScrollBy(ctx context.Context, dx, dy int) error

	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts browser sessions
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
