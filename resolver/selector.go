package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/browser"
)

var cssIdent = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_-]*$`)

// UniqueSelector builds a selector for el, preferring id, then the tag with
// all its classes, then the name attribute, then the bare tag. A structural
// path is the last resort when none of those is unique in the element's
// document.
func UniqueSelector(el browser.Element) string {
	if el.ID != "" && el.IDCount == 1 {
		if cssIdent.MatchString(el.ID) {
			return "#" + el.ID
		}
		return fmt.Sprintf(`[id="%s"]`, quoteAttr(el.ID))
	}

	if len(el.Classes) > 0 && el.ClassCount == 1 && allIdents(el.Classes) {
		return el.Tag + "." + strings.Join(el.Classes, ".")
	}

	if el.Name != "" && el.NameCount == 1 {
		return fmt.Sprintf(`%s[name="%s"]`, el.Tag, quoteAttr(el.Name))
	}

	if el.TagCount == 1 || el.DOMPath == "" {
		return el.Tag
	}
	return structuralSelector(el.DOMPath)
}

// structuralSelector turns a child-index path into a :nth-child chain rooted at html
func structuralSelector(domPath string) string {
	parts := []string{"html"}
	for _, seg := range strings.Split(domPath, "/") {
		idx, err := strconv.Atoi(seg)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("*:nth-child(%d)", idx+1))
	}
	return strings.Join(parts, " > ")
}

func allIdents(classes []string) bool {
	for _, c := range classes {
		if !cssIdent.MatchString(c) {
			return false
		}
	}
	return true
}

func quoteAttr(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// Location describes where the element's center falls on a 3x3 grid of the viewport
func Location(el browser.Element, vp browser.Viewport) string {
	if vp.Width <= 0 || vp.Height <= 0 {
		return "unknown"
	}
	cx, cy := el.Rect.Center()

	vertical := "middle"
	switch {
	case cy < vp.Height/3:
		vertical = "top"
	case cy >= 2*vp.Height/3:
		vertical = "bottom"
	}

	horizontal := "center"
	switch {
	case cx < vp.Width/3:
		horizontal = "left"
	case cx >= 2*vp.Width/3:
		horizontal = "right"
	}

	loc := vertical + "-" + horizontal
	if cy > vp.Height || cy < 0 {
		loc += " (off-screen)"
	}
	return loc
}

// Label renders a short human-readable description of el
func Label(el browser.Element) string {
	kind := el.Tag
	if el.Role != "" && el.Role != el.Tag {
		kind = el.Tag + "[role=" + el.Role + "]"
	}

	var desc string
	switch {
	case el.Text != "":
		desc = strconv.Quote(truncate(el.Text, 60))
	case el.AriaLabel != "":
		desc = "aria-label " + strconv.Quote(truncate(el.AriaLabel, 60))
	case el.Placeholder != "":
		desc = "placeholder " + strconv.Quote(truncate(el.Placeholder, 60))
	case el.Title != "":
		desc = "title " + strconv.Quote(truncate(el.Title, 60))
	case el.Name != "":
		desc = "name " + strconv.Quote(el.Name)
	case el.Value != "":
		desc = "value " + strconv.Quote(truncate(el.Value, 60))
	}

	label := kind
	if desc != "" {
		label += " " + desc
	}
	if el.InFrame() {
		label += " (in frame " + el.Frame.String() + ")"
	}
	return label
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Describe annotates ranked candidates for a human choice. Each candidate
// gets a locator (css plus frame path) that no other candidate shares, so
// the choice replays against the element that was picked.
func Describe(candidates []Candidate, vp browser.Viewport) []replayflow.DisambiguationCandidate {
	out := make([]replayflow.DisambiguationCandidate, 0, len(candidates))
	taken := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		css := UniqueSelector(c.Element)
		key := c.Element.Frame.String() + "|" + css
		if taken[key] && c.Element.DOMPath != "" {
			css = structuralSelector(c.Element.DOMPath)
			key = c.Element.Frame.String() + "|" + css
		}
		taken[key] = true

		out = append(out, replayflow.DisambiguationCandidate{
			Index:      i,
			Label:      Label(c.Element),
			CSS:        css,
			Confidence: c.Confidence,
			Location:   Location(c.Element, vp),
			FramePath:  append([]int(nil), c.Element.Frame...),
		})
	}
	return out
}
