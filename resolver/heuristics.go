package resolver

import (
	"sort"
	"strings"

	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/browser"
)

// Confidence scores per matching strategy
const (
	ScoreLearned   = 1.0
	ScoreCSSHint   = 0.9
	ScoreExactText = 0.95
	ScoreSubstring = 0.75
	ScoreAttribute = 0.70
	ScoreClickRole = 0.60
	ScoreTypeRole  = 0.50
)

// Strategy names how an element was found
type Strategy string

const (
	StrategyLearned   Strategy = "learned_selector"
	StrategyCSSHint   Strategy = "css_hint"
	StrategyExactText Strategy = "exact_text"
	StrategySubstring Strategy = "substring_text"
	StrategyAttribute Strategy = "attribute"
	StrategyClickRole Strategy = "click_role"
	StrategyTypeRole  Strategy = "type_role"
)

// Candidate is a scored element
type Candidate struct {
	Element    browser.Element
	Confidence float64
	Strategy   Strategy
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func isClickable(el browser.Element) bool {
	switch el.Tag {
	case "button", "a", "summary":
		return true
	case "input":
		switch el.Type {
		case "submit", "button", "reset", "image":
			return true
		}
	}
	return el.Role == "button" || el.Role == "link" || el.Role == "menuitem" || el.Role == "tab"
}

func isInteractive(el browser.Element) bool {
	return isClickable(el) || el.Editable || el.Tag == "select" || el.Tag == "label" || el.Tag == "input"
}

// hints splits a step target into the text and attribute needles
func hints(t replayflow.Target) (text, attr string) {
	text = normalize(t.TextHint)
	attr = normalize(t.Semantic)
	if text == "" {
		text = attr
	}
	if attr == "" {
		attr = text
	}
	return text, attr
}

// score rates one visible element against the hints. The generic type-role
// fallback is scored separately by fallbackTypeRole.
func score(el browser.Element, kind replayflow.StepKind, text, attr string) (float64, Strategy) {
	var best float64
	var strategy Strategy
	consider := func(c float64, s Strategy) {
		if c > best {
			best, strategy = c, s
		}
	}

	if text != "" {
		if el.Text == text || (el.OwnText != "" && el.OwnText == text) {
			consider(ScoreExactText, StrategyExactText)
		} else if !el.TextTruncated && containsFold(el.Text, text) {
			consider(ScoreSubstring, StrategySubstring)
		}
	}

	if attr != "" {
		for _, v := range []string{el.AriaLabel, el.Title, el.Placeholder, el.Name} {
			if containsFold(v, attr) {
				consider(ScoreAttribute, StrategyAttribute)
				break
			}
		}
	}

	if kind == replayflow.StepKindClick && text != "" && isClickable(el) {
		if containsFold(el.Text, text) || containsFold(el.Value, text) {
			consider(ScoreClickRole, StrategyClickRole)
		}
	}

	return best, strategy
}

// rank scores every visible element, drops containers whose match comes from
// a matching descendant, and sorts by confidence then document order.
func rank(snap *browser.Snapshot, kind replayflow.StepKind, target replayflow.Target) []Candidate {
	text, attr := hints(target)
	visible := snap.Visible()

	best := map[string]Candidate{}
	var keys []string
	for _, el := range visible {
		c, s := score(el, kind, text, attr)
		if c == 0 {
			continue
		}
		k := el.Key()
		if prev, ok := best[k]; ok {
			if c > prev.Confidence {
				prev.Confidence, prev.Strategy = c, s
				best[k] = prev
			}
			continue
		}
		best[k] = Candidate{Element: el, Confidence: c, Strategy: s}
		keys = append(keys, k)
	}

	var candidates []Candidate
	for _, k := range keys {
		candidates = append(candidates, best[k])
	}
	candidates = collapseNested(candidates)

	if len(candidates) == 0 && kind == replayflow.StepKindType {
		candidates = fallbackTypeRole(visible)
	}

	sortCandidates(candidates)
	return candidates
}

// collapseNested removes one of each ancestor/descendant pair. The
// descendant is kept unless only the ancestor is interactive.
func collapseNested(in []Candidate) []Candidate {
	drop := make([]bool, len(in))
	for i := range in {
		for j := range in {
			if i == j || drop[i] || drop[j] {
				continue
			}
			outer, inner := in[i].Element, in[j].Element
			if !outer.IsAncestorOf(inner) {
				continue
			}
			if isInteractive(outer) && !isInteractive(inner) {
				if in[j].Confidence > in[i].Confidence {
					in[i].Confidence, in[i].Strategy = in[j].Confidence, in[j].Strategy
				}
				drop[j] = true
			} else {
				drop[i] = true
			}
		}
	}
	out := in[:0:0]
	for i, c := range in {
		if !drop[i] {
			out = append(out, c)
		}
	}
	return out
}

func fallbackTypeRole(visible []browser.Element) []Candidate {
	var out []Candidate
	for _, el := range visible {
		if el.Editable {
			out = append(out, Candidate{Element: el, Confidence: ScoreTypeRole, Strategy: StrategyTypeRole})
		}
	}
	return out
}

func sortCandidates(c []Candidate) {
	// stable so equal scores keep document order
	sort.SliceStable(c, func(i, j int) bool { return c[i].Confidence > c[j].Confidence })
}
