package replayflow

import (
	"regexp"
	"sort"
)

// placeholderPattern matches {{key}} with optional inner whitespace
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Expand replaces every known {{key}} in s. Unknown keys are left verbatim.
func Expand(s string, params map[string]string) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := params[key]; ok {
			return v
		}
		return match
	})
}

// Substitute returns a copy of step with parameters expanded in every string field
func Substitute(step Step, params map[string]string) Step {
	x := func(s string) string { return Expand(s, params) }
	target := func(t Target) Target {
		return Target{TextHint: x(t.TextHint), Semantic: x(t.Semantic), CSSHint: x(t.CSSHint)}
	}

	switch s := step.(type) {
	case GotoStep:
		s.Description = x(s.Description)
		s.URL = x(s.URL)
		return s
	case ClickStep:
		s.Description = x(s.Description)
		s.Target = target(s.Target)
		s.ResolvedCSSSelector = x(s.ResolvedCSSSelector)
		return s
	case TypeStep:
		s.Description = x(s.Description)
		s.Target = target(s.Target)
		s.Value = x(s.Value)
		s.ResolvedCSSSelector = x(s.ResolvedCSSSelector)
		return s
	case SelectStep:
		s.Description = x(s.Description)
		s.Target = target(s.Target)
		s.Value = x(s.Value)
		s.ResolvedCSSSelector = x(s.ResolvedCSSSelector)
		return s
	case WaitStep:
		s.Description = x(s.Description)
		s.UntilURLContains = x(s.UntilURLContains)
		s.UntilSelector = x(s.UntilSelector)
		s.UntilTextVisible = x(s.UntilTextVisible)
		return s
	case ScrollStep:
		s.Description = x(s.Description)
		s.TargetSelector = x(s.TargetSelector)
		return s
	case ScreenshotStep:
		s.Description = x(s.Description)
		s.Filename = x(s.Filename)
		return s
	}
	return step
}

// Placeholders lists the distinct parameter keys a step references, sorted
func Placeholders(step Step) []string {
	var fields []string
	switch s := step.(type) {
	case GotoStep:
		fields = []string{s.Description, s.URL}
	case ClickStep:
		fields = []string{s.Description, s.TextHint, s.Semantic, s.CSSHint, s.ResolvedCSSSelector}
	case TypeStep:
		fields = []string{s.Description, s.TextHint, s.Semantic, s.CSSHint, s.Value, s.ResolvedCSSSelector}
	case SelectStep:
		fields = []string{s.Description, s.TextHint, s.Semantic, s.CSSHint, s.Value, s.ResolvedCSSSelector}
	case WaitStep:
		fields = []string{s.Description, s.UntilURLContains, s.UntilSelector, s.UntilTextVisible}
	case ScrollStep:
		fields = []string{s.Description, s.TargetSelector}
	case ScreenshotStep:
		fields = []string{s.Description, s.Filename}
	}

	seen := map[string]bool{}
	var keys []string
	for _, f := range fields {
		for _, m := range placeholderPattern.FindAllStringSubmatch(f, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				keys = append(keys, m[1])
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// HasPlaceholders reports whether s still contains a {{key}} token
func HasPlaceholders(s string) bool {
	return placeholderPattern.MatchString(s)
}
