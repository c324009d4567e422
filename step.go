package replayflow

import (
	"encoding/json"
	"fmt"
)

// StepKind identifies a step variant
type StepKind string

const (
	StepKindGoto       StepKind = "GOTO"
	StepKindClick      StepKind = "CLICK"
	StepKindType       StepKind = "TYPE"
	StepKindSelect     StepKind = "SELECT"
	StepKindWait       StepKind = "WAIT"
	StepKindScroll     StepKind = "SCROLL"
	StepKindScreenshot StepKind = "SCREENSHOT"
)

// String returns the string representation
func (k StepKind) String() string {
	return string(k)
}

// Step is one declarative action of a workflow.
// The set of implementations is closed to this package.
type Step interface {
	Kind() StepKind
	Describe() string
	isStep()
}

// Targeted is implemented by steps that act on a located element
type Targeted interface {
	Step
	TargetHints() Target
	// LearnedSelector returns the selector chosen for this step and the
	// frame it was chosen in
	LearnedSelector() (string, []int)
	WithLearnedSelector(selector string, frame []int) Step
}

// Target carries the hints used to locate an element
type Target struct {
	TextHint string `json:"target_text_hint,omitempty" yaml:"target_text_hint,omitempty"`
	Semantic string `json:"target_semantic,omitempty" yaml:"target_semantic,omitempty"`
	CSSHint  string `json:"css_selector_hint,omitempty" yaml:"css_selector_hint,omitempty"`
}

// IsZero reports whether no hint is set
func (t Target) IsZero() bool {
	return t.TextHint == "" && t.Semantic == "" && t.CSSHint == ""
}

// GotoStep navigates the session to a URL. An empty URL means the
// workflow's start URL.
type GotoStep struct {
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// ClickStep clicks a located element
type ClickStep struct {
	Description         string `json:"description,omitempty"`
	Target
	ResolvedCSSSelector string `json:"resolved_css_selector,omitempty"`
	ResolvedFramePath   []int  `json:"resolved_frame_path,omitempty"`
}

// TypeStep types a value into a located field
type TypeStep struct {
	Description         string `json:"description,omitempty"`
	Target
	Value               string `json:"value"`
	ClearFirst          bool   `json:"clear_first"`
	ResolvedCSSSelector string `json:"resolved_css_selector,omitempty"`
	ResolvedFramePath   []int  `json:"resolved_frame_path,omitempty"`
}

// SelectStep picks an option of a located dropdown
type SelectStep struct {
	Description         string `json:"description,omitempty"`
	Target
	Value               string `json:"value" validate:"required"`
	ResolvedCSSSelector string `json:"resolved_css_selector,omitempty"`
	ResolvedFramePath   []int  `json:"resolved_frame_path,omitempty"`
}

// WaitStep sleeps or waits until a page condition holds
type WaitStep struct {
	Description      string  `json:"description,omitempty"`
	Seconds          float64 `json:"seconds,omitempty" validate:"gte=0"`
	UntilURLContains string  `json:"until_url_contains,omitempty"`
	UntilSelector    string  `json:"until_selector,omitempty"`
	UntilTextVisible string  `json:"until_text_visible,omitempty"`
	TimeoutSeconds   float64 `json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// HasCondition reports whether the wait polls a page condition
func (s WaitStep) HasCondition() bool {
	return s.UntilURLContains != "" || s.UntilSelector != "" || s.UntilTextVisible != ""
}

// Scroll directions
const (
	ScrollDown = "down"
	ScrollUp   = "up"
)

// DefaultScrollPixels is used when a scroll step sets no distance
const DefaultScrollPixels = 300

// ScrollStep scrolls an element into view or the page by a distance
type ScrollStep struct {
	Description    string `json:"description,omitempty"`
	TargetSelector string `json:"target_selector,omitempty"`
	Direction      string `json:"direction,omitempty" validate:"omitempty,oneof=up down"`
	Pixels         int    `json:"pixels,omitempty" validate:"gte=0"`
}

// ScreenshotStep captures the current viewport
type ScreenshotStep struct {
	Description string `json:"description,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

func (GotoStep) Kind() StepKind       { return StepKindGoto }
func (ClickStep) Kind() StepKind      { return StepKindClick }
func (TypeStep) Kind() StepKind       { return StepKindType }
func (SelectStep) Kind() StepKind     { return StepKindSelect }
func (WaitStep) Kind() StepKind       { return StepKindWait }
func (ScrollStep) Kind() StepKind     { return StepKindScroll }
func (ScreenshotStep) Kind() StepKind { return StepKindScreenshot }

func (GotoStep) isStep()       {}
func (ClickStep) isStep()      {}
func (TypeStep) isStep()       {}
func (SelectStep) isStep()     {}
func (WaitStep) isStep()       {}
func (ScrollStep) isStep()     {}
func (ScreenshotStep) isStep() {}

func (s GotoStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return "Go to " + s.URL
}

func (s ClickStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return "Click " + s.Target.label()
}

func (s TypeStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("Type into %s", s.Target.label())
}

func (s SelectStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("Select %q in %s", s.Value, s.Target.label())
}

func (s WaitStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	switch {
	case s.UntilURLContains != "":
		return "Wait until URL contains " + s.UntilURLContains
	case s.UntilSelector != "":
		return "Wait for " + s.UntilSelector
	case s.UntilTextVisible != "":
		return fmt.Sprintf("Wait for text %q", s.UntilTextVisible)
	}
	return fmt.Sprintf("Wait %gs", s.Seconds)
}

func (s ScrollStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	if s.TargetSelector != "" {
		return "Scroll to " + s.TargetSelector
	}
	return "Scroll " + s.Direction
}

func (s ScreenshotStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return "Take screenshot"
}

func (t Target) label() string {
	switch {
	case t.TextHint != "":
		return fmt.Sprintf("%q", t.TextHint)
	case t.Semantic != "":
		return t.Semantic
	case t.CSSHint != "":
		return t.CSSHint
	}
	return "element"
}

func (s ClickStep) TargetHints() Target  { return s.Target }
func (s TypeStep) TargetHints() Target   { return s.Target }
func (s SelectStep) TargetHints() Target { return s.Target }

func (s ClickStep) LearnedSelector() (string, []int) {
	return s.ResolvedCSSSelector, s.ResolvedFramePath
}

func (s TypeStep) LearnedSelector() (string, []int) {
	return s.ResolvedCSSSelector, s.ResolvedFramePath
}

func (s SelectStep) LearnedSelector() (string, []int) {
	return s.ResolvedCSSSelector, s.ResolvedFramePath
}

func (s ClickStep) WithLearnedSelector(selector string, frame []int) Step {
	s.ResolvedCSSSelector = selector
	s.ResolvedFramePath = append([]int(nil), frame...)
	return s
}

func (s TypeStep) WithLearnedSelector(selector string, frame []int) Step {
	s.ResolvedCSSSelector = selector
	s.ResolvedFramePath = append([]int(nil), frame...)
	return s
}

func (s SelectStep) WithLearnedSelector(selector string, frame []int) Step {
	s.ResolvedCSSSelector = selector
	s.ResolvedFramePath = append([]int(nil), frame...)
	return s
}

// StepList is an ordered step sequence with a type-tagged JSON form
type StepList []Step

// MarshalJSON encodes each step as an object with a "type" field
func (l StepList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for i, step := range l {
		raw, err := marshalStep(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes type-tagged step objects
func (l *StepList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	steps := make(StepList, 0, len(raws))
	for i, raw := range raws {
		step, err := unmarshalStep(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*l = steps
	return nil
}

func marshalStep(step Step) (json.RawMessage, error) {
	if step == nil {
		return nil, fmt.Errorf("nil step")
	}
	body, err := json.Marshal(step)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(step.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

func unmarshalStep(raw json.RawMessage) (Step, error) {
	var head struct {
		Type StepKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case StepKindGoto:
		var s GotoStep
		err := json.Unmarshal(raw, &s)
		return s, err
	case StepKindClick:
		var s ClickStep
		err := json.Unmarshal(raw, &s)
		return s, err
	case StepKindType:
		s := TypeStep{ClearFirst: true}
		err := json.Unmarshal(raw, &s)
		return s, err
	case StepKindSelect:
		var s SelectStep
		err := json.Unmarshal(raw, &s)
		return s, err
	case StepKindWait:
		var s WaitStep
		err := json.Unmarshal(raw, &s)
		return s, err
	case StepKindScroll:
		s := ScrollStep{Direction: ScrollDown, Pixels: DefaultScrollPixels}
		err := json.Unmarshal(raw, &s)
		return s, err
	case StepKindScreenshot:
		var s ScreenshotStep
		err := json.Unmarshal(raw, &s)
		return s, err
	case "":
		return nil, fmt.Errorf("missing step type")
	}
	return nil, fmt.Errorf("unknown step type %q", head.Type)
}
