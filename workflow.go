package replayflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// ParameterSpec declares one input a workflow expects
type ParameterSpec struct {
	Key         string `json:"key" validate:"required,placeholder_key"`
	Description string `json:"description,omitempty"`
	Example     string `json:"example,omitempty"`
	Required    bool   `json:"required"` // true unless the template says otherwise
	InputType   string `json:"input_type,omitempty" validate:"omitempty,oneof=text email password number date time select"`
}

// UnmarshalJSON decodes a parameter, treating a missing "required" as true
func (p *ParameterSpec) UnmarshalJSON(data []byte) error {
	type plain ParameterSpec
	out := plain{Required: true}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = ParameterSpec(out)
	return nil
}

// WorkflowTemplate is a distilled, parameterized step sequence
type WorkflowTemplate struct {
	WorkflowID  string          `json:"workflow_id" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	StartURL    string          `json:"start_url" validate:"required"`
	Steps       StepList        `json:"steps" validate:"required,min=1"`
	Parameters  []ParameterSpec `json:"parameters,omitempty" validate:"dive"`

	Category                 string   `json:"category,omitempty"`
	Tags                     []string `json:"tags,omitempty"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds,omitempty" validate:"gte=0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step returns the step at index
func (w *WorkflowTemplate) Step(index int) (Step, error) {
	if index < 0 || index >= len(w.Steps) {
		return nil, fmt.Errorf("step index %d out of range [0,%d)", index, len(w.Steps))
	}
	return w.Steps[index], nil
}

// Parameter returns the spec for key
func (w *WorkflowTemplate) Parameter(key string) (ParameterSpec, bool) {
	for _, p := range w.Parameters {
		if p.Key == key {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Clone returns a copy that shares no slices with w.
// Steps are value types, so copying the slice copies the steps.
func (w *WorkflowTemplate) Clone() *WorkflowTemplate {
	if w == nil {
		return nil
	}
	out := *w
	out.Steps = append(StepList(nil), w.Steps...)
	out.Parameters = append([]ParameterSpec(nil), w.Parameters...)
	out.Tags = append([]string(nil), w.Tags...)
	return &out
}

// WithLearnedSelector returns a copy whose step at index carries selector,
// bound to the frame it was chosen in
func (w *WorkflowTemplate) WithLearnedSelector(index int, selector string, frame []int) (*WorkflowTemplate, error) {
	step, err := w.Step(index)
	if err != nil {
		return nil, err
	}
	targeted, ok := step.(Targeted)
	if !ok {
		return nil, fmt.Errorf("step %d (%s) does not target an element", index, step.Kind())
	}
	out := w.Clone()
	out.Steps[index] = targeted.WithLearnedSelector(selector, frame)
	out.UpdatedAt = time.Now()
	return out, nil
}
