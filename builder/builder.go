package builder

import (
	"fmt"
	"time"

	"github.com/sicko7947/replayflow"
)

// TemplateBuilder provides a fluent API for building workflow templates
type TemplateBuilder struct {
	template *replayflow.WorkflowTemplate
}

// NewTemplate creates a new template builder
func NewTemplate(id, name string, opts ...TemplateOption) *TemplateBuilder {
	now := time.Now()
	b := &TemplateBuilder{
		template: &replayflow.WorkflowTemplate{
			WorkflowID: id,
			Name:       name,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	ApplyOptions(b.template, opts...)
	return b
}

// WithDescription sets the template description
func (b *TemplateBuilder) WithDescription(description string) *TemplateBuilder {
	b.template.Description = description
	return b
}

// StartingAt sets the start URL
func (b *TemplateBuilder) StartingAt(url string) *TemplateBuilder {
	b.template.StartURL = url
	return b
}

// WithParameter declares an input
func (b *TemplateBuilder) WithParameter(spec replayflow.ParameterSpec) *TemplateBuilder {
	b.template.Parameters = append(b.template.Parameters, spec)
	return b
}

// RequireParameter declares a required text input
func (b *TemplateBuilder) RequireParameter(key, description string) *TemplateBuilder {
	return b.WithParameter(replayflow.ParameterSpec{Key: key, Description: description, Required: true, InputType: "text"})
}

// ThenStep appends a step
func (b *TemplateBuilder) ThenStep(step replayflow.Step) *TemplateBuilder {
	b.template.Steps = append(b.template.Steps, step)
	return b
}

// Sequence appends several steps in order
func (b *TemplateBuilder) Sequence(steps ...replayflow.Step) *TemplateBuilder {
	for _, step := range steps {
		b.ThenStep(step)
	}
	return b
}

// Goto appends a navigation step
func (b *TemplateBuilder) Goto(url string) *TemplateBuilder {
	return b.ThenStep(replayflow.GotoStep{URL: url})
}

// Click appends a click on the element showing text
func (b *TemplateBuilder) Click(text string) *TemplateBuilder {
	return b.ThenStep(replayflow.ClickStep{Target: replayflow.Target{TextHint: text}})
}

// Type appends typing value into the field described by semantic
func (b *TemplateBuilder) Type(semantic, value string) *TemplateBuilder {
	return b.ThenStep(replayflow.TypeStep{Target: replayflow.Target{Semantic: semantic}, Value: value, ClearFirst: true})
}

// Select appends choosing value in the dropdown described by semantic
func (b *TemplateBuilder) Select(semantic, value string) *TemplateBuilder {
	return b.ThenStep(replayflow.SelectStep{Target: replayflow.Target{Semantic: semantic}, Value: value})
}

// WaitFor appends a fixed sleep
func (b *TemplateBuilder) WaitFor(d time.Duration) *TemplateBuilder {
	return b.ThenStep(replayflow.WaitStep{Seconds: d.Seconds()})
}

// Build finalizes and validates the template
func (b *TemplateBuilder) Build() (*replayflow.WorkflowTemplate, error) {
	if err := ValidateTemplate(b.template); err != nil {
		return nil, err
	}
	return b.template.Clone(), nil
}

// MustBuild finalizes and validates the template, panics on error
func (b *TemplateBuilder) MustBuild() *replayflow.WorkflowTemplate {
	wf, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build workflow template: %v", err))
	}
	return wf
}
