package builder

import "github.com/sicko7947/replayflow"

// TemplateOption is a functional option for configuring templates
type TemplateOption func(*replayflow.WorkflowTemplate)

// WithDescription sets the template description
func WithDescription(description string) TemplateOption {
	return func(w *replayflow.WorkflowTemplate) {
		w.Description = description
	}
}

// WithStartURL sets where the recorded task began
func WithStartURL(url string) TemplateOption {
	return func(w *replayflow.WorkflowTemplate) {
		w.StartURL = url
	}
}

// WithCategory sets the template category
func WithCategory(category string) TemplateOption {
	return func(w *replayflow.WorkflowTemplate) {
		w.Category = category
	}
}

// WithTags sets template tags
func WithTags(tags ...string) TemplateOption {
	return func(w *replayflow.WorkflowTemplate) {
		w.Tags = append([]string(nil), tags...)
	}
}

// WithEstimatedDuration sets the expected run time in seconds
func WithEstimatedDuration(seconds int) TemplateOption {
	return func(w *replayflow.WorkflowTemplate) {
		w.EstimatedDurationSeconds = seconds
	}
}

// ApplyOptions applies a list of options to a template
func ApplyOptions(w *replayflow.WorkflowTemplate, opts ...TemplateOption) {
	for _, opt := range opts {
		opt(w)
	}
}
