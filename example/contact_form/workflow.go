package contact_form

import (
	"time"

	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/builder"
)

// WorkflowID of the contact form template
const WorkflowID = "contact-form"

// NewContactFormWorkflow fills in and submits a contact form
func NewContactFormWorkflow(startURL string) (*replayflow.WorkflowTemplate, error) {
	return builder.NewTemplate(WorkflowID, "Send a contact request",
		builder.WithDescription("Fills the contact form with the caller's details and submits it"),
		builder.WithCategory("forms"),
		builder.WithTags("example"),
	).
		StartingAt(startURL).
		RequireParameter("name", "Your full name").
		RequireParameter("email", "Reply address").
		WithParameter(replayflow.ParameterSpec{Key: "topic", Description: "Subject of the request", Required: true, InputType: "select"}).
		Goto("").
		Type("name", "{{name}}").
		Type("email", "{{email}}").
		Select("topic", "{{topic}}").
		Click("Send").
		ThenStep(replayflow.WaitStep{UntilTextVisible: "Thank you", TimeoutSeconds: 20}).
		ThenStep(replayflow.ScreenshotStep{Filename: "confirmation"}).
		WaitFor(500 * time.Millisecond).
		Build()
}
