package builder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sicko7947/replayflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemplate(t *testing.T) {
	builder := NewTemplate("book-room", "Book a room")

	assert.NotNil(t, builder)
	wf, err := builder.Build()
	require.Error(t, err) // no start url, no steps
	assert.Nil(t, wf)
}

func TestTemplateBuilder_Sequence(t *testing.T) {
	wf, err := NewTemplate("signup", "Sign up", WithCategory("forms"), WithTags("demo")).
		WithDescription("Fill the sign up form").
		StartingAt("https://example.com").
		RequireParameter("name", "Your name").
		Goto("https://example.com/signup").
		Click("Next").
		Type("full name", "{{name}}").
		WaitFor(500 * time.Millisecond).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "Fill the sign up form", wf.Description)
	assert.Equal(t, "forms", wf.Category)
	assert.Equal(t, []string{"demo"}, wf.Tags)
	require.Len(t, wf.Steps, 4)
	assert.Equal(t, replayflow.StepKindGoto, wf.Steps[0].Kind())
	assert.Equal(t, replayflow.StepKindClick, wf.Steps[1].Kind())
	typed := wf.Steps[2].(replayflow.TypeStep)
	assert.True(t, typed.ClearFirst)
	assert.Equal(t, 0.5, wf.Steps[3].(replayflow.WaitStep).Seconds)
}

func TestTemplateBuilder_BuildReturnsCopy(t *testing.T) {
	b := NewTemplate("wf", "WF").StartingAt("https://x.test").Goto("https://x.test")
	first := b.MustBuild()
	b.Click("More")
	second := b.MustBuild()

	assert.Len(t, first.Steps, 1)
	assert.Len(t, second.Steps, 2)
}

func TestTemplateBuilder_MustBuildPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewTemplate("wf", "WF").MustBuild()
	})
}

func TestValidateTemplate_UndeclaredPlaceholder(t *testing.T) {
	_, err := NewTemplate("wf", "WF").
		StartingAt("https://x.test").
		Goto("https://x.test/{{tenant}}").
		Type("email", "{{email}}").
		RequireParameter("email", "").
		Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant (step 0)")
	assert.NotContains(t, err.Error(), "email")
}

func TestValidateTemplate_BadParameterKey(t *testing.T) {
	_, err := NewTemplate("wf", "WF").
		StartingAt("https://x.test").
		Goto("https://x.test").
		WithParameter(replayflow.ParameterSpec{Key: "first-name"}).
		Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "placeholder_key")
}

func TestValidateTemplate_DuplicateParameter(t *testing.T) {
	_, err := NewTemplate("wf", "WF").
		StartingAt("https://x.test").
		Goto("https://x.test").
		RequireParameter("name", "").
		RequireParameter("name", "").
		Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate parameter")
}

func TestValidateStep(t *testing.T) {
	tests := []struct {
		name    string
		step    replayflow.Step
		wantErr string
	}{
		{"goto", replayflow.GotoStep{URL: "https://x.test"}, ""},
		{"goto start url", replayflow.GotoStep{}, ""},
		{"click without hints", replayflow.ClickStep{}, "no target hints"},
		{"click with learned selector", replayflow.ClickStep{ResolvedCSSSelector: "#go"}, ""},
		{"type without hints", replayflow.TypeStep{Value: "x"}, ""},
		{"select without value", replayflow.SelectStep{Target: replayflow.Target{Semantic: "country"}}, "Value"},
		{"empty wait", replayflow.WaitStep{}, "seconds or an until condition"},
		{"negative wait", replayflow.WaitStep{Seconds: -1}, "Seconds"},
		{"wait for url", replayflow.WaitStep{UntilURLContains: "/done"}, ""},
		{"bad scroll direction", replayflow.ScrollStep{Direction: "left"}, "Direction"},
		{"nil", nil, "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStep(tt.step)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateParams(t *testing.T) {
	wf := NewTemplate("wf", "WF").
		StartingAt("https://x.test").
		RequireParameter("name", "").
		RequireParameter("email", "").
		WithParameter(replayflow.ParameterSpec{Key: "note"}).
		Type("name", "{{name}}").
		Type("email", "{{email}}").
		Type("note", "{{note}}").
		MustBuild()

	assert.NoError(t, ValidateParams(wf, map[string]string{"name": "Alex", "email": "a@x.test"}))

	err := ValidateParams(wf, map[string]string{"name": "  "})
	require.Error(t, err)
	assert.True(t, replayflow.IsEngineError(err, replayflow.ErrCodeValidation))
	assert.Contains(t, err.Error(), "missing required parameters: email, name")
}

const yamlTemplate = `
workflow_id: book-room
name: Book a study room
start_url: https://spaces.example.edu
parameters:
  - key: date
    required: true
    input_type: date
steps:
  - type: GOTO
    url: https://spaces.example.edu/book
  - type: CLICK
    target_text_hint: "{{date}}"
  - type: TYPE
    target_semantic: email
    value: someone@example.edu
  - type: SCROLL
`

func TestParseTemplate_YAML(t *testing.T) {
	wf, err := ParseTemplate([]byte(yamlTemplate), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "book-room", wf.WorkflowID)
	require.Len(t, wf.Steps, 4)
	assert.Equal(t, "{{date}}", wf.Steps[1].(replayflow.ClickStep).TextHint)
	assert.True(t, wf.Steps[2].(replayflow.TypeStep).ClearFirst)
	scroll := wf.Steps[3].(replayflow.ScrollStep)
	assert.Equal(t, replayflow.ScrollDown, scroll.Direction)
	assert.Equal(t, replayflow.DefaultScrollPixels, scroll.Pixels)
}

func TestParseTemplate_ParameterDefaults(t *testing.T) {
	const doc = `
workflow_id: reserve
name: Reserve a table
start_url: https://dine.example.com
parameters:
  - key: party
  - key: arrival
    input_type: time
  - key: note
    required: false
steps:
  - type: GOTO
  - type: TYPE
    target_semantic: party size
    value: "{{party}}"
`
	wf, err := ParseTemplate([]byte(doc), ".yaml")
	require.NoError(t, err)
	require.Len(t, wf.Parameters, 3)

	assert.True(t, wf.Parameters[0].Required, "required defaults to true")
	assert.Equal(t, "time", wf.Parameters[1].InputType)
	assert.True(t, wf.Parameters[1].Required)
	assert.False(t, wf.Parameters[2].Required)

	err = ValidateParams(wf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameters: arrival, party")

	assert.NoError(t, ValidateParams(wf, map[string]string{"party": "4", "arrival": "19:30"}))
}

func TestParseTemplate_JSONParameterWithoutRequired(t *testing.T) {
	const doc = `{"workflow_id":"x","name":"x","start_url":"https://x.test",
		"parameters":[{"key":"name"}],
		"steps":[{"type":"GOTO"},{"type":"TYPE","target_semantic":"name","value":"{{name}}"}]}`

	wf, err := ParseTemplate([]byte(doc), ".json")
	require.NoError(t, err)

	err = ValidateParams(wf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameters: name")
}

func TestParseTemplate_RejectsUnknownStep(t *testing.T) {
	_, err := ParseTemplate([]byte(`{"workflow_id":"x","name":"x","start_url":"u","steps":[{"type":"HOVER"}]}`), ".json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step type "HOVER"`)
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlTemplate), 0o600))

	wf, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "Book a study room", wf.Name)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
