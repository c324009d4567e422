package builder

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sicko7947/replayflow"
)

var placeholderKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("placeholder_key", func(fl validator.FieldLevel) bool {
		return placeholderKey.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidateTemplate performs comprehensive validation on a template: field
// constraints, per-step requirements, unique parameter keys and every
// {{key}} a step references being declared.
func ValidateTemplate(w *replayflow.WorkflowTemplate) error {
	if w == nil {
		return errors.New("workflow template is nil")
	}
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid workflow template: %w", err)
	}
	if err := ValidateParameterSpecs(w.Parameters); err != nil {
		return err
	}
	for i, step := range w.Steps {
		if err := ValidateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return ValidatePlaceholders(w)
}

// ValidateParameterSpecs rejects duplicate keys
func ValidateParameterSpecs(specs []replayflow.ParameterSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, p := range specs {
		if seen[p.Key] {
			return fmt.Errorf("duplicate parameter %q", p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

// ValidateStep checks one step in isolation
func ValidateStep(step replayflow.Step) error {
	if step == nil {
		return errors.New("step is nil")
	}
	if err := validate.Struct(step); err != nil {
		return fmt.Errorf("invalid %s step: %w", step.Kind(), err)
	}

	switch s := step.(type) {
	case replayflow.Targeted:
		learned, _ := s.LearnedSelector()
		if s.TargetHints().IsZero() && learned == "" && s.Kind() != replayflow.StepKindType {
			return fmt.Errorf("%s step has no target hints", s.Kind())
		}
	case replayflow.WaitStep:
		if s.Seconds == 0 && !s.HasCondition() {
			return errors.New("wait step needs seconds or an until condition")
		}
	}
	return nil
}

// ValidatePlaceholders ensures every referenced placeholder is declared
func ValidatePlaceholders(w *replayflow.WorkflowTemplate) error {
	declared := make(map[string]bool, len(w.Parameters))
	for _, p := range w.Parameters {
		declared[p.Key] = true
	}

	var undeclared []string
	for i, step := range w.Steps {
		for _, key := range replayflow.Placeholders(step) {
			if !declared[key] {
				undeclared = append(undeclared, fmt.Sprintf("%s (step %d)", key, i))
			}
		}
	}
	if len(undeclared) > 0 {
		return fmt.Errorf("undeclared parameters: %s", strings.Join(undeclared, ", "))
	}
	return nil
}

// ValidateParams checks run parameters against the template's declarations.
// Missing or empty required parameters are a validation error; extra keys
// are allowed and ignored by substitution.
func ValidateParams(w *replayflow.WorkflowTemplate, params map[string]string) error {
	var missing []string
	for _, p := range w.Parameters {
		if p.Required && strings.TrimSpace(params[p.Key]) == "" {
			missing = append(missing, p.Key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return replayflow.NewEngineError(replayflow.ErrCodeValidation,
		"missing required parameters: "+strings.Join(missing, ", "))
}
