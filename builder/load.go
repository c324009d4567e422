package builder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sicko7947/replayflow"
	"gopkg.in/yaml.v3"
)

// LoadTemplate reads a YAML or JSON template file and validates it
func LoadTemplate(path string) (*replayflow.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	wf, err := ParseTemplate(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// ParseTemplate decodes a template. ext selects the format (".json",
// ".yaml" or ".yml"); anything else is tried as YAML, which also accepts JSON.
func ParseTemplate(data []byte, ext string) (*replayflow.WorkflowTemplate, error) {
	raw := data
	if strings.ToLower(ext) != ".json" {
		// steps carry a type tag decoded by StepList, so YAML is routed through JSON
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse template: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert template: %w", err)
		}
		raw = converted
	}

	var wf replayflow.WorkflowTemplate
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	if err := ValidateTemplate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}
