// Package config loads workflow definitions from YAML or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"gopkg.in/yaml.v3"
)

// WorkflowFile is the structure of a workflow definitions file. A file may
// also hold a single workflow at the top level.
type WorkflowFile struct {
	Workflows []map[string]any `yaml:"workflows"`
}

// LoadWorkflows reads the workflows defined in path. Defaults are applied but
// the workflows are not validated.
func LoadWorkflows(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var documents []map[string]any

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		documents, err = parseYAML(data)
	default:
		documents, err = parseJSON(data)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	workflows := make([]*models.Workflow, 0, len(documents))

	for i, document := range documents {
		workflow, err := decodeWorkflow(document)
		if err != nil {
			return nil, fmt.Errorf("workflow %d in %s: %w", i, path, err)
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func parseYAML(data []byte) ([]map[string]any, error) {
	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	if len(file.Workflows) > 0 {
		return file.Workflows, nil
	}

	var single map[string]any
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, err
	}

	return []map[string]any{single}, nil
}

func parseJSON(data []byte) ([]map[string]any, error) {
	var file struct {
		Workflows []map[string]any `json:"workflows"`
	}

	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	if len(file.Workflows) > 0 {
		return file.Workflows, nil
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}

	return []map[string]any{single}, nil
}

// decodeWorkflow routes a document through JSON so trigger and action
// configs decode into their typed variants.
func decodeWorkflow(document map[string]any) (*models.Workflow, error) {
	raw, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}

	var workflow models.Workflow
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return nil, err
	}

	workflow.ApplyDefaults()

	return &workflow, nil
}
