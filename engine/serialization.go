package engine

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GraphDefinition is the declarative, serializable form of a task graph.
// Function-valued fields (decide functions, function guardrails) do not
// serialize; definitions loaded from disk carry delegated-agent guardrails
// and agent-backed decisions only.
type GraphDefinition struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []*TaskNode `json:"nodes" yaml:"nodes"`
}

// DefinitionFromGraph captures a graph as a definition.
func DefinitionFromGraph(g *Graph) *GraphDefinition {
	return &GraphDefinition{
		Name:        g.Name,
		Description: g.Description,
		Nodes:       g.Nodes(),
	}
}

// ToGraph builds and validates a graph from the definition.
func (d *GraphDefinition) ToGraph() (*Graph, error) {
	g := NewGraph(d.Name)
	g.Description = d.Description
	for _, node := range d.Nodes {
		g.AddNode(node)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ToJSON converts the definition to an indented JSON string
func (d *GraphDefinition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts the definition to a YAML string
func (d *GraphDefinition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// DefinitionFromJSON parses and validates a definition from JSON
func DefinitionFromJSON(jsonStr string) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	if _, err := def.ToGraph(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// DefinitionFromYAML parses and validates a definition from YAML
func DefinitionFromYAML(yamlStr string) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := yaml.Unmarshal([]byte(yamlStr), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	if _, err := def.ToGraph(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// SaveToFile writes the definition to a file; .yaml/.yml extensions produce
// YAML, everything else JSON.
func (d *GraphDefinition) SaveToFile(path string) error {
	var (
		content string
		err     error
	)
	if isYAMLPath(path) {
		content, err = d.ToYAML()
	} else {
		content, err = d.ToJSON()
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// LoadDefinitionFromFile reads and validates a definition from a file.
func LoadDefinitionFromFile(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	if isYAMLPath(path) {
		return DefinitionFromYAML(string(data))
	}
	return DefinitionFromJSON(string(data))
}

func isYAMLPath(path string) bool {
	for _, ext := range []string{".yaml", ".yml"} {
		if len(path) > len(ext) && path[len(path)-len(ext):] == ext {
			return true
		}
	}
	return false
}
