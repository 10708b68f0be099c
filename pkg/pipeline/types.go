// Package pipeline defines the YAML document format pipelines are authored
// in. The types here are a thin serialization layer; the executable contract
// is the in-memory graph built by internal/parser.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is a raw pipeline document: one workflow plus the task and nested
// workflow declarations its steps reference.
type Document struct {
	Name      string                 `yaml:"name"`
	Inputs    map[string]Param       `yaml:"inputs"`
	Outputs   map[string]OutputParam `yaml:"outputs"`
	Tasks     map[string]TaskDef     `yaml:"tasks"`
	Workflows map[string]WorkflowDef `yaml:"workflows"`
	Steps     map[string]StepDef     `yaml:"steps"`
}

// Param is a typed parameter declaration. Handles both shorthand
// ("reads: File[]") and expanded form.
type Param struct {
	Type           string   `yaml:"type"`
	SecondaryFiles []string `yaml:"secondaryFiles"`
	Glob           string   `yaml:"glob"`
	Default        any      `yaml:"default"`
	Doc            string   `yaml:"doc"`
}

// UnmarshalYAML accepts a bare type string as shorthand for {type: ...}.
func (p *Param) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&p.Type)
	}
	type raw Param
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*p = Param(r)
	return nil
}

// OutputParam is a workflow-level output declaration.
type OutputParam struct {
	Type           string   `yaml:"type"`
	Source         string   `yaml:"source"`
	SecondaryFiles []string `yaml:"secondaryFiles"`
	Doc            string   `yaml:"doc"`
}

// TaskDef declares a primitive task: the external tool a step invokes,
// with its typed port contract.
type TaskDef struct {
	Command  Command          `yaml:"command"`
	Executor string           `yaml:"executor"`
	Inputs   map[string]Param `yaml:"inputs"`
	Outputs  map[string]Param `yaml:"outputs"`
	Doc      string           `yaml:"doc"`
}

// Command is a tool invocation, either a single string or a list.
type Command []string

// UnmarshalYAML accepts "samtools" as shorthand for ["samtools"].
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = Command{s}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*c = Command(list)
	return nil
}

// WorkflowDef declares a nested workflow. Its steps may reference the
// document's shared task and workflow declarations.
type WorkflowDef struct {
	Inputs  map[string]Param       `yaml:"inputs"`
	Outputs map[string]OutputParam `yaml:"outputs"`
	Steps   map[string]StepDef     `yaml:"steps"`
	Doc     string                 `yaml:"doc"`
}

// StepDef is a workflow step: what it runs, where its inputs come from, and
// which input ports it scatters over.
type StepDef struct {
	Run     string               `yaml:"run"`
	In      map[string]StepInput `yaml:"in"`
	Scatter []string             `yaml:"scatter"`
}

// StepInput is a step input binding. Handles both shorthand
// ("read: reads") and expanded form.
type StepInput struct {
	Source  string `yaml:"source"`
	Default any    `yaml:"default"`
}

// UnmarshalYAML accepts a bare source string as shorthand for {source: ...}.
func (si *StepInput) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&si.Source)
	}
	type raw StepInput
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*si = StepInput(r)
	return nil
}

// Parse decodes a pipeline document from YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pipeline YAML: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("pipeline document is missing 'name'")
	}
	return &doc, nil
}
