package model

import (
	"sort"
	"strings"
)

// Graph is the in-memory representation of a workflow: steps, typed ports,
// and the bindings that connect them. A Graph is immutable once built and is
// safely shared read-only across any number of Runs.
type Graph struct {
	Name      string            `json:"name"`
	Inputs    []Port            `json:"inputs"`
	Outputs   []GraphOutput     `json:"outputs"`
	Steps     map[string]*Step  `json:"steps"`
	Tasks     map[string]*Task  `json:"tasks,omitempty"`
	Subgraphs map[string]*Graph `json:"subgraphs,omitempty"`
}

// Port is a named, typed slot on a step or on the enclosing graph.
// For File-typed ports, SecondaryFiles lists the suffix patterns of companion
// artifacts that must travel with the primary file (e.g. ".bai", "^.dict").
type Port struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	SecondaryFiles []string `json:"secondary_files,omitempty"`
	Glob           string   `json:"glob,omitempty"`    // task outputs: collection pattern
	Default        any      `json:"default,omitempty"` // task inputs: fallback value
}

// GraphOutput is a workflow-level output bound to exactly one producer,
// either a step output ("step/port") or a workflow input (pass-through).
type GraphOutput struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Source         string   `json:"source"`
	SecondaryFiles []string `json:"secondary_files,omitempty"`
}

// StepKind distinguishes how a step's body executes.
type StepKind string

const (
	// StepTask invokes a primitive task through the executor interface.
	StepTask StepKind = "task"
	// StepSubworkflow runs a nested graph as an opaque unit.
	StepSubworkflow StepKind = "subworkflow"
	// StepGather recombines a scatter group's member outputs into ordered
	// arrays. Gather steps exist only in expanded execution graphs.
	StepGather StepKind = "gather"
)

// Step is a single node in the graph: a primitive task invocation or a
// nested workflow, with its input bindings and an optional scatter
// specification.
type Step struct {
	ID      string    `json:"id"`
	Kind    StepKind  `json:"kind"`
	Run     string    `json:"run"` // task or subgraph name
	In      []Binding `json:"in"`
	Scatter []string  `json:"scatter,omitempty"`

	// Members lists the ordered element-step IDs of a gather step.
	Members []string `json:"members,omitempty"`
}

// Binding maps one step input port to the source of its value: a workflow
// input or another step's output port ("step/port"). When Source is empty the
// Default literal is used.
type Binding struct {
	Port    string `json:"port"`
	Source  string `json:"source,omitempty"`
	Default any    `json:"default,omitempty"`
}

// Task is a primitive task declaration: the opaque external tool a StepTask
// invokes, with its typed port contract.
type Task struct {
	ID       string       `json:"id"`
	Command  []string     `json:"command,omitempty"`
	Executor ExecutorType `json:"executor,omitempty"`
	Inputs   []Port       `json:"inputs"`
	Outputs  []Port       `json:"outputs"`
}

// Task returns the task declaration a step runs, or nil.
func (g *Graph) Task(s *Step) *Task {
	if g.Tasks == nil {
		return nil
	}
	return g.Tasks[s.Run]
}

// Subgraph returns the nested graph a step runs, or nil.
func (g *Graph) Subgraph(s *Step) *Graph {
	if g.Subgraphs == nil {
		return nil
	}
	return g.Subgraphs[s.Run]
}

// InputPort looks up a workflow input declaration by name.
func (g *Graph) InputPort(name string) (Port, bool) {
	return PortByName(g.Inputs, name)
}

// StepInputPorts returns the input port declarations of a step, taken from
// the task or subgraph it runs.
func (g *Graph) StepInputPorts(s *Step) []Port {
	switch s.Kind {
	case StepSubworkflow:
		if sub := g.Subgraph(s); sub != nil {
			return sub.Inputs
		}
	default:
		if t := g.Task(s); t != nil {
			return t.Inputs
		}
	}
	return nil
}

// StepOutputPorts returns the output port declarations of a step. For gather
// steps every port type is lifted to an array of the element type.
func (g *Graph) StepOutputPorts(s *Step) []Port {
	var ports []Port
	switch s.Kind {
	case StepSubworkflow:
		if sub := g.Subgraph(s); sub != nil {
			for _, out := range sub.Outputs {
				ports = append(ports, Port{Name: out.Name, Type: out.Type, SecondaryFiles: out.SecondaryFiles})
			}
		}
	default:
		if t := g.Task(s); t != nil {
			ports = append(ports, t.Outputs...)
		}
	}
	if s.Kind == StepGather {
		lifted := make([]Port, len(ports))
		for i, p := range ports {
			p.Type = ArrayOf(p.Type)
			lifted[i] = p
		}
		return lifted
	}
	return ports
}

// Predecessors returns the sorted IDs of steps whose outputs the given step
// consumes, derived from its bindings (and members, for gather steps).
func (g *Graph) Predecessors(stepID string) []string {
	s, ok := g.Steps[stepID]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	for _, b := range s.In {
		if src, _, ok := SplitSource(b.Source); ok {
			if _, exists := g.Steps[src]; exists && src != stepID {
				seen[src] = true
			}
		}
	}
	for _, m := range s.Members {
		if _, exists := g.Steps[m]; exists {
			seen[m] = true
		}
	}
	return sortedKeys(seen)
}

// Successors returns the sorted IDs of steps that consume the given step's
// outputs.
func (g *Graph) Successors(stepID string) []string {
	seen := make(map[string]bool)
	for id, s := range g.Steps {
		if id == stepID {
			continue
		}
		for _, b := range s.In {
			if src, _, ok := SplitSource(b.Source); ok && src == stepID {
				seen[id] = true
			}
		}
		for _, m := range s.Members {
			if m == stepID {
				seen[id] = true
			}
		}
	}
	return sortedKeys(seen)
}

// SplitSource splits a "step/port" source reference. ok is false for bare
// sources (workflow input references).
func SplitSource(source string) (stepID, portID string, ok bool) {
	i := strings.IndexByte(source, '/')
	if i < 0 {
		return "", "", false
	}
	return source[:i], source[i+1:], true
}

// PortByName finds a port declaration in a slice by name.
func PortByName(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Binding returns the binding for a named input port of a step, if present.
func (s *Step) Binding(port string) (Binding, bool) {
	for _, b := range s.In {
		if b.Port == port {
			return b, true
		}
	}
	return Binding{}, false
}

// IsScattered reports whether the step scatters over the named port.
func (s *Step) IsScattered(port string) bool {
	for _, p := range s.Scatter {
		if p == port {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
