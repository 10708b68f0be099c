// Package parser turns pipeline documents into validated in-memory graphs.
package parser

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/me/dagrun/pkg/model"
	"github.com/me/dagrun/pkg/pipeline"
)

// Parser builds model.Graph values from pipeline documents.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// Parse decodes a pipeline document and constructs its graph.
func (p *Parser) Parse(data []byte) (*model.Graph, error) {
	doc, err := pipeline.Parse(data)
	if err != nil {
		return nil, err
	}
	return p.Build(doc)
}

// Build constructs a model.Graph from a parsed document. It fails with
// *model.MalformedGraphError if any binding, scatter name, run reference, or
// output source points at a step or port that does not exist.
func (p *Parser) Build(doc *pipeline.Document) (*model.Graph, error) {
	tasks := make(map[string]*model.Task, len(doc.Tasks))
	for id, td := range doc.Tasks {
		tasks[id] = buildTask(id, td)
	}

	subgraphs := make(map[string]*model.Graph, len(doc.Workflows))
	for id, wd := range doc.Workflows {
		sub := &model.Graph{
			Name:    id,
			Inputs:  buildPorts(wd.Inputs),
			Outputs: buildOutputs(wd.Outputs),
			Steps:   buildSteps(wd.Steps),
			Tasks:   tasks,
		}
		subgraphs[id] = sub
	}
	// Nested workflows may themselves contain sub-workflow steps; they share
	// the document's declaration namespace.
	for _, sub := range subgraphs {
		sub.Subgraphs = subgraphs
	}

	g := &model.Graph{
		Name:      doc.Name,
		Inputs:    buildPorts(doc.Inputs),
		Outputs:   buildOutputs(doc.Outputs),
		Steps:     buildSteps(doc.Steps),
		Tasks:     tasks,
		Subgraphs: subgraphs,
	}

	var details []model.ValidationIssue
	details = append(details, checkReferences(g, "")...)
	for _, id := range sortedGraphKeys(subgraphs) {
		details = append(details, checkReferences(subgraphs[id], "workflows."+id+".")...)
	}
	if len(details) > 0 {
		return nil, &model.MalformedGraphError{Graph: doc.Name, Details: details}
	}

	p.logger.Debug("graph built", "graph", g.Name, "steps", len(g.Steps), "tasks", len(tasks), "subgraphs", len(subgraphs))
	return g, nil
}

func buildTask(id string, td pipeline.TaskDef) *model.Task {
	t := &model.Task{
		ID:       id,
		Command:  []string(td.Command),
		Executor: model.ExecutorType(td.Executor),
		Inputs:   buildPorts(td.Inputs),
		Outputs:  buildPorts(td.Outputs),
	}
	if t.Executor == "" {
		t.Executor = model.ExecutorTypeLocal
	}
	return t
}

func buildPorts(params map[string]pipeline.Param) []model.Port {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	ports := make([]model.Port, 0, len(params))
	for _, name := range names {
		pd := params[name]
		ports = append(ports, model.Port{
			Name:           name,
			Type:           pd.Type,
			SecondaryFiles: pd.SecondaryFiles,
			Glob:           pd.Glob,
			Default:        pd.Default,
		})
	}
	return ports
}

func buildOutputs(params map[string]pipeline.OutputParam) []model.GraphOutput {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	outs := make([]model.GraphOutput, 0, len(params))
	for _, name := range names {
		od := params[name]
		outs = append(outs, model.GraphOutput{
			Name:           name,
			Type:           od.Type,
			Source:         od.Source,
			SecondaryFiles: od.SecondaryFiles,
		})
	}
	return outs
}

func buildSteps(defs map[string]pipeline.StepDef) map[string]*model.Step {
	steps := make(map[string]*model.Step, len(defs))
	for id, sd := range defs {
		portNames := make([]string, 0, len(sd.In))
		for port := range sd.In {
			portNames = append(portNames, port)
		}
		sort.Strings(portNames)

		in := make([]model.Binding, 0, len(sd.In))
		for _, port := range portNames {
			si := sd.In[port]
			in = append(in, model.Binding{Port: port, Source: si.Source, Default: si.Default})
		}
		steps[id] = &model.Step{
			ID:      id,
			Kind:    model.StepTask, // fixed up below once run refs resolve
			Run:     sd.Run,
			In:      in,
			Scatter: append([]string(nil), sd.Scatter...),
		}
	}
	return steps
}

// checkReferences verifies that every reference inside a graph resolves, and
// fixes up step kinds for sub-workflow runs.
func checkReferences(g *model.Graph, prefix string) []model.ValidationIssue {
	var details []model.ValidationIssue
	add := func(field, format string, args ...any) {
		details = append(details, model.ValidationIssue{
			Field:   prefix + field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	for _, id := range sortedStepKeys(g.Steps) {
		s := g.Steps[id]

		if s.Run == "" {
			add(fmt.Sprintf("steps.%s.run", id), "step %q is missing 'run' reference", id)
			continue
		}
		if _, ok := g.Tasks[s.Run]; ok {
			s.Kind = model.StepTask
		} else if _, ok := g.Subgraphs[s.Run]; ok {
			s.Kind = model.StepSubworkflow
		} else {
			add(fmt.Sprintf("steps.%s.run", id), "run reference %q matches no task or workflow", s.Run)
			continue
		}

		inPorts := g.StepInputPorts(s)
		for _, b := range s.In {
			if _, ok := model.PortByName(inPorts, b.Port); !ok {
				add(fmt.Sprintf("steps.%s.in.%s", id, b.Port),
					"%q declares no input port %q", s.Run, b.Port)
			}
			if b.Source == "" {
				continue
			}
			if srcStep, srcPort, ok := model.SplitSource(b.Source); ok {
				producer, exists := g.Steps[srcStep]
				if !exists {
					add(fmt.Sprintf("steps.%s.in.%s.source", id, b.Port),
						"source %q references unknown step %q", b.Source, srcStep)
					continue
				}
				if _, ok := model.PortByName(g.StepOutputPorts(producer), srcPort); !ok {
					add(fmt.Sprintf("steps.%s.in.%s.source", id, b.Port),
						"step %q has no output port %q", srcStep, srcPort)
				}
			} else if _, ok := g.InputPort(b.Source); !ok {
				add(fmt.Sprintf("steps.%s.in.%s.source", id, b.Port),
					"source %q matches no workflow input or step output", b.Source)
			}
		}

		for _, port := range s.Scatter {
			if _, ok := model.PortByName(inPorts, port); !ok {
				add(fmt.Sprintf("steps.%s.scatter", id),
					"scatter names unknown input port %q", port)
			}
		}
	}

	for _, out := range g.Outputs {
		if out.Source == "" {
			continue // reported by the validator as unbound-output
		}
		if srcStep, srcPort, ok := model.SplitSource(out.Source); ok {
			producer, exists := g.Steps[srcStep]
			if !exists {
				add(fmt.Sprintf("outputs.%s.source", out.Name),
					"source %q references unknown step %q", out.Source, srcStep)
				continue
			}
			if _, ok := model.PortByName(g.StepOutputPorts(producer), srcPort); !ok {
				add(fmt.Sprintf("outputs.%s.source", out.Name),
					"step %q has no output port %q", srcStep, srcPort)
			}
		} else if _, ok := g.InputPort(out.Source); !ok {
			add(fmt.Sprintf("outputs.%s.source", out.Name),
				"source %q matches no workflow input or step output", out.Source)
		}
	}

	return details
}

func sortedStepKeys(m map[string]*model.Step) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGraphKeys(m map[string]*model.Graph) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
