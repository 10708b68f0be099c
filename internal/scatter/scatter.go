// Package scatter rewrites scattered steps into per-element steps plus a
// gather node, turning data parallelism into plain graph structure before
// execution begins.
package scatter

import (
	"fmt"

	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/pkg/model"
)

// MemberID names the i-th element step of a scattered step.
func MemberID(stepID string, i int) string {
	return fmt.Sprintf("%s@%d", stepID, i)
}

// Expand returns an execution graph in which every scattered step is replaced
// by one element step per array index plus a gather step that keeps the
// original step ID. Downstream bindings resolve against the gather unchanged,
// and its output ports are arrays of the element type.
//
// Arities come from the run's workflow inputs, binding literals, and upstream
// gather widths, so the whole expansion is decided before anything executes.
// When scattered ports disagree on length, or a length cannot be determined,
// Expand fails with *model.ScatterArityError.
func Expand(g *model.Graph, inputs map[string]any) (*model.Graph, error) {
	dag, err := parser.BuildDAG(g)
	if err != nil {
		return nil, err
	}

	steps := make(map[string]*model.Step, len(g.Steps))
	for id, s := range g.Steps {
		steps[id] = s
	}

	for _, id := range dag.Order {
		s := steps[id]
		if len(s.Scatter) == 0 {
			continue
		}
		if err := expandStep(g, steps, s, inputs); err != nil {
			return nil, err
		}
	}

	return &model.Graph{
		Name:      g.Name,
		Inputs:    g.Inputs,
		Outputs:   g.Outputs,
		Steps:     steps,
		Tasks:     g.Tasks,
		Subgraphs: g.Subgraphs,
	}, nil
}

// elementSource describes where one scattered port's element values come
// from: either a slice of literal values or an upstream gather whose member
// outputs are consumed index-to-index.
type elementSource struct {
	literals   []any
	gatherID   string
	gatherPort string
	members    []string
}

func (es elementSource) arity() int {
	if es.members != nil {
		return len(es.members)
	}
	return len(es.literals)
}

func expandStep(g *model.Graph, steps map[string]*model.Step, s *model.Step, inputs map[string]any) error {
	sources := make(map[string]elementSource, len(s.Scatter))
	lengths := make(map[string]int, len(s.Scatter))

	for _, port := range s.Scatter {
		b, ok := s.Binding(port)
		if !ok {
			return &model.ScatterArityError{
				Step:    s.ID,
				Message: fmt.Sprintf("scattered port %q has no binding", port),
			}
		}

		es, err := resolveElementSource(steps, s.ID, port, b, inputs)
		if err != nil {
			return err
		}
		sources[port] = es
		lengths[port] = es.arity()
	}

	arity := -1
	for _, n := range lengths {
		if arity == -1 {
			arity = n
		} else if n != arity {
			return &model.ScatterArityError{
				Step:    s.ID,
				Lengths: lengths,
				Message: "scattered ports have mismatched array lengths",
			}
		}
	}

	members := make([]string, arity)
	for i := 0; i < arity; i++ {
		memberID := MemberID(s.ID, i)
		members[i] = memberID

		in := make([]model.Binding, 0, len(s.In))
		for _, b := range s.In {
			es, scattered := sources[b.Port]
			if !scattered {
				in = append(in, b)
				continue
			}
			if es.members != nil {
				in = append(in, model.Binding{
					Port:   b.Port,
					Source: es.members[i] + "/" + es.gatherPort,
				})
			} else {
				in = append(in, model.Binding{Port: b.Port, Default: es.literals[i]})
			}
		}

		steps[memberID] = &model.Step{
			ID:   memberID,
			Kind: s.Kind,
			Run:  s.Run,
			In:   in,
		}
	}

	steps[s.ID] = &model.Step{
		ID:      s.ID,
		Kind:    model.StepGather,
		Run:     s.Run,
		Members: members,
	}
	return nil
}

func resolveElementSource(steps map[string]*model.Step, stepID, port string, b model.Binding, inputs map[string]any) (elementSource, error) {
	if b.Source == "" {
		arr, ok := model.AsSlice(b.Default)
		if !ok {
			return elementSource{}, &model.ScatterArityError{
				Step:    stepID,
				Message: fmt.Sprintf("scattered port %q default is not an array", port),
			}
		}
		return elementSource{literals: arr}, nil
	}

	if srcStep, srcPort, ok := model.SplitSource(b.Source); ok {
		producer, exists := steps[srcStep]
		if exists && producer.Kind == model.StepGather {
			return elementSource{
				gatherID:   srcStep,
				gatherPort: srcPort,
				members:    producer.Members,
			}, nil
		}
		return elementSource{}, &model.ScatterArityError{
			Step: stepID,
			Message: fmt.Sprintf("scattered port %q source %q has no statically known length",
				port, b.Source),
		}
	}

	val, exists := inputs[b.Source]
	if !exists {
		return elementSource{}, &model.ScatterArityError{
			Step:    stepID,
			Message: fmt.Sprintf("scattered port %q source %q has no value", port, b.Source),
		}
	}
	arr, ok := model.AsSlice(val)
	if !ok {
		return elementSource{}, &model.ScatterArityError{
			Step:    stepID,
			Message: fmt.Sprintf("scattered port %q source %q is not an array", port, b.Source),
		}
	}
	return elementSource{literals: arr}, nil
}
