package parser

import (
	"fmt"
	"log/slog"

	"github.com/me/dagrun/pkg/model"
)

// Validator performs structural and type validation on a constructed graph.
// Validation runs once, in full, before any execution: a late structural
// failure after steps have already invoked external tools could not be
// rolled back.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator with the given logger.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "validator")}
}

// Validate checks a graph and, recursively, every nested workflow it can
// reach. Returns nil if valid, or a *model.ValidationError aggregating every
// issue found.
func (v *Validator) Validate(g *model.Graph) error {
	issues := v.validateGraph(g, "")

	visited := make(map[string]bool)
	for _, name := range sortedGraphKeys(g.Subgraphs) {
		if visited[name] {
			continue
		}
		visited[name] = true
		issues = append(issues, v.validateGraph(g.Subgraphs[name], "workflows."+name+".")...)
	}

	if len(issues) == 0 {
		return nil
	}
	return &model.ValidationError{Graph: g.Name, Issues: issues}
}

func (v *Validator) validateGraph(g *model.Graph, prefix string) []model.ValidationIssue {
	var issues []model.ValidationIssue
	issues = append(issues, prefixed(prefix, v.validateDAG(g))...)
	issues = append(issues, prefixed(prefix, v.validateBindings(g))...)
	issues = append(issues, prefixed(prefix, v.validateStepInputs(g))...)
	issues = append(issues, prefixed(prefix, v.validateOutputs(g))...)
	return issues
}

func (v *Validator) validateDAG(g *model.Graph) []model.ValidationIssue {
	if _, err := BuildDAG(g); err != nil {
		return []model.ValidationIssue{{
			Kind:    model.ValidationCycle,
			Field:   "steps",
			Message: err.Error(),
		}}
	}
	return nil
}

// validateBindings checks type compatibility along every edge. An array
// output may feed a scalar input only when the consumer scatters that port,
// and a consumer's declared secondary-file suffixes must all be guaranteed
// by the producer. A producer port feeding several consumers is legal and
// needs no special handling here.
func (v *Validator) validateBindings(g *model.Graph) []model.ValidationIssue {
	var issues []model.ValidationIssue

	for _, id := range sortedStepKeys(g.Steps) {
		s := g.Steps[id]
		if s.Kind == model.StepGather {
			continue // gather inputs are member outputs, wired by expansion
		}
		inPorts := g.StepInputPorts(s)

		for _, b := range s.In {
			if b.Source == "" {
				continue // literal; checked against the port type at dispatch
			}
			port, ok := model.PortByName(inPorts, b.Port)
			if !ok {
				continue // construction already rejected this
			}

			srcType, srcSuffixes, ok := sourceContract(g, b.Source)
			if !ok {
				continue
			}

			want := port.Type
			if s.IsScattered(b.Port) {
				want = model.ArrayOf(port.Type)
			}
			if !model.TypesCompatible(srcType, want) {
				issues = append(issues, model.ValidationIssue{
					Kind:  model.ValidationTypeMismatch,
					Field: fmt.Sprintf("steps.%s.in.%s", id, b.Port),
					Message: fmt.Sprintf("source %q has type %s, port expects %s",
						b.Source, srcType, want),
				})
				continue
			}

			issues = append(issues, checkSecondarySuffixes(
				fmt.Sprintf("steps.%s.in.%s", id, b.Port),
				port.Type, port.SecondaryFiles, b.Source, srcSuffixes)...)
		}
	}

	return issues
}

// validateStepInputs confirms every declared input port is bound, defaulted,
// or optional.
func (v *Validator) validateStepInputs(g *model.Graph) []model.ValidationIssue {
	var issues []model.ValidationIssue

	for _, id := range sortedStepKeys(g.Steps) {
		s := g.Steps[id]
		if s.Kind == model.StepGather {
			continue
		}
		for _, port := range g.StepInputPorts(s) {
			if model.IsOptionalType(port.Type) || port.Default != nil {
				continue
			}
			b, bound := s.Binding(port.Name)
			if bound && (b.Source != "" || b.Default != nil) {
				continue
			}
			issues = append(issues, model.ValidationIssue{
				Kind:    model.ValidationUnboundInput,
				Field:   fmt.Sprintf("steps.%s.in.%s", id, port.Name),
				Message: fmt.Sprintf("input port %q has no source and no default", port.Name),
			})
		}
	}

	return issues
}

// validateOutputs confirms every workflow output is bound to exactly one
// producer of a compatible type.
func (v *Validator) validateOutputs(g *model.Graph) []model.ValidationIssue {
	var issues []model.ValidationIssue

	for _, out := range g.Outputs {
		field := fmt.Sprintf("outputs.%s", out.Name)
		if out.Source == "" {
			issues = append(issues, model.ValidationIssue{
				Kind:    model.ValidationUnboundOutput,
				Field:   field,
				Message: fmt.Sprintf("output %q is missing its source", out.Name),
			})
			continue
		}

		srcType, srcSuffixes, ok := sourceContract(g, out.Source)
		if !ok {
			continue
		}
		if out.Type != "" && !model.TypesCompatible(srcType, out.Type) {
			issues = append(issues, model.ValidationIssue{
				Kind:  model.ValidationTypeMismatch,
				Field: field,
				Message: fmt.Sprintf("source %q has type %s, output declares %s",
					out.Source, srcType, out.Type),
			})
			continue
		}

		issues = append(issues, checkSecondarySuffixes(
			field, out.Type, out.SecondaryFiles, out.Source, srcSuffixes)...)
	}

	return issues
}

// sourceContract resolves the declared type and secondary-file suffixes of a
// binding source. A scattered producer's output is an array of its declared
// element type.
func sourceContract(g *model.Graph, source string) (string, []string, bool) {
	if stepID, portID, ok := model.SplitSource(source); ok {
		producer, exists := g.Steps[stepID]
		if !exists {
			return "", nil, false
		}
		port, ok := model.PortByName(g.StepOutputPorts(producer), portID)
		if !ok {
			return "", nil, false
		}
		typ := port.Type
		if len(producer.Scatter) > 0 {
			typ = model.ArrayOf(typ)
		}
		return typ, port.SecondaryFiles, true
	}

	port, ok := g.InputPort(source)
	if !ok {
		return "", nil, false
	}
	return port.Type, port.SecondaryFiles, true
}

// checkSecondarySuffixes reports every consumer-required suffix the producer
// does not guarantee.
func checkSecondarySuffixes(field, portType string, required []string, source string, provided []string) []model.ValidationIssue {
	if len(required) == 0 || !model.IsFileType(portType) {
		return nil
	}
	have := make(map[string]bool, len(provided))
	for _, s := range provided {
		have[s] = true
	}

	var issues []model.ValidationIssue
	for _, suffix := range required {
		if !have[suffix] {
			issues = append(issues, model.ValidationIssue{
				Kind:  model.ValidationTypeMismatch,
				Field: field,
				Message: fmt.Sprintf("source %q does not guarantee secondary file %q",
					source, suffix),
			})
		}
	}
	return issues
}

func prefixed(prefix string, issues []model.ValidationIssue) []model.ValidationIssue {
	if prefix == "" {
		return issues
	}
	for i := range issues {
		issues[i].Field = prefix + issues[i].Field
	}
	return issues
}
