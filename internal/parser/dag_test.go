package parser

import (
	"strings"
	"testing"

	"github.com/me/dagrun/pkg/model"
)

func step(id string, sources ...string) *model.Step {
	s := &model.Step{ID: id, Kind: model.StepTask}
	for _, src := range sources {
		s.In = append(s.In, model.Binding{Port: "in", Source: src})
	}
	return s
}

func TestBuildDAG(t *testing.T) {
	// diamond: a -> b, a -> c, b+c -> d
	g := &model.Graph{
		Name: "diamond",
		Steps: map[string]*model.Step{
			"a": step("a", "workflow_input"),
			"b": step("b", "a/out"),
			"c": step("c", "a/out"),
			"d": step("d", "b/out", "c/out"),
		},
	}

	result, err := BuildDAG(g)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	if len(result.Order) != len(want) {
		t.Fatalf("order = %v", result.Order)
	}
	for i, id := range want {
		if result.Order[i] != id {
			t.Errorf("order[%d] = %q, want %q", i, result.Order[i], id)
		}
	}

	if deps := result.Edges["d"]; len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Errorf("d deps = %v", deps)
	}
	if deps := result.Edges["a"]; len(deps) != 0 {
		t.Errorf("a deps = %v, want none", deps)
	}
}

func TestBuildDAGGatherMembers(t *testing.T) {
	g := &model.Graph{
		Name: "scattered",
		Steps: map[string]*model.Step{
			"align@0": step("align@0", "reads"),
			"align@1": step("align@1", "reads"),
			"align": {
				ID:      "align",
				Kind:    model.StepGather,
				Members: []string{"align@0", "align@1"},
			},
			"merge": step("merge", "align/bam"),
		},
	}

	result, err := BuildDAG(g)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}

	pos := make(map[string]int, len(result.Order))
	for i, id := range result.Order {
		pos[id] = i
	}
	if pos["align"] < pos["align@0"] || pos["align"] < pos["align@1"] {
		t.Errorf("gather scheduled before its members: %v", result.Order)
	}
	if pos["merge"] < pos["align"] {
		t.Errorf("merge scheduled before gather: %v", result.Order)
	}
}

func TestBuildDAGCycle(t *testing.T) {
	g := &model.Graph{
		Name: "cyclic",
		Steps: map[string]*model.Step{
			"a": step("a", "c/out"),
			"b": step("b", "a/out"),
			"c": step("c", "b/out"),
		},
	}

	_, err := BuildDAG(g)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	for _, id := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("cycle error %q does not name step %q", err, id)
		}
	}
}

func TestBuildDAGSelfLoop(t *testing.T) {
	g := &model.Graph{
		Name: "selfloop",
		Steps: map[string]*model.Step{
			"s": step("s", "s/out"),
		},
	}
	if _, err := BuildDAG(g); err == nil {
		t.Fatal("expected self-loop to be rejected")
	}
}
