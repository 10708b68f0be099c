package secondaryfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/me/dagrun/pkg/model"
)

func TestName(t *testing.T) {
	tests := []struct {
		basename string
		pattern  string
		want     string
	}{
		{"reads.bam", ".bai", "reads.bam.bai"},
		{"ref.fasta", ".fai", "ref.fasta.fai"},
		{"ref.fasta", "^.dict", "ref.dict"},
		{"sample.tar.gz", "^^.meta", "sample.meta"},
		{"noext", "^.idx", "noext.idx"},
	}
	for _, tt := range tests {
		if got := Name(tt.basename, tt.pattern); got != tt.want {
			t.Errorf("Name(%q, %q) = %q, want %q", tt.basename, tt.pattern, got, tt.want)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ref.fasta", "ref.fasta.fai", "ref.dict"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	file := model.NewFileValue(filepath.Join(dir, "ref.fasta"))
	resolved := Discover(file, []string{".fai", "^.dict", ".missing"}, dir)

	secs := model.FileSecondaries(resolved)
	if len(secs) != 2 {
		t.Fatalf("secondaries = %v, want 2", secs)
	}
	names := make(map[string]bool)
	for _, s := range secs {
		p, _ := model.FilePath(s)
		names[filepath.Base(p)] = true
	}
	if !names["ref.fasta.fai"] || !names["ref.dict"] {
		t.Errorf("secondaries = %v", names)
	}

	// Original value is untouched.
	if len(model.FileSecondaries(file)) != 0 {
		t.Error("Discover modified its input")
	}
}

func TestDiscoverArray(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bam", "a.bam.bai", "b.bam"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	arr := []any{
		model.NewFileValue(filepath.Join(dir, "a.bam")),
		model.NewFileValue(filepath.Join(dir, "b.bam")),
	}
	resolved := Discover(arr, []string{".bai"}, dir).([]any)

	if n := len(model.FileSecondaries(resolved[0])); n != 1 {
		t.Errorf("a.bam secondaries = %d, want 1", n)
	}
	if n := len(model.FileSecondaries(resolved[1])); n != 0 {
		t.Errorf("b.bam secondaries = %d, want 0", n)
	}
}

func TestValidate(t *testing.T) {
	file := model.WithSecondaries(model.NewFileValue("/data/reads.bam"), []any{
		model.NewFileValue("/data/reads.bam.bai"),
	})

	if err := Validate("in", file, []string{".bai"}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := Validate("in", file, []string{".bai", "^.md5"}); err == nil {
		t.Error("expected error for missing secondary")
	}
	// Non-file values pass.
	if err := Validate("in", "plain string", []string{".bai"}); err != nil {
		t.Errorf("Validate non-file: %v", err)
	}
}
