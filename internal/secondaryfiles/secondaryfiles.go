// Package secondaryfiles resolves and validates the companion artifacts that
// travel alongside File values, named by suffix patterns such as ".bai" or
// "^.dict".
package secondaryfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/dagrun/pkg/model"
)

// Name computes the secondary file name for a primary basename and a suffix
// pattern. A leading "^" strips one extension per caret before the suffix is
// appended, so "^.dict" turns "ref.fasta" into "ref.dict".
func Name(basename, pattern string) string {
	carets := 0
	for strings.HasPrefix(pattern[carets:], "^") {
		carets++
	}
	suffix := pattern[carets:]

	name := basename
	for i := 0; i < carets; i++ {
		ext := filepath.Ext(name)
		if ext == "" {
			break
		}
		name = name[:len(name)-len(ext)]
	}
	return name + suffix
}

// Discover attaches secondary File values to a File (or array of Files) for
// every pattern whose companion exists next to the primary file on disk.
// Relative primary paths are resolved against dir. Non-File values pass
// through unchanged.
func Discover(val any, patterns []string, dir string) any {
	if len(patterns) == 0 {
		return val
	}

	switch v := val.(type) {
	case map[string]any:
		if !model.IsFileValue(v) {
			return v
		}
		return discoverForFile(v, patterns, dir)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Discover(item, patterns, dir)
		}
		return out
	default:
		return val
	}
}

func discoverForFile(file map[string]any, patterns []string, dir string) map[string]any {
	path, ok := model.FilePath(file)
	if !ok || path == "" {
		return file
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	basename := filepath.Base(path)
	parent := filepath.Dir(path)

	have := make(map[string]bool)
	secondaries := model.FileSecondaries(file)
	for _, sec := range secondaries {
		if p, ok := model.FilePath(sec); ok {
			have[filepath.Base(p)] = true
		}
	}

	for _, pattern := range patterns {
		secName := Name(basename, pattern)
		if have[secName] {
			continue
		}
		secPath := filepath.Join(parent, secName)
		if _, err := os.Stat(secPath); err != nil {
			continue
		}
		secondaries = append(secondaries, model.NewFileValue(secPath))
		have[secName] = true
	}

	if len(secondaries) == 0 {
		return file
	}
	return model.WithSecondaries(file, secondaries)
}

// Validate checks that a File (or array of Files) carries every secondary
// file the patterns require. field names the port being checked, for the
// error message.
func Validate(field string, val any, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}

	switch v := val.(type) {
	case map[string]any:
		if !model.IsFileValue(v) {
			return nil
		}
		return validateFile(field, v, patterns)
	case []any:
		for i, item := range v {
			if err := Validate(fmt.Sprintf("%s[%d]", field, i), item, patterns); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func validateFile(field string, file map[string]any, patterns []string) error {
	have := make(map[string]bool)
	for _, sec := range model.FileSecondaries(file) {
		if p, ok := model.FilePath(sec); ok {
			have[filepath.Base(p)] = true
		}
	}

	path, _ := model.FilePath(file)
	basename := filepath.Base(path)

	for _, pattern := range patterns {
		want := Name(basename, pattern)
		if !have[want] {
			return fmt.Errorf("%s: missing required secondary file %q (pattern %s)", field, want, pattern)
		}
	}
	return nil
}
