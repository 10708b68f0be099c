package model

import "path/filepath"

// File values flow through ports as maps with a "class" discriminator, so
// they survive JSON/YAML round-trips through the ledger and the API
// unchanged. Secondary files ride along under "secondaryFiles".

// NewFileValue builds a File value for the given path.
func NewFileValue(path string) map[string]any {
	return map[string]any{
		"class":    "File",
		"path":     path,
		"basename": filepath.Base(path),
	}
}

// IsFileValue reports whether v is a File value.
func IsFileValue(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	class, _ := m["class"].(string)
	return class == "File"
}

// FilePath extracts the path of a File value.
func FilePath(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	p, ok := m["path"].(string)
	return p, ok
}

// FileSecondaries returns the secondary File values attached to a File value.
func FileSecondaries(v any) []any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	sec, _ := m["secondaryFiles"].([]any)
	return sec
}

// WithSecondaries returns a copy of a File value with the given secondary
// files attached. The original is not modified.
func WithSecondaries(v map[string]any, secondaries []any) map[string]any {
	out := make(map[string]any, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	if len(secondaries) > 0 {
		out["secondaryFiles"] = secondaries
	}
	return out
}

// AsSlice converts a value to []any if it is a slice type.
func AsSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	switch arr := v.(type) {
	case []any:
		return arr, true
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(arr))
		for i, n := range arr {
			out[i] = n
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(arr))
		for i, m := range arr {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}
