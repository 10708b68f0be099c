package model

import "strings"

// Port type strings follow a compact convention: a base scalar or "File",
// "[]" suffixes for arrays, and a trailing "?" for optional. Examples:
// "string", "File", "File[]", "File[][]", "File?".

// IsOptionalType reports whether a type accepts null (trailing "?").
func IsOptionalType(t string) bool {
	return strings.HasSuffix(t, "?")
}

// RequiredType strips the optional marker.
func RequiredType(t string) string {
	return strings.TrimSuffix(t, "?")
}

// IsArrayType reports whether a type is an array.
func IsArrayType(t string) bool {
	return strings.HasSuffix(RequiredType(t), "[]")
}

// ArrayOf lifts a type to an array of it. Any optional marker applies to the
// array, not the element.
func ArrayOf(t string) string {
	return RequiredType(t) + "[]"
}

// ElementType returns the element type of an array type, or the type itself
// if it is not an array.
func ElementType(t string) string {
	r := RequiredType(t)
	if strings.HasSuffix(r, "[]") {
		return strings.TrimSuffix(r, "[]")
	}
	return r
}

// BaseType strips all array and optional markers.
func BaseType(t string) string {
	r := RequiredType(t)
	for strings.HasSuffix(r, "[]") {
		r = strings.TrimSuffix(r, "[]")
	}
	return r
}

// IsFileType reports whether a type's base is File.
func IsFileType(t string) bool {
	return BaseType(t) == "File"
}

// TypesCompatible reports whether a value of type src may flow into a port of
// type dst. Arrays are invariant in their element type; a required value may
// feed an optional port but not the reverse.
func TypesCompatible(src, dst string) bool {
	if IsOptionalType(src) && !IsOptionalType(dst) {
		return false
	}
	return RequiredType(src) == RequiredType(dst)
}
