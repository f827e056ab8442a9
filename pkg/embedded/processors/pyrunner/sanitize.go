package pyrunner

import (
	"strings"
)

// DefaultVariablePrefix is prepended to sanitized names that would not
// otherwise form a valid identifier.
const DefaultVariablePrefix = "var"

// SanitizeVariableName converts an arbitrary field or credential key into a
// valid Python identifier. It returns the sanitized name and true, or
// ("", false) when the name has no usable content and the variable should be
// skipped entirely. Malformed upstream keys must never reach the generated
// script as a broken assignment, so the caller is expected to honor the skip
// signal.
//
// Rules:
//   - empty or whitespace-only names are skipped
//   - characters outside [A-Za-z0-9_] are replaced with '_'
//   - a result that does not begin with a letter or underscore gets the
//     prefix prepended with '_'
//   - a result with no content beyond the prefix and separators is skipped
func SanitizeVariableName(name, prefix string) (string, bool) {
	if prefix == "" {
		prefix = DefaultVariablePrefix
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()

	// A name consisting only of replacement underscores carries no signal.
	if strings.Trim(out, "_") == "" {
		return "", false
	}

	if !isIdentStart(rune(out[0])) {
		out = prefix + "_" + out
	}

	return out, true
}

// IsValidIdentifier reports whether s matches ^[A-Za-z_][A-Za-z0-9_]*$.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isIdentStart(r) {
				return false
			}
			continue
		}
		if !isIdentRune(r) {
			return false
		}
	}
	return true
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentRune(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
