package pyrunner

import (
	"regexp"
	"strconv"
	"strings"
)

// PyError is the structured interpretation of an interpreter's stderr. Every
// field is independently optional; an empty stderr yields the zero value.
type PyError struct {
	Type           string   `json:"errorType,omitempty"`
	Message        string   `json:"errorMessage,omitempty"`
	Line           int      `json:"lineNumber,omitempty"`
	MissingModules []string `json:"missingModules,omitempty"`
	Traceback      string   `json:"traceback,omitempty"`
}

// IsZero reports whether interpretation found nothing at all.
func (e PyError) IsZero() bool {
	return e.Type == "" && e.Message == "" && e.Line == 0 &&
		len(e.MissingModules) == 0 && e.Traceback == ""
}

var (
	// exceptionPattern matches the final `TypeName: message` line of a
	// traceback. The type must look like a Python identifier ending in a
	// plausible exception-ish word; we accept any CamelCase identifier.
	exceptionPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception|Warning|Interrupt|Exit|Iteration))\s*:?\s*(.*)$`)

	// missingModulePattern covers both ModuleNotFoundError and the older
	// ImportError phrasing.
	missingModulePattern = regexp.MustCompile(`No module named ['"]([^'"]+)['"]`)

	// locationPattern matches traceback frames pointing into the generated
	// script.
	locationPattern = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
)

// InterpretStderr extracts a structured error from raw interpreter stderr.
// It never fails: unrecognized text yields a PyError carrying only the
// traceback (the raw stderr), and empty input yields the zero value.
func InterpretStderr(stderr string) PyError {
	trimmed := strings.TrimSpace(stderr)
	if trimmed == "" {
		return PyError{}
	}

	result := PyError{Traceback: trimmed}

	lines := strings.Split(trimmed, "\n")

	// The exception line is almost always the last non-empty line; scan
	// backwards so chained tracebacks report the outermost error.
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if m := exceptionPattern.FindStringSubmatch(line); m != nil {
			result.Type = m[1]
			result.Message = strings.TrimSpace(m[2])
			break
		}
	}

	seen := make(map[string]struct{})
	for _, m := range missingModulePattern.FindAllStringSubmatch(trimmed, -1) {
		module := m[1]
		if _, dup := seen[module]; dup {
			continue
		}
		seen[module] = struct{}{}
		result.MissingModules = append(result.MissingModules, module)
	}

	// The deepest frame is the one closest to the failure; take the last
	// location match.
	if matches := locationPattern.FindAllStringSubmatch(trimmed, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		if n, err := strconv.Atoi(last[2]); err == nil {
			result.Line = n
		}
	}

	return result
}
