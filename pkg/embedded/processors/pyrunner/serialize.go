package pyrunner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RedactedPlaceholder replaces serialized leaf values when redaction is
// requested. Containers keep their shape so the reader can still see which
// variables exist and what structure they carry.
const RedactedPlaceholder = "[redacted]"

// PythonLiteral converts a JSON-compatible host value into a syntactically
// valid Python literal. This is the single place where host types are mapped
// to target-language spellings: booleans become True/False (a bare JSON
// true/false in the generated script raises NameError at runtime), nil
// becomes None, strings and numbers round-trip through the JSON encoder
// (JSON string and number literals are valid Python), and containers recurse.
//
// When redact is true every leaf value is replaced by RedactedPlaceholder
// before serialization.
func PythonLiteral(value interface{}, redact bool) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case bool:
		if redact {
			return pythonString(RedactedPlaceholder)
		}
		if v {
			return "True"
		}
		return "False"
	case string:
		if redact {
			return pythonString(RedactedPlaceholder)
		}
		return pythonString(v)
	case json.Number:
		if redact {
			return pythonString(RedactedPlaceholder)
		}
		return v.String()
	case map[string]interface{}:
		return pythonDict(v, redact)
	case []interface{}:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = PythonLiteral(item, redact)
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		if redact {
			return pythonString(RedactedPlaceholder)
		}
		// Numeric scalars and anything else the host hands us directly.
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return pythonString(fmt.Sprintf("%v", v))
	}
}

// pythonDict serializes a map with sorted keys so that assembling the same
// inputs twice produces byte-identical scripts.
func pythonDict(m map[string]interface{}, redact bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, pythonString(k)+": "+PythonLiteral(m[k], redact))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// pythonString renders s as a double-quoted literal valid in both JSON and
// Python. Escapes fall back to a manual form when the JSON encoder rejects
// the value.
func pythonString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		var b strings.Builder
		b.WriteByte('"')
		for _, r := range s {
			switch r {
			case '"':
				b.WriteString(`\"`)
			case '\\':
				b.WriteString(`\\`)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
		}
		b.WriteByte('"')
		return b.String()
	}
	return string(data)
}

// pythonStringMap serializes a flat string map as a Python dict with sorted
// keys, used for the merged environment map.
func pythonStringMap(m map[string]string, redact bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		val := m[k]
		if redact {
			val = RedactedPlaceholder
		}
		pairs = append(pairs, pythonString(k)+": "+pythonString(val))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}
