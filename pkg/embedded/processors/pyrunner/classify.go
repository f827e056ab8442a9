package pyrunner

import (
	"encoding/csv"
	"encoding/json"
	"strings"
)

// ParseMode selects how stdout is classified into structured data.
type ParseMode string

const (
	// ParseNone leaves stdout untouched
	ParseNone ParseMode = "none"
	// ParseJSON decodes stdout as JSON
	ParseJSON ParseMode = "json"
	// ParseLines splits stdout into trimmed non-empty lines
	ParseLines ParseMode = "lines"
	// ParseSmart tries JSON, then delimiter-separated tables, then lines
	ParseSmart ParseMode = "smart"
)

// ParseOptions tune the JSON branch of classification.
type ParseOptions struct {
	// AllowMultipleObjects decodes concatenated or newline-delimited JSON
	// documents into a list instead of failing on trailing data
	AllowMultipleObjects bool `json:"allowMultipleJsonObjects,omitempty"`
	// StripSurroundingText extracts the first balanced JSON span from noisy
	// stdout before decoding
	StripSurroundingText bool `json:"stripSurroundingText,omitempty"`
	// FallbackToRaw reports success with the raw text instead of a parse
	// failure when the JSON branch cannot decode
	FallbackToRaw bool `json:"fallbackToRawOnError,omitempty"`
}

// ParsedOutput is the outcome of classification. Succeeded=false never
// aborts the execution pipeline; it travels with the result record.
type ParsedOutput struct {
	Value        interface{}
	Succeeded    bool
	ErrorMessage string
	// Format is the detected shape: json, csv, lines, or raw
	Format string
	// Method names the branch that produced the value, e.g. json or
	// smart_csv; useful when the mode was smart
	Method string
}

// csvDetectionLines is how many leading lines must agree on delimiter count
// before stdout is treated as a table. Short outputs are checked in full.
const csvDetectionLines = 5

// ClassifyOutput interprets stdout according to the mode. Smart mode never
// reports failure: every input degrades to lines at worst. Explicit json
// mode reports failure (or raw fallback, per options) when decoding is
// impossible.
func ClassifyOutput(stdout string, mode ParseMode, opts ParseOptions) ParsedOutput {
	switch mode {
	case ParseJSON:
		return classifyJSON(stdout, opts, "json")
	case ParseLines:
		return classifyLines(stdout, "lines")
	case ParseSmart:
		return classifySmart(stdout, opts)
	default:
		return ParsedOutput{Value: stdout, Succeeded: true, Format: "raw", Method: "none"}
	}
}

func classifySmart(stdout string, opts ParseOptions) ParsedOutput {
	trimmed := strings.TrimSpace(stdout)
	if looksLikeJSON(trimmed) {
		result := classifyJSON(stdout, opts, "smart_json")
		if result.Succeeded && result.Format == "json" {
			return result
		}
	}
	if table, ok := detectTable(trimmed); ok {
		return ParsedOutput{Value: table, Succeeded: true, Format: "csv", Method: "smart_csv"}
	}
	result := classifyLines(stdout, "smart_lines")
	return result
}

func classifyJSON(stdout string, opts ParseOptions, method string) ParsedOutput {
	text := strings.TrimSpace(stdout)

	if opts.StripSurroundingText {
		if span, ok := extractJSONSpan(text); ok {
			text = span
		}
	}

	if opts.AllowMultipleObjects {
		// Each non-blank line is parsed independently; successes are
		// collected. A single success stays scalar, several become a list.
		var values []interface{}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if value, ok := decodeJSONValue(line); ok {
				values = append(values, value)
			}
		}
		switch {
		case len(values) == 1:
			return ParsedOutput{Value: values[0], Succeeded: true, Format: "json", Method: method}
		case len(values) > 1:
			return ParsedOutput{Value: values, Succeeded: true, Format: "json", Method: method}
		}
		// No line parsed on its own; the text may still be one
		// pretty-printed document.
		if value, ok := decodeJSONValue(text); ok {
			return ParsedOutput{Value: value, Succeeded: true, Format: "json", Method: method}
		}
	} else if value, ok := decodeJSONValue(text); ok {
		return ParsedOutput{Value: value, Succeeded: true, Format: "json", Method: method}
	}

	if opts.FallbackToRaw {
		return ParsedOutput{Value: stdout, Succeeded: true, Format: "raw", Method: method}
	}
	return ParsedOutput{
		Value:        stdout,
		ErrorMessage: "stdout is not valid JSON",
		Format:       "raw",
		Method:       method,
	}
}

func classifyLines(stdout string, method string) ParsedOutput {
	var lines []interface{}
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if lines == nil {
		lines = []interface{}{}
	}
	return ParsedOutput{Value: lines, Succeeded: true, Format: "lines", Method: method}
}

// looksLikeJSON is the cheap pre-check before attempting a decode: the
// trimmed text must open like an object or array.
func looksLikeJSON(trimmed string) bool {
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// extractJSONSpan finds the first balanced {...} or [...] span, skipping
// braces inside string literals. Used when scripts print log noise around a
// JSON payload.
func extractJSONSpan(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// decodeJSONValue decodes exactly one JSON document; trailing data is a
// failure.
func decodeJSONValue(text string) (interface{}, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil || dec.More() {
		return nil, false
	}
	return value, true
}

// detectTable recognizes CSV/TSV output: the first csvDetectionLines lines
// (or all of them, when fewer) must agree on a nonzero count of the same
// delimiter. The first line is treated as the header and each following row
// becomes a map keyed by header fields.
func detectTable(trimmed string) ([]map[string]interface{}, bool) {
	if trimmed == "" || looksLikeJSON(trimmed) {
		return nil, false
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return nil, false
	}

	delimiter, ok := detectDelimiter(lines)
	if !ok {
		return nil, false
	}

	reader := csv.NewReader(strings.NewReader(trimmed))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil || len(rows) < 2 {
		return nil, false
	}

	header := rows[0]
	records := make([]map[string]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]interface{}, len(header))
		for i, field := range header {
			if i < len(row) {
				record[field] = row[i]
			} else {
				record[field] = ""
			}
		}
		records = append(records, record)
	}
	return records, true
}

func detectDelimiter(lines []string) (rune, bool) {
	sample := lines
	if len(sample) > csvDetectionLines {
		sample = sample[:csvDetectionLines]
	}
	for _, delimiter := range []rune{',', '\t', ';'} {
		count := strings.Count(sample[0], string(delimiter))
		if count == 0 {
			continue
		}
		agree := true
		for _, line := range sample[1:] {
			if strings.Count(line, string(delimiter)) != count {
				agree = false
				break
			}
		}
		if agree {
			return delimiter, true
		}
	}
	return 0, false
}
