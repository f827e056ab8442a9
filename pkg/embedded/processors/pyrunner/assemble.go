package pyrunner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Reserved variable names injected into every generated script. Record
// fields that sanitize to one of these names are dropped: reserved names
// always win.
const (
	VarInputItems = "input_items"
	VarEnvVars    = "env_vars"
	VarInputFiles = "input_files"
	VarOutputDir  = "output_dir"
)

var reservedVariables = map[string]struct{}{
	VarInputItems: {},
	VarEnvVars:    {},
	VarInputFiles: {},
	VarOutputDir:  {},
}

// futureImportPattern matches module-level `from __future__ import ...`
// statements, which Python requires before any other statement.
var futureImportPattern = regexp.MustCompile(`^\s*from\s+__future__\s+import\s+.+$`)

// scriptHeader is emitted at the top of every generated script, after any
// hoisted future imports.
const scriptHeader = `# Generated by the Daedalus Python runner node. Do not edit.`

// InputFile describes one binary attachment exposed to the script through
// the input_files descriptor list.
type InputFile struct {
	Name      string `json:"name"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	ItemIndex int    `json:"itemIndex"`
	Path      string `json:"path,omitempty"`
}

// ScriptSpec collects everything the assembler injects ahead of the user
// code. It is built once per execution and consumed exactly once.
type ScriptSpec struct {
	UserCode  string
	Records   []map[string]interface{}
	EnvMap    map[string]string
	Files     []InputFile
	OutputDir string

	// RedactValues replaces every injected value with a placeholder;
	// used for template extraction and diagnostics exports, never for the
	// script that actually runs.
	RedactValues bool
}

// ExtractFutureImports splits user code into its hoisted future-import
// directives (deduplicated, first-seen order) and the remaining body.
func ExtractFutureImports(userCode string) (imports []string, body string) {
	seen := make(map[string]struct{})
	var kept []string

	for _, line := range strings.Split(userCode, "\n") {
		if futureImportPattern.MatchString(line) {
			directive := strings.TrimSpace(line)
			if _, dup := seen[directive]; !dup {
				seen[directive] = struct{}{}
				imports = append(imports, directive)
			}
			continue
		}
		kept = append(kept, line)
	}

	return imports, strings.Join(kept, "\n")
}

// AssembleScript builds the complete script text: hoisted future imports,
// header, reserved-variable block, then the cleaned user code. The ordering
// is an invariant; future imports anywhere else are a Python syntax error.
func AssembleScript(spec ScriptSpec) (string, error) {
	futures, body := ExtractFutureImports(spec.UserCode)

	var b strings.Builder

	for _, directive := range futures {
		b.WriteString(directive)
		b.WriteByte('\n')
	}
	if len(futures) > 0 {
		b.WriteByte('\n')
	}

	b.WriteString(scriptHeader)
	b.WriteString("\n\n")

	writeReservedBlock(&b, spec)

	b.WriteString("# User code starts here\n")
	b.WriteString(strings.TrimLeft(body, "\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}

	script := b.String()
	if err := validateAssignments(script); err != nil {
		return "", NewAssemblyError("generated script failed validation", err)
	}
	return script, nil
}

func writeReservedBlock(b *strings.Builder, spec ScriptSpec) {
	records := make([]interface{}, len(spec.Records))
	for i, rec := range spec.Records {
		records[i] = rec
	}

	b.WriteString("# Input items from previous nodes\n")
	fmt.Fprintf(b, "%s = %s\n\n", VarInputItems, PythonLiteral(records, spec.RedactValues))

	b.WriteString("# Environment variables (merged from credential sources)\n")
	fmt.Fprintf(b, "%s = %s\n", VarEnvVars, pythonStringMap(spec.EnvMap, spec.RedactValues))
	for _, key := range sortedKeys(spec.EnvMap) {
		name, ok := SanitizeVariableName(key, DefaultVariablePrefix)
		if !ok {
			continue
		}
		if _, clash := reservedVariables[name]; clash {
			continue
		}
		val := spec.EnvMap[key]
		if spec.RedactValues {
			val = RedactedPlaceholder
		}
		fmt.Fprintf(b, "%s = %s\n", name, pythonString(val))
	}
	b.WriteByte('\n')

	if len(spec.Records) > 0 {
		b.WriteString("# Individual variables from first input item\n")
		first := spec.Records[0]
		for _, field := range sortedFieldNames(first) {
			name, ok := SanitizeVariableName(field, DefaultVariablePrefix)
			if !ok {
				continue
			}
			if _, clash := reservedVariables[name]; clash {
				continue
			}
			fmt.Fprintf(b, "%s = %s\n", name, PythonLiteral(first[field], spec.RedactValues))
		}
		b.WriteByte('\n')
	}

	if len(spec.Files) > 0 {
		b.WriteString("# Input file descriptors\n")
		descriptors := make([]interface{}, len(spec.Files))
		for i, f := range spec.Files {
			descriptors[i] = map[string]interface{}{
				"name":       f.Name,
				"mime_type":  f.MimeType,
				"size_bytes": f.SizeBytes,
				"item_index": f.ItemIndex,
				"path":       f.Path,
			}
		}
		fmt.Fprintf(b, "%s = %s\n\n", VarInputFiles, PythonLiteral(descriptors, spec.RedactValues))
	}

	if spec.OutputDir != "" {
		b.WriteString("# Output directory for generated files\n")
		fmt.Fprintf(b, "%s = %s\n\n", VarOutputDir, pythonString(spec.OutputDir))
	}
}

// validateAssignments scans the assembled script for top-level assignment
// statements whose left-hand side is empty or does not start with a letter
// or underscore. Such a line can only arise from a sanitization bug and is
// treated as fatal rather than handed to the interpreter.
func validateAssignments(script string) error {
	for i, line := range strings.Split(script, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
			continue
		}
		lhs, found := splitAssignment(line)
		if !found {
			continue
		}
		// Expressions (calls, subscripts, tuple targets, string literals
		// containing '=') are not assignments we generate; leave them to
		// the interpreter.
		if strings.ContainsAny(lhs, `"'()[]{},.`) {
			continue
		}
		if lhs == "" || !isIdentStart(rune(lhs[0])) {
			return fmt.Errorf("invalid assignment target %q on line %d", lhs, i+1)
		}
	}
	return nil
}

// splitAssignment returns the trimmed left-hand side of a top-level `=`
// assignment, ignoring comparison operators and augmented assignments.
func splitAssignment(line string) (string, bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		// Skip ==, !=, <=, >=, and augmented assignments like +=.
		if i+1 < len(line) && line[i+1] == '=' {
			i++
			continue
		}
		if i > 0 {
			switch line[i-1] {
			case '!', '<', '>', '+', '-', '*', '/', '%', '&', '|', '^':
				continue
			}
		}
		return strings.TrimSpace(line[:i]), true
	}
	return "", false
}

func sortedFieldNames(m map[string]interface{}) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
