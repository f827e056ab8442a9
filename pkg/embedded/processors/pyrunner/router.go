package pyrunner

import (
	"fmt"
	"strings"
)

// ResultRecord is one externally visible result entry. Field presence is
// conditional on configuration; json.Marshal of the map emits only what was
// set.
type ResultRecord map[string]interface{}

// RoutedOutput carries the records assigned to the two logical channels. In
// multiple-outputs pass-through mode the original input records follow the
// result on the same channel as independent entries.
type RoutedOutput struct {
	Success []ResultRecord
	Error   []ResultRecord
}

// RouteSpec is everything the router needs to build and place the records
// for one execution.
type RouteSpec struct {
	Exec   ExecutionResult
	Parsed *ParsedOutput
	// Records are the original input records, consulted only when
	// pass-through is on
	Records []map[string]interface{}

	Passthrough     bool
	PassthroughMode string
	ErrorPolicy     string

	// Timeout is reported in the detailed error message on timeout
	Timeout string
}

// RouteResult builds the ResultRecord(s) for one execution and assigns them
// to a channel. Exit code exactly 0 goes to success; everything else,
// sentinels included, goes to error — unless the error policy says ignore
// (failures routed to success) or throw (a structured error is returned and
// no records are emitted).
func RouteResult(spec RouteSpec) (RoutedOutput, error) {
	record := buildResultRecord(spec)

	succeeded := spec.Exec.ExitCode == 0
	if !succeeded && spec.ErrorPolicy == ErrorPolicyThrow {
		return RoutedOutput{}, throwableError(spec, record)
	}
	if spec.ErrorPolicy == ErrorPolicyIgnore {
		succeeded = true
	}

	records := applyPassthrough(record, spec)

	if succeeded {
		return RoutedOutput{Success: records}, nil
	}
	return RoutedOutput{Error: records}, nil
}

func buildResultRecord(spec RouteSpec) ResultRecord {
	exec := spec.Exec
	record := ResultRecord{
		"exitCode": exec.ExitCode,
		"success":  exec.ExitCode == 0,
		"stdout":   exec.Stdout,
		"stderr":   exec.Stderr,
	}

	if spec.Parsed != nil {
		record["parsed_stdout"] = spec.Parsed.Value
		record["parsing_success"] = spec.Parsed.Succeeded
		record["output_format"] = spec.Parsed.Format
		record["parsing_method"] = spec.Parsed.Method
		if spec.Parsed.ErrorMessage != "" {
			record["parsing_error"] = spec.Parsed.ErrorMessage
		}
	}

	if exec.ExitCode != 0 {
		record["error"] = errorSummary(spec)
		pyErr := InterpretStderr(exec.Stderr)
		if !pyErr.IsZero() {
			record["pythonError"] = pyErr
		}
		record["detailedError"] = detailedError(spec, pyErr)
	}

	return record
}

func errorSummary(spec RouteSpec) string {
	switch {
	case spec.Exec.TimedOut:
		return fmt.Sprintf("execution timed out after %s", spec.Timeout)
	case spec.Exec.ExitCode == ExitCodeSpawnFailure:
		return "interpreter could not be launched"
	default:
		return fmt.Sprintf("script exited with code %d", spec.Exec.ExitCode)
	}
}

// detailedError is the human-readable multi-line account attached to error
// records: the summary, the interpreted error if any, and the tail of
// stderr.
func detailedError(spec RouteSpec, pyErr PyError) string {
	var b strings.Builder
	b.WriteString(errorSummary(spec))
	if pyErr.Type != "" {
		fmt.Fprintf(&b, "\n%s: %s", pyErr.Type, pyErr.Message)
	}
	if pyErr.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", pyErr.Line)
	}
	if len(pyErr.MissingModules) > 0 {
		fmt.Fprintf(&b, "\nmissing modules: %s", strings.Join(pyErr.MissingModules, ", "))
	}
	if stderr := strings.TrimSpace(spec.Exec.Stderr); stderr != "" && pyErr.Traceback == "" {
		b.WriteString("\n")
		b.WriteString(stderr)
	}
	return b.String()
}

func throwableError(spec RouteSpec, record ResultRecord) error {
	switch {
	case spec.Exec.TimedOut:
		return NewTimeoutError(spec.Timeout)
	case spec.Exec.ExitCode == ExitCodeSpawnFailure:
		return NewSpawnError(spec.Exec.Stderr, nil)
	default:
		msg, _ := record["detailedError"].(string)
		return &ExecError{Type: ErrorTypeRuntime, Message: msg}
	}
}

// applyPassthrough merges the original input records into the result per the
// configured mode.
func applyPassthrough(record ResultRecord, spec RouteSpec) []ResultRecord {
	if !spec.Passthrough || len(spec.Records) == 0 {
		return []ResultRecord{record}
	}

	switch spec.PassthroughMode {
	case PassthroughSeparateField:
		out := make([]ResultRecord, 0, len(spec.Records))
		for _, original := range spec.Records {
			entry := cloneRecord(record)
			entry[PassthroughItemKey] = original
			out = append(out, entry)
		}
		return out

	case PassthroughMultipleOutputs:
		out := make([]ResultRecord, 0, len(spec.Records)+1)
		out = append(out, record)
		for _, original := range spec.Records {
			out = append(out, ResultRecord(original))
		}
		return out

	default: // PassthroughMerge: result fields win on collision
		out := make([]ResultRecord, 0, len(spec.Records))
		for _, original := range spec.Records {
			entry := make(ResultRecord, len(original)+len(record))
			for k, v := range original {
				entry[k] = v
			}
			for k, v := range record {
				entry[k] = v
			}
			out = append(out, entry)
		}
		return out
	}
}

func cloneRecord(record ResultRecord) ResultRecord {
	clone := make(ResultRecord, len(record)+1)
	for k, v := range record {
		clone[k] = v
	}
	return clone
}
