package pyrunner

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionMode controls whether the script runs once over the whole batch
// or once per input record.
const (
	ExecutionModeOnce      = "once"
	ExecutionModePerRecord = "perRecord"
)

// PassthroughMode controls how original input records accompany results.
const (
	PassthroughMerge           = "merge"
	PassthroughSeparateField   = "separateField"
	PassthroughMultipleOutputs = "multipleOutputs"
)

// PassthroughItemKey is the field holding the original record in
// separate-field pass-through mode.
const PassthroughItemKey = "item"

// ErrorPolicy controls what a nonzero exit does to the node outcome.
const (
	// ErrorPolicyReturnDetails routes failures to the error channel with
	// full details; the node itself succeeds
	ErrorPolicyReturnDetails = "returnDetails"
	// ErrorPolicyThrow fails the node with a structured error
	ErrorPolicyThrow = "throw"
	// ErrorPolicyIgnore routes failures to the success channel
	ErrorPolicyIgnore = "ignore"
)

// Timeout bounds. The configured value is clamped by Validate, not silently.
const (
	MinTimeout = 1 * time.Second
	MaxTimeout = 1 * time.Hour
)

// Diagnostics selects what extra information an execution collects. The
// capabilities compose freely; everything off means no overhead.
type Diagnostics struct {
	// Timing records wall-clock duration and timestamps
	Timing bool `json:"timing,omitempty"`
	// Environment snapshots the merged environment map and its per-key
	// source provenance
	Environment bool `json:"environment,omitempty"`
	// SyntaxOnly validates the assembled script with the interpreter's
	// compiler and skips execution entirely
	SyntaxOnly bool `json:"syntaxOnly,omitempty"`
	// ExportArtifacts attaches the generated script and an output.json
	// document to the node result
	ExportArtifacts bool `json:"exportArtifacts,omitempty"`
	// Redact replaces injected values with a placeholder in every exported
	// artifact
	Redact bool `json:"redact,omitempty"`
}

// Enabled reports whether any capability is on.
func (d Diagnostics) Enabled() bool {
	return d.Timing || d.Environment || d.SyntaxOnly || d.ExportArtifacts
}

// Config represents the configuration for a Python execution node.
type Config struct {
	// Code is the user's Python source, injected after the generated
	// variable block
	Code string `json:"code"`

	// PythonPath is the interpreter executable to invoke
	PythonPath string `json:"pythonPath,omitempty"`

	// ExecutionMode is once (whole batch) or perRecord
	ExecutionMode string `json:"executionMode,omitempty"`

	// Timeout is the wall-clock budget per subprocess run
	Timeout time.Duration `json:"timeout,omitempty"`

	// ResourceLimits optionally caps interpreter memory and CPU
	ResourceLimits ResourceLimits `json:"resourceLimits,omitempty"`

	// ParseOutput selects stdout classification: none, json, lines, smart
	ParseOutput ParseMode `json:"parseOutput,omitempty"`

	// ParseOptions tunes the JSON branch of classification
	ParseOptions ParseOptions `json:"parseOptions,omitempty"`

	// Passthrough carries original input records alongside results
	Passthrough bool `json:"passthrough,omitempty"`

	// PassthroughMode is merge, separateField, or multipleOutputs
	PassthroughMode string `json:"passthroughMode,omitempty"`

	// ErrorPolicy is returnDetails, throw, or ignore
	ErrorPolicy string `json:"errorPolicy,omitempty"`

	// EnvSources are the ordered credential mappings merged into env_vars
	EnvSources []EnvSource `json:"envSources,omitempty"`

	// EnvMergePolicy resolves key conflicts across sources
	EnvMergePolicy MergePolicy `json:"envMergePolicy,omitempty"`

	// EnvAllowlist names host environment variables exposed as an extra
	// system source; empty means the host environment is not exposed
	EnvAllowlist []string `json:"envAllowlist,omitempty"`

	// InjectFiles exposes binary attachments as input_files descriptors
	InjectFiles bool `json:"injectFiles,omitempty"`

	// ProvideOutputDir creates a writable directory exposed as output_dir
	ProvideOutputDir bool `json:"provideOutputDir,omitempty"`

	// Diagnostics selects extra collection capabilities
	Diagnostics Diagnostics `json:"diagnostics,omitempty"`
}

// ApplyDefaults sets default values for configuration fields
func (c *Config) ApplyDefaults() {
	if c.PythonPath == "" {
		c.PythonPath = "python3"
	}
	if c.ExecutionMode == "" {
		c.ExecutionMode = ExecutionModeOnce
	}
	if c.Timeout == 0 {
		c.Timeout = 1 * time.Minute
	}
	if c.ParseOutput == "" {
		c.ParseOutput = ParseNone
	}
	if c.PassthroughMode == "" {
		c.PassthroughMode = PassthroughMerge
	}
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = ErrorPolicyReturnDetails
	}
	if c.EnvMergePolicy == "" {
		c.EnvMergePolicy = MergeLastWins
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("code is required")
	}
	if c.Timeout < MinTimeout || c.Timeout > MaxTimeout {
		return fmt.Errorf("timeout must be between %s and %s", MinTimeout, MaxTimeout)
	}
	if c.ExecutionMode != ExecutionModeOnce && c.ExecutionMode != ExecutionModePerRecord {
		return fmt.Errorf("invalid execution mode: %s", c.ExecutionMode)
	}
	switch c.ParseOutput {
	case ParseNone, ParseJSON, ParseLines, ParseSmart:
	default:
		return fmt.Errorf("invalid parse mode: %s", c.ParseOutput)
	}
	switch c.PassthroughMode {
	case PassthroughMerge, PassthroughSeparateField, PassthroughMultipleOutputs:
	default:
		return fmt.Errorf("invalid passthrough mode: %s", c.PassthroughMode)
	}
	switch c.ErrorPolicy {
	case ErrorPolicyReturnDetails, ErrorPolicyThrow, ErrorPolicyIgnore:
	default:
		return fmt.Errorf("invalid error policy: %s", c.ErrorPolicy)
	}
	switch c.EnvMergePolicy {
	case MergeLastWins, MergeFirstWins, MergePrefixSource:
	default:
		return fmt.Errorf("invalid env merge policy: %s", c.EnvMergePolicy)
	}
	if c.ResourceLimits.MemoryMB < 0 || c.ResourceLimits.CPUPercent < 0 {
		return fmt.Errorf("resource limits must be non-negative")
	}
	if c.ResourceLimits.CPUPercent > 100 {
		return fmt.Errorf("cpuPercent must not exceed 100")
	}
	return nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Config. The timeout
// accepts a duration string ("90s") or a bare number of minutes, matching
// the host's older configuration documents.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		Timeout json.RawMessage `json:"timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Timeout) > 0 {
		var asString string
		if err := json.Unmarshal(aux.Timeout, &asString); err == nil {
			duration, err := time.ParseDuration(asString)
			if err != nil {
				return fmt.Errorf("invalid timeout format: %w", err)
			}
			c.Timeout = duration
			return nil
		}
		var asMinutes float64
		if err := json.Unmarshal(aux.Timeout, &asMinutes); err != nil {
			return fmt.Errorf("invalid timeout format: %s", string(aux.Timeout))
		}
		c.Timeout = time.Duration(asMinutes * float64(time.Minute))
	}

	return nil
}
