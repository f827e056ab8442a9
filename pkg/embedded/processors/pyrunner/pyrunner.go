package pyrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/embedded"
	"github.com/wehubfusion/Daedalus/pkg/iteration"
)

// Executor implements the NodeExecutor interface for Python subprocess
// execution.
type Executor struct {
	supervisor *Supervisor
	logger     *zap.Logger
}

// NewExecutor creates a new Python executor with a no-op logger.
func NewExecutor() *Executor {
	return NewExecutorWithLogger(nil)
}

// NewExecutorWithLogger creates a new Python executor logging through the
// given logger.
func NewExecutorWithLogger(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		supervisor: NewSupervisor(logger),
		logger:     logger,
	}
}

// Input is the payload accepted by Execute: the upstream records plus any
// binary file descriptors the host staged on disk.
type Input struct {
	Items []map[string]interface{} `json:"items"`
	Files []InputFile              `json:"files,omitempty"`
}

// Output is the node result: two logical channels plus any exported
// artifacts and staged diagnostics.
type Output struct {
	Success     []ResultRecord         `json:"success"`
	Error       []ResultRecord         `json:"error"`
	Attachments []Attachment           `json:"attachments,omitempty"`
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"`
}

// maxOutputFileBytes caps files collected from the output directory; larger
// files are skipped with a warning.
const maxOutputFileBytes = 16 << 20

// Execute implements the NodeExecutor interface
func (e *Executor) Execute(ctx context.Context, config embedded.NodeConfig) ([]byte, error) {
	var cfg Config
	if err := json.Unmarshal(config.Configuration, &cfg); err != nil {
		return nil, NewConfigError(fmt.Sprintf("failed to parse configuration: %v", err))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}

	var input Input
	if len(config.Input) > 0 {
		if err := json.Unmarshal(config.Input, &input); err != nil {
			return nil, NewConfigError(fmt.Sprintf("failed to parse input: %v", err))
		}
	}

	merged, provenance := e.mergeEnvironment(&cfg)

	collector := NewCollector(cfg.Diagnostics)
	collector.RecordEnvironment(merged, provenance)

	if cfg.Diagnostics.SyntaxOnly {
		return e.executeSyntaxCheck(ctx, &cfg, input, merged, collector)
	}

	var routed RoutedOutput
	var err error
	if cfg.ExecutionMode == ExecutionModePerRecord {
		routed, err = e.executePerRecord(ctx, &cfg, input, merged, collector)
	} else {
		routed, err = e.executeOnce(ctx, &cfg, input.Items, input.Files, merged, collector)
	}
	if err != nil {
		return nil, err
	}

	output := Output{
		Success:     emptyIfNil(routed.Success),
		Error:       emptyIfNil(routed.Error),
		Attachments: collector.Attachments(routed),
		Diagnostics: collector.Snapshot(),
	}
	return json.Marshal(output)
}

// PluginType returns the plugin type this executor handles
func (e *Executor) PluginType() string {
	return "plugin-pyrunner"
}

// executeOnce runs the whole pipeline a single time over the given records.
func (e *Executor) executeOnce(ctx context.Context, cfg *Config, records []map[string]interface{}, files []InputFile, env map[string]string, collector *Collector) (RoutedOutput, error) {
	executionID := uuid.NewString()

	var outputDir string
	if cfg.ProvideOutputDir {
		dir, err := os.MkdirTemp("", "pyout-")
		if err != nil {
			return RoutedOutput{}, NewAssemblyError("failed to create output directory", err)
		}
		outputDir = dir
		defer os.RemoveAll(dir)
	}

	spec := ScriptSpec{
		UserCode:  cfg.Code,
		Records:   records,
		EnvMap:    env,
		OutputDir: outputDir,
	}
	if cfg.InjectFiles {
		spec.Files = files
	}

	script, err := AssembleScript(spec)
	if err != nil {
		return RoutedOutput{}, err
	}
	e.recordScriptArtifact(collector, cfg, spec)

	execution := Execution{
		ID:         executionID,
		Script:     script,
		PythonPath: cfg.PythonPath,
		Timeout:    cfg.Timeout,
	}

	if cfg.ResourceLimits.Enabled() {
		wrapper := GenerateResourceWrapper(cfg.ResourceLimits, scriptFileName, cfg.Timeout, runtime.NumCPU())
		collector.RecordResourceLimits(cfg.ResourceLimits, wrapper)
		if wrapper.Applied {
			execution.Wrapper = wrapper.Script
		} else if wrapper.Degradation != "" {
			e.logger.Warn("Resource limits degraded",
				zap.String("executionId", executionID),
				zap.String("reason", wrapper.Degradation))
		}
	}

	startedAt := time.Now()
	result, err := e.supervisor.Run(ctx, execution)
	if err != nil {
		return RoutedOutput{}, err
	}
	collector.RecordTiming(startedAt, result.Duration)
	collector.RecordWarning(result.CleanupWarning)

	var parsed *ParsedOutput
	if cfg.ParseOutput != ParseNone {
		p := ClassifyOutput(result.Stdout, cfg.ParseOutput, cfg.ParseOptions)
		parsed = &p
	}

	routed, err := RouteResult(RouteSpec{
		Exec:            result,
		Parsed:          parsed,
		Records:         records,
		Passthrough:     cfg.Passthrough,
		PassthroughMode: cfg.PassthroughMode,
		ErrorPolicy:     cfg.ErrorPolicy,
		Timeout:         cfg.Timeout.String(),
	})
	if err != nil {
		return RoutedOutput{}, err
	}

	if outputDir != "" {
		for _, attachment := range e.collectOutputFiles(outputDir) {
			collector.AddAttachment(attachment)
		}
	}

	return routed, nil
}

// executePerRecord repeats the whole pipeline once per input record,
// sequentially. One record's failure never aborts the others unless the
// error policy says throw.
func (e *Executor) executePerRecord(ctx context.Context, cfg *Config, input Input, env map[string]string, collector *Collector) (RoutedOutput, error) {
	items := make([]interface{}, len(input.Items))
	for i, record := range input.Items {
		items[i] = record
	}

	// Each repetition may spawn a resource-constrained child, so runs are
	// sequential, one subprocess at a time.
	it := iteration.NewIterator(iteration.Config{
		Strategy:        iteration.StrategySequential,
		ContinueOnError: cfg.ErrorPolicy != ErrorPolicyThrow,
	})

	results, failures, err := it.Process(ctx, items, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		record := item.(map[string]interface{})
		files := filesForItem(input.Files, index, cfg.InjectFiles)
		return e.executeOnce(ctx, cfg, []map[string]interface{}{record}, files, env, collector)
	})
	if err != nil {
		return RoutedOutput{}, WrapError(err)
	}

	var combined RoutedOutput
	for _, result := range results {
		if result == nil {
			continue
		}
		routed := result.(RoutedOutput)
		combined.Success = append(combined.Success, routed.Success...)
		combined.Error = append(combined.Error, routed.Error...)
	}
	for _, failure := range failures {
		combined.Error = append(combined.Error, ResultRecord{
			"success":       false,
			"error":         fmt.Sprintf("record %d failed before execution", failure.Index),
			"detailedError": failure.Err.Error(),
		})
	}
	return combined, nil
}

// executeSyntaxCheck validates the assembled script with the interpreter's
// compiler and skips execution entirely.
func (e *Executor) executeSyntaxCheck(ctx context.Context, cfg *Config, input Input, env map[string]string, collector *Collector) ([]byte, error) {
	spec := ScriptSpec{
		UserCode: cfg.Code,
		Records:  input.Items,
		EnvMap:   env,
	}
	if cfg.InjectFiles {
		spec.Files = input.Files
	}

	script, err := AssembleScript(spec)
	if err != nil {
		return nil, err
	}
	e.recordScriptArtifact(collector, cfg, spec)

	record := ResultRecord{"success": true, "stdout": "", "stderr": ""}
	var routed RoutedOutput
	if checkErr := CheckSyntax(ctx, cfg.PythonPath, script); checkErr != nil {
		pyErr := InterpretStderr(checkErr.Error())
		record["success"] = false
		record["error"] = "syntax validation failed"
		record["detailedError"] = checkErr.Error()
		if !pyErr.IsZero() {
			record["pythonError"] = pyErr
		}
		routed.Error = []ResultRecord{record}
	} else {
		routed.Success = []ResultRecord{record}
	}

	output := Output{
		Success:     emptyIfNil(routed.Success),
		Error:       emptyIfNil(routed.Error),
		Attachments: collector.Attachments(routed),
		Diagnostics: collector.Snapshot(),
	}
	return json.Marshal(output)
}

// CheckSyntax compiles the script with py_compile without running it. The
// returned error carries the compiler's stderr.
func CheckSyntax(ctx context.Context, pythonPath, script string) error {
	dir, err := os.MkdirTemp("", "pycheck-")
	if err != nil {
		return NewAssemblyError("failed to create check directory", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, scriptFileName)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return NewAssemblyError("failed to write script", err)
	}

	cmd := exec.CommandContext(ctx, pythonPath, "-m", "py_compile", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s", string(out))
	}
	return nil
}

// ExtractTemplate assembles the script with every injected value redacted.
// The result is safe to display or export and is never executed.
func ExtractTemplate(cfg Config, input Input) (string, error) {
	cfg.ApplyDefaults()
	merged, _ := MergeEnvSources(cfg.EnvSources, cfg.EnvMergePolicy)
	spec := ScriptSpec{
		UserCode:     cfg.Code,
		Records:      input.Items,
		EnvMap:       merged,
		RedactValues: true,
	}
	if cfg.InjectFiles {
		spec.Files = input.Files
	}
	return AssembleScript(spec)
}

// mergeEnvironment folds the configured sources, appending the allowlisted
// host environment as a final source when requested.
func (e *Executor) mergeEnvironment(cfg *Config) (map[string]string, map[string]string) {
	sources := cfg.EnvSources
	if len(cfg.EnvAllowlist) > 0 {
		sources = append(append([]EnvSource{}, sources...), SystemEnvSource(cfg.EnvAllowlist))
	}
	return MergeEnvSources(sources, cfg.EnvMergePolicy)
}

// recordScriptArtifact stages the script for export. The exported text is
// re-assembled with redaction when the diagnostics ask for it, so secrets
// never leave the process even though the executable script carries them.
func (e *Executor) recordScriptArtifact(collector *Collector, cfg *Config, spec ScriptSpec) {
	if !cfg.Diagnostics.ExportArtifacts {
		return
	}
	if cfg.Diagnostics.Redact {
		spec.RedactValues = true
	}
	if script, err := AssembleScript(spec); err == nil {
		collector.RecordScript(script)
	}
}

// collectOutputFiles gathers files the script wrote into output_dir as
// attachments. Oversized files are skipped with a warning.
func (e *Executor) collectOutputFiles(dir string) []Attachment {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var attachments []Attachment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > maxOutputFileBytes {
			e.logger.Warn("Skipping oversized output file",
				zap.String("file", entry.Name()),
				zap.Int64("sizeBytes", info.Size()))
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(entry.Name()))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		attachments = append(attachments, Attachment{
			Filename: entry.Name(),
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return attachments
}

// filesForItem narrows file descriptors to the ones belonging to one input
// record in per-record mode.
func filesForItem(files []InputFile, index int, enabled bool) []InputFile {
	if !enabled {
		return nil
	}
	var matched []InputFile
	for _, f := range files {
		if f.ItemIndex == index {
			matched = append(matched, f)
		}
	}
	return matched
}
