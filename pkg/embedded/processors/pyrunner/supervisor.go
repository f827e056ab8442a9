package pyrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Sentinel exit codes for orchestrator-detected conditions. Real Python
// exit codes are non-negative, so these never collide with a script's own
// status.
const (
	// ExitCodeTimeout is recorded when the wall-clock budget is exceeded
	ExitCodeTimeout = -1
	// ExitCodeSpawnFailure is recorded when the interpreter could not be
	// launched at all
	ExitCodeSpawnFailure = -2
)

const (
	scriptFileName  = "script.py"
	wrapperFileName = "wrapper.py"
)

// ExecutionResult is the raw outcome of one subprocess run. It is produced
// exactly once per execution; an exit code of exactly 0 denotes success.
type ExecutionResult struct {
	ExitCode     int           `json:"exitCode"`
	Stdout       string        `json:"stdout"`
	Stderr       string        `json:"stderr"`
	TimedOut     bool          `json:"timedOut"`
	SignalKilled bool          `json:"signalKilled"`
	Duration     time.Duration `json:"-"`

	// CleanupWarning is set when working-directory removal failed. It is
	// reported but never changes the routing of the result.
	CleanupWarning string `json:"-"`
}

// Execution describes one subprocess run: the assembled script, an optional
// resource-limit wrapper that delegates to it, the interpreter to invoke,
// and the wall-clock budget.
type Execution struct {
	ID         string
	Script     string
	Wrapper    string
	PythonPath string
	Timeout    time.Duration
}

// Supervisor owns the subprocess lifecycle: it creates the isolated working
// directory, writes the script files, spawns the interpreter, enforces the
// timeout, and removes the directory on every exit path. The working
// directory is exclusively owned by the single execution that created it.
type Supervisor struct {
	logger *zap.Logger
}

// NewSupervisor creates a supervisor. A nil logger is replaced with a no-op
// logger.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{logger: logger}
}

// Run executes the script and returns its result. An error is returned only
// for assembly-class failures (the working directory or script files could
// not be created); those abort before any subprocess is spawned. Spawn
// failures and timeouts surface inside the result with sentinel exit codes.
//
// The returned result's working directory no longer exists by the time Run
// returns, whatever the outcome.
func (s *Supervisor) Run(ctx context.Context, execution Execution) (ExecutionResult, error) {
	workDir, err := os.MkdirTemp("", "pyrun-"+shortID(execution.ID)+"-")
	if err != nil {
		return ExecutionResult{}, NewAssemblyError("failed to create working directory", err)
	}

	var result ExecutionResult
	defer func() {
		if removeErr := os.RemoveAll(workDir); removeErr != nil {
			result.CleanupWarning = fmt.Sprintf("working directory not fully removed: %v", removeErr)
			s.logger.Warn("Working directory cleanup failed",
				zap.String("executionId", execution.ID),
				zap.String("workDir", workDir),
				zap.Error(removeErr))
		}
	}()

	scriptPath := filepath.Join(workDir, scriptFileName)
	if err := os.WriteFile(scriptPath, []byte(execution.Script), 0o644); err != nil {
		return ExecutionResult{}, NewAssemblyError("failed to write script", err)
	}

	entryPath := scriptPath
	if execution.Wrapper != "" {
		entryPath = filepath.Join(workDir, wrapperFileName)
		if err := os.WriteFile(entryPath, []byte(execution.Wrapper), 0o644); err != nil {
			return ExecutionResult{}, NewAssemblyError("failed to write resource wrapper", err)
		}
	}

	result = s.spawn(ctx, execution, workDir, entryPath)
	return result, nil
}

func (s *Supervisor) spawn(ctx context.Context, execution Execution, workDir, entryPath string) ExecutionResult {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(execution.PythonPath, entryPath)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		s.logger.Error("Failed to spawn interpreter",
			zap.String("executionId", execution.ID),
			zap.String("python", execution.PythonPath),
			zap.Error(err))
		return ExecutionResult{
			ExitCode: ExitCodeSpawnFailure,
			Stderr:   fmt.Sprintf("failed to start %s: %v", execution.PythonPath, err),
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(execution.Timeout)
	defer timer.Stop()

	var timedOut, cancelled bool
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		cancelled = true
		_ = cmd.Process.Kill()
		<-done
	}
	duration := time.Since(start)

	result := ExecutionResult{
		Stdout:   normalizeOutput(stdout.Bytes()),
		Stderr:   normalizeOutput(stderr.Bytes()),
		Duration: duration,
	}

	switch {
	case timedOut:
		result.ExitCode = ExitCodeTimeout
		result.TimedOut = true
		result.SignalKilled = true
		s.logger.Warn("Execution timed out",
			zap.String("executionId", execution.ID),
			zap.Duration("timeout", execution.Timeout))
	case cancelled:
		result.ExitCode = ExitCodeTimeout
		result.TimedOut = true
		result.SignalKilled = true
	default:
		result.ExitCode = cmd.ProcessState.ExitCode()
		// ExitCode reports -1 when the process died from a signal; keep
		// the flag so callers can tell it apart from the timeout sentinel.
		if result.ExitCode == -1 {
			result.SignalKilled = true
		}
	}

	s.logger.Debug("Execution finished",
		zap.String("executionId", execution.ID),
		zap.Int("exitCode", result.ExitCode),
		zap.Bool("timedOut", result.TimedOut),
		zap.Duration("duration", duration))

	return result
}

// normalizeOutput strips a UTF-8 byte-order mark; Python on some platforms
// prepends one to redirected streams.
func normalizeOutput(raw []byte) string {
	decoded, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func shortID(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
