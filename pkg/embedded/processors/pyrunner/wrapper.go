package pyrunner

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ResourceLimits are the optional ceilings applied to the interpreter
// process. Zero values mean unlimited.
type ResourceLimits struct {
	// MemoryMB caps the process address space
	MemoryMB int `json:"memoryMB,omitempty"`
	// CPUPercent caps CPU time as a percentage of all cores over the
	// configured timeout window
	CPUPercent int `json:"cpuPercent,omitempty"`
}

// Enabled reports whether any ceiling is configured.
func (l ResourceLimits) Enabled() bool {
	return l.MemoryMB > 0 || l.CPUPercent > 0
}

// ResourceWrapper is the outcome of wrapper generation: either a second
// script that applies the limits before delegating to the user script, or a
// degradation notice when the platform cannot enforce them.
type ResourceWrapper struct {
	Script      string
	Applied     bool
	Degradation string
}

// limitsSupported reports whether the host can enforce POSIX resource
// limits. Windows has no rlimit facility; execution proceeds unwrapped
// there and the degradation is reported instead of failing the run.
func limitsSupported() bool {
	return runtime.GOOS != "windows"
}

// GenerateResourceWrapper produces the wrapper script that applies the
// configured ceilings and then runs scriptName from the same working
// directory. The CPU budget is absolute CPU seconds:
// timeout × cores × percent/100. Each limit is applied independently and a
// platform that rejects one keeps the other; only the runtime's own
// out-of-memory or CPU signal may change the user script's exit status.
func GenerateResourceWrapper(limits ResourceLimits, scriptName string, timeout time.Duration, cores int) ResourceWrapper {
	if !limits.Enabled() {
		return ResourceWrapper{}
	}
	if !limitsSupported() {
		return ResourceWrapper{
			Degradation: fmt.Sprintf("resource limits not enforced: no POSIX rlimit support on %s", runtime.GOOS),
		}
	}
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	var b strings.Builder
	b.WriteString("# Generated resource limit wrapper. Do not edit.\n")
	b.WriteString("import resource\nimport runpy\nimport sys\n\n")

	if limits.MemoryMB > 0 {
		memoryBytes := int64(limits.MemoryMB) * 1024 * 1024
		fmt.Fprintf(&b, "try:\n    resource.setrlimit(resource.RLIMIT_AS, (%d, %d))\nexcept (ValueError, OSError):\n    pass\n", memoryBytes, memoryBytes)
	}
	if limits.CPUPercent > 0 {
		cpuSeconds := int64(timeout.Seconds() * float64(cores) * float64(limits.CPUPercent) / 100.0)
		if cpuSeconds < 1 {
			cpuSeconds = 1
		}
		fmt.Fprintf(&b, "try:\n    resource.setrlimit(resource.RLIMIT_CPU, (%d, %d))\nexcept (ValueError, OSError):\n    pass\n", cpuSeconds, cpuSeconds)
	}

	b.WriteByte('\n')
	fmt.Fprintf(&b, "runpy.run_path(%s, run_name=\"__main__\")\n", pythonString(scriptName))

	return ResourceWrapper{Script: b.String(), Applied: true}
}
