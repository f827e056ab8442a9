package pyrunner

import (
	"encoding/json"
	"time"
)

// Attachment is a named binary artifact emitted alongside the node result.
// Data is base64-encoded by the JSON marshaller.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

const (
	scriptAttachmentName = "script.py"
	outputAttachmentName = "output.json"

	mimePython = "text/x-python"
	mimeJSON   = "application/json"
)

// Collector accumulates diagnostics across the execution pipeline. Stages
// are recorded as they become known: script and environment before the run,
// timing and cleanup outcome after. Diagnostics must be staged this way
// because the pre-execution data is no longer reachable once the working
// directory is gone.
type Collector struct {
	caps Diagnostics

	script      string
	environment map[string]interface{}
	limits      map[string]interface{}
	timing      map[string]interface{}
	warnings    []string
	extra       []Attachment
}

// NewCollector creates a collector for the enabled capabilities. A disabled
// collector accepts every call and records nothing.
func NewCollector(caps Diagnostics) *Collector {
	return &Collector{caps: caps}
}

// RecordScript stages the generated script text. When redaction is on the
// caller must pass the redacted assembly, not the executable one.
func (c *Collector) RecordScript(script string) {
	if !c.caps.ExportArtifacts {
		return
	}
	c.script = script
}

// RecordEnvironment stages the merged environment map and its per-key source
// provenance.
func (c *Collector) RecordEnvironment(merged map[string]string, provenance map[string]string) {
	if !c.caps.Environment {
		return
	}
	snapshot := make(map[string]interface{}, len(merged))
	for _, key := range sortedKeys(merged) {
		value := merged[key]
		if c.caps.Redact {
			value = RedactedPlaceholder
		}
		snapshot[key] = map[string]interface{}{
			"value":  value,
			"source": provenance[key],
		}
	}
	c.environment = snapshot
}

// RecordResourceLimits stages the wrapper outcome, including the degradation
// notice on platforms that cannot enforce limits.
func (c *Collector) RecordResourceLimits(limits ResourceLimits, wrapper ResourceWrapper) {
	if !limits.Enabled() {
		return
	}
	entry := map[string]interface{}{
		"memoryMB":   limits.MemoryMB,
		"cpuPercent": limits.CPUPercent,
		"applied":    wrapper.Applied,
	}
	if wrapper.Degradation != "" {
		entry["degradation"] = wrapper.Degradation
	}
	c.limits = entry
}

// RecordTiming stages wall-clock measurements after the subprocess exits.
func (c *Collector) RecordTiming(startedAt time.Time, duration time.Duration) {
	if !c.caps.Timing {
		return
	}
	c.timing = map[string]interface{}{
		"startedAt":  startedAt.UTC().Format(time.RFC3339Nano),
		"durationMs": duration.Milliseconds(),
	}
}

// RecordWarning stages a non-fatal pipeline warning, such as a partial
// working-directory cleanup.
func (c *Collector) RecordWarning(warning string) {
	if warning == "" {
		return
	}
	c.warnings = append(c.warnings, warning)
}

// Snapshot returns the staged diagnostics as a single document, or nil when
// nothing was collected.
func (c *Collector) Snapshot() map[string]interface{} {
	doc := make(map[string]interface{})
	if c.environment != nil {
		doc["environment"] = c.environment
	}
	if c.limits != nil {
		doc["resourceLimits"] = c.limits
	}
	if c.timing != nil {
		doc["timing"] = c.timing
	}
	if len(c.warnings) > 0 {
		doc["warnings"] = c.warnings
	}
	if len(doc) == 0 {
		return nil
	}
	return doc
}

// AddAttachment registers an artifact produced by the script itself, such
// as a file written to the output directory. These are emitted regardless
// of the diagnostics capabilities.
func (c *Collector) AddAttachment(attachment Attachment) {
	c.extra = append(c.extra, attachment)
}

// Attachments builds the exported artifacts: script-produced files always,
// plus the generated script and the full execution-results document when
// artifact export is on.
func (c *Collector) Attachments(output RoutedOutput) []Attachment {
	if !c.caps.ExportArtifacts {
		return c.extra
	}

	attachments := append([]Attachment{}, c.extra...)
	if c.script != "" {
		attachments = append(attachments, Attachment{
			Filename: scriptAttachmentName,
			MIMEType: mimePython,
			Data:     []byte(c.script),
		})
	}
	if doc, err := buildOutputDocument(output, c.Snapshot()); err == nil {
		attachments = append(attachments, Attachment{
			Filename: outputAttachmentName,
			MIMEType: mimeJSON,
			Data:     doc,
		})
	}
	return attachments
}

// buildOutputDocument renders the execution-results export: every routed
// record plus the staged diagnostics, wrapped with a timestamp and export
// metadata.
func buildOutputDocument(output RoutedOutput, diagnostics map[string]interface{}) ([]byte, error) {
	doc := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"execution_results": map[string]interface{}{
			"success": emptyIfNil(output.Success),
			"error":   emptyIfNil(output.Error),
		},
		"export_info": map[string]interface{}{
			"source":       "pyrunner",
			"format":       "json",
			"successCount": len(output.Success),
			"errorCount":   len(output.Error),
		},
	}
	if diagnostics != nil {
		doc["diagnostics"] = diagnostics
	}
	return json.MarshalIndent(doc, "", "  ")
}

func emptyIfNil(records []ResultRecord) []ResultRecord {
	if records == nil {
		return []ResultRecord{}
	}
	return records
}
