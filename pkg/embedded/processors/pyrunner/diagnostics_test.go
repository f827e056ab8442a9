package pyrunner

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_DisabledRecordsNothing(t *testing.T) {
	c := NewCollector(Diagnostics{})
	c.RecordScript("print('x')")
	c.RecordEnvironment(map[string]string{"A": "1"}, map[string]string{"A": "src"})
	c.RecordTiming(time.Now(), time.Second)

	assert.Nil(t, c.Snapshot())
	assert.Nil(t, c.Attachments(RoutedOutput{}))
}

func TestCollector_EnvironmentSnapshot(t *testing.T) {
	c := NewCollector(Diagnostics{Environment: true})
	c.RecordEnvironment(
		map[string]string{"API_KEY": "hunter2"},
		map[string]string{"API_KEY": "primary"},
	)

	snapshot := c.Snapshot()
	require.NotNil(t, snapshot)
	env := snapshot["environment"].(map[string]interface{})
	entry := env["API_KEY"].(map[string]interface{})
	assert.Equal(t, "hunter2", entry["value"])
	assert.Equal(t, "primary", entry["source"])
}

func TestCollector_EnvironmentRedacted(t *testing.T) {
	c := NewCollector(Diagnostics{Environment: true, Redact: true})
	c.RecordEnvironment(map[string]string{"API_KEY": "hunter2"}, map[string]string{"API_KEY": "primary"})

	env := c.Snapshot()["environment"].(map[string]interface{})
	entry := env["API_KEY"].(map[string]interface{})
	assert.Equal(t, RedactedPlaceholder, entry["value"])
	assert.Equal(t, "primary", entry["source"], "provenance survives redaction")
}

func TestCollector_ResourceLimitDegradation(t *testing.T) {
	c := NewCollector(Diagnostics{Timing: true})
	limits := ResourceLimits{MemoryMB: 128}
	c.RecordResourceLimits(limits, ResourceWrapper{Degradation: "resource limits not enforced: no POSIX rlimit support on windows"})

	snapshot := c.Snapshot()
	require.NotNil(t, snapshot)
	entry := snapshot["resourceLimits"].(map[string]interface{})
	assert.Equal(t, false, entry["applied"])
	assert.Contains(t, entry["degradation"], "not enforced")
}

func TestCollector_Timing(t *testing.T) {
	c := NewCollector(Diagnostics{Timing: true})
	c.RecordTiming(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 1500*time.Millisecond)

	timing := c.Snapshot()["timing"].(map[string]interface{})
	assert.Equal(t, int64(1500), timing["durationMs"])
	assert.Contains(t, timing["startedAt"], "2026-03-01T12:00:00")
}

func TestCollector_Attachments(t *testing.T) {
	c := NewCollector(Diagnostics{ExportArtifacts: true})
	c.RecordScript("print('hello')")

	output := RoutedOutput{Success: []ResultRecord{{"exitCode": 0, "success": true}}}
	attachments := c.Attachments(output)
	require.Len(t, attachments, 2)

	assert.Equal(t, scriptAttachmentName, attachments[0].Filename)
	assert.Equal(t, mimePython, attachments[0].MIMEType)
	assert.Equal(t, "print('hello')", string(attachments[0].Data))

	assert.Equal(t, outputAttachmentName, attachments[1].Filename)
	assert.Equal(t, mimeJSON, attachments[1].MIMEType)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(attachments[1].Data, &doc))
	assert.Contains(t, doc, "timestamp")
	assert.Contains(t, doc, "execution_results")
	assert.Contains(t, doc, "export_info")

	results := doc["execution_results"].(map[string]interface{})
	assert.Len(t, results["success"], 1)
	assert.Len(t, results["error"], 0)

	info := doc["export_info"].(map[string]interface{})
	assert.Equal(t, float64(1), info["successCount"])
}

func TestCollector_ScriptProducedAttachmentsAlwaysEmitted(t *testing.T) {
	c := NewCollector(Diagnostics{})
	c.AddAttachment(Attachment{Filename: "result.csv", MIMEType: "text/csv", Data: []byte("a,b")})

	attachments := c.Attachments(RoutedOutput{})
	require.Len(t, attachments, 1)
	assert.Equal(t, "result.csv", attachments[0].Filename)
}

func TestCollector_Warnings(t *testing.T) {
	c := NewCollector(Diagnostics{Timing: true})
	c.RecordWarning("")
	c.RecordWarning("working directory not fully removed: busy")

	snapshot := c.Snapshot()
	require.NotNil(t, snapshot)
	warnings := snapshot["warnings"].([]string)
	require.Len(t, warnings, 1)
}
