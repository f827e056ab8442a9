package pyrunner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/embedded"
)

func executeNode(t *testing.T, cfg map[string]interface{}, input Input) (Output, error) {
	t.Helper()
	configJSON, err := json.Marshal(cfg)
	require.NoError(t, err)
	inputJSON, err := json.Marshal(input)
	require.NoError(t, err)

	raw, err := NewExecutor().Execute(context.Background(), embedded.NodeConfig{
		NodeID:        "node-1",
		PluginType:    "plugin-pyrunner",
		Configuration: configJSON,
		Input:         inputJSON,
	})
	if err != nil {
		return Output{}, err
	}

	var output Output
	require.NoError(t, json.Unmarshal(raw, &output))
	return output, nil
}

func TestExecutor_PluginType(t *testing.T) {
	assert.Equal(t, "plugin-pyrunner", NewExecutor().PluginType())
}

func TestExecutor_InvalidConfiguration(t *testing.T) {
	_, err := NewExecutor().Execute(context.Background(), embedded.NodeConfig{
		Configuration: []byte(`{not json`),
	})
	require.Error(t, err)
	execErr, ok := err.(*ExecError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeConfig, execErr.Type)
}

func TestExecutor_MissingCode(t *testing.T) {
	_, err := executeNode(t, map[string]interface{}{}, Input{})
	require.Error(t, err)
	execErr, ok := err.(*ExecError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeConfig, execErr.Type)
}

func TestExecutor_SpawnFailureRoutedToErrorChannel(t *testing.T) {
	output, err := executeNode(t, map[string]interface{}{
		"code":       "print('never')",
		"pythonPath": "/definitely/not/an/interpreter",
	}, Input{Items: []map[string]interface{}{{"id": 1}}})
	require.NoError(t, err, "spawn failures are data, not node errors, under returnDetails")

	require.Len(t, output.Error, 1)
	assert.Empty(t, output.Success)
	assert.Equal(t, float64(ExitCodeSpawnFailure), output.Error[0]["exitCode"])
	assert.Equal(t, "interpreter could not be launched", output.Error[0]["error"])
}

func TestExecutor_SpawnFailureThrowPolicy(t *testing.T) {
	_, err := executeNode(t, map[string]interface{}{
		"code":        "print('never')",
		"pythonPath":  "/definitely/not/an/interpreter",
		"errorPolicy": ErrorPolicyThrow,
	}, Input{})
	require.Error(t, err)
	execErr, ok := err.(*ExecError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeSpawn, execErr.Type)
}

func TestExecutor_PerRecordIndependence(t *testing.T) {
	// With a broken interpreter every record fails independently; the node
	// still reports one error record per input instead of aborting.
	output, err := executeNode(t, map[string]interface{}{
		"code":          "print(ok)",
		"pythonPath":    "/definitely/not/an/interpreter",
		"executionMode": ExecutionModePerRecord,
	}, Input{Items: []map[string]interface{}{{"id": 1}, {"id": 2}, {"id": 3}}})
	require.NoError(t, err)

	assert.Empty(t, output.Success)
	assert.Len(t, output.Error, 3)
}

func TestExtractTemplate_Redacted(t *testing.T) {
	cfg := Config{
		Code: "print(input_items)",
		EnvSources: []EnvSource{
			{Name: "creds", Values: map[string]string{"API_KEY": "hunter2"}},
		},
	}
	input := Input{Items: []map[string]interface{}{{"customer": "acme corp"}}}

	template, err := ExtractTemplate(cfg, input)
	require.NoError(t, err)

	assert.NotContains(t, template, "hunter2")
	assert.NotContains(t, template, "acme corp")
	assert.Contains(t, template, RedactedPlaceholder)
	assert.Contains(t, template, "print(input_items)")
}

func TestFilesForItem(t *testing.T) {
	files := []InputFile{
		{Name: "a.bin", ItemIndex: 0},
		{Name: "b.bin", ItemIndex: 1},
		{Name: "c.bin", ItemIndex: 0},
	}

	matched := filesForItem(files, 0, true)
	require.Len(t, matched, 2)
	assert.Equal(t, "a.bin", matched[0].Name)
	assert.Equal(t, "c.bin", matched[1].Name)

	assert.Nil(t, filesForItem(files, 0, false))
	assert.Empty(t, filesForItem(files, 5, true))
}
