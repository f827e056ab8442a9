package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/message"
)

type stubExecutor struct {
	pluginType string
	lastConfig NodeConfig
	result     []byte
	err        error
}

func (s *stubExecutor) Execute(ctx context.Context, config NodeConfig) ([]byte, error) {
	s.lastConfig = config
	return s.result, s.err
}

func (s *stubExecutor) PluginType() string { return s.pluginType }

type stubBlobStorage struct {
	data map[string][]byte
}

func (s *stubBlobStorage) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubBlobStorage) DownloadResult(ctx context.Context, blobURL string) ([]byte, error) {
	data, ok := s.data[blobURL]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func workMessage(config, data json.RawMessage) *message.Message {
	return message.NewMessage("corr-1").
		WithWorkflow("exec-1", "wf-1", "").
		WithNode("node-1", "plugin-pyrunner").
		WithPayload(config, data)
}

func TestRegistry_Dispatch(t *testing.T) {
	registry := NewExecutorRegistry()
	exec := &stubExecutor{pluginType: "plugin-pyrunner", result: []byte(`{}`)}
	registry.Register(exec)

	assert.True(t, registry.HasExecutor("plugin-pyrunner"))
	assert.False(t, registry.HasExecutor("plugin-unknown"))
	assert.Equal(t, []string{"plugin-pyrunner"}, registry.RegisteredTypes())

	_, err := registry.Execute(context.Background(), NodeConfig{PluginType: "plugin-unknown"})
	require.Error(t, err)
}

func TestNodeProcessor_InlineInput(t *testing.T) {
	registry := NewExecutorRegistry()
	exec := &stubExecutor{pluginType: "plugin-pyrunner", result: []byte(`{"success":[]}`)}
	registry.Register(exec)
	processor := NewNodeProcessor(registry, nil)

	result, err := processor.Process(context.Background(), workMessage(
		json.RawMessage(`{"code":"print(1)"}`),
		json.RawMessage(`{"items":[{"id":1}]}`),
	))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":[]}`, string(result))

	assert.Equal(t, "node-1", exec.lastConfig.NodeID)
	assert.JSONEq(t, `{"code":"print(1)"}`, string(exec.lastConfig.Configuration))
	assert.JSONEq(t, `{"items":[{"id":1}]}`, string(exec.lastConfig.Input))
}

func TestNodeProcessor_UnknownPluginType(t *testing.T) {
	processor := NewNodeProcessor(NewExecutorRegistry(), nil)

	_, err := processor.Process(context.Background(), workMessage(nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin-pyrunner")
}

func TestNodeProcessor_NilPayload(t *testing.T) {
	processor := NewNodeProcessor(NewExecutorRegistry(), nil)

	_, err := processor.Process(context.Background(), message.NewMessage("corr-1"))
	require.Error(t, err)
}

func TestNodeProcessor_BlobInput(t *testing.T) {
	registry := NewExecutorRegistry()
	exec := &stubExecutor{pluginType: "plugin-pyrunner", result: []byte(`{}`)}
	registry.Register(exec)
	processor := NewNodeProcessor(registry, nil)
	processor.SetBlobStorage(&stubBlobStorage{data: map[string][]byte{
		"https://blobs/inputs/a.json": []byte(`{"items":[]}`),
	}})

	msg := workMessage(nil, nil)
	msg.Payload.Blob = &message.BlobReference{URL: "https://blobs/inputs/a.json"}

	_, err := processor.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(exec.lastConfig.Input))
}

func TestNodeProcessor_BlobInputWithoutStorage(t *testing.T) {
	registry := NewExecutorRegistry()
	registry.Register(&stubExecutor{pluginType: "plugin-pyrunner"})
	processor := NewNodeProcessor(registry, nil)

	msg := workMessage(nil, nil)
	msg.Payload.Blob = &message.BlobReference{URL: "https://blobs/inputs/a.json"}

	_, err := processor.Process(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob storage")
}
