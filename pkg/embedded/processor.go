package embedded

import (
	"context"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/message"
)

// NodeProcessor adapts the executor registry to the runner's Processor
// interface: it resolves the message payload into a NodeConfig and
// dispatches on plugin type.
type NodeProcessor struct {
	registry *ExecutorRegistry
	blob     message.BlobStorageClient
	logger   *zap.Logger
}

// NewNodeProcessor creates a processor over the given registry.
func NewNodeProcessor(registry *ExecutorRegistry, logger *zap.Logger) *NodeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeProcessor{registry: registry, logger: logger}
}

// SetBlobStorage enables resolution of blob-referenced input payloads.
func (p *NodeProcessor) SetBlobStorage(client message.BlobStorageClient) {
	p.blob = client
}

// Process executes the node described by msg and returns its raw output.
func (p *NodeProcessor) Process(ctx context.Context, msg *message.Message) ([]byte, error) {
	if msg == nil || msg.Payload == nil {
		return nil, sdkerrors.NewValidationError("message payload is required", "NIL_PAYLOAD", nil)
	}
	payload := msg.Payload

	pluginType := payload.PluginType
	if pluginType == "" && msg.Node != nil {
		pluginType = msg.Node.PluginType
	}
	if !p.registry.HasExecutor(pluginType) {
		return nil, sdkerrors.NewValidationError("no executor registered for plugin type "+pluginType, "UNKNOWN_PLUGIN_TYPE", nil)
	}

	input, err := p.resolveInput(ctx, msg)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Dispatching node execution",
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("node_id", payload.NodeID),
		zap.String("plugin_type", pluginType),
		zap.Int("input_bytes", len(input)))

	return p.registry.Execute(ctx, NodeConfig{
		NodeID:        payload.NodeID,
		PluginType:    pluginType,
		Configuration: payload.Configuration,
		Input:         input,
	})
}

// resolveInput returns the inline input or downloads the blob-referenced
// input when the payload was offloaded.
func (p *NodeProcessor) resolveInput(ctx context.Context, msg *message.Message) ([]byte, error) {
	payload := msg.Payload
	if payload.HasInlineData() {
		return payload.GetInlineData(), nil
	}
	if payload.Blob == nil {
		return nil, nil
	}
	if p.blob == nil {
		return nil, sdkerrors.NewValidationError("payload references a blob but no blob storage is configured", "NO_BLOB_STORAGE", nil)
	}
	data, err := p.blob.DownloadResult(ctx, payload.Blob.URL)
	if err != nil {
		return nil, sdkerrors.NewInternalError(msg.CorrelationID, "failed to download input blob", "BLOB_DOWNLOAD_FAILED", err)
	}
	return data, nil
}
