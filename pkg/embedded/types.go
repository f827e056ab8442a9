// Package embedded provides the executor registry used to dispatch node
// configurations to the processor that handles their plugin type.
package embedded

import (
	"context"
	"encoding/json"
	"fmt"
)

// NodeConfig contains everything a processor needs to execute a single node:
// the raw node configuration and the input payload assembled by the host.
type NodeConfig struct {
	NodeID        string
	PluginType    string
	Configuration json.RawMessage
	Input         []byte
}

// NodeExecutor defines the interface for executing embedded nodes
type NodeExecutor interface {
	// Execute executes a node with the given configuration and returns the
	// node's raw JSON output
	Execute(ctx context.Context, config NodeConfig) ([]byte, error)

	// PluginType returns the plugin type this executor handles
	PluginType() string
}

// ExecutorRegistry manages executors for different plugin types
type ExecutorRegistry struct {
	executors map[string]NodeExecutor
}

// NewExecutorRegistry creates a new executor registry
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[string]NodeExecutor),
	}
}

// Register registers a node executor for its plugin type. A later
// registration for the same plugin type replaces the earlier one.
func (r *ExecutorRegistry) Register(executor NodeExecutor) {
	r.executors[executor.PluginType()] = executor
}

// Execute executes a node using the executor registered for its plugin type
func (r *ExecutorRegistry) Execute(ctx context.Context, config NodeConfig) ([]byte, error) {
	executor, ok := r.executors[config.PluginType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for plugin type: %s", config.PluginType)
	}

	return executor.Execute(ctx, config)
}

// HasExecutor checks if an executor exists for a plugin type
func (r *ExecutorRegistry) HasExecutor(pluginType string) bool {
	_, ok := r.executors[pluginType]
	return ok
}

// RegisteredTypes returns all registered plugin types
func (r *ExecutorRegistry) RegisteredTypes() []string {
	types := make([]string, 0, len(r.executors))
	for pluginType := range r.executors {
		types = append(types, pluginType)
	}
	return types
}
