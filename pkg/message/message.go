// Package message defines the work and result envelopes exchanged over
// JetStream between the workflow engine and node runners.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Result statuses reported back to the engine.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Workflow identifies the workflow run a message belongs to.
type Workflow struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
	RunID       string `json:"runId,omitempty"`
}

// Node identifies the node to execute and which plugin handles it.
type Node struct {
	NodeID     string `json:"nodeId"`
	PluginType string `json:"pluginType"`
}

// BlobReference points at data too large to travel inline.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Payload carries the node configuration and input data. Input travels
// inline when small enough, otherwise as a blob reference.
type Payload struct {
	ExecutionID   string          `json:"executionId"`
	WorkflowID    string          `json:"workflowId"`
	RunID         string          `json:"runId,omitempty"`
	NodeID        string          `json:"nodeId"`
	PluginType    string          `json:"pluginType"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Blob          *BlobReference  `json:"blob,omitempty"`
}

// HasInlineData reports whether the payload carries its input inline.
func (p *Payload) HasInlineData() bool {
	return p != nil && len(p.Data) > 0
}

// GetInlineData returns the inline input bytes, nil when absent.
func (p *Payload) GetInlineData() []byte {
	if p == nil {
		return nil
	}
	return p.Data
}

// Message is the work envelope consumed by runners.
type Message struct {
	CorrelationID string            `json:"correlationId"`
	Workflow      *Workflow         `json:"workflow,omitempty"`
	Node          *Node             `json:"node,omitempty"`
	Payload       *Payload          `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`

	natsMsg *NATSMsg
}

// NewMessage creates an empty work envelope with the given correlation ID.
func NewMessage(correlationID string) *Message {
	return &Message{
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}

// WithWorkflow attaches workflow identity.
func (m *Message) WithWorkflow(executionID, workflowID, runID string) *Message {
	m.Workflow = &Workflow{ExecutionID: executionID, WorkflowID: workflowID, RunID: runID}
	return m
}

// WithNode attaches node identity.
func (m *Message) WithNode(nodeID, pluginType string) *Message {
	m.Node = &Node{NodeID: nodeID, PluginType: pluginType}
	return m
}

// WithPayload attaches the execution payload, filling in identity fields
// from the workflow and node already set on the message.
func (m *Message) WithPayload(configuration, data json.RawMessage) *Message {
	p := &Payload{Configuration: configuration, Data: data}
	if m.Workflow != nil {
		p.ExecutionID = m.Workflow.ExecutionID
		p.WorkflowID = m.Workflow.WorkflowID
		p.RunID = m.Workflow.RunID
	}
	if m.Node != nil {
		p.NodeID = m.Node.NodeID
		p.PluginType = m.Node.PluginType
	}
	m.Payload = p
	return m
}

// WithMetadata sets a metadata key.
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	return m
}

// Validate checks the envelope carries enough to be processed.
func (m *Message) Validate() error {
	if m.CorrelationID == "" {
		return fmt.Errorf("correlation ID is required")
	}
	if m.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	if m.Payload.PluginType == "" && (m.Node == nil || m.Node.PluginType == "") {
		return fmt.Errorf("plugin type is required")
	}
	return nil
}

// ToBytes serializes the envelope for publishing.
func (m *Message) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// FromBytes deserializes a work envelope.
func FromBytes(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &m, nil
}

// FromNATSMsg deserializes a work envelope and retains the underlying
// JetStream message for acknowledgement.
func FromNATSMsg(msg *nats.Msg) (*Message, error) {
	m, err := FromBytes(msg.Data)
	if err != nil {
		return nil, err
	}
	m.natsMsg = &NATSMsg{msg: msg}
	return m, nil
}

// Ack acknowledges the underlying JetStream message, if any.
func (m *Message) Ack() error {
	if m.natsMsg == nil {
		return nil
	}
	return m.natsMsg.Ack()
}

// Nak negatively acknowledges the underlying message, requesting redelivery.
func (m *Message) Nak() error {
	if m.natsMsg == nil {
		return nil
	}
	return m.natsMsg.Nak()
}

// Term terminates delivery of the underlying message.
func (m *Message) Term() error {
	if m.natsMsg == nil {
		return nil
	}
	return m.natsMsg.Term()
}

// GetNATSMsg exposes the underlying message wrapper, nil for messages not
// pulled from JetStream.
func (m *Message) GetNATSMsg() *NATSMsg {
	return m.natsMsg
}

// NATSMsg wraps a JetStream message with acknowledgement helpers.
type NATSMsg struct {
	msg *nats.Msg
}

// WrapNATSMsg builds a wrapper around a raw NATS message. Used by tests and
// the pull path.
func WrapNATSMsg(msg *nats.Msg) *NATSMsg {
	return &NATSMsg{msg: msg}
}

func (n *NATSMsg) Ack() error        { return n.msg.Ack() }
func (n *NATSMsg) Nak() error        { return n.msg.Nak() }
func (n *NATSMsg) Term() error       { return n.msg.Term() }
func (n *NATSMsg) InProgress() error { return n.msg.InProgress() }

// Respond replies on the message's reply subject.
func (n *NATSMsg) Respond(data []byte) error { return n.msg.Respond(data) }

// Subject returns the subject the message arrived on.
func (n *NATSMsg) Subject() string { return n.msg.Subject }

// Data returns the raw message bytes.
func (n *NATSMsg) Data() []byte { return n.msg.Data }

// ResultError describes a failed execution in a result message.
type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Type      string `json:"type,omitempty"`
}

// ResultMessage is published back to the engine when a node finishes.
// Large results travel as a blob reference instead of inline.
type ResultMessage struct {
	CorrelationID   string          `json:"correlationId"`
	ExecutionID     string          `json:"executionId,omitempty"`
	WorkflowID      string          `json:"workflowId,omitempty"`
	RunID           string          `json:"runId,omitempty"`
	NodeID          string          `json:"nodeId,omitempty"`
	Status          string          `json:"status"`
	InlineResult    json.RawMessage `json:"inlineResult,omitempty"`
	BlobReference   *BlobReference  `json:"blobReference,omitempty"`
	Error           *ResultError    `json:"error,omitempty"`
	PluginType      string          `json:"pluginType,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs,omitempty"`
	ResultSize      int64           `json:"resultSize,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewResultMessage creates a result envelope for the given correlation ID.
func NewResultMessage(correlationID string) *ResultMessage {
	return &ResultMessage{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// WithExecution attaches execution identity copied from the work payload.
func (r *ResultMessage) WithExecution(p *Payload) *ResultMessage {
	if p != nil {
		r.ExecutionID = p.ExecutionID
		r.WorkflowID = p.WorkflowID
		r.RunID = p.RunID
		r.NodeID = p.NodeID
		r.PluginType = p.PluginType
	}
	return r
}

// WithInlineResult marks the result completed with inline data.
func (r *ResultMessage) WithInlineResult(data []byte) *ResultMessage {
	r.Status = StatusCompleted
	r.InlineResult = data
	r.ResultSize = int64(len(data))
	return r
}

// WithBlobReference marks the result completed with offloaded data.
func (r *ResultMessage) WithBlobReference(url string, size int64) *ResultMessage {
	r.Status = StatusCompleted
	r.BlobReference = &BlobReference{URL: url, SizeBytes: size}
	r.ResultSize = size
	return r
}

// WithError marks the result failed.
func (r *ResultMessage) WithError(code, msg, errType string, retryable bool) *ResultMessage {
	r.Status = StatusFailed
	r.Error = &ResultError{Code: code, Message: msg, Type: errType, Retryable: retryable}
	return r
}

// IsSuccess reports whether the result completed without error.
func (r *ResultMessage) IsSuccess() bool {
	return r.Status == StatusCompleted
}

// ToBytes serializes the result for publishing.
func (r *ResultMessage) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}
