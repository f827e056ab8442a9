package message

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// mockJetStream is an in-memory JSContext for exercising the service
// without a broker.
type mockJetStream struct {
	mu              sync.Mutex
	streams         map[string]*nats.StreamConfig
	consumers       map[string]*nats.ConsumerConfig
	published       map[string][][]byte
	pending         []*nats.Msg
	publishFailures int
	publishAttempts int
}

func newMockJetStream() *mockJetStream {
	return &mockJetStream{
		streams:   make(map[string]*nats.StreamConfig),
		consumers: make(map[string]*nats.ConsumerConfig),
		published: make(map[string][][]byte),
	}
}

func (m *mockJetStream) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[stream]; !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{}, nil
}

func (m *mockJetStream) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[cfg.Name] = cfg
	return &nats.StreamInfo{}, nil
}

func (m *mockJetStream) ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumers[stream+"/"+consumer]; !ok {
		return nil, nats.ErrConsumerNotFound
	}
	return &nats.ConsumerInfo{}, nil
}

func (m *mockJetStream) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[stream+"/"+cfg.Durable] = cfg
	return &nats.ConsumerInfo{}, nil
}

func (m *mockJetStream) Publish(subject string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishAttempts++
	if m.publishFailures > 0 {
		m.publishFailures--
		return nil, nats.ErrConnectionClosed
	}
	m.published[subject] = append(m.published[subject], data)
	return &nats.PubAck{Stream: "mock"}, nil
}

func (m *mockJetStream) PullSubscribe(subject, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	return &mockSubscription{js: m}, nil
}

func (m *mockJetStream) lastPublished(t *testing.T, subject string) *ResultMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.published[subject]
	require.NotEmpty(t, msgs, "expected a publish on %s", subject)

	var result ResultMessage
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &result))
	return &result
}

type mockSubscription struct {
	js *mockJetStream
}

func (s *mockSubscription) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	s.js.mu.Lock()
	defer s.js.mu.Unlock()
	if len(s.js.pending) == 0 {
		return nil, nats.ErrTimeout
	}
	if batch > len(s.js.pending) {
		batch = len(s.js.pending)
	}
	msgs := s.js.pending[:batch]
	s.js.pending = s.js.pending[batch:]
	return msgs, nil
}

func (s *mockSubscription) Unsubscribe() error { return nil }

type mockBlobStorage struct {
	uploads map[string][]byte
	err     error
}

func (m *mockBlobStorage) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}
	m.uploads[blobPath] = data
	return "https://blobs.local/" + blobPath, nil
}

func (m *mockBlobStorage) DownloadResult(ctx context.Context, blobURL string) ([]byte, error) {
	return nil, nil
}

func workMessage(t *testing.T) *Message {
	t.Helper()
	msg := NewMessage("corr-1").
		WithWorkflow("exec-1", "wf-1", "").
		WithNode("node-1", "plugin-pyrunner").
		WithPayload(json.RawMessage(`{"code":"print(1)"}`), nil)

	// Round-trip through bytes so the message looks like one pulled from
	// the stream (minus the ack handle).
	data, err := msg.ToBytes()
	require.NoError(t, err)
	restored, err := FromBytes(data)
	require.NoError(t, err)
	return restored
}

func TestMessageService_EnsureStreamIdempotent(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	require.NoError(t, svc.EnsureStream(context.Background(), "WORK", []string{"work.>"}))
	require.NoError(t, svc.EnsureStream(context.Background(), "WORK", []string{"work.>"}))

	assert.Len(t, js.streams, 1)
	assert.Equal(t, nats.WorkQueuePolicy, js.streams["WORK"].Retention)
}

func TestMessageService_EnsureConsumer(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)
	svc.SetDeliveryLimits(7, 0)

	require.NoError(t, svc.EnsureConsumer(context.Background(), "WORK", "pyrunner"))

	cfg := js.consumers["WORK/pyrunner"]
	require.NotNil(t, cfg)
	assert.Equal(t, nats.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, 7, cfg.MaxDeliver)
}

func TestMessageService_PublishValidation(t *testing.T) {
	svc := NewMessageService(newMockJetStream(), nil)

	err := svc.Publish(context.Background(), "work", nil)
	require.Error(t, err)

	err = svc.Publish(context.Background(), "", workMessage(t))
	require.Error(t, err)

	err = svc.Publish(context.Background(), "work", NewMessage("corr-x"))
	require.Error(t, err, "message without payload must be rejected")
}

func TestMessageService_Publish(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	require.NoError(t, svc.Publish(context.Background(), "work.pyrunner", workMessage(t)))
	require.Len(t, js.published["work.pyrunner"], 1)

	restored, err := FromBytes(js.published["work.pyrunner"][0])
	require.NoError(t, err)
	assert.Equal(t, "corr-1", restored.CorrelationID)
}

func TestMessageService_PullMessages(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	valid, err := workMessage(t).ToBytes()
	require.NoError(t, err)
	js.pending = []*nats.Msg{
		{Subject: "work.pyrunner", Data: valid},
		{Subject: "work.pyrunner", Data: []byte("{not json")},
	}

	messages, err := svc.PullMessages(context.Background(), "WORK", "pyrunner", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1, "malformed messages are skipped")
	assert.Equal(t, "corr-1", messages[0].CorrelationID)
	require.NotNil(t, messages[0].GetNATSMsg())
}

func TestMessageService_PullMessagesEmpty(t *testing.T) {
	svc := NewMessageService(newMockJetStream(), nil)

	messages, err := svc.PullMessages(context.Background(), "WORK", "pyrunner", 5)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMessageService_PublishResultExhaustsRetries(t *testing.T) {
	js := newMockJetStream()
	js.publishFailures = 10
	svc := NewMessageService(js, nil)
	svc.SetDeliveryLimits(0, 1)

	err := svc.PublishResult(context.Background(), NewResultMessage("corr-1").WithInlineResult(nil))
	require.Error(t, err)
}

func TestMessageService_ReportSuccessInline(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	msg := workMessage(t)
	require.NoError(t, svc.ReportSuccess(context.Background(), msg, []byte(`{"rows":3}`), 250*time.Millisecond))

	result := js.lastPublished(t, "result")
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "exec-1", result.ExecutionID)
	assert.Equal(t, "node-1", result.NodeID)
	assert.JSONEq(t, `{"rows":3}`, string(result.InlineResult))
	assert.Equal(t, int64(250), result.ExecutionTimeMs)
	assert.Nil(t, result.BlobReference)
}

func TestMessageService_ReportSuccessOffloadsLargeResult(t *testing.T) {
	js := newMockJetStream()
	blob := &mockBlobStorage{}
	svc := NewMessageService(js, nil)
	svc.SetBlobStorage(blob)

	large := make([]byte, maxInlineResultSize+1)
	require.NoError(t, svc.ReportSuccess(context.Background(), workMessage(t), large, time.Second))

	result := js.lastPublished(t, "result")
	assert.Empty(t, result.InlineResult)
	require.NotNil(t, result.BlobReference)
	assert.Equal(t, int64(len(large)), result.BlobReference.SizeBytes)

	_, ok := blob.uploads["results/wf-1/exec-1/node-1.json"]
	assert.True(t, ok, "blob path is derived from workflow identity")
}

func TestMessageService_ReportSuccessLargeResultWithoutBlobStorage(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	large := make([]byte, maxInlineResultSize+1)
	require.NoError(t, svc.ReportSuccess(context.Background(), workMessage(t), large, time.Second))

	// Without blob storage the oversized result is reported as a failure
	// instead of being truncated.
	result := js.lastPublished(t, "result")
	assert.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "RESULT_TOO_LARGE", result.Error.Code)
}

func TestMessageService_ReportErrorPermanent(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	procErr := sdkerrors.NewValidationError("code is required", "MISSING_CODE", nil)
	require.NoError(t, svc.ReportError(context.Background(), workMessage(t), procErr))

	result := js.lastPublished(t, "result")
	assert.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "MISSING_CODE", result.Error.Code)
	assert.False(t, result.Error.Retryable)
}

func TestMessageService_ReportErrorTransient(t *testing.T) {
	js := newMockJetStream()
	svc := NewMessageService(js, nil)

	procErr := sdkerrors.NewInternalError("corr-1", "interpreter host unavailable", "HOST_DOWN", nil)
	require.NoError(t, svc.ReportError(context.Background(), workMessage(t), procErr))

	result := js.lastPublished(t, "result")
	require.NotNil(t, result.Error)
	assert.True(t, result.Error.Retryable)
	assert.Equal(t, string(sdkerrors.Internal), result.Error.Type)
}
