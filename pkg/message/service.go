package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// maxInlineResultSize is the largest result carried inline in a result
// message. Anything bigger is offloaded to blob storage when a blob client
// is configured.
const maxInlineResultSize = 1536 * 1024

// fetchMaxWait bounds a single JetStream fetch when the caller's context
// has no earlier deadline.
const fetchMaxWait = 3 * time.Second

// JSContext is the subset of the JetStream API the service uses. It exists
// so tests can substitute an in-memory implementation.
type JSContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	Publish(subject string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subject, durable string, opts ...nats.SubOpt) (JSSubscription, error)
}

// JSSubscription is the subset of a pull subscription the service uses.
type JSSubscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Unsubscribe() error
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream, opts...)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg, opts...)
}

func (a *natsJSAdapter) ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return a.js.ConsumerInfo(stream, consumer, opts...)
}

func (a *natsJSAdapter) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return a.js.AddConsumer(stream, cfg, opts...)
}

func (a *natsJSAdapter) Publish(subject string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.Publish(subject, data, opts...)
}

func (a *natsJSAdapter) PullSubscribe(subject, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.PullSubscribe(subject, durable, opts...)
	if err != nil {
		return nil, err
	}
	return &natsSubAdapter{sub: sub}, nil
}

type natsSubAdapter struct {
	sub *nats.Subscription
}

func (a *natsSubAdapter) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	return a.sub.Fetch(batch, opts...)
}

func (a *natsSubAdapter) Unsubscribe() error {
	return a.sub.Unsubscribe()
}

// WrapNATSJetStream adapts a real JetStream context to the JSContext seam.
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

// BlobStorageClient stores results too large for inline delivery.
type BlobStorageClient interface {
	UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	DownloadResult(ctx context.Context, blobURL string) ([]byte, error)
}

// MessageService publishes work, pulls it for processing, and reports
// results back to the engine.
type MessageService struct {
	js                JSContext
	logger            *zap.Logger
	maxDeliver        int
	publishMaxRetries int
	resultStream      string
	resultSubject     string
	blobStorage       BlobStorageClient
}

// NewMessageService creates a service over the given JetStream context.
func NewMessageService(js JSContext, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{
		js:                js,
		logger:            logger,
		maxDeliver:        5,
		publishMaxRetries: 3,
		resultStream:      "RESULTS",
		resultSubject:     "result",
	}
}

// SetLogger replaces the service logger.
func (s *MessageService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetBlobStorage enables blob offloading for oversized results.
func (s *MessageService) SetBlobStorage(client BlobStorageClient) {
	s.blobStorage = client
}

// SetResultDestination overrides the stream and subject results are
// published to.
func (s *MessageService) SetResultDestination(stream, subject string) {
	if stream != "" {
		s.resultStream = stream
	}
	if subject != "" {
		s.resultSubject = subject
	}
}

// SetDeliveryLimits overrides consumer redelivery and publish retry counts.
func (s *MessageService) SetDeliveryLimits(maxDeliver, publishMaxRetries int) {
	if maxDeliver > 0 {
		s.maxDeliver = maxDeliver
	}
	if publishMaxRetries > 0 {
		s.publishMaxRetries = publishMaxRetries
	}
}

// EnsureStream creates the stream if it does not exist.
func (s *MessageService) EnsureStream(ctx context.Context, stream string, subjects []string) error {
	if stream == "" {
		return sdkerrors.NewValidationError("stream name is required", "EMPTY_STREAM", nil)
	}

	_, err := s.js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return sdkerrors.NewInternalError("", fmt.Sprintf("failed to look up stream %s", stream), "STREAM_INFO_FAILED", err)
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  subjects,
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return sdkerrors.NewInternalError("", fmt.Sprintf("failed to create stream %s", stream), "STREAM_CREATE_FAILED", err)
	}

	s.logger.Info("Created stream",
		zap.String("stream", stream),
		zap.Strings("subjects", subjects))
	return nil
}

// EnsureConsumer creates a durable pull consumer if it does not exist.
func (s *MessageService) EnsureConsumer(ctx context.Context, stream, consumer string) error {
	if stream == "" || consumer == "" {
		return sdkerrors.NewValidationError("stream and consumer names are required", "EMPTY_CONSUMER", nil)
	}

	_, err := s.js.ConsumerInfo(stream, consumer)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return sdkerrors.NewInternalError("", fmt.Sprintf("failed to look up consumer %s on %s", consumer, stream), "CONSUMER_INFO_FAILED", err)
	}

	_, err = s.js.AddConsumer(stream, &nats.ConsumerConfig{
		Durable:       consumer,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxAckPending: 1000,
		MaxDeliver:    s.maxDeliver,
	})
	if err != nil {
		return sdkerrors.NewInternalError("", fmt.Sprintf("failed to create consumer %s on %s", consumer, stream), "CONSUMER_CREATE_FAILED", err)
	}

	s.logger.Info("Created consumer",
		zap.String("stream", stream),
		zap.String("consumer", consumer))
	return nil
}

// ensureResultStream makes sure the result stream exists before the first
// result is published.
func (s *MessageService) ensureResultStream(ctx context.Context) error {
	return s.EnsureStream(ctx, s.resultStream, []string{s.resultSubject + ".>", s.resultSubject})
}

// Publish sends a work envelope to the given subject, honoring ctx.
func (s *MessageService) Publish(ctx context.Context, subject string, msg *Message) error {
	if subject == "" {
		return sdkerrors.NewValidationError("subject is required", "EMPTY_SUBJECT", nil)
	}
	if msg == nil {
		return sdkerrors.NewValidationError("message is required", "NIL_MESSAGE", nil)
	}
	if err := msg.Validate(); err != nil {
		return sdkerrors.NewValidationError(err.Error(), "INVALID_MESSAGE", err)
	}

	data, err := msg.ToBytes()
	if err != nil {
		return sdkerrors.NewInternalError(msg.CorrelationID, "failed to serialize message", "SERIALIZE_FAILED", err)
	}

	done := make(chan error, 1)
	go func() {
		_, pubErr := s.js.Publish(subject, data)
		done <- pubErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return sdkerrors.NewInternalError(msg.CorrelationID, fmt.Sprintf("failed to publish to %s", subject), "PUBLISH_FAILED", err)
		}
		return nil
	case <-ctx.Done():
		return sdkerrors.NewInternalError(msg.CorrelationID, "publish cancelled", "PUBLISH_CANCELLED", ctx.Err())
	}
}

// PullMessages fetches up to batch messages from a durable pull consumer.
// An empty slice (not an error) is returned when nothing is pending.
// Malformed messages are negatively acknowledged and skipped.
func (s *MessageService) PullMessages(ctx context.Context, stream, consumer string, batch int) ([]*Message, error) {
	if stream == "" || consumer == "" {
		return nil, sdkerrors.NewValidationError("stream and consumer names are required", "EMPTY_CONSUMER", nil)
	}
	if batch <= 0 {
		batch = 1
	}

	sub, err := s.js.PullSubscribe("", consumer, nats.Bind(stream, consumer))
	if err != nil {
		return nil, sdkerrors.NewInternalError("", fmt.Sprintf("failed to bind consumer %s on %s", consumer, stream), "PULL_SUBSCRIBE_FAILED", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Failed to unsubscribe pull consumer", zap.Error(err))
		}
	}()

	maxWait := fetchMaxWait
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < maxWait {
			maxWait = remaining
		}
	}
	if maxWait <= 0 {
		return nil, sdkerrors.NewInternalError("", "no time left to fetch messages", "FETCH_DEADLINE", ctx.Err())
	}

	rawMsgs, err := sub.Fetch(batch, nats.MaxWait(maxWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return []*Message{}, nil
		}
		return nil, sdkerrors.NewInternalError("", "failed to fetch messages", "FETCH_FAILED", err)
	}

	messages := make([]*Message, 0, len(rawMsgs))
	for _, raw := range rawMsgs {
		msg, err := FromNATSMsg(raw)
		if err != nil {
			s.logger.Warn("Dropping malformed message",
				zap.String("subject", raw.Subject),
				zap.Error(err))
			if nakErr := raw.Nak(); nakErr != nil {
				s.logger.Debug("Failed to nak malformed message", zap.Error(nakErr))
			}
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// PublishResult publishes a result message with retries.
func (s *MessageService) PublishResult(ctx context.Context, result *ResultMessage) error {
	if result == nil {
		return sdkerrors.NewValidationError("result is required", "NIL_RESULT", nil)
	}
	if err := s.ensureResultStream(ctx); err != nil {
		return err
	}

	data, err := result.ToBytes()
	if err != nil {
		return sdkerrors.NewInternalError(result.CorrelationID, "failed to serialize result", "RESULT_SERIALIZE_FAILED", err)
	}

	subject := s.resultSubject
	var lastErr error
	for attempt := 1; attempt <= s.publishMaxRetries; attempt++ {
		if _, lastErr = s.js.Publish(subject, data); lastErr == nil {
			return nil
		}
		s.logger.Warn("Result publish failed, retrying",
			zap.String("correlation_id", result.CorrelationID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == s.publishMaxRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return sdkerrors.NewInternalError(result.CorrelationID, "result publish cancelled", "RESULT_PUBLISH_CANCELLED", ctx.Err())
		}
	}
	return sdkerrors.NewInternalError(result.CorrelationID, "failed to publish result after retries", "RESULT_PUBLISH_FAILED", lastErr)
}

// ReportSuccess publishes a completed result for msg and acknowledges it.
// Results above the inline threshold are offloaded to blob storage when a
// blob client is configured; without one, oversized results fail over to
// error reporting rather than being silently truncated.
func (s *MessageService) ReportSuccess(ctx context.Context, msg *Message, resultData []byte, executionTime time.Duration) error {
	if msg == nil {
		return sdkerrors.NewValidationError("message is required", "NIL_MESSAGE", nil)
	}

	result := NewResultMessage(msg.CorrelationID).WithExecution(msg.Payload)
	result.ExecutionTimeMs = executionTime.Milliseconds()

	if len(resultData) <= maxInlineResultSize {
		result.WithInlineResult(resultData)
	} else {
		if s.blobStorage == nil {
			err := sdkerrors.NewInternalError(msg.CorrelationID, "result exceeds inline limit and no blob storage is configured", "RESULT_TOO_LARGE", nil)
			return s.ReportError(ctx, msg, err)
		}

		blobPath := resultBlobPath(msg.Payload, msg.CorrelationID)
		metadata := map[string]string{
			"correlationId": msg.CorrelationID,
		}
		if msg.Payload != nil {
			metadata["executionId"] = msg.Payload.ExecutionID
			metadata["nodeId"] = msg.Payload.NodeID
		}

		url, err := s.blobStorage.UploadResult(ctx, blobPath, resultData, metadata)
		if err != nil {
			s.logger.Error("Blob upload failed for oversized result",
				zap.String("correlation_id", msg.CorrelationID),
				zap.Int("size", len(resultData)),
				zap.Error(err))
			return s.ReportError(ctx, msg, sdkerrors.NewInternalError(msg.CorrelationID, "failed to offload result to blob storage", "BLOB_UPLOAD_FAILED", err))
		}
		result.WithBlobReference(url, int64(len(resultData)))
	}

	if err := s.PublishResult(ctx, result); err != nil {
		return err
	}

	if err := msg.Ack(); err != nil {
		return sdkerrors.NewInternalError(msg.CorrelationID, "failed to ack message after success", "ACK_FAILED", err)
	}

	s.logger.Info("Reported success",
		zap.String("correlation_id", msg.CorrelationID),
		zap.Int64("result_size", result.ResultSize),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs))
	return nil
}

// ReportError publishes a failed result for msg. Transient errors are
// negatively acknowledged so JetStream redelivers; permanent errors are
// acknowledged so the message never comes back.
func (s *MessageService) ReportError(ctx context.Context, msg *Message, procErr error) error {
	if msg == nil {
		return sdkerrors.NewValidationError("message is required", "NIL_MESSAGE", nil)
	}
	if procErr == nil {
		procErr = errors.New("unknown processing error")
	}

	code := "PROCESSING_FAILED"
	errType := string(sdkerrors.Internal)
	var appErr *sdkerrors.AppError
	if errors.As(procErr, &appErr) {
		if appErr.Code != "" {
			code = appErr.Code
		}
		errType = string(appErr.Type)
	}
	transient := sdkerrors.IsTransient(procErr)

	result := NewResultMessage(msg.CorrelationID).
		WithExecution(msg.Payload).
		WithError(code, procErr.Error(), errType, transient)

	if err := s.PublishResult(ctx, result); err != nil {
		s.logger.Error("Failed to publish error result",
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(err))
	}

	if transient {
		if err := msg.Nak(); err != nil {
			return sdkerrors.NewInternalError(msg.CorrelationID, "failed to nak message", "NAK_FAILED", err)
		}
		s.logger.Warn("Reported transient failure, message will be redelivered",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("code", code),
			zap.Error(procErr))
		return nil
	}

	if err := msg.Ack(); err != nil {
		return sdkerrors.NewInternalError(msg.CorrelationID, "failed to ack message after permanent failure", "ACK_FAILED", err)
	}
	s.logger.Error("Reported permanent failure",
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("code", code),
		zap.Error(procErr))
	return nil
}

// resultBlobPath builds the storage path for an offloaded result.
func resultBlobPath(p *Payload, correlationID string) string {
	workflowID := "unknown"
	executionID := correlationID
	nodeID := correlationID
	if p != nil {
		if p.WorkflowID != "" {
			workflowID = p.WorkflowID
		}
		if p.ExecutionID != "" {
			executionID = p.ExecutionID
		}
		if p.NodeID != "" {
			nodeID = p.NodeID
		}
	}
	return fmt.Sprintf("results/%s/%s/%s.json", workflowID, executionID, nodeID)
}
