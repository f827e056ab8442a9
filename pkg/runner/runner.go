// Package runner pulls work from JetStream, hands it to a processor, and
// reports results. It owns the worker pool, tracing, and failure capture.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/client"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/message"
)

// Processor handles a single work message and returns the serialized result.
type Processor interface {
	Process(ctx context.Context, msg *message.Message) ([]byte, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, msg *message.Message) ([]byte, error)

func (f ProcessorFunc) Process(ctx context.Context, msg *message.Message) ([]byte, error) {
	return f(ctx, msg)
}

const (
	defaultProcessTimeout = 5 * time.Minute
	reportTimeout         = 5 * time.Second
	idleWait              = 500 * time.Millisecond
	pullBackoffInitial    = 100 * time.Millisecond
	pullBackoffMax        = 5 * time.Second
)

// Runner drives the pull/process/report loop.
type Runner struct {
	client         *client.Client
	stream         string
	consumer       string
	subjects       []string
	processor      Processor
	numWorkers     int
	processTimeout time.Duration
	logger         *zap.Logger

	tracer         trace.Tracer
	tracingConfig  TracingConfig
	tracerProvider *sdktrace.TracerProvider

	sentryDSN     string
	sentryEnabled bool
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProcessTimeout bounds a single processor invocation.
func WithProcessTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.processTimeout = d
		}
	}
}

// WithTracing enables OTLP trace export for the runner.
func WithTracing(cfg TracingConfig) Option {
	return func(r *Runner) {
		r.tracingConfig = cfg
	}
}

// WithSentry enables failure capture to Sentry. An empty DSN leaves capture
// disabled.
func WithSentry(dsn string) Option {
	return func(r *Runner) {
		r.sentryDSN = dsn
	}
}

// NewRunner validates the wiring and provisions the stream and consumer.
func NewRunner(ctx context.Context, cli *client.Client, stream, consumer string, subjects []string, processor Processor, numWorkers int, opts ...Option) (*Runner, error) {
	if cli == nil {
		return nil, sdkerrors.NewValidationError("client is required", "NIL_CLIENT", nil)
	}
	if cli.Messages == nil {
		return nil, sdkerrors.NewValidationError("client is not connected", "NOT_CONNECTED", nil)
	}
	if stream == "" || consumer == "" {
		return nil, sdkerrors.NewValidationError("stream and consumer names are required", "EMPTY_CONSUMER", nil)
	}
	if processor == nil {
		return nil, sdkerrors.NewValidationError("processor is required", "NIL_PROCESSOR", nil)
	}
	if numWorkers <= 0 {
		numWorkers = 4
	}

	r := &Runner{
		client:         cli,
		stream:         stream,
		consumer:       consumer,
		subjects:       subjects,
		processor:      processor,
		numWorkers:     numWorkers,
		processTimeout: defaultProcessTimeout,
		logger:         zap.NewNop(),
		tracingConfig:  DefaultTracingConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := cli.Messages.EnsureStream(ctx, stream, subjects); err != nil {
		return nil, err
	}
	if err := cli.Messages.EnsureConsumer(ctx, stream, consumer); err != nil {
		return nil, err
	}

	if r.tracingConfig.Enabled {
		provider, err := tracing.SetupTracing(ctx, r.tracingConfig.toInternalConfig())
		if err != nil {
			return nil, sdkerrors.NewInternalError("", "failed to set up tracing", "TRACING_SETUP_FAILED", err)
		}
		r.tracerProvider = provider
	}
	r.tracer = otel.Tracer("daedalus/runner")

	if r.sentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         r.sentryDSN,
			Environment: r.tracingConfig.Environment,
			Release:     r.tracingConfig.ServiceVersion,
		})
		if err != nil {
			return nil, sdkerrors.NewInternalError("", "failed to initialize sentry", "SENTRY_INIT_FAILED", err)
		}
		r.sentryEnabled = true
	}

	return r, nil
}

// Run pulls and processes messages until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner starting",
		zap.String("stream", r.stream),
		zap.String("consumer", r.consumer),
		zap.Int("workers", r.numWorkers))

	msgChan := make(chan *message.Message, r.numWorkers*2)

	var wg sync.WaitGroup
	for i := 0; i < r.numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for msg := range msgChan {
				r.processMessage(ctx, msg, id)
			}
		}(i)
	}

	r.pullLoop(ctx, msgChan)
	close(msgChan)
	wg.Wait()

	r.shutdown()
	r.logger.Info("Runner stopped")
	return ctx.Err()
}

func (r *Runner) pullLoop(ctx context.Context, msgChan chan<- *message.Message) {
	backoff := pullBackoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := r.client.Messages.PullMessages(ctx, r.stream, r.consumer, r.numWorkers)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("Pull failed, backing off",
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > pullBackoffMax {
				backoff = pullBackoffMax
			}
			continue
		}
		backoff = pullBackoffInitial

		if len(messages) == 0 {
			select {
			case <-time.After(idleWait):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range messages {
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Runner) processMessage(ctx context.Context, msg *message.Message, workerID int) {
	spanCtx, span := r.tracer.Start(ctx, "runner.process",
		trace.WithAttributes(
			attribute.String("messaging.correlation_id", msg.CorrelationID),
			attribute.Int("runner.worker_id", workerID),
		))
	defer span.End()

	if msg.Payload != nil {
		span.SetAttributes(
			attribute.String("node.id", msg.Payload.NodeID),
			attribute.String("node.plugin_type", msg.Payload.PluginType),
			attribute.String("workflow.execution_id", msg.Payload.ExecutionID),
		)
	}

	procCtx, cancel := context.WithTimeout(spanCtx, r.processTimeout)
	start := time.Now()
	result, err := r.processor.Process(procCtx, msg)
	elapsed := time.Since(start)
	cancel()

	// Result reporting must outlive a cancelled processing context.
	reportCtx, reportCancel := context.WithTimeout(context.Background(), reportTimeout)
	defer reportCancel()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.captureFailure(msg, err)

		if reportErr := r.client.Messages.ReportError(reportCtx, msg, err); reportErr != nil {
			r.logger.Error("Failed to report error, nacking directly",
				zap.String("correlation_id", msg.CorrelationID),
				zap.Error(reportErr))
			if nakErr := msg.Nak(); nakErr != nil {
				r.logger.Error("Failed to nak message", zap.Error(nakErr))
			}
		}
		return
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int64("process.duration_ms", elapsed.Milliseconds()))

	if reportErr := r.client.Messages.ReportSuccess(reportCtx, msg, result, elapsed); reportErr != nil {
		r.logger.Error("Failed to report success",
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(reportErr))
		r.captureFailure(msg, reportErr)
		if nakErr := msg.Nak(); nakErr != nil {
			r.logger.Error("Failed to nak message", zap.Error(nakErr))
		}
	}
}

// captureFailure sends execution-pipeline failures to Sentry when enabled.
func (r *Runner) captureFailure(msg *message.Message, err error) {
	if !r.sentryEnabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("correlation_id", msg.CorrelationID)
		if msg.Payload != nil {
			scope.SetTag("node_id", msg.Payload.NodeID)
			scope.SetTag("plugin_type", msg.Payload.PluginType)
		}
		sentry.CaptureException(err)
	})
}

func (r *Runner) shutdown() {
	if r.tracerProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		if err := tracing.ShutdownTracing(shutdownCtx, r.tracerProvider); err != nil {
			r.logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if r.sentryEnabled {
		if !sentry.Flush(2 * time.Second) {
			r.logger.Warn(fmt.Sprintf("Sentry flush timed out after %s", 2*time.Second))
		}
	}
}
