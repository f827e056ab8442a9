// Package client provides the SDK entry point: a NATS-backed client whose
// Messages service pulls work and reports results.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	internalnats "github.com/wehubfusion/Daedalus/internal/nats"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/message"
)

// Config mirrors the connection settings exposed to SDK users.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Token    string
	Username string
	Password string

	MaxDeliver        int
	PublishMaxRetries int
	ResultStream      string
	ResultSubject     string
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	internal := internalnats.DefaultConnectionConfig()
	return Config{
		URL:               internal.URL,
		Name:              internal.Name,
		MaxReconnects:     internal.MaxReconnects,
		ReconnectWait:     internal.ReconnectWait,
		Timeout:           internal.Timeout,
		MaxDeliver:        internal.MaxDeliver,
		PublishMaxRetries: internal.PublishMaxRetries,
		ResultStream:      internal.ResultStream,
		ResultSubject:     internal.ResultSubject,
	}
}

func (c Config) toInternal() internalnats.ConnectionConfig {
	return internalnats.ConnectionConfig{
		URL:               c.URL,
		Name:              c.Name,
		MaxReconnects:     c.MaxReconnects,
		ReconnectWait:     c.ReconnectWait,
		Timeout:           c.Timeout,
		Token:             c.Token,
		Username:          c.Username,
		Password:          c.Password,
		MaxDeliver:        c.MaxDeliver,
		PublishMaxRetries: c.PublishMaxRetries,
		ResultStream:      c.ResultStream,
		ResultSubject:     c.ResultSubject,
	}
}

// Client owns the NATS connection and exposes the message service.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *zap.Logger

	// Messages is available after Connect (or immediately when the client
	// was built around an existing JetStream context).
	Messages *message.MessageService
}

// NewClient creates a client for the given NATS URL with default settings.
func NewClient(url string) *Client {
	cfg := DefaultConfig()
	if url != "" {
		cfg.URL = url
	}
	return NewClientWithConfig(cfg)
}

// NewClientWithConfig creates a client with explicit settings.
func NewClientWithConfig(cfg Config) *Client {
	return &Client{
		config: cfg,
		logger: zap.NewNop(),
	}
}

// NewClientWithJSContext creates a client around an existing JetStream
// context. Intended for tests; Connect must not be called on it.
func NewClientWithJSContext(js message.JSContext) *Client {
	cfg := DefaultConfig()
	c := &Client{
		config: cfg,
		logger: zap.NewNop(),
	}
	c.Messages = message.NewMessageService(js, c.logger)
	c.applyServiceConfig()
	return c
}

// SetLogger replaces the client logger. Call before Connect so connection
// events are captured too.
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	c.logger = logger
	if c.Messages != nil {
		c.Messages.SetLogger(logger)
	}
}

// Connect establishes the NATS connection and initializes the message
// service.
func (c *Client) Connect(ctx context.Context) error {
	if c.Messages != nil {
		return sdkerrors.NewValidationError("client is already connected", "ALREADY_CONNECTED", nil)
	}

	conn, err := internalnats.Connect(c.config.toInternal(), c.logger)
	if err != nil {
		return sdkerrors.NewInternalError("", "failed to connect to NATS", "CONNECT_FAILED", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return sdkerrors.NewInternalError("", "failed to create JetStream context", "JETSTREAM_FAILED", err)
	}

	c.conn = conn
	c.js = js
	c.Messages = message.NewMessageService(message.WrapNATSJetStream(js), c.logger)
	c.applyServiceConfig()

	c.logger.Info("Connected to NATS",
		zap.String("url", c.config.URL),
		zap.String("name", c.config.Name))
	return nil
}

func (c *Client) applyServiceConfig() {
	c.Messages.SetDeliveryLimits(c.config.MaxDeliver, c.config.PublishMaxRetries)
	c.Messages.SetResultDestination(c.config.ResultStream, c.config.ResultSubject)
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Ping verifies the connection with a round trip to the server.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return sdkerrors.ErrNotConnected
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return sdkerrors.NewInternalError("", "ping failed", "PING_FAILED", err)
	}
	return nil
}

// Stats returns connection statistics, or an error when not connected.
func (c *Client) Stats() (nats.Statistics, error) {
	if c.conn == nil {
		return nats.Statistics{}, sdkerrors.ErrNotConnected
	}
	return c.conn.Stats(), nil
}

// Close drains and closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("failed to drain connection: %w", err)
	}
	c.conn = nil
	return nil
}
