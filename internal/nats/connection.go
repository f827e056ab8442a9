// Package nats manages the underlying NATS connection for the SDK.
package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectionConfig holds the settings for establishing a NATS connection.
type ConnectionConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	// Authentication. Token takes precedence over username/password.
	Token    string
	Username string
	Password string

	// JetStream consumer and publishing behaviour.
	MaxDeliver        int
	PublishMaxRetries int

	// Result reporting destination.
	ResultStream  string
	ResultSubject string
}

// DefaultConnectionConfig returns a config suitable for local development.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		URL:               nats.DefaultURL,
		Name:              "daedalus-client",
		MaxReconnects:     -1,
		ReconnectWait:     2 * time.Second,
		Timeout:           5 * time.Second,
		MaxDeliver:        5,
		PublishMaxRetries: 3,
		ResultStream:      "RESULTS",
		ResultSubject:     "result",
	}
}

// Connect establishes a connection to NATS with the given configuration.
// Reconnection events are logged through the provided logger; a nil logger
// disables event logging.
func Connect(config ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	} else if config.Username != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}

	return conn, nil
}

// WaitForConnection blocks until the connection reports CONNECTED or the
// timeout elapses.
func WaitForConnection(conn *nats.Conn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn.IsConnected() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("connection not established within %s", timeout)
}
