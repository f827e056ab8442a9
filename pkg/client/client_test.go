package client

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/message"
)

// stubJetStream satisfies message.JSContext without a broker.
type stubJetStream struct{}

func (stubJetStream) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return nil, nats.ErrStreamNotFound
}

func (stubJetStream) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return &nats.StreamInfo{}, nil
}

func (stubJetStream) ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return nil, nats.ErrConsumerNotFound
}

func (stubJetStream) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return &nats.ConsumerInfo{}, nil
}

func (stubJetStream) Publish(subject string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return &nats.PubAck{}, nil
}

func (stubJetStream) PullSubscribe(subject, durable string, opts ...nats.SubOpt) (message.JSSubscription, error) {
	return nil, nats.ErrConsumerNotFound
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "daedalus-client", cfg.Name)
	assert.Equal(t, "RESULTS", cfg.ResultStream)
	assert.Equal(t, "result", cfg.ResultSubject)
	assert.Equal(t, 5, cfg.MaxDeliver)
}

func TestNewClientWithJSContext(t *testing.T) {
	c := NewClientWithJSContext(stubJetStream{})
	require.NotNil(t, c.Messages)
	assert.False(t, c.IsConnected())

	// Already wired; a second Connect must be rejected.
	err := c.Connect(context.Background())
	require.Error(t, err)
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("")

	_, err := c.Stats()
	assert.ErrorIs(t, err, sdkerrors.ErrNotConnected)
	assert.ErrorIs(t, c.Ping(context.Background()), sdkerrors.ErrNotConnected)
	assert.NoError(t, c.Close(), "closing an unconnected client is a no-op")
}

func TestClient_SetLogger(t *testing.T) {
	c := NewClientWithJSContext(stubJetStream{})
	c.SetLogger(zap.NewNop())
	c.SetLogger(nil) // ignored
	require.NotNil(t, c.Messages)
}

func TestNewClient_URLOverride(t *testing.T) {
	c := NewClient("nats://example:4222")
	assert.Equal(t, "nats://example:4222", c.config.URL)

	d := NewClient("")
	assert.Equal(t, nats.DefaultURL, d.config.URL)
}
