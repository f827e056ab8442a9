package runner

import (
	"github.com/wehubfusion/Daedalus/internal/tracing"
)

// TracingConfig is the public mirror of the internal tracing settings.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
}

// DefaultTracingConfig returns a disabled tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return fromInternalConfig(tracing.DefaultConfig())
}

// JaegerTracingConfig returns a configuration targeting a local Jaeger
// instance with OTLP ingestion.
func JaegerTracingConfig(serviceName string) TracingConfig {
	return fromInternalConfig(tracing.JaegerConfig(serviceName))
}

func (c TracingConfig) toInternalConfig() tracing.Config {
	return tracing.Config{
		Enabled:        c.Enabled,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTLPEndpoint,
		SampleRate:     c.SampleRate,
	}
}

func fromInternalConfig(c tracing.Config) TracingConfig {
	return TracingConfig{
		Enabled:        c.Enabled,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTLPEndpoint,
		SampleRate:     c.SampleRate,
	}
}
