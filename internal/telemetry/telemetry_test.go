package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled local", func(c *Config) { c.Enabled = true }, false},
		{"insecure remote rejected", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote allowed", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"bad sample rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, true},
		{"ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{Enabled: true, Endpoint: "collector:4318", Protocol: "http/protobuf"}, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "pagesmith", cfg.ServiceName)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	degraded, _ := tel.Degraded()
	assert.False(t, degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(context.Background(), "workflow.code_generation")
	span.SetAttributes(attribute.String("step", "code_generation"))
	span.End()

	counter, err := tel.Meter("test").Int64Counter("pagesmith.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 2, metricAttrs("ok"))
	counter.Add(context.Background(), 1, metricAttrs("failed"))

	tel.AssertSpanExists(t, "workflow.code_generation")
	tel.AssertSpanAttribute(t, "workflow.code_generation", "step", "code_generation")
	assert.Equal(t, int64(3), tel.CounterTotal(t, "pagesmith.test.count"))
	assert.Equal(t, int64(2), tel.CounterTotal(t, "pagesmith.test.count", attribute.String("outcome", "ok")))
}

func metricAttrs(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
