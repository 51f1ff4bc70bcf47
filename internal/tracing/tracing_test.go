package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTLSConfiguration(t *testing.T) {
	badCA := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(badCA, []byte("not a certificate"), 0o600))

	tests := []struct {
		name        string
		cfg         Config
		expectError bool
	}{
		{
			name: "TLS with insecure skip verify",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:        "TLS with missing CA certificate",
			cfg:         Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/path/to/ca.crt"},
			expectError: true,
		},
		{
			name:        "TLS with invalid CA certificate",
			cfg:         Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: badCA},
			expectError: true,
		},
		{
			name: "No TLS",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317"},
		},
		{
			name:        "Enabled without endpoint",
			cfg:         Config{Enabled: true},
			expectError: true,
		},
		{
			name:        "Sample ratio out of range",
			cfg:         Config{Enabled: true, Endpoint: "localhost:4317", SampleRatio: 1.5},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, provider.IsEnabled())

			ctx, cancel := context.WithTimeout(context.Background(), 0)
			defer cancel()
			_ = provider.Stop(ctx)
		})
	}
}

func TestDisabledProvider(t *testing.T) {
	provider, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.False(t, provider.IsEnabled())
	assert.Equal(t, "tracing", provider.Name())

	require.NoError(t, provider.Start(context.Background()))
	_, span := provider.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid(), "disabled provider must produce no-op spans")
	span.End()
	assert.NoError(t, provider.Stop(context.Background()))
}

func TestCustomExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, err := NewProvider(Config{
		Enabled:      true,
		Exporter:     exporter,
		InstanceName: "edge-1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Stop(context.Background()) })

	_, span := provider.Tracer("citadel/container").Start(context.Background(), "container.commission")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "container.commission", spans[0].Name)

	var instance string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.instance.id" {
			instance = kv.Value.AsString()
		}
	}
	assert.Equal(t, "edge-1", instance)
}
