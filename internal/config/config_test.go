package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "metrics disabled", mutate: func(c *Config) { c.MetricsAddr = "" }},
		{name: "empty assembly", mutate: func(c *Config) { c.AssemblyPath = "" }, wantErr: "AssemblyPath"},
		{name: "bad metrics addr", mutate: func(c *Config) { c.MetricsAddr = "9090" }, wantErr: "MetricsAddr"},
		{name: "negative parallel", mutate: func(c *Config) { c.MaxParallel = -1 }, wantErr: "MaxParallel"},
		{name: "zero shutdown", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: "ShutdownTimeout"},
		{
			name:    "tiny debounce",
			mutate:  func(c *Config) { c.Watch = true; c.WatchDebounce = time.Millisecond },
			wantErr: "WatchDebounce",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.TracingEnabled = true },
			wantErr: "TracingEndpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
