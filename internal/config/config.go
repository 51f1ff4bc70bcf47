package config

import (
	"fmt"
	"net"
	"time"
)

// Config holds process settings for the citadel kernel
type Config struct {
	// AssemblyPath is the YAML assembly file to deploy
	AssemblyPath string

	// Watch reloads the assembly when the file changes
	Watch bool

	// WatchDebounce coalesces file events before a reload
	WatchDebounce time.Duration

	// MetricsAddr is the listen address for /metrics. Empty disables the server.
	MetricsAddr string

	// InstanceName labels every metric emitted by this process
	InstanceName string

	// MaxParallel bounds concurrent commissioning within one rank (0 = unbounded)
	MaxParallel int

	// ShutdownTimeout bounds the stop of each kernel service
	ShutdownTimeout time.Duration

	// TracingEnabled indicates whether OpenTelemetry tracing is enabled
	TracingEnabled bool

	// TracingEndpoint is the OTLP gRPC endpoint for trace export
	TracingEndpoint string

	// TracingTLSCAPath is the path to the CA certificate for TLS verification
	TracingTLSCAPath string

	// TracingTLSInsecure skips TLS verification of the collector
	TracingTLSInsecure bool

	// TracingSampleRatio is the fraction of root spans recorded (0 = all)
	TracingSampleRatio float64
}

// Default returns a Config with the defaults used by the CLI
func Default() *Config {
	return &Config{
		AssemblyPath:    "assembly.yaml",
		WatchDebounce:   500 * time.Millisecond,
		MetricsAddr:     ":9090",
		InstanceName:    "citadel",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.AssemblyPath == "" {
		return NewConfigError("AssemblyPath must not be empty")
	}

	if c.Watch && c.WatchDebounce < 10*time.Millisecond {
		return NewConfigError("WatchDebounce must be at least 10ms when watching")
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return NewConfigError(fmt.Sprintf("MetricsAddr %q is not a host:port address", c.MetricsAddr))
		}
	}

	if c.MaxParallel < 0 {
		return NewConfigError("MaxParallel must not be negative")
	}

	if c.ShutdownTimeout <= 0 {
		return NewConfigError("ShutdownTimeout must be positive")
	}

	if c.TracingEnabled && c.TracingEndpoint == "" {
		return NewConfigError("TracingEndpoint must be set when tracing is enabled")
	}

	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return NewConfigError("TracingSampleRatio must be between 0 and 1")
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
