// Package tracing exports container and kernel spans over OTLP/gRPC.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/moolen/citadel/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Provider owns the process TracerProvider and runs as a kernel.Service.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	logger         *logging.Logger
	enabled        bool
}

// Config holds tracing configuration
type Config struct {
	Enabled bool

	// Endpoint is the OTLP gRPC collector, e.g. "otel-collector:4317".
	// Ignored when Exporter is set.
	Endpoint    string
	TLSCAPath   string
	TLSInsecure bool

	// InstanceName is reported as service.instance.id
	InstanceName   string
	ServiceVersion string

	// SampleRatio is the fraction of root spans recorded. 0 records all.
	SampleRatio float64

	// Exporter replaces the OTLP exporter, e.g. with an in-memory one
	Exporter sdktrace.SpanExporter
}

// NewProvider creates the tracing provider. A disabled config yields a
// provider whose tracers are no-ops.
func NewProvider(cfg Config) (*Provider, error) {
	logger := logging.GetLogger("tracing")

	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		return &Provider{logger: logger}, nil
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio %v out of range [0,1]", cfg.SampleRatio)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter := cfg.Exporter
	syncExport := exporter != nil
	if exporter == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("tracing enabled but endpoint not configured")
		}
		otlpOptions, err := exporterOptions(cfg, logger)
		if err != nil {
			return nil, err
		}
		exporter, err = otlptracegrpc.New(ctx, otlpOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if syncExport {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	} else {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tracerProvider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracerProvider)

	if syncExport {
		logger.Info("Tracing initialized with custom exporter")
	} else {
		logger.Info("Tracing initialized with endpoint: %s", cfg.Endpoint)
	}

	return &Provider{
		tracerProvider: tracerProvider,
		logger:         logger,
		enabled:        true,
	}, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName("citadel"),
		semconv.ServiceVersion(version),
	}
	if cfg.InstanceName != "" {
		attrs = append(attrs, attribute.String("service.instance.id", cfg.InstanceName))
	}
	return attrs
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio == 0 || ratio == 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func exporterOptions(cfg Config, logger *logging.Logger) ([]otlptracegrpc.Option, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}

	if cfg.TLSCAPath == "" && !cfg.TLSInsecure {
		logger.Info("TLS disabled for tracing")
		return append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		), nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSInsecure {
		tlsConfig.InsecureSkipVerify = true
		logger.Warn("Tracing collector certificate is not verified")
	} else {
		caCert, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAPath)
		}
		tlsConfig.RootCAs = certPool
		logger.Info("Tracing collector verified with CA from: %s", cfg.TLSCAPath)
	}

	return append(opts,
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig))),
	), nil
}

// Start implements kernel.Service
func (p *Provider) Start(ctx context.Context) error {
	p.logger.Debug("Tracing provider started (enabled=%v)", p.enabled)
	return nil
}

// Stop flushes remaining spans.
func (p *Provider) Stop(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider: %v", err)
		return err
	}
	p.logger.Info("Tracing provider stopped")
	return nil
}

// Name implements kernel.Service
func (p *Provider) Name() string {
	return "tracing"
}

// Tracer returns a named tracer. Disabled providers return a no-op tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || !p.enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// IsEnabled returns whether tracing is enabled
func (p *Provider) IsEnabled() bool {
	return p != nil && p.enabled
}
