// Package kernel owns the process-level pieces of a citadel deployment: the
// root container tree, the factory registry, tracing, the metrics endpoint
// and the assembly watcher.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/moolen/citadel/internal/apiserver"
	"github.com/moolen/citadel/internal/config"
	"github.com/moolen/citadel/internal/container"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/logging"
	"github.com/moolen/citadel/internal/metrics"
	"github.com/moolen/citadel/internal/registry"
	"github.com/moolen/citadel/internal/tracing"
)

// Options configures a Kernel. Zero fields get defaults.
type Options struct {
	Config *config.Config

	// Factories resolves type tags. Default: registry.DefaultFactories()
	Factories *registry.FactoryRegistry

	// Registry receives the kernel's collectors and is served on /metrics.
	// Default: a fresh registry with the Go and process collectors.
	Registry *prometheus.Registry

	// ServiceVersion is reported to the tracing backend
	ServiceVersion string

	// SpanExporter replaces the OTLP exporter when tracing is enabled
	SpanExporter sdktrace.SpanExporter
}

// Kernel deploys assemblies into a container tree and runs the services
// around it.
type Kernel struct {
	cfg       *config.Config
	factories *registry.FactoryRegistry
	promReg   *prometheus.Registry
	metrics   *metrics.Metrics
	tracing   *tracing.Provider
	services  *Manager
	http      *apiserver.Server
	watcher   *config.AssemblyWatcher
	logger    *logging.Logger

	mu       sync.Mutex
	root     *container.Container
	assembly *config.Assembly
	initial  *config.Assembly

	// current mirrors root for readers that must not wait on a reload
	current atomic.Pointer[container.Container]
}

// New validates the configuration and wires the kernel services. Nothing
// runs until Start.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	k := &Kernel{
		cfg:       cfg,
		factories: opts.Factories,
		promReg:   opts.Registry,
		services:  NewManager(),
		logger:    logging.GetLogger("kernel"),
	}
	if k.factories == nil {
		k.factories = registry.DefaultFactories()
	}
	if k.promReg == nil {
		k.promReg = prometheus.NewRegistry()
		k.promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	k.metrics = metrics.NewMetrics(k.promReg, cfg.InstanceName)
	k.services.SetShutdownTimeout(cfg.ShutdownTimeout)

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:        cfg.TracingEnabled,
		Endpoint:       cfg.TracingEndpoint,
		TLSCAPath:      cfg.TracingTLSCAPath,
		TLSInsecure:    cfg.TracingTLSInsecure,
		InstanceName:   cfg.InstanceName,
		ServiceVersion: opts.ServiceVersion,
		SampleRatio:    cfg.TracingSampleRatio,
		Exporter:       opts.SpanExporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing provider: %w", err)
	}
	k.tracing = tp

	if err := k.services.Register(k.tracing); err != nil {
		return nil, err
	}
	tree := &treeService{k: k}
	if err := k.services.Register(tree, k.tracing); err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		k.http = apiserver.New(cfg.MetricsAddr, k.promReg, apiserver.ReadinessFunc(k.ready))
		if err := k.services.Register(k.http, tree); err != nil {
			return nil, err
		}
	}

	if cfg.Watch {
		k.watcher, err = config.NewAssemblyWatcher(config.WatcherOptions{
			Path:     cfg.AssemblyPath,
			Debounce: cfg.WatchDebounce,
		}, k.Reload)
		if err != nil {
			return nil, err
		}
		if err := k.services.Register(k.watcher, tree); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// Start runs the kernel services and deploys assembly.
func (k *Kernel) Start(ctx context.Context, assembly *config.Assembly) error {
	k.mu.Lock()
	k.initial = assembly
	k.mu.Unlock()
	return k.services.Start(ctx)
}

// Stop decommissions the tree and stops the kernel services in reverse order.
func (k *Kernel) Stop(ctx context.Context) error {
	return k.services.Stop(ctx)
}

// Deploy builds and commissions assembly. Returns an InvalidState error when
// a tree is already deployed; use Reload to replace it.
func (k *Kernel) Deploy(ctx context.Context, assembly *config.Assembly) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root != nil {
		return cterrors.NewInvalidStateError(k.root.Path(), "an assembly is already deployed")
	}
	return k.deployLocked(ctx, assembly)
}

func (k *Kernel) deployLocked(ctx context.Context, assembly *config.Assembly) error {
	ctx, span := k.tracing.Tracer("citadel/kernel").Start(ctx, "kernel.Deploy")
	defer span.End()

	root, err := Assemble(assembly, k.containerOptions())
	if err != nil {
		span.RecordError(err)
		return err
	}
	if _, err := Verify(root, k.factories); err != nil {
		span.RecordError(err)
		return err
	}
	if err := root.Commission(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	k.root = root
	k.assembly = assembly
	k.current.Store(root)
	k.logger.Info("Deployed assembly %s (%d containers)", root.Name(), countContainers(root))
	return nil
}

// Reload replaces the deployed tree with one built from assembly: the new
// tree is assembled and verified, the current tree is decommissioned and the
// new one commissioned. If the new tree fails to commission, the previous
// assembly is redeployed and the commission error returned.
func (k *Kernel) Reload(ctx context.Context, assembly *config.Assembly) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	candidate, err := Assemble(assembly, k.containerOptions())
	if err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}
	if _, err := Verify(candidate, k.factories); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}

	previous := k.assembly
	if k.root != nil {
		k.logger.Info("Reloading: decommissioning %s", k.root.Path())
		if report := k.root.Decommission(ctx); !report.Empty() {
			k.logger.Warn("Decommission during reload reported %d errors: %v", len(report.Errors), report.Err())
		}
		k.root = nil
		k.assembly = nil
		k.current.Store(nil)
	}

	if err := k.deployLocked(ctx, assembly); err != nil {
		k.logger.Error("Reload failed: %v", err)
		if previous != nil {
			if rerr := k.deployLocked(ctx, previous); rerr != nil {
				k.logger.Error("Failed to restore previous assembly: %v", rerr)
			} else {
				k.logger.Info("Previous assembly restored")
			}
		}
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// Decommission tears the deployed tree down and returns its disposal report.
func (k *Kernel) Decommission(ctx context.Context) container.DisposalReport {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root == nil {
		return container.DisposalReport{}
	}
	report := k.root.Decommission(ctx)
	k.root = nil
	k.assembly = nil
	k.current.Store(nil)
	return report
}

// Root returns the deployed root container, or nil. It does not wait for
// an ongoing reload.
func (k *Kernel) Root() *container.Container {
	return k.current.Load()
}

// Assembly returns the deployed assembly, or nil.
func (k *Kernel) Assembly() *config.Assembly {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.assembly
}

// Factories returns the registry resolving type tags.
func (k *Kernel) Factories() *registry.FactoryRegistry {
	return k.factories
}

// Metrics returns the kernel's collectors.
func (k *Kernel) Metrics() *metrics.Metrics {
	return k.metrics
}

// Gatherer exposes the prometheus registry served on /metrics.
func (k *Kernel) Gatherer() prometheus.Gatherer {
	return k.promReg
}

// HTTPAddr returns the bound metrics address, or "" when disabled.
func (k *Kernel) HTTPAddr() string {
	if k.http == nil {
		return ""
	}
	return k.http.Addr()
}

// Services lists the kernel services in start order.
func (k *Kernel) Services() []string {
	return k.services.Services()
}

func (k *Kernel) ready() bool {
	root := k.Root()
	return root != nil && root.State() == lifecycle.Started
}

func (k *Kernel) containerOptions() container.Options {
	return container.Options{
		MaxParallel: k.cfg.MaxParallel,
		Factories:   k.factories,
		Metrics:     k.metrics,
		Tracer:      k.tracing.Tracer("citadel/container"),
	}
}

func countContainers(root *container.Container) int {
	n := 0
	_ = root.Walk(func(*container.Container) error {
		n++
		return nil
	})
	return n
}

// treeService deploys the initial assembly on Start and decommissions the
// tree on Stop.
type treeService struct {
	k *Kernel
}

func (t *treeService) Name() string {
	return "containers"
}

func (t *treeService) Start(ctx context.Context) error {
	t.k.mu.Lock()
	initial := t.k.initial
	t.k.mu.Unlock()

	if initial == nil {
		return fmt.Errorf("no assembly to deploy")
	}
	return t.k.Deploy(ctx, initial)
}

func (t *treeService) Stop(ctx context.Context) error {
	report := t.k.Decommission(ctx)
	if !report.Empty() {
		return report.Err()
	}
	return nil
}
