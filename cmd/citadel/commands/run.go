package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moolen/citadel/internal/config"
	"github.com/moolen/citadel/internal/kernel"
	"github.com/moolen/citadel/internal/logging"
)

var runCfg = config.Default()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deploy an assembly and run until interrupted",
	Long: `Deploy the assembly, serve /metrics, /healthz and /readyz, and run until
SIGINT or SIGTERM. The container tree is then decommissioned in reverse
order. With --watch, edits to the assembly file redeploy the tree.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runCfg.Watch, "watch", false, "Redeploy when the assembly file changes")
	f.DurationVar(&runCfg.WatchDebounce, "watch-debounce", runCfg.WatchDebounce, "Coalesce file events for this long before redeploying")
	f.StringVar(&runCfg.MetricsAddr, "metrics-addr", runCfg.MetricsAddr, "Listen address for /metrics and health endpoints (empty disables)")
	f.StringVar(&runCfg.InstanceName, "instance", runCfg.InstanceName, "Instance label attached to every metric")
	f.IntVar(&runCfg.MaxParallel, "max-parallel", 0, "Max components commissioned concurrently per rank (0 = unbounded)")
	f.DurationVar(&runCfg.ShutdownTimeout, "shutdown-timeout", runCfg.ShutdownTimeout, "Grace period for each kernel service on shutdown")
	f.BoolVar(&runCfg.TracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing (default: false)")
	f.StringVar(&runCfg.TracingEndpoint, "tracing-endpoint", "", "OTLP gRPC endpoint for traces (e.g., otel-collector:4317)")
	f.StringVar(&runCfg.TracingTLSCAPath, "tracing-tls-ca", "", "Path to CA certificate for TLS verification (optional)")
	f.BoolVar(&runCfg.TracingTLSInsecure, "tracing-tls-insecure", false, "Skip TLS certificate verification (insecure, use only for testing)")
	f.Float64Var(&runCfg.TracingSampleRatio, "tracing-sample-ratio", 0, "Fraction of root spans to record, 0 records all")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger := logging.GetLogger("run")
	runCfg.AssemblyPath = assemblyPath

	assembly, err := config.LoadAssemblyFile(runCfg.AssemblyPath)
	if err != nil {
		return err
	}

	k, err := kernel.New(kernel.Options{Config: runCfg, ServiceVersion: Version})
	if err != nil {
		return err
	}

	logger.Info("Starting citadel v%s with %s", Version, runCfg.AssemblyPath)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := k.Start(ctx, assembly); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if addr := k.HTTPAddr(); addr != "" {
		logger.Info("Metrics available at http://%s/metrics", addr)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, decommissioning...")

	// Each service gets ShutdownTimeout; this bounds the whole sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 4*runCfg.ShutdownTimeout+time.Second)
	defer cancel()
	if err := k.Stop(shutdownCtx); err != nil {
		logger.Warn("Shutdown completed with errors: %v", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
