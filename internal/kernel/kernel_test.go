package kernel

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/moolen/citadel/internal/config"
	"github.com/moolen/citadel/internal/container"
	"github.com/moolen/citadel/internal/demo"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/registry"
)

func testFactories() *registry.FactoryRegistry {
	f := registry.NewFactoryRegistry()
	demo.Register(f)
	return f
}

func newTestKernel(t *testing.T, mutate func(*config.Config)) *Kernel {
	t.Helper()
	cfg := config.Default()
	cfg.MetricsAddr = ""
	cfg.ShutdownTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	k, err := New(Options{Config: cfg, Factories: testFactories(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	return k
}

func greeterAssembly(greeting string) *config.Assembly {
	return &config.Assembly{
		SchemaVersion: config.SchemaVersion,
		Name:          "root",
		Components: []config.ComponentConfig{
			{Name: "clock", Type: demo.ClockType, Provides: []string{"time@1.0.0"}},
			{
				Name:         "greeter",
				Type:         demo.GreeterType,
				Config:       map[string]interface{}{"greeting": greeting},
				Dependencies: []config.DependencyConfig{{Role: "clock"}},
			},
		},
	}
}

func bindGreeter(t *testing.T, root *container.Container) *demo.Greeter {
	t.Helper()
	obj, err := root.Bind(context.Background(), "greeter", "")
	require.NoError(t, err)
	return obj.(*demo.Greeter)
}

func TestKernel_StartDeploysSampleAndStopTearsDown(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx := context.Background()

	require.NoError(t, k.Start(ctx, config.Sample()))
	assert.Equal(t, []string{"tracing", "containers"}, k.Services())

	root := k.Root()
	require.NotNil(t, root)
	assert.Equal(t, lifecycle.Started, root.State())
	assert.Contains(t, bindGreeter(t, root).Greet("ada"), "hello, ada")

	sessions, ok := root.Lookup("sessions")
	require.True(t, ok)
	conn, err := sessions.Bind(ctx, "connection", "")
	require.NoError(t, err)
	assert.True(t, conn.(*demo.Connection).Open())
	require.NoError(t, sessions.Release(ctx, conn))

	assert.Equal(t, float64(2), testutil.ToFloat64(k.Metrics().ContainersStarted))

	require.NoError(t, k.Stop(ctx))
	assert.Nil(t, k.Root())
	assert.Equal(t, lifecycle.Disposed, root.State())
}

func TestKernel_DeployTwiceIsRejected(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx := context.Background()

	require.NoError(t, k.Deploy(ctx, greeterAssembly("hi")))
	t.Cleanup(func() { k.Decommission(ctx) })

	err := k.Deploy(ctx, greeterAssembly("hi"))
	assert.ErrorIs(t, err, cterrors.ErrInvalidState)
}

func TestKernel_ReloadReplacesTree(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx := context.Background()

	require.NoError(t, k.Deploy(ctx, greeterAssembly("hi")))
	t.Cleanup(func() { k.Decommission(ctx) })
	old := k.Root()

	require.NoError(t, k.Reload(ctx, greeterAssembly("bonjour")))
	assert.Equal(t, lifecycle.Disposed, old.State())
	assert.NotSame(t, old, k.Root())
	assert.Contains(t, bindGreeter(t, k.Root()).Greet("ada"), "bonjour, ada")
	assert.Equal(t, "bonjour", k.Assembly().Components[1].Config["greeting"])
}

func TestKernel_ReloadRejectsUnresolvableAssembly(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx := context.Background()

	require.NoError(t, k.Deploy(ctx, greeterAssembly("hi")))
	t.Cleanup(func() { k.Decommission(ctx) })
	old := k.Root()

	bad := greeterAssembly("hi")
	bad.Components[0].Type = "sundial"
	err := k.Reload(ctx, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, cterrors.ErrAssembly)
	assert.Same(t, old, k.Root(), "the running tree is untouched")
	assert.Equal(t, lifecycle.Started, old.State())

	missing := greeterAssembly("hi")
	missing.Components = missing.Components[1:]
	err = k.Reload(ctx, missing)
	assert.ErrorIs(t, err, cterrors.ErrAssembly)
	assert.Same(t, old, k.Root())
}

func TestKernel_ReloadRestoresPreviousOnCommissionFailure(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx := context.Background()

	require.NoError(t, k.Deploy(ctx, greeterAssembly("hi")))
	t.Cleanup(func() { k.Decommission(ctx) })

	err := k.Reload(ctx, greeterAssembly(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greeting must not be empty")

	require.NotNil(t, k.Root())
	assert.Equal(t, lifecycle.Started, k.Root().State())
	assert.Contains(t, bindGreeter(t, k.Root()).Greet("ada"), "hi, ada")
}

func TestVerify_ReportsPlansPerContainer(t *testing.T) {
	root, err := Assemble(config.Sample(), container.Options{Factories: testFactories()})
	require.NoError(t, err)

	plans, err := Verify(root, testFactories())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "/root", plans[0].Path)
	assert.Equal(t, "/root/sessions", plans[1].Path)
	assert.Less(t, plans[0].Plan.Rank("clock"), plans[0].Plan.Rank("greeter"))
	assert.Equal(t, []string{"connection"}, plans[1].Plan.Order)
	assert.Equal(t, lifecycle.Created, root.State(), "verify commissions nothing")
}

func TestAssemble_AppliesContainerSettings(t *testing.T) {
	a := &config.Assembly{
		SchemaVersion: config.SchemaVersion,
		Name:          "app",
		Policy:        "child-first",
		Context:       map[string]interface{}{"env": "test"},
		Containers: []config.ContainerConfig{
			{Name: "plugins", Optional: true, Policy: "parent-first"},
		},
	}
	root, err := Assemble(a, container.Options{Factories: testFactories()})
	require.NoError(t, err)

	assert.Equal(t, "/app", root.Path())
	assert.Equal(t, container.ChildFirst, root.Policy())
	child, ok := root.Lookup("plugins")
	require.True(t, ok)
	assert.True(t, child.Optional())
	assert.Equal(t, container.ParentFirst, child.Policy())
}

func TestKernel_ServesReadinessAndMetrics(t *testing.T) {
	k := newTestKernel(t, func(c *config.Config) { c.MetricsAddr = "127.0.0.1:0" })
	ctx := context.Background()

	require.NoError(t, k.Start(ctx, greeterAssembly("hi")))
	t.Cleanup(func() { _ = k.Stop(ctx) })

	resp, err := http.Get("http://" + k.HTTPAddr() + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + k.HTTPAddr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "citadel_component_commissions_total")
}

func TestKernel_WatchReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assembly.yaml")
	require.NoError(t, config.WriteAssemblyFile(path, greeterAssembly("hi")))

	k := newTestKernel(t, func(c *config.Config) {
		c.AssemblyPath = path
		c.Watch = true
		c.WatchDebounce = 50 * time.Millisecond
	})
	ctx := context.Background()

	initial, err := config.LoadAssemblyFile(path)
	require.NoError(t, err)
	require.NoError(t, k.Start(ctx, initial))
	t.Cleanup(func() { _ = k.Stop(ctx) })
	assert.Equal(t, []string{"tracing", "containers", "assembly-watcher"}, k.Services())
	first := k.Root()

	require.NoError(t, config.WriteAssemblyFile(path, greeterAssembly("hey")))

	require.Eventually(t, func() bool {
		root := k.Root()
		return root != nil && root != first && root.State() == lifecycle.Started
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, bindGreeter(t, k.Root()).Greet("ada"), "hey, ada")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ShutdownTimeout = 0
	_, err := New(Options{Config: cfg, Registry: prometheus.NewRegistry()})
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestKernel_ExportsDeploySpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := config.Default()
	cfg.MetricsAddr = ""
	cfg.TracingEnabled = true
	cfg.TracingEndpoint = "collector:4317"
	k, err := New(Options{
		Config:       cfg,
		Factories:    testFactories(),
		Registry:     prometheus.NewRegistry(),
		SpanExporter: exporter,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, k.Deploy(ctx, greeterAssembly("hi")))
	k.Decommission(ctx)

	names := make(map[string]bool)
	for _, s := range exporter.GetSpans() {
		names[s.Name] = true
	}
	assert.True(t, names["kernel.Deploy"])
	assert.True(t, names["container.commission"])
	assert.True(t, names["container.decommission"])
}
