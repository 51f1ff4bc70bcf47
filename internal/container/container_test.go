package container

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// filter returns the events with the given prefix, prefix stripped.
func (l *eventLog) filter(prefix string) []string {
	var out []string
	for _, e := range l.all() {
		if len(e) > len(prefix) && e[:len(prefix)] == prefix {
			out = append(out, e[len(prefix):])
		}
	}
	return out
}

// part records its lifecycle. Config "fail" names a stage to fail in, and
// every declared dependency is looked up during Service.
type part struct {
	name  string
	desc  descriptor.Descriptor
	log   *eventLog
	bound map[string]interface{}
	ctx   lifecycle.Context
}

func (p *part) fail(stage string) error {
	if p.desc.Config["fail"] == stage {
		return errors.New(stage + " failed")
	}
	return nil
}

func (p *part) Contextualize(_ context.Context, c lifecycle.Context) error {
	p.ctx = c
	return nil
}

func (p *part) Service(ctx context.Context, sm lifecycle.ServiceManager) error {
	for _, dep := range p.desc.Dependencies {
		obj, err := sm.Lookup(ctx, dep.Role)
		if err != nil {
			if dep.Optional {
				continue
			}
			return err
		}
		p.bound[dep.Role] = obj
	}
	return p.fail("bind-services")
}

func (p *part) Initialize(context.Context) error {
	p.log.add("init:" + p.name)
	return p.fail("initialize")
}

func (p *part) Start(context.Context) error {
	p.log.add("start:" + p.name)
	return p.fail("start")
}

func (p *part) Stop(context.Context) error {
	p.log.add("stop:" + p.name)
	return p.fail("stop")
}

func (p *part) Dispose(context.Context) error {
	p.log.add("dispose:" + p.name)
	return p.fail("dispose")
}

func newPartFactories(log *eventLog) *registry.FactoryRegistry {
	f := registry.NewFactoryRegistry()
	_ = f.Register("part", func(_ context.Context, desc descriptor.Descriptor) (interface{}, error) {
		return &part{name: desc.Name, desc: desc, log: log, bound: map[string]interface{}{}}, nil
	})
	return f
}

func partDesc(name string) *descriptor.Builder {
	return descriptor.New(name).Type("part")
}

func newRoot(t *testing.T, log *eventLog, descs ...descriptor.Descriptor) *Container {
	t.Helper()
	root := New("root", Options{Factories: newPartFactories(log)})
	for _, d := range descs {
		require.NoError(t, root.Add(d))
	}
	return root
}

func TestContainer_ChainCommissionAndDecommissionOrder(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("a").DependsOn("b", "b").MustBuild(),
		partDesc("b").DependsOn("c", "c").MustBuild(),
		partDesc("c").MustBuild(),
	)

	require.NoError(t, root.Commission(context.Background()))
	assert.Equal(t, lifecycle.Started, root.State())
	assert.Equal(t, []string{"c", "b", "a"}, log.filter("start:"))

	report := root.Decommission(context.Background())
	assert.True(t, report.Empty())
	assert.Equal(t, []string{"a", "b", "c"}, log.filter("stop:"))
	assert.Equal(t, []string{"a", "b", "c"}, log.filter("dispose:"))
	assert.Equal(t, lifecycle.Disposed, root.State())

	again := root.Decommission(context.Background())
	assert.True(t, again.Empty())
	assert.Len(t, log.filter("dispose:"), 3, "decommission is idempotent")
}

func TestContainer_ConsumersReceiveProviders(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("clock").Provides("time@1.2.0").MustBuild(),
		partDesc("greeter").DependsOnService("clock", "time", ">= 1.0").MustBuild(),
	)
	require.NoError(t, root.Commission(context.Background()))
	defer root.Decommission(context.Background())

	obj, err := root.Bind(context.Background(), "greeter", "")
	require.NoError(t, err)
	greeter := obj.(*part)
	require.Contains(t, greeter.bound, "clock")
	assert.Equal(t, "clock", greeter.bound["clock"].(*part).name)

	assert.Equal(t, "root", greeter.ctx[ContextContainerName])
	assert.Equal(t, "/root", greeter.ctx[ContextContainerPath])
	assert.Equal(t, "greeter", greeter.ctx[ContextComponentName])
}

func TestContainer_OptionalFailureContinues(t *testing.T) {
	log := &eventLog{}
	var failures []string
	root := newRoot(t, log,
		partDesc("tracer").Set("fail", "initialize").MustBuild(),
		partDesc("web").OptionallyDependsOn("tracer", "tracer").MustBuild(),
	)
	root.AddListener(Listener{OnComponentFailed: func(_ *Container, name string, _ error) {
		failures = append(failures, name)
	}})

	require.NoError(t, root.Commission(context.Background()))
	defer root.Decommission(context.Background())

	assert.Contains(t, root.Failed(), "tracer")
	assert.Equal(t, []string{"tracer"}, failures)

	obj, err := root.Bind(context.Background(), "web", "")
	require.NoError(t, err)
	assert.NotContains(t, obj.(*part).bound, "tracer")
	assert.Equal(t, []string{"tracer"}, log.filter("dispose:"), "failed component was torn down")
}

func TestContainer_RequiredFailureRollsBack(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("db").MustBuild(),
		partDesc("cache").DependsOn("db", "db").Set("fail", "start").MustBuild(),
		partDesc("web").DependsOn("db", "db").DependsOn("cache", "cache").MustBuild(),
	)

	err := root.Commission(context.Background())
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrLifecycle))

	var cerr *cterrors.Error
	require.True(t, cterrors.As(err, &cerr))
	assert.Equal(t, "cache", cerr.Component)
	assert.Equal(t, "start", cerr.Stage)

	assert.Equal(t, lifecycle.Disposed, root.State())
	assert.NotContains(t, log.filter("start:"), "web")
	assert.ElementsMatch(t, []string{"cache", "db"}, log.filter("dispose:"))
	assert.Equal(t, []string{"db"}, log.filter("stop:"), "only started components are stopped")
}

func TestContainer_AssemblyErrors(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("a").DependsOn("b", "b").MustBuild(),
		partDesc("b").DependsOn("a", "a").MustBuild(),
	)
	err := root.Commission(context.Background())
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrAssembly))
	assert.Empty(t, log.all())

	missing := newRoot(t, log, descriptor.New("ghost").Type("unknown").MustBuild())
	err = missing.Commission(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no factory registered")
}

func TestContainer_ChildrenDecommissionBeforeParent(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log, partDesc("clock").MustBuild())

	child, err := root.AddChild("web", Options{})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("handler").DependsOn("clock", "clock").MustBuild()))

	require.NoError(t, root.Commission(context.Background()))
	assert.Equal(t, []string{"clock", "handler"}, log.filter("start:"))
	assert.Equal(t, "/root/web", child.Path())

	root.Decommission(context.Background())
	assert.Equal(t, []string{"handler", "clock"}, log.filter("dispose:"))
	assert.Equal(t, lifecycle.Disposed, child.State())
}

func TestContainer_ChildFirstPolicy(t *testing.T) {
	log := &eventLog{}
	root := New("root", Options{Factories: newPartFactories(log), Policy: ChildFirst})
	require.NoError(t, root.Add(partDesc("parent-svc").MustBuild()))
	child, err := root.AddChild("child", Options{})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("child-svc").MustBuild()))

	require.NoError(t, root.Commission(context.Background()))
	assert.Equal(t, []string{"child-svc", "parent-svc"}, log.filter("start:"))
	root.Decommission(context.Background())
}

func TestContainer_ChildFirstLazilyCommissionsAncestorProvider(t *testing.T) {
	log := &eventLog{}
	root := New("root", Options{Factories: newPartFactories(log), Policy: ChildFirst})
	require.NoError(t, root.Add(partDesc("clock").MustBuild()))
	child, err := root.AddChild("child", Options{})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("handler").DependsOn("clock", "clock").MustBuild()))

	require.NoError(t, root.Commission(context.Background()))
	assert.Equal(t, []string{"clock", "handler"}, log.filter("start:"))
	assert.Len(t, log.filter("init:"), 2, "clock is commissioned once")
	root.Decommission(context.Background())
}

func TestContainer_OptionalChildFailure(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log, partDesc("clock").MustBuild())
	child, err := root.AddChild("plugins", Options{Optional: true})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("plugin").Set("fail", "initialize").MustBuild()))

	require.NoError(t, root.Commission(context.Background()))
	assert.Equal(t, lifecycle.Started, root.State())
	assert.Equal(t, lifecycle.Disposed, child.State())
	root.Decommission(context.Background())
}

func TestContainer_RequiredChildFailureAbortsParent(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log, partDesc("clock").MustBuild())
	child, err := root.AddChild("core", Options{})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("engine").Set("fail", "initialize").MustBuild()))

	err = root.Commission(context.Background())
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrLifecycle))
	assert.Contains(t, err.Error(), "/root/core")
	assert.Equal(t, lifecycle.Disposed, root.State())
	assert.Contains(t, log.filter("dispose:"), "clock")
}

func TestContainer_DisposalErrorsAreReported(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("flaky").Set("fail", "stop").MustBuild(),
		partDesc("solid").MustBuild(),
	)
	require.NoError(t, root.Commission(context.Background()))

	report := root.Decommission(context.Background())
	require.Len(t, report.Errors, 1)
	assert.True(t, cterrors.Is(report.Errors[0], cterrors.ErrDisposal))
	assert.Error(t, report.Err())
	assert.ElementsMatch(t, []string{"flaky", "solid"}, log.filter("dispose:"))
}

func TestContainer_LookupAndStateGuards(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log)
	a, err := root.AddChild("a", Options{})
	require.NoError(t, err)
	b, err := a.AddChild("b", Options{})
	require.NoError(t, err)

	_, err = root.AddChild("a", Options{})
	assert.True(t, cterrors.Is(err, cterrors.ErrAssembly))

	found, ok := root.Lookup("/a/b")
	require.True(t, ok)
	assert.Same(t, b, found)
	found, ok = root.Lookup("")
	require.True(t, ok)
	assert.Same(t, root, found)
	_, ok = root.Lookup("/a/missing")
	assert.False(t, ok)

	_, err = root.Bind(context.Background(), "x", "")
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState), "not commissioned yet")

	require.NoError(t, root.Commission(context.Background()))
	root.Decommission(context.Background())

	_, err = root.AddChild("late", Options{})
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState))
	assert.True(t, cterrors.Is(root.Add(partDesc("late").MustBuild()), cterrors.ErrInvalidState))
	assert.True(t, cterrors.Is(root.Commission(context.Background()), cterrors.ErrInvalidState))
}

func TestContainer_LateAdditionCommissionedOnBind(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log, partDesc("clock").MustBuild())
	require.NoError(t, root.Commission(context.Background()))
	defer root.Decommission(context.Background())

	require.NoError(t, root.Add(partDesc("report").DependsOn("clock", "clock").MustBuild()))
	assert.Equal(t, []string{"clock"}, log.filter("start:"))

	obj, err := root.Bind(context.Background(), "report", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"clock", "report"}, log.filter("start:"))
	assert.Contains(t, obj.(*part).bound, "clock")

	err = root.Add(partDesc("loop").DependsOn("self", "loop2").MustBuild())
	assert.True(t, cterrors.Is(err, cterrors.ErrAssembly), "unresolvable late addition is rejected")
	_, declared := root.Scope().Get("loop")
	assert.False(t, declared)
}

func TestContainer_LazyAndPerRequest(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("lazy").Lazy().MustBuild(),
		partDesc("conn").Lifestyle(descriptor.PerRequest).MustBuild(),
	)
	require.NoError(t, root.Commission(context.Background()))
	assert.Empty(t, log.filter("start:"))

	_, err := root.Bind(context.Background(), "lazy", "")
	require.NoError(t, err)
	conn, err := root.Bind(context.Background(), "conn", "")
	require.NoError(t, err)
	require.NoError(t, root.Release(context.Background(), conn))
	assert.Equal(t, []string{"conn"}, log.filter("dispose:"))

	root.Decommission(context.Background())
	assert.ElementsMatch(t, []string{"conn", "lazy"}, log.filter("dispose:"))
}

func TestContainer_RankParallelismIsBounded(t *testing.T) {
	var running, peak atomic.Int32
	f := registry.NewFactoryRegistry()
	_ = f.Register("slow", func(context.Context, descriptor.Descriptor) (interface{}, error) {
		return &slowStarter{running: &running, peak: &peak}, nil
	})

	root := New("root", Options{Factories: f, MaxParallel: 2})
	for _, name := range []string{"s1", "s2", "s3", "s4", "s5"} {
		require.NoError(t, root.Add(descriptor.New(name).Type("slow").MustBuild()))
	}

	require.NoError(t, root.Commission(context.Background()))
	defer root.Decommission(context.Background())

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, [][]string{{"s1", "s2", "s3", "s4", "s5"}}, root.Plan().Ranks)
}

type slowStarter struct {
	running *atomic.Int32
	peak    *atomic.Int32
}

func (s *slowStarter) Start(context.Context) error {
	n := s.running.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	s.running.Add(-1)
	return nil
}

func TestContainer_Listeners(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log, partDesc("clock").MustBuild())

	var events []string
	root.AddListener(Listener{
		OnCommissioned:   func(c *Container) { events = append(events, "commissioned:"+c.Path()) },
		OnDecommissioned: func(c *Container, _ DisposalReport) { events = append(events, "decommissioned:"+c.Path()) },
	})

	require.NoError(t, root.Commission(context.Background()))
	root.Decommission(context.Background())
	assert.Equal(t, []string{"commissioned:/root", "decommissioned:/root"}, events)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ParentFirst, p)

	p, err = ParsePolicy("Child-First")
	require.NoError(t, err)
	assert.Equal(t, ChildFirst, p)

	_, err = ParsePolicy("random")
	assert.Error(t, err)
}

func TestContainer_AncestorServiceProviderIsNotShadowedByLocalName(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log, partDesc("clock").Provides("time").MustBuild())
	child, err := root.AddChild("child", Options{})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("clock").MustBuild()))
	require.NoError(t, child.Add(partDesc("greeter").DependsOnService("clock", "time", "").MustBuild()))

	ctx := context.Background()
	require.NoError(t, root.Commission(ctx))
	defer root.Decommission(ctx)

	binding := child.Plan().Bindings["greeter"]["clock"]
	assert.False(t, binding.Local)
	assert.Same(t, root.Scope(), binding.Scope)

	rootClock, err := root.Bind(ctx, "clock", "")
	require.NoError(t, err)
	greeter, err := child.Bind(ctx, "greeter", "")
	require.NoError(t, err)
	require.Same(t, rootClock, greeter.(*part).bound["clock"])
}

func TestContainer_ListenersMayReadTheTree(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("tracer").Set("fail", "initialize").MustBuild(),
		partDesc("web").OptionallyDependsOn("tracer", "tracer").MustBuild(),
	)
	child, err := root.AddChild("plugins", Options{})
	require.NoError(t, err)
	require.NoError(t, child.Add(partDesc("plugin").MustBuild()))

	var mu sync.Mutex
	var seen []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	}
	readTree := func(c *Container) {
		n := 0
		_ = c.Walk(func(*Container) error { n++; return nil })
		_, _ = c.Lookup("plugins")
		_ = c.Children()
		_ = c.Parent()
		_ = c.Failed()
	}
	listener := Listener{
		OnCommissioned: func(c *Container) {
			readTree(c)
			record("commissioned:" + c.Path() + ":" + c.State().String())
		},
		OnDecommissioned: func(c *Container, _ DisposalReport) {
			readTree(c)
			record("decommissioned:" + c.Path())
		},
		OnComponentFailed: func(c *Container, name string, _ error) {
			readTree(c)
			record("failed:" + name)
		},
	}
	root.AddListener(listener)
	child.AddListener(Listener{OnCommissioned: func(c *Container) {
		readTree(c.Parent())
		record("commissioned:" + c.Path() + ":" + c.State().String())
	}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, root.Commission(context.Background()))
		root.Decommission(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener reading the container blocked commissioning")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "failed:tracer")
	assert.Contains(t, seen, "commissioned:/root:"+lifecycle.Started.String())
	assert.Contains(t, seen, "commissioned:/root/plugins:"+lifecycle.Started.String())
	assert.Contains(t, seen, "decommissioned:/root")
}

func TestContainer_DecommissionReportsPooledDisposalErrors(t *testing.T) {
	log := &eventLog{}
	root := newRoot(t, log,
		partDesc("single").Set("fail", "dispose").MustBuild(),
		partDesc("worker").Pooled(1, 2, false, 0).Set("fail", "dispose").MustBuild(),
	)
	require.NoError(t, root.Commission(context.Background()))

	report := root.Decommission(context.Background())
	assert.ElementsMatch(t, []string{"single", "worker"}, log.filter("dispose:"))
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Err().Error(), "single")
	assert.Contains(t, report.Err().Error(), "worker")
}
