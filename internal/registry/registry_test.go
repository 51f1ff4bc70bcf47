package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	name     string
	disposed atomic.Bool
}

func (w *widget) Dispose(context.Context) error {
	w.disposed.Store(true)
	return nil
}

// fakeActivator commissions widgets with a real sequencer.
type fakeActivator struct {
	seq         *lifecycle.Sequencer
	activations atomic.Int64
	fail        map[string]bool
	failDispose map[string]bool
}

func newFakeActivator() *fakeActivator {
	return &fakeActivator{seq: lifecycle.NewSequencer(), fail: map[string]bool{}, failDispose: map[string]bool{}}
}

func (a *fakeActivator) Activate(ctx context.Context, desc descriptor.Descriptor) (*lifecycle.Instance, error) {
	a.activations.Add(1)
	inst := lifecycle.NewInstance(desc.Name, &widget{name: desc.Name})
	if a.fail[desc.Name] {
		inst.Stages.Initialize = func(context.Context) error { return errors.New("init failed") }
	}
	if a.failDispose[desc.Name] {
		inst.Stages.Dispose = func(context.Context) error { return errors.New("dispose failed") }
	}
	if err := a.seq.Commission(ctx, inst, lifecycle.Env{}); err != nil {
		return nil, err
	}
	return inst, nil
}

func (a *fakeActivator) Deactivate(ctx context.Context, inst *lifecycle.Instance) []error {
	return a.seq.Decommission(ctx, inst)
}

func newTestRegistry(t *testing.T, a *fakeActivator, descs ...descriptor.Descriptor) *Registry {
	t.Helper()
	r := New("test", a, Options{Sequencer: a.seq})
	for _, d := range descs {
		require.NoError(t, r.Register(d))
	}
	return r
}

func TestRegistry_SingletonCommissionedOnceUnderConcurrency(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a, descriptor.New("clock").Provides("time").MustBuild())

	var wg sync.WaitGroup
	results := make([]interface{}, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := r.Bind(context.Background(), "time", "")
			assert.NoError(t, err)
			results[i] = obj
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), a.activations.Load())
	for _, obj := range results {
		assert.Same(t, results[0], obj)
	}

	for range results {
		require.NoError(t, r.Release(context.Background(), results[0]))
	}
	err := r.Release(context.Background(), results[0])
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState), "more releases than binds")
	assert.False(t, results[0].(*widget).disposed.Load(), "singleton stays live after release")
}

func TestRegistry_PerRequestCreatesFreshInstances(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a, descriptor.New("conn").Lifestyle(descriptor.PerRequest).MustBuild())

	first, err := r.Bind(context.Background(), "conn", "")
	require.NoError(t, err)
	second, err := r.Bind(context.Background(), "conn", "")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	require.NoError(t, r.Release(context.Background(), first))
	assert.True(t, first.(*widget).disposed.Load())
	assert.False(t, second.(*widget).disposed.Load())

	errs := r.Unregister(context.Background(), "conn")
	assert.Empty(t, errs)
	assert.True(t, second.(*widget).disposed.Load(), "outstanding per-request instances are decommissioned")
}

func TestRegistry_PooledBorrowsAndReturns(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a, descriptor.New("counter").Pooled(1, 2, true, 0).MustBuild())
	require.NoError(t, r.Warm(context.Background(), "counter"))
	assert.Equal(t, int64(1), a.activations.Load())

	x, err := r.Bind(context.Background(), "counter", "")
	require.NoError(t, err)
	y, err := r.Bind(context.Background(), "counter", "")
	require.NoError(t, err)
	assert.NotSame(t, x, y)

	_, err = r.Bind(context.Background(), "counter", "")
	assert.True(t, cterrors.Is(err, cterrors.ErrResourceExhausted))

	require.NoError(t, r.Release(context.Background(), x))
	z, err := r.Bind(context.Background(), "counter", "")
	require.NoError(t, err)
	assert.Same(t, x, z)

	stats := r.PoolStats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].CheckedOut)
}

func TestRegistry_NotFound(t *testing.T) {
	r := newTestRegistry(t, newFakeActivator(), descriptor.New("clock").Provides("time").MustBuild())

	_, err := r.Bind(context.Background(), "db", "")
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrNotFound))

	_, err = r.Bind(context.Background(), "time", "atomic-clock")
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrNotFound))
	assert.Contains(t, err.Error(), "atomic-clock")
}

func TestRegistry_ResolutionFailure(t *testing.T) {
	a := newFakeActivator()
	a.fail["broken"] = true
	r := newTestRegistry(t, a, descriptor.New("broken").MustBuild())

	_, err := r.Bind(context.Background(), "broken", "")
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrResolution))
	assert.True(t, cterrors.Is(err, cterrors.ErrLifecycle), "wraps the lifecycle cause")
}

func TestRegistry_ReleaseUnknownObject(t *testing.T) {
	r := newTestRegistry(t, newFakeActivator())

	err := r.Release(context.Background(), &widget{})
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState))

	err = r.Release(context.Background(), []string{"not", "comparable"})
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState))
}

func TestRegistry_HintSelection(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a,
		descriptor.New("quartz").Provides("time").MustBuild(),
		descriptor.New("atomic").Provides("time").Hint("precise").MustBuild(),
	)

	obj, err := r.Bind(context.Background(), "time", "")
	require.NoError(t, err)
	assert.Equal(t, "quartz", obj.(*widget).name, "first registered wins when no hint is empty")

	obj, err = r.Bind(context.Background(), "time", "precise")
	require.NoError(t, err)
	assert.Equal(t, "atomic", obj.(*widget).name)

	obj, err = r.Bind(context.Background(), "time", "quartz")
	require.NoError(t, err)
	assert.Equal(t, "quartz", obj.(*widget).name)

	assert.Equal(t, []string{"atomic", "quartz", "time"}, r.Roles())
	assert.Len(t, r.Registrations("time"), 2)
}

func TestRegistry_ParentFallback(t *testing.T) {
	a := newFakeActivator()
	parent := newTestRegistry(t, a, descriptor.New("clock").MustBuild())
	child := New("child", a, Options{Parent: parent, Sequencer: a.seq})

	obj, err := child.Bind(context.Background(), "clock", "")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.Held())
	assert.Equal(t, 0, child.Held())

	require.NoError(t, child.Release(context.Background(), obj))
	assert.Equal(t, 0, parent.Held())
}

func TestRegistry_AdoptAndUnregister(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a, descriptor.New("clock").MustBuild())

	inst, err := a.Activate(context.Background(), descriptor.New("clock").MustBuild())
	require.NoError(t, err)
	require.NoError(t, r.Adopt("clock", inst))

	obj, err := r.Bind(context.Background(), "clock", "")
	require.NoError(t, err)
	assert.Same(t, inst.Object, obj)
	assert.Equal(t, int64(1), a.activations.Load())

	assert.True(t, cterrors.Is(r.Adopt("clock", inst), cterrors.ErrInvalidState))

	assert.Empty(t, r.Unregister(context.Background(), "clock"))
	assert.Equal(t, lifecycle.Disposed, inst.State())
	assert.False(t, r.Has("clock", ""))
	assert.Empty(t, r.Components())
}

func TestRegistry_WarmSingletonOnce(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a,
		descriptor.New("clock").MustBuild(),
		descriptor.New("conn").Lifestyle(descriptor.PerRequest).MustBuild(),
	)

	require.NoError(t, r.Warm(context.Background(), "clock"))
	require.NoError(t, r.Warm(context.Background(), "clock"))
	require.NoError(t, r.Warm(context.Background(), "conn"))
	assert.Equal(t, int64(1), a.activations.Load())
	assert.Equal(t, 0, r.Held(), "warming does not count as a bind")

	err := r.Warm(context.Background(), "missing")
	assert.True(t, cterrors.Is(err, cterrors.ErrNotFound))
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := newTestRegistry(t, newFakeActivator(), descriptor.New("clock").MustBuild())
	err := r.Register(descriptor.New("clock").MustBuild())
	assert.True(t, cterrors.Is(err, cterrors.ErrAssembly))
}

func TestServiceManager_RestrictsToDeclaredRoles(t *testing.T) {
	a := newFakeActivator()
	r := newTestRegistry(t, a,
		descriptor.New("clock").MustBuild(),
		descriptor.New("secret").MustBuild(),
	)
	sm := NewServiceManager(r, "greeter", map[string]Provider{"clock": {Name: "clock"}, "metrics": {}})

	assert.True(t, sm.Has("clock"))
	assert.False(t, sm.Has("metrics"))
	assert.False(t, sm.Has("secret"))
	assert.Equal(t, []string{"clock"}, sm.Roles())

	obj, err := sm.Lookup(context.Background(), "clock")
	require.NoError(t, err)
	assert.Equal(t, "clock", obj.(*widget).name)
	require.NoError(t, sm.Release(context.Background(), obj))

	_, err = sm.Lookup(context.Background(), "metrics")
	assert.True(t, cterrors.Is(err, cterrors.ErrNotFound))

	_, err = sm.Lookup(context.Background(), "secret")
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState))
}

func TestServiceManager_BindsProviderInOwningRegistry(t *testing.T) {
	a := newFakeActivator()
	parent := newTestRegistry(t, a, descriptor.New("clock").Provides("time").MustBuild())
	child := New("child", a, Options{Parent: parent, Sequencer: a.seq})
	require.NoError(t, child.Register(descriptor.New("clock").MustBuild()))

	sm := NewServiceManager(child, "greeter", map[string]Provider{
		"clock": {Name: "clock", Registry: parent},
	})
	assert.True(t, sm.Has("clock"))

	obj, err := sm.Lookup(context.Background(), "clock")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.Held(), "the parent's clock is bound")
	assert.Equal(t, 0, child.Held(), "the local clock of the same name is not")

	require.NoError(t, sm.Release(context.Background(), obj))
	assert.Equal(t, 0, parent.Held())
}

func TestRegistry_BindComponentDoesNotFallBack(t *testing.T) {
	a := newFakeActivator()
	parent := newTestRegistry(t, a, descriptor.New("clock").MustBuild())
	child := New("child", a, Options{Parent: parent, Sequencer: a.seq})

	assert.False(t, child.HasComponent("clock"))
	_, err := child.BindComponent(context.Background(), "clock")
	assert.True(t, cterrors.Is(err, cterrors.ErrNotFound))
}

func TestRegistry_PerRequestReleaseReturnsDisposalErrors(t *testing.T) {
	a := newFakeActivator()
	a.failDispose["conn"] = true
	r := newTestRegistry(t, a, descriptor.New("conn").Lifestyle(descriptor.PerRequest).MustBuild())

	obj, err := r.Bind(context.Background(), "conn", "")
	require.NoError(t, err)

	err = r.Release(context.Background(), obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispose failed")
	assert.Equal(t, 0, r.Held(), "the object is released despite the error")

	err = r.Release(context.Background(), obj)
	assert.True(t, cterrors.Is(err, cterrors.ErrInvalidState))
}

func TestRegistry_UnregisterReportsPoolDisposalErrors(t *testing.T) {
	a := newFakeActivator()
	a.failDispose["worker"] = true
	r := newTestRegistry(t, a, descriptor.New("worker").Pooled(2, 2, true, 0).MustBuild())
	require.NoError(t, r.Warm(context.Background(), "worker"))

	errs := r.Unregister(context.Background(), "worker")
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.Contains(t, err.Error(), "dispose failed")
	}
}
