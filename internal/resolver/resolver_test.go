package resolver

import (
	"testing"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeWith(t *testing.T, parent *descriptor.Scope, descs ...descriptor.Descriptor) *descriptor.Scope {
	t.Helper()
	s := descriptor.NewScope("test", parent)
	for _, d := range descs {
		require.NoError(t, s.Add(d))
	}
	return s
}

func TestResolve_ChainOrder(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("a").DependsOn("b", "b").MustBuild(),
		descriptor.New("b").DependsOn("c", "c").MustBuild(),
		descriptor.New("c").MustBuild(),
	)

	plan, err := Resolve(s)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "b", "a"}, plan.Order)
	assert.Equal(t, []string{"a", "b", "c"}, plan.ShutdownOrder())
	assert.Equal(t, [][]string{{"c"}, {"b"}, {"a"}}, plan.Ranks)
	assert.Equal(t, "b", plan.Bindings["a"]["b"].Provider)
	assert.True(t, plan.Bindings["a"]["b"].Local)
}

func TestResolve_ProvidersPrecedeConsumers(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("web").DependsOn("db", "db").DependsOn("cache", "cache").MustBuild(),
		descriptor.New("worker").DependsOn("db", "db").MustBuild(),
		descriptor.New("cache").DependsOn("clock", "clock").MustBuild(),
		descriptor.New("db").DependsOn("clock", "clock").MustBuild(),
		descriptor.New("clock").MustBuild(),
	)

	plan, err := Resolve(s)
	require.NoError(t, err)
	require.Len(t, plan.Order, 5)

	pos := make(map[string]int)
	for i, n := range plan.Order {
		pos[n] = i
	}
	for consumer, roles := range plan.Bindings {
		for _, b := range roles {
			assert.Less(t, pos[b.Provider], pos[consumer], "%s must precede %s", b.Provider, consumer)
		}
	}

	assert.Equal(t, [][]string{{"clock"}, {"cache", "db"}, {"web", "worker"}}, plan.Ranks)
	assert.Equal(t, []string{"clock", "db", "cache"}, plan.Providers("web"))
	assert.ElementsMatch(t, []string{"db", "cache", "web", "worker"}, plan.Consumers("clock"))
}

func TestResolve_CycleReportsFullPath(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("a").DependsOn("next", "b").MustBuild(),
		descriptor.New("b").DependsOn("next", "c").MustBuild(),
		descriptor.New("c").DependsOn("next", "a").MustBuild(),
	)

	_, err := Resolve(s)
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrAssembly))

	var cerr *cterrors.Error
	require.True(t, cterrors.As(err, &cerr))
	assert.Equal(t, []string{"a", "b", "c", "a"}, cerr.Path)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestResolve_CycleThroughService(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("x").Provides("echo").DependsOnService("echo", "echo", "").MustBuild(),
	)

	_, err := Resolve(s)
	require.Error(t, err)
	var cerr *cterrors.Error
	require.True(t, cterrors.As(err, &cerr))
	assert.Equal(t, []string{"x", "x"}, cerr.Path)
}

func TestResolve_MissingProvider(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("web").DependsOn("db", "postgres").MustBuild(),
	)

	_, err := Resolve(s)
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.ErrAssembly))

	var cerr *cterrors.Error
	require.True(t, cterrors.As(err, &cerr))
	assert.Equal(t, "web", cerr.Component)
	assert.Equal(t, "db", cerr.Role)
}

func TestResolve_OptionalMissingIsRecorded(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("web").OptionallyDependsOn("metrics", "statsd").MustBuild(),
	)

	plan, err := Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, plan.Order)
	require.Len(t, plan.Unresolved, 1)
	assert.Equal(t, Unresolved{Consumer: "web", Role: "metrics", Target: "statsd"}, plan.Unresolved[0])
	assert.Empty(t, plan.Bindings["web"])
}

func TestResolve_AncestorProviderDoesNotConstrainOrder(t *testing.T) {
	root := scopeWith(t, nil, descriptor.New("clock").Provides("time@1.0.0").MustBuild())
	child := scopeWith(t, root,
		descriptor.New("greeter").DependsOnService("clock", "time", ">= 1.0").MustBuild(),
	)

	plan, err := Resolve(child)
	require.NoError(t, err)
	assert.Equal(t, []string{"greeter"}, plan.Order)

	b := plan.Bindings["greeter"]["clock"]
	assert.Equal(t, "clock", b.Provider)
	assert.Equal(t, root, b.Scope)
	assert.False(t, b.Local)
	assert.Empty(t, plan.Providers("greeter"))
}

func TestResolve_InboundOptional(t *testing.T) {
	s := scopeWith(t, nil,
		descriptor.New("tracer").MustBuild(),
		descriptor.New("db").MustBuild(),
		descriptor.New("web").OptionallyDependsOn("tracer", "tracer").DependsOn("db", "db").MustBuild(),
	)

	plan, err := Resolve(s)
	require.NoError(t, err)
	assert.True(t, plan.InboundOptional("tracer"))
	assert.False(t, plan.InboundOptional("db"))
	assert.False(t, plan.InboundOptional("web"), "nothing depends on web")
}

func TestResolve_Deterministic(t *testing.T) {
	build := func() *descriptor.Scope {
		return scopeWith(t, nil,
			descriptor.New("z").MustBuild(),
			descriptor.New("y").DependsOn("z", "z").MustBuild(),
			descriptor.New("m").MustBuild(),
			descriptor.New("a").DependsOn("m", "m").DependsOn("y", "y").MustBuild(),
		)
	}

	first, err := Resolve(build())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Resolve(build())
		require.NoError(t, err)
		assert.Equal(t, first.Order, again.Order)
		assert.Equal(t, first.Ranks, again.Ranks)
	}
	assert.Equal(t, []string{"z", "y", "m", "a"}, first.Order)
}
