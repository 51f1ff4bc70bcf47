// Package container implements the containment hierarchy.
//
// A Container owns a descriptor scope, a registry and an ordered list of
// child containers. Child scopes and registries inherit from their parent.
// Commissioning resolves the scope, starts components rank by rank and then
// (or, with ChildFirst, before) commissions the children. Decommissioning runs
// children first, then the container's own components in shutdown order.
//
// Mutation of the child list and lifecycle state is serialised by a coarse
// per-container lock which is also held while listeners are notified of
// commission and decommission events.
package container

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/logging"
	"github.com/moolen/citadel/internal/metrics"
	"github.com/moolen/citadel/internal/registry"
	"github.com/moolen/citadel/internal/resolver"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Policy orders a container's own components relative to its children.
type Policy string

const (
	// ParentFirst commissions own components, then children.
	ParentFirst Policy = "parent-first"
	// ChildFirst commissions children, then own components.
	ChildFirst Policy = "child-first"
)

// ParsePolicy returns ParentFirst for an empty string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ParentFirst:
		return ParentFirst, nil
	case ChildFirst:
		return ChildFirst, nil
	}
	return "", cterrors.NewAssemblyError("", "unknown commissioning policy %q (must be parent-first or child-first)", s)
}

// Options configures a container. Zero fields of a child inherit from its parent.
type Options struct {
	Policy Policy
	// MaxParallel bounds concurrent commissioning within one rank. 0 is unbounded.
	MaxParallel int
	// Optional lets the parent keep commissioning when this container fails.
	Optional  bool
	Factories *registry.FactoryRegistry
	Sequencer *lifecycle.Sequencer
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	// Context entries are passed to every component's Contextualize stage,
	// merged over the parent's.
	Context lifecycle.Context
}

// Container is one node of the containment tree.
type Container struct {
	name     string
	parent   *Container
	opts     Options
	scope    *descriptor.Scope
	registry *registry.Registry
	logger   *logging.Logger

	mu       sync.RWMutex
	state    atomic.Int32
	children []*Container

	lmu       sync.RWMutex
	listeners []Listener

	plan   atomic.Pointer[resolver.Plan]
	fmu    sync.Mutex
	failed map[string]error
}

// New creates a root container.
func New(name string, opts Options) *Container {
	if opts.Factories == nil {
		opts.Factories = registry.DefaultFactories()
	}
	if opts.Sequencer == nil {
		opts.Sequencer = lifecycle.NewSequencer()
		if opts.Metrics != nil {
			opts.Sequencer.OnTransition(opts.Metrics.ObserveTransition)
		}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("citadel/container")
	}
	if opts.Policy == "" {
		opts.Policy = ParentFirst
	}
	return newContainer(name, nil, opts)
}

func newContainer(name string, parent *Container, opts Options) *Container {
	c := &Container{
		name:   name,
		parent: parent,
		opts:   opts,
		failed: make(map[string]error),
	}

	var parentScope *descriptor.Scope
	var parentRegistry *registry.Registry
	if parent != nil {
		parentScope = parent.scope
		parentRegistry = parent.registry
	}
	c.scope = descriptor.NewScope(name, parentScope)
	c.registry = registry.New(c.Path(), c, registry.Options{
		Parent:       parentRegistry,
		Sequencer:    opts.Sequencer,
		PoolObserver: opts.Metrics,
	})
	c.logger = logging.GetLogger("container").WithField("container", c.Path())
	return c
}

// AddChild creates a nested container whose scope and registry inherit from c.
// Returns an InvalidState error if c is disposed and an Assembly error if the
// name is already taken by a sibling.
func (c *Container) AddChild(name string, opts Options) (*Container, error) {
	if name == "" || strings.ContainsAny(name, "/ ") {
		return nil, cterrors.NewAssemblyError(name, "invalid container name %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == lifecycle.Disposed {
		return nil, cterrors.NewInvalidStateError(c.Path(), "cannot add child %q to disposed container %s", name, c.Path())
	}
	for _, child := range c.children {
		if child.name == name {
			return nil, cterrors.NewAssemblyError(name, "container %s already has a child named %q", c.Path(), name)
		}
	}

	if opts.Policy == "" {
		opts.Policy = c.opts.Policy
	}
	if opts.MaxParallel == 0 {
		opts.MaxParallel = c.opts.MaxParallel
	}
	opts.Factories = c.opts.Factories
	opts.Sequencer = c.opts.Sequencer
	opts.Metrics = c.opts.Metrics
	opts.Tracer = c.opts.Tracer

	child := newContainer(name, c, opts)
	c.children = append(c.children, child)
	return child, nil
}

// Add declares a component. Components added to a started container are
// resolved immediately and commissioned on their first bind.
func (c *Container) Add(desc descriptor.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	if st == lifecycle.Disposed {
		return cterrors.NewInvalidStateError(c.Path(), "cannot add %q to disposed container %s", desc.Name, c.Path())
	}
	if err := c.scope.Add(desc); err != nil {
		return err
	}
	if st != lifecycle.Started {
		return nil
	}

	plan, err := resolver.Resolve(c.scope)
	if err != nil {
		c.scope.Remove(desc.Name)
		return err
	}
	d, _ := c.scope.Get(desc.Name)
	if err := c.registry.Register(d); err != nil {
		c.scope.Remove(desc.Name)
		return err
	}
	c.plan.Store(plan)
	c.logger.Debug("Added %s to started container", desc.Name)
	return nil
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Parent returns the enclosing container or nil.
func (c *Container) Parent() *Container {
	return c.parent
}

// Path returns the slash separated path from the root, e.g. "/root/web".
func (c *Container) Path() string {
	if c.parent == nil {
		return "/" + c.name
	}
	return c.parent.Path() + "/" + c.name
}

// State returns Created, Started or Disposed.
func (c *Container) State() lifecycle.State {
	return lifecycle.State(c.state.Load())
}

// Optional reports whether the parent tolerates this container failing.
func (c *Container) Optional() bool {
	return c.opts.Optional
}

// Policy returns the commissioning policy.
func (c *Container) Policy() Policy {
	return c.opts.Policy
}

// Scope returns the container's descriptor scope.
func (c *Container) Scope() *descriptor.Scope {
	return c.scope
}

// Registry returns the container's registry.
func (c *Container) Registry() *registry.Registry {
	return c.registry
}

// Plan returns the resolved plan, or nil before commissioning.
func (c *Container) Plan() *resolver.Plan {
	return c.plan.Load()
}

// Children returns the child containers in declaration order.
func (c *Container) Children() []*Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Container(nil), c.children...)
}

// Failed returns the optional components whose commissioning failed.
func (c *Container) Failed() map[string]error {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	out := make(map[string]error, len(c.failed))
	for k, v := range c.failed {
		out[k] = v
	}
	return out
}

// Lookup finds a descendant by a path relative to c ("a/b" or "/a/b").
// An empty path returns c.
func (c *Container) Lookup(path string) (*Container, bool) {
	cur := c
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		next, ok := cur.child(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (c *Container) child(name string) (*Container, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.children {
		if child.name == name {
			return child, true
		}
	}
	return nil, false
}

// Bind returns an instance for role from this container's registry or an
// ancestor's. The container must be started.
func (c *Container) Bind(ctx context.Context, role, hint string) (interface{}, error) {
	if st := c.State(); st != lifecycle.Started {
		return nil, cterrors.NewInvalidStateError(c.Path(), "container %s is %s, not started", c.Path(), st)
	}
	return c.registry.Bind(ctx, role, hint)
}

// Release hands back an object obtained from Bind.
func (c *Container) Release(ctx context.Context, obj interface{}) error {
	return c.registry.Release(ctx, obj)
}

// Walk visits c and its descendants depth first, parents before children.
func (c *Container) Walk(fn func(*Container) error) error {
	if err := fn(c); err != nil {
		return err
	}
	for _, child := range c.Children() {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) setState(s lifecycle.State) {
	c.state.Store(int32(s))
}

func (c *Container) markFailed(name string, err error) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	c.failed[name] = err
}

func (c *Container) isFailed(name string) bool {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	_, ok := c.failed[name]
	return ok
}
