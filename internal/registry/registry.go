// Package registry serves component instances to consumers by role and hint.
//
// Every component is registered under its name (hint "") and under each
// service it provides (hint = descriptor hint, or the component name). Bind
// applies the component's lifestyle: singletons are commissioned once, pooled
// components are borrowed from a bounded pool and per-request components are
// created on every call. Lookups fall back to the parent registry.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/logging"
	"github.com/moolen/citadel/internal/pool"
)

// Registration is one role/hint entry pointing at a component.
type Registration struct {
	Role       string
	Hint       string
	Lifestyle  descriptor.Lifestyle
	Descriptor descriptor.Descriptor
}

// Options configures a Registry.
type Options struct {
	// Parent is consulted when a role is not registered locally.
	Parent *Registry
	// Sequencer runs extension access and release hooks. May be nil.
	Sequencer *lifecycle.Sequencer
	// PoolObserver receives statistics from every pool of this registry.
	PoolObserver pool.Observer
}

type entry struct {
	desc    descriptor.Descriptor
	handler handler
	regs    []*Registration
}

type hold struct {
	entry *entry
	inst  *lifecycle.Instance
	count int
}

// Registry holds the registrations of one container.
type Registry struct {
	name      string
	parent    *Registry
	activator Activator
	sequencer *lifecycle.Sequencer
	observer  pool.Observer
	logger    *logging.Logger

	mu         sync.RWMutex
	order      []string
	components map[string]*entry
	roles      map[string][]*Registration
	held       map[interface{}]*hold
}

// New creates a registry whose instances are built by activator.
func New(name string, activator Activator, opts Options) *Registry {
	return &Registry{
		name:       name,
		parent:     opts.Parent,
		activator:  activator,
		sequencer:  opts.Sequencer,
		observer:   opts.PoolObserver,
		logger:     logging.GetLogger("registry").WithField("registry", name),
		components: make(map[string]*entry),
		roles:      make(map[string][]*Registration),
		held:       make(map[interface{}]*hold),
	}
}

// Name returns the registry name.
func (r *Registry) Name() string {
	return r.name
}

// Parent returns the parent registry or nil.
func (r *Registry) Parent() *Registry {
	return r.parent
}

// Register adds desc under its name and under each service it provides.
// Returns error if the component name is already registered here.
func (r *Registry) Register(desc descriptor.Descriptor) error {
	e := &entry{desc: desc}
	switch desc.Lifestyle {
	case descriptor.Pooled:
		h, err := newPooledHandler(desc, r.activator, r.observer)
		if err != nil {
			return cterrors.NewAssemblyError(desc.Name, "%v", err)
		}
		e.handler = h
	case descriptor.PerRequest:
		e.handler = &perRequestHandler{desc: desc, activator: r.activator}
	default:
		e.handler = &singletonHandler{desc: desc, activator: r.activator}
	}

	e.regs = append(e.regs, &Registration{Role: desc.Name, Lifestyle: desc.Lifestyle, Descriptor: desc})
	hint := desc.Hint
	if hint == "" {
		hint = desc.Name
	}
	for _, svc := range desc.ServiceIDs() {
		e.regs = append(e.regs, &Registration{Role: svc, Hint: hint, Lifestyle: desc.Lifestyle, Descriptor: desc})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[desc.Name]; exists {
		return cterrors.NewAssemblyError(desc.Name, "component %q is already registered in %q", desc.Name, r.name)
	}
	r.components[desc.Name] = e
	r.order = append(r.order, desc.Name)
	for _, reg := range e.regs {
		r.roles[reg.Role] = append(r.roles[reg.Role], reg)
	}

	r.logger.Debug("Registered %s (%s) under %d roles", desc.Name, desc.Lifestyle, len(e.regs))
	return nil
}

// Adopt installs an already commissioned singleton instance.
func (r *Registry) Adopt(name string, inst *lifecycle.Instance) error {
	r.mu.RLock()
	e, ok := r.components[name]
	r.mu.RUnlock()
	if !ok {
		return cterrors.NewNotFoundError(name, "")
	}
	h, ok := e.handler.(*singletonHandler)
	if !ok {
		return cterrors.NewInvalidStateError(name, "component %q is %s, only singletons can be adopted", name, e.desc.Lifestyle)
	}
	if !h.adopt(inst) {
		return cterrors.NewInvalidStateError(name, "singleton %q already has a live instance", name)
	}
	return nil
}

// Warm commissions a component ahead of its first bind: a singleton gets its
// live instance, a pool is prefilled to its minimum. Per-request components
// are left alone. Warming a live singleton is a no-op.
func (r *Registry) Warm(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.components[name]
	r.mu.RUnlock()
	if !ok {
		return cterrors.NewNotFoundError(name, "")
	}
	switch h := e.handler.(type) {
	case *singletonHandler:
		_, err := h.acquire(ctx)
		return err
	case *pooledHandler:
		return h.pool.Prefill(ctx)
	}
	return nil
}

// Has reports whether role resolves in this registry or an ancestor.
func (r *Registry) Has(role, hint string) bool {
	_, _, err := r.find(role, hint)
	return err == nil
}

// HasComponent reports whether name is registered in this registry itself.
func (r *Registry) HasComponent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[name]
	return ok
}

// BindComponent returns an instance of the component registered here under
// name. Unlike Bind it neither matches services nor falls back to the parent.
func (r *Registry) BindComponent(ctx context.Context, name string) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.components[name]
	r.mu.RUnlock()
	if !ok {
		return nil, cterrors.NewNotFoundError(name, "")
	}
	return r.bind(ctx, e.regs[0])
}

// Bind returns an instance for role. hint "" selects the registration with an
// empty hint, else the first registered for the role.
//
// Returns a NotFound error if no registration matches, a ResolutionFailure if
// commissioning the matched component fails, and a ResourceExhausted error if
// its pool is at capacity.
func (r *Registry) Bind(ctx context.Context, role, hint string) (interface{}, error) {
	owner, reg, err := r.find(role, hint)
	if err != nil {
		return nil, err
	}
	return owner.bind(ctx, reg)
}

func (r *Registry) bind(ctx context.Context, reg *Registration) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.components[reg.Descriptor.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, cterrors.NewNotFoundError(reg.Role, reg.Hint)
	}

	inst, err := e.handler.acquire(ctx)
	if err != nil {
		switch cterrors.KindOf(err) {
		case cterrors.KindResourceExhausted, cterrors.KindInvalidState:
			return nil, err
		}
		return nil, cterrors.NewResolutionError(reg.Role, e.desc.Name, err)
	}

	if t := reflect.TypeOf(inst.Object); t == nil || !t.Comparable() {
		_ = e.handler.release(ctx, inst)
		return nil, cterrors.NewResolutionError(reg.Role, e.desc.Name,
			fmt.Errorf("factory returned %T, which cannot be tracked (use a pointer)", inst.Object))
	}

	if r.sequencer != nil {
		if err := r.sequencer.Access(ctx, inst); err != nil {
			_ = e.handler.release(ctx, inst)
			return nil, cterrors.NewResolutionError(reg.Role, e.desc.Name, err)
		}
	}

	r.mu.Lock()
	h, ok := r.held[inst.Object]
	if !ok {
		h = &hold{entry: e, inst: inst}
		r.held[inst.Object] = h
	}
	h.count++
	r.mu.Unlock()

	return inst.Object, nil
}

// Release hands back an object obtained from Bind on this registry or an
// ancestor. Pooled instances return to their pool, per-request instances are
// decommissioned and singletons stay live. Releasing an object that is not
// currently held is an InvalidState error. Disposal errors of a per-request
// instance, or of a pooled one released after its pool closed, are returned;
// the object counts as released either way.
func (r *Registry) Release(ctx context.Context, obj interface{}) error {
	if t := reflect.TypeOf(obj); t == nil || !t.Comparable() {
		return cterrors.NewInvalidStateError(r.name, "cannot release %T: not held by any registry", obj)
	}
	for reg := r; reg != nil; reg = reg.parent {
		ok, err := reg.release(ctx, obj)
		if ok {
			return err
		}
	}
	return cterrors.NewInvalidStateError(r.name, "cannot release %T: not held by any registry", obj)
}

func (r *Registry) release(ctx context.Context, obj interface{}) (bool, error) {
	r.mu.Lock()
	h, ok := r.held[obj]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	h.count--
	if h.count <= 0 {
		delete(r.held, obj)
	}
	r.mu.Unlock()

	if r.sequencer != nil {
		if err := r.sequencer.Release(ctx, h.inst); err != nil {
			r.logger.Warn("Release hook for %s failed: %v", h.entry.desc.Name, err)
		}
	}
	if err := h.entry.handler.release(ctx, h.inst); err != nil {
		r.logger.Warn("Release of %s: %v", h.entry.desc.Name, err)
		return true, err
	}
	return true, nil
}

// Unregister removes a component and shuts down its handler: the singleton
// is decommissioned, the pool is closed and outstanding per-request
// instances are decommissioned. Errors are returned as a report.
func (r *Registry) Unregister(ctx context.Context, name string) []error {
	r.mu.Lock()
	e, ok := r.components[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.components, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for _, reg := range e.regs {
		regs := r.roles[reg.Role]
		for i, candidate := range regs {
			if candidate == reg {
				regs = append(regs[:i], regs[i+1:]...)
				break
			}
		}
		if len(regs) == 0 {
			delete(r.roles, reg.Role)
		} else {
			r.roles[reg.Role] = regs
		}
	}

	var outstanding []*lifecycle.Instance
	for obj, h := range r.held {
		if h.entry != e {
			continue
		}
		switch e.desc.Lifestyle {
		case descriptor.Pooled:
			// released later into the closed pool, which destroys them
			continue
		case descriptor.PerRequest:
			outstanding = append(outstanding, h.inst)
		}
		delete(r.held, obj)
	}
	r.mu.Unlock()

	errs := e.handler.shutdown(ctx)
	for _, inst := range outstanding {
		errs = append(errs, r.activator.Deactivate(ctx, inst)...)
	}
	return errs
}

// Components returns registered component names in registration order.
func (r *Registry) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Roles returns the sorted local roles.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.roles))
	for role := range r.roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Registrations returns copies of the local registrations for role, in
// registration order.
func (r *Registry) Registrations(role string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.roles[role]))
	for _, reg := range r.roles[role] {
		out = append(out, *reg)
	}
	return out
}

// PoolStats returns the statistics of every local pool, sorted by name.
func (r *Registry) PoolStats() []pool.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []pool.Stats
	for _, name := range r.order {
		if h, ok := r.components[name].handler.(*pooledHandler); ok {
			out = append(out, h.pool.Stats())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Held returns the number of distinct objects currently bound from this registry.
func (r *Registry) Held() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.held)
}

func (r *Registry) find(role, hint string) (*Registry, *Registration, error) {
	for reg := r; reg != nil; reg = reg.parent {
		if found := reg.selectLocal(role, hint); found != nil {
			return reg, found, nil
		}
	}
	return nil, nil, cterrors.NewNotFoundError(role, hint)
}

func (r *Registry) selectLocal(role, hint string) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.roles[role]
	if len(regs) == 0 {
		return nil
	}
	if hint != "" {
		for _, reg := range regs {
			if reg.Hint == hint {
				return reg
			}
		}
		return nil
	}
	for _, reg := range regs {
		if reg.Hint == "" {
			return reg
		}
	}
	return regs[0]
}
