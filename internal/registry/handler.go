package registry

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/moolen/citadel/internal/descriptor"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/pool"
)

// Activator creates and commissions instances of a descriptor, and
// decommissions them again. The container implements it; it knows the
// resolved bindings needed to build each instance's environment.
type Activator interface {
	Activate(ctx context.Context, desc descriptor.Descriptor) (*lifecycle.Instance, error)
	Deactivate(ctx context.Context, inst *lifecycle.Instance) []error
}

// Recyclable objects are reset before a pooled instance is reused.
type Recyclable interface {
	Recycle() error
}

// handler implements one lifestyle for one component.
type handler interface {
	acquire(ctx context.Context) (*lifecycle.Instance, error)
	release(ctx context.Context, inst *lifecycle.Instance) error
	shutdown(ctx context.Context) []error
}

type singletonHandler struct {
	desc      descriptor.Descriptor
	activator Activator

	mu   sync.Mutex
	inst *lifecycle.Instance
}

// acquire commissions the instance on first use. Holding mu across Activate
// makes concurrent first access commission exactly once.
func (h *singletonHandler) acquire(ctx context.Context) (*lifecycle.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inst != nil {
		return h.inst, nil
	}
	inst, err := h.activator.Activate(ctx, h.desc)
	if err != nil {
		return nil, err
	}
	h.inst = inst
	return inst, nil
}

func (h *singletonHandler) adopt(inst *lifecycle.Instance) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inst != nil {
		return false
	}
	h.inst = inst
	return true
}

func (h *singletonHandler) release(context.Context, *lifecycle.Instance) error {
	return nil
}

func (h *singletonHandler) shutdown(ctx context.Context) []error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inst == nil {
		return nil
	}
	errs := h.activator.Deactivate(ctx, h.inst)
	h.inst = nil
	return errs
}

type pooledHandler struct {
	pool *pool.Pool[*lifecycle.Instance]
}

func newPooledHandler(desc descriptor.Descriptor, activator Activator, observer pool.Observer) (*pooledHandler, error) {
	p, err := pool.New(pool.Factory[*lifecycle.Instance]{
		New: func(ctx context.Context) (*lifecycle.Instance, error) {
			return activator.Activate(ctx, desc)
		},
		Reset: func(inst *lifecycle.Instance) error {
			if r, ok := inst.Object.(Recyclable); ok {
				return r.Recycle()
			}
			return nil
		},
		Destroy: func(inst *lifecycle.Instance) error {
			return stderrors.Join(activator.Deactivate(context.Background(), inst)...)
		},
	}, pool.Config{
		Name:         desc.Name,
		Min:          desc.Pool.Min,
		Max:          desc.Pool.Max,
		Strict:       desc.Pool.Strict,
		BlockTimeout: desc.Pool.BlockTimeout,
		Observer:     observer,
	})
	if err != nil {
		return nil, err
	}
	return &pooledHandler{pool: p}, nil
}

func (h *pooledHandler) acquire(ctx context.Context) (*lifecycle.Instance, error) {
	return h.pool.Acquire(ctx)
}

func (h *pooledHandler) release(_ context.Context, inst *lifecycle.Instance) error {
	return h.pool.Release(inst)
}

// shutdown closes the pool; instances still checked out are destroyed when
// they come back.
func (h *pooledHandler) shutdown(context.Context) []error {
	return h.pool.Close()
}

type perRequestHandler struct {
	desc      descriptor.Descriptor
	activator Activator
}

func (h *perRequestHandler) acquire(ctx context.Context) (*lifecycle.Instance, error) {
	return h.activator.Activate(ctx, h.desc)
}

// release decommissions the instance and returns its disposal errors joined.
func (h *perRequestHandler) release(ctx context.Context, inst *lifecycle.Instance) error {
	return stderrors.Join(h.activator.Deactivate(ctx, inst)...)
}

func (h *perRequestHandler) shutdown(context.Context) []error {
	return nil
}
