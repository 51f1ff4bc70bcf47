// Package pool implements a bounded pool of reusable instances.
//
// A Pool grows on demand up to Max live instances and never trims below Min.
// Every live instance is either checked out or available, never both.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/logging"
	"golang.org/x/sync/semaphore"
)

// Factory creates, resets and destroys pooled instances. Reset and Destroy may be nil.
type Factory[T any] struct {
	New     func(ctx context.Context) (T, error)
	Reset   func(obj T) error
	Destroy func(obj T) error
}

// Config bounds a pool.
type Config struct {
	Name string
	Min  int
	// Max is the live instance limit. 0 means unbounded.
	Max int
	// Strict fails Acquire immediately at Max instead of blocking.
	Strict bool
	// BlockTimeout limits how long Acquire blocks at Max. 0 waits for a release or ctx.
	BlockTimeout time.Duration
	// Observer is notified after every change. May be nil.
	Observer Observer
}

// Observer receives pool statistics, typically to export them as metrics.
type Observer interface {
	ObservePool(stats Stats)
}

// Stats is a consistent snapshot of a pool.
type Stats struct {
	Name       string
	Live       int
	CheckedOut int
	Available  int
	Min        int
	Max        int
	Created    uint64
	Destroyed  uint64
}

// Pool is a bounded pool of T. Instances are tracked by identity, so T is
// usually a pointer type.
type Pool[T comparable] struct {
	cfg     Config
	factory Factory[T]
	sem     *semaphore.Weighted // counts checked-out slots; nil when unbounded
	logger  *logging.Logger

	mu         sync.Mutex
	available  []T
	checkedOut map[T]struct{}
	closed     bool
	created    uint64
	destroyed  uint64
}

// New creates an empty pool. Call Prefill to create the Min instances up front.
func New[T comparable](factory Factory[T], cfg Config) (*Pool[T], error) {
	if factory.New == nil {
		return nil, fmt.Errorf("pool %q: factory New function is required", cfg.Name)
	}
	if cfg.Min < 0 || cfg.Max < 0 {
		return nil, fmt.Errorf("pool %q: bounds must not be negative", cfg.Name)
	}
	if cfg.Max > 0 && cfg.Min > cfg.Max {
		return nil, fmt.Errorf("pool %q: min %d exceeds max %d", cfg.Name, cfg.Min, cfg.Max)
	}

	p := &Pool[T]{
		cfg:        cfg,
		factory:    factory,
		checkedOut: make(map[T]struct{}),
		logger:     logging.GetLogger("pool").WithField("pool", cfg.Name),
	}
	if cfg.Max > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.Max))
	}
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool[T]) Name() string {
	return p.cfg.Name
}

// Acquire checks out an instance. At capacity it fails fast with a
// ResourceExhausted error when Strict, otherwise blocks until a release, ctx
// cancellation or BlockTimeout; cancellation and timeout are also reported as
// ResourceExhausted.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	if p.isClosed() {
		return zero, cterrors.NewInvalidStateError(p.cfg.Name, "pool %q is closed", p.cfg.Name)
	}

	if p.sem != nil {
		if err := p.reserve(ctx); err != nil {
			return zero, err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.unreserve()
		return zero, cterrors.NewInvalidStateError(p.cfg.Name, "pool %q is closed", p.cfg.Name)
	}
	if n := len(p.available); n > 0 {
		obj := p.available[n-1]
		p.available = p.available[:n-1]
		p.checkedOut[obj] = struct{}{}
		stats := p.statsLocked()
		p.mu.Unlock()
		p.observe(stats)
		return obj, nil
	}
	p.mu.Unlock()

	obj, err := p.factory.New(ctx)
	if err != nil {
		p.unreserve()
		return zero, fmt.Errorf("pool %q: failed to create instance: %w", p.cfg.Name, err)
	}

	p.mu.Lock()
	p.created++
	if p.closed {
		p.mu.Unlock()
		if derr := p.destroy(obj); derr != nil {
			p.logger.Warn("Destroy after close failed: %v", derr)
		}
		p.unreserve()
		return zero, cterrors.NewInvalidStateError(p.cfg.Name, "pool %q is closed", p.cfg.Name)
	}
	p.checkedOut[obj] = struct{}{}
	stats := p.statsLocked()
	p.mu.Unlock()

	p.logger.Debug("Created instance (live=%d)", stats.Live)
	p.observe(stats)
	return obj, nil
}

func (p *Pool[T]) reserve(ctx context.Context) error {
	if p.cfg.Strict {
		if !p.sem.TryAcquire(1) {
			return cterrors.NewExhaustedError(p.cfg.Name, p.cfg.Max, nil)
		}
		return nil
	}

	if p.cfg.BlockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.BlockTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return cterrors.NewExhaustedError(p.cfg.Name, p.cfg.Max, err)
	}
	return nil
}

func (p *Pool[T]) unreserve() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

// Release returns a checked-out instance. Releasing an instance the pool did
// not hand out, or one already released, is an InvalidState error. An instance
// whose Reset fails, or that is released after Close, is destroyed instead of
// being reused; a Destroy failure is returned but the instance is released.
func (p *Pool[T]) Release(obj T) error {
	p.mu.Lock()
	if _, ok := p.checkedOut[obj]; !ok {
		p.mu.Unlock()
		return cterrors.NewInvalidStateError(p.cfg.Name, "instance is not checked out of pool %q", p.cfg.Name)
	}

	discard := p.closed
	if !discard && p.factory.Reset != nil {
		if err := p.factory.Reset(obj); err != nil {
			p.logger.Warn("Reset failed, discarding instance: %v", err)
			discard = true
		}
	}

	delete(p.checkedOut, obj)
	if !discard {
		p.available = append(p.available, obj)
	}
	stats := p.statsLocked()
	p.mu.Unlock()

	var derr error
	if discard {
		derr = p.destroy(obj)
		stats = p.Stats()
	}
	p.unreserve()
	p.observe(stats)
	return derr
}

// Prefill creates instances until Min are live.
func (p *Pool[T]) Prefill(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return cterrors.NewInvalidStateError(p.cfg.Name, "pool %q is closed", p.cfg.Name)
		}
		if len(p.available)+len(p.checkedOut) >= p.cfg.Min {
			stats := p.statsLocked()
			p.mu.Unlock()
			p.observe(stats)
			return nil
		}
		p.mu.Unlock()

		obj, err := p.factory.New(ctx)
		if err != nil {
			return fmt.Errorf("pool %q: prefill failed: %w", p.cfg.Name, err)
		}

		p.mu.Lock()
		p.created++
		p.available = append(p.available, obj)
		p.mu.Unlock()
	}
}

// Trim destroys available instances while more than Min are live. It returns
// the number destroyed.
func (p *Pool[T]) Trim() int {
	var victims []T

	p.mu.Lock()
	for len(p.available) > 0 && len(p.available)+len(p.checkedOut) > p.cfg.Min {
		n := len(p.available)
		victims = append(victims, p.available[n-1])
		p.available = p.available[:n-1]
	}
	p.mu.Unlock()

	for _, obj := range victims {
		if err := p.destroy(obj); err != nil {
			p.logger.Warn("Trim: %v", err)
		}
	}
	if len(victims) > 0 {
		p.logger.Debug("Trimmed %d instances", len(victims))
	}
	p.observe(p.Stats())
	return len(victims)
}

// Close destroys every available instance and rejects further acquisitions.
// Checked-out instances are destroyed when they are released. It returns the
// Destroy errors; a second Close returns nil.
func (p *Pool[T]) Close() []error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	victims := p.available
	p.available = nil
	p.mu.Unlock()

	var errs []error
	for _, obj := range victims {
		if err := p.destroy(obj); err != nil {
			errs = append(errs, err)
		}
	}
	p.observe(p.Stats())
	return errs
}

// Stats returns a snapshot of the pool.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// Holds reports whether obj is currently checked out of this pool.
func (p *Pool[T]) Holds(obj T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.checkedOut[obj]
	return ok
}

func (p *Pool[T]) statsLocked() Stats {
	return Stats{
		Name:       p.cfg.Name,
		Live:       len(p.available) + len(p.checkedOut),
		CheckedOut: len(p.checkedOut),
		Available:  len(p.available),
		Min:        p.cfg.Min,
		Max:        p.cfg.Max,
		Created:    p.created,
		Destroyed:  p.destroyed,
	}
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[T]) destroy(obj T) error {
	var err error
	if p.factory.Destroy != nil {
		err = p.factory.Destroy(obj)
	}
	p.mu.Lock()
	p.destroyed++
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("pool %q: destroy failed: %w", p.cfg.Name, err)
	}
	return nil
}

func (p *Pool[T]) observe(stats Stats) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObservePool(stats)
	}
}
