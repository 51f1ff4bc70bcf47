package container

import (
	"context"
	"sync"
)

// Listener observes a container. Callbacks run after the outermost
// Commission or Decommission call has released every container lock, so they
// may read the tree freely. Any field may be nil.
type Listener struct {
	OnCommissioned    func(c *Container)
	OnDecommissioned  func(c *Container, report DisposalReport)
	OnComponentFailed func(c *Container, component string, err error)
}

// AddListener registers l on this container only.
func (c *Container) AddListener(l Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Container) snapshotListeners() []Listener {
	c.lmu.RLock()
	defer c.lmu.RUnlock()
	return append([]Listener(nil), c.listeners...)
}

// eventQueue collects listener notifications raised while a tree operation
// holds container locks. A nested operation on a child shares its parent's
// queue through the context.
type eventQueue struct {
	mu     sync.Mutex
	events []func()
}

type eventQueueKey struct{}

// withEvents returns ctx carrying an event queue. owner is true when the queue
// was created here; the owner flushes it once its locks are released.
func withEvents(ctx context.Context) (context.Context, *eventQueue, bool) {
	if q, ok := ctx.Value(eventQueueKey{}).(*eventQueue); ok {
		return ctx, q, false
	}
	q := &eventQueue{}
	return context.WithValue(ctx, eventQueueKey{}, q), q, true
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.events = append(q.events, fn)
	q.mu.Unlock()
}

// flush runs queued events in order, including ones queued by the events.
func (q *eventQueue) flush() {
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()
		fn()
	}
}

// notify queues fn when ctx belongs to a tree operation, else runs it now.
func (c *Container) notify(ctx context.Context, fn func(l Listener)) {
	listeners := c.snapshotListeners()
	if len(listeners) == 0 {
		return
	}
	run := func() {
		for _, l := range listeners {
			fn(l)
		}
	}
	if q, ok := ctx.Value(eventQueueKey{}).(*eventQueue); ok {
		q.push(run)
		return
	}
	run()
}
