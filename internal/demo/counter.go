package demo

import (
	"context"
	"fmt"
	"sync/atomic"
)

var counterSeq atomic.Int64

// Counter is a pooled scratch counter. Recycle zeroes it before reuse.
type Counter struct {
	id       int64
	value    int
	disposed bool
}

// NewCounter returns a counter with a process-unique id.
func NewCounter() *Counter {
	return &Counter{id: counterSeq.Add(1)}
}

func (c *Counter) Initialize(context.Context) error {
	c.value = 0
	return nil
}

func (c *Counter) Dispose(context.Context) error {
	if c.disposed {
		return fmt.Errorf("counter %d already disposed", c.id)
	}
	c.disposed = true
	return nil
}

// Recycle resets the counter when it returns to the pool.
func (c *Counter) Recycle() error {
	c.value = 0
	return nil
}

// Incr adds one and returns the new value.
func (c *Counter) Incr() int {
	c.value++
	return c.value
}

// Value returns the current count.
func (c *Counter) Value() int {
	return c.value
}

// ID identifies the pooled instance.
func (c *Counter) ID() int64 {
	return c.id
}

// Disposed reports whether Dispose ran.
func (c *Counter) Disposed() bool {
	return c.disposed
}
