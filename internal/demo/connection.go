package demo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/citadel/internal/lifecycle"
)

// Connection is a per-request session. Each bind opens a fresh one and
// release closes it. The "clock" role, when declared, stamps the open time.
//
// Configuration:
//
//	target: host:port   required
type Connection struct {
	mu       sync.Mutex
	id       string
	target   string
	clock    TimeSource
	openedAt time.Time
	open     bool
	queries  int
}

// NewConnection returns a closed connection.
func NewConnection() *Connection {
	return &Connection{}
}

func (c *Connection) Contextualize(_ context.Context, entries lifecycle.Context) error {
	if id, err := entries.Get("component.id"); err == nil {
		c.id = fmt.Sprint(id)
	}
	return nil
}

func (c *Connection) Configure(_ context.Context, cfg lifecycle.Configuration) error {
	c.target = cfg.String("target", "")
	if c.target == "" {
		return fmt.Errorf("target must be set")
	}
	return nil
}

func (c *Connection) Service(ctx context.Context, sm lifecycle.ServiceManager) error {
	if !sm.Has("clock") {
		return nil
	}
	obj, err := sm.Lookup(ctx, "clock")
	if err != nil {
		return err
	}
	c.clock, _ = obj.(TimeSource)
	return nil
}

func (c *Connection) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	if c.clock != nil {
		c.openedAt = c.clock.Now()
	}
	return nil
}

func (c *Connection) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return fmt.Errorf("connection %s not open", c.id)
	}
	c.open = false
	return nil
}

// Query records one round trip on an open connection.
func (c *Connection) Query(q string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return "", fmt.Errorf("connection %s is closed", c.id)
	}
	c.queries++
	return fmt.Sprintf("%s@%s #%d: %s", c.id, c.target, c.queries, q), nil
}

// Open reports whether the connection is usable.
func (c *Connection) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// ID is the instance id assigned by the container.
func (c *Connection) ID() string {
	return c.id
}

// OpenedAt is the clock reading at Start, zero without a clock.
func (c *Connection) OpenedAt() time.Time {
	return c.openedAt
}
