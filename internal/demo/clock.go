package demo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/logging"
)

// Clock provides the current time. It refuses to answer until started.
//
// Configuration:
//
//	utc: true        report UTC instead of local time
//	offset: 1h       fixed offset added to every reading
type Clock struct {
	logger  *logging.Logger
	utc     bool
	offset  time.Duration
	started atomic.Bool
	now     func() time.Time
}

// NewClock returns a clock reading the wall time.
func NewClock() *Clock {
	return &Clock{logger: logging.GetLogger("demo.clock"), now: time.Now}
}

func (c *Clock) EnableLogging(logger *logging.Logger) {
	c.logger = logger
}

func (c *Clock) Configure(_ context.Context, cfg lifecycle.Configuration) error {
	c.utc = cfg.Bool("utc", false)
	c.offset = cfg.Duration("offset", 0)
	return nil
}

func (c *Clock) Start(context.Context) error {
	c.started.Store(true)
	c.logger.Debug("Clock started (utc=%t, offset=%s)", c.utc, c.offset)
	return nil
}

func (c *Clock) Stop(context.Context) error {
	c.started.Store(false)
	return nil
}

// Now returns the current reading, or the zero time when the clock is stopped.
func (c *Clock) Now() time.Time {
	if !c.started.Load() {
		return time.Time{}
	}
	t := c.now().Add(c.offset)
	if c.utc {
		t = t.UTC()
	}
	return t
}

// Running reports whether the clock was started and not yet stopped.
func (c *Clock) Running() bool {
	return c.started.Load()
}

func (c *Clock) String() string {
	return fmt.Sprintf("clock(utc=%t, offset=%s)", c.utc, c.offset)
}
