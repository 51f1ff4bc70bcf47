package demo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/logging"
)

// Greeter builds greetings stamped by a clock. Roles: "clock" (required,
// a TimeSource) and "store" (optional, a KV keeping per-name counts).
//
// Configuration:
//
//	greeting: hello   required
type Greeter struct {
	logger   *logging.Logger
	greeting string
	clock    TimeSource
	store    KV
}

// NewGreeter returns an unconfigured greeter.
func NewGreeter() *Greeter {
	return &Greeter{logger: logging.GetLogger("demo.greeter")}
}

func (g *Greeter) EnableLogging(logger *logging.Logger) {
	g.logger = logger
}

func (g *Greeter) Configure(_ context.Context, cfg lifecycle.Configuration) error {
	g.greeting = cfg.String("greeting", "")
	return nil
}

func (g *Greeter) Service(ctx context.Context, sm lifecycle.ServiceManager) error {
	obj, err := sm.Lookup(ctx, "clock")
	if err != nil {
		return err
	}
	clock, ok := obj.(TimeSource)
	if !ok {
		return fmt.Errorf("role clock: %T does not provide the time", obj)
	}
	g.clock = clock

	if !sm.Has("store") {
		return nil
	}
	obj, err = sm.Lookup(ctx, "store")
	if err != nil {
		g.logger.Warn("Store unavailable, greetings will not be counted: %v", err)
		return nil
	}
	if kv, ok := obj.(KV); ok {
		g.store = kv
	}
	return nil
}

func (g *Greeter) Initialize(context.Context) error {
	if strings.TrimSpace(g.greeting) == "" {
		return fmt.Errorf("greeting must not be empty")
	}
	return nil
}

// Greet returns "<greeting>, <name> (<time>)". With a store, repeat visitors
// are told how often they were greeted.
func (g *Greeter) Greet(name string) string {
	msg := fmt.Sprintf("%s, %s (%s)", g.greeting, name, g.clock.Now().Format("15:04:05"))
	if g.store == nil {
		return msg
	}

	key := "greeted." + name
	count := 1
	if prev, ok := g.store.Get(key); ok {
		if n, err := strconv.Atoi(prev); err == nil {
			count = n + 1
		}
	}
	g.store.Put(key, strconv.Itoa(count))
	if count > 1 {
		msg = fmt.Sprintf("%s, greeted %d times", msg, count)
	}
	return msg
}
