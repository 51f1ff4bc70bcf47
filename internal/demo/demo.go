// Package demo provides small in-tree components used by the sample assembly
// and by tests. Each registers a factory with the default factory registry
// under its type tag.
package demo

import (
	"context"
	"time"

	"github.com/moolen/citadel/internal/descriptor"
	"github.com/moolen/citadel/internal/registry"
)

// Type tags
const (
	ClockType      = "clock"
	GreeterType    = "greeter"
	CounterType    = "counter"
	ConnectionType = "connection"
	StoreType      = "store"
)

// TimeSource is the service provided by the clock.
type TimeSource interface {
	Now() time.Time
}

// KV is the service provided by the store.
type KV interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

func init() {
	Register(registry.DefaultFactories())
}

// Register adds every demo factory to r. Already registered tags are left alone.
func Register(r *registry.FactoryRegistry) {
	factories := map[string]registry.Factory{
		ClockType:      func(context.Context, descriptor.Descriptor) (interface{}, error) { return NewClock(), nil },
		GreeterType:    func(context.Context, descriptor.Descriptor) (interface{}, error) { return NewGreeter(), nil },
		CounterType:    func(context.Context, descriptor.Descriptor) (interface{}, error) { return NewCounter(), nil },
		ConnectionType: func(context.Context, descriptor.Descriptor) (interface{}, error) { return NewConnection(), nil },
		StoreType:      func(context.Context, descriptor.Descriptor) (interface{}, error) { return NewStore(), nil },
	}
	for tag, f := range factories {
		if _, exists := r.Get(tag); exists {
			continue
		}
		_ = r.Register(tag, f)
	}
}
