package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moolen/citadel/internal/descriptor"
)

// Factory creates the object backing one component instance.
// desc is the component's descriptor, including its configuration.
// The returned object's optional lifecycle interfaces decide which stages it takes part in.
type Factory func(ctx context.Context, desc descriptor.Descriptor) (interface{}, error)

// FactoryRegistry maps type tags to factories. It replaces runtime class
// loading: the tag in a descriptor names a factory registered at process start.
//
// Usage pattern:
//
//	// In the package providing the component:
//	func init() {
//	  registry.RegisterFactory("clock", NewClock)
//	}
//
//	// Or explicitly in main():
//	func main() {
//	  registry.RegisterFactory("clock", demo.NewClock)
//	}
type FactoryRegistry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// defaultFactories is the process-wide table used by the package-level functions
var defaultFactories = NewFactoryRegistry()

// NewFactoryRegistry creates an empty factory registry
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		factories: make(map[string]Factory),
	}
}

// DefaultFactories returns the process-wide factory registry.
func DefaultFactories() *FactoryRegistry {
	return defaultFactories
}

// Register adds a factory for the given type tag.
// Returns error if:
//   - typeTag is empty string
//   - factory is nil
//   - typeTag is already registered
//
// Thread-safe for concurrent registration (though typically done at init time)
func (r *FactoryRegistry) Register(typeTag string, factory Factory) error {
	if typeTag == "" {
		return fmt.Errorf("type tag cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for type %q cannot be nil", typeTag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeTag]; exists {
		return fmt.Errorf("type %q is already registered", typeTag)
	}

	r.factories[typeTag] = factory
	return nil
}

// Get retrieves the factory for the given type tag.
// Returns (factory, true) if found, (nil, false) if not registered.
func (r *FactoryRegistry) Get(typeTag string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[typeTag]
	return factory, exists
}

// List returns a sorted list of all registered type tags.
func (r *FactoryRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	sort.Strings(types)
	return types
}

// RegisterFactory registers a factory with the process-wide registry.
// This is the primary API for component packages to register themselves.
func RegisterFactory(typeTag string, factory Factory) error {
	return defaultFactories.Register(typeTag, factory)
}

// MustRegisterFactory is RegisterFactory for init functions; it panics on error.
func MustRegisterFactory(typeTag string, factory Factory) {
	if err := RegisterFactory(typeTag, factory); err != nil {
		panic(err)
	}
}

// GetFactory retrieves a factory from the process-wide registry.
func GetFactory(typeTag string) (Factory, bool) {
	return defaultFactories.Get(typeTag)
}

// ListFactories returns all type tags of the process-wide registry.
func ListFactories() []string {
	return defaultFactories.List()
}
