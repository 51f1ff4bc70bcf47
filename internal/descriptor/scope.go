package descriptor

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-version"
	lru "github.com/hashicorp/golang-lru/v2"
	cterrors "github.com/moolen/citadel/internal/errors"
)

const lookupCacheSize = 256

// Match is a descriptor found by a scope lookup together with the scope that declares it.
type Match struct {
	Descriptor Descriptor
	Scope      *Scope
	// Depth is 0 for the scope queried, 1 for its parent, and so on.
	Depth int
}

type cachedMatch struct {
	generation uint64
	match      *Match
}

// Scope is one node of the containment scope chain: the descriptors a
// container declares, plus everything inherited from its ancestors.
type Scope struct {
	name   string
	parent *Scope

	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor

	generation atomic.Uint64
	cache      *lru.Cache[string, cachedMatch]
}

// NewScope creates a scope; parent may be nil for the root.
func NewScope(name string, parent *Scope) *Scope {
	cache, _ := lru.New[string, cachedMatch](lookupCacheSize)
	return &Scope{
		name:   name,
		parent: parent,
		byName: make(map[string]Descriptor),
		cache:  cache,
	}
}

// Name returns the scope name.
func (s *Scope) Name() string {
	return s.name
}

// Parent returns the enclosing scope or nil.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Add validates desc and declares it locally. Names are unique within a scope;
// shadowing an ancestor's name is allowed.
func (s *Scope) Add(desc Descriptor) error {
	d := desc.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[d.Name]; exists {
		return cterrors.NewAssemblyError(d.Name, "component %q is already declared in scope %q", d.Name, s.name)
	}
	s.byName[d.Name] = d
	s.order = append(s.order, d.Name)
	s.generation.Add(1)
	return nil
}

// Remove drops a local descriptor. Returns false if it was not declared here.
func (s *Scope) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; !exists {
		return false
	}
	delete(s.byName, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.generation.Add(1)
	return true
}

// Get returns a local descriptor.
func (s *Scope) Get(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.Clone(), true
}

// Descriptors returns the local descriptors in declaration order.
func (s *Scope) Descriptors() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Descriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name].Clone())
	}
	return out
}

// Len returns the number of local descriptors.
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Visible returns local names followed by inherited names not shadowed locally.
func (s *Scope) Visible() []string {
	seen := make(map[string]bool)
	var out []string
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.RLock()
		for _, name := range sc.order {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
		sc.mu.RUnlock()
	}
	return out
}

// Lookup finds name in this scope or the nearest ancestor declaring it.
func (s *Scope) Lookup(name string) (*Match, bool) {
	return s.cached("name:"+name, func() *Match {
		depth := 0
		for sc := s; sc != nil; sc = sc.parent {
			if d, ok := sc.Get(name); ok {
				return &Match{Descriptor: d, Scope: sc, Depth: depth}
			}
			depth++
		}
		return nil
	})
}

// LookupService finds the provider of serviceID satisfying constraint in the
// nearest scope that has one. Within a scope the highest version wins; ties
// go to the earliest declaration.
func (s *Scope) LookupService(serviceID, constraint string) (*Match, bool) {
	return s.cached("service:"+serviceID+"|"+constraint, func() *Match {
		depth := 0
		for sc := s; sc != nil; sc = sc.parent {
			var best *Match
			var bestVersion *version.Version
			for _, d := range sc.Descriptors() {
				ok, v := d.Provides(serviceID, constraint)
				if !ok {
					continue
				}
				if best == nil || newer(v, bestVersion) {
					best = &Match{Descriptor: d, Scope: sc, Depth: depth}
					bestVersion = v
				}
			}
			if best != nil {
				return best
			}
			depth++
		}
		return nil
	})
}

// cached memoises lookups keyed by the combined generation of the chain, so any
// Add or Remove in this scope or an ancestor invalidates the entry.
func (s *Scope) cached(key string, compute func() *Match) (*Match, bool) {
	gen := s.chainGeneration()
	if entry, ok := s.cache.Get(key); ok && entry.generation == gen {
		return copyMatch(entry.match), entry.match != nil
	}
	m := compute()
	s.cache.Add(key, cachedMatch{generation: gen, match: m})
	return copyMatch(m), m != nil
}

func (s *Scope) chainGeneration() uint64 {
	var sum uint64
	for sc := s; sc != nil; sc = sc.parent {
		sum += sc.generation.Load()
	}
	return sum
}

func copyMatch(m *Match) *Match {
	if m == nil {
		return nil
	}
	return &Match{Descriptor: m.Descriptor.Clone(), Scope: m.Scope, Depth: m.Depth}
}

func newer(candidate, current *version.Version) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	return candidate.GreaterThan(current)
}
