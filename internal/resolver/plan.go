package resolver

import (
	"github.com/moolen/citadel/internal/descriptor"
)

// Binding is the provider chosen for one dependency role.
type Binding struct {
	Provider string
	Scope    *descriptor.Scope
	Optional bool
	// Local is true when the provider is declared in the resolved scope itself.
	// Non-local providers belong to an ancestor and are commissioned there.
	Local bool
}

// Unresolved is an optional dependency with no visible provider.
type Unresolved struct {
	Consumer string
	Role     string
	Target   string
	Service  string
}

// Plan is the result of resolving one scope.
type Plan struct {
	Scope *descriptor.Scope

	// Order lists the local components, providers first.
	Order []string

	// Ranks groups Order by dependency depth. Rank 0 has no local providers;
	// every component in rank n depends only on ranks < n.
	Ranks [][]string

	// Bindings maps consumer -> role -> chosen provider.
	Bindings map[string]map[string]Binding

	Unresolved []Unresolved

	index     map[string]int
	rank      map[string]int
	providers map[string][]string
	consumers map[string][]string
}

// ShutdownOrder is the reverse of Order.
func (p *Plan) ShutdownOrder() []string {
	out := make([]string, len(p.Order))
	for i, name := range p.Order {
		out[len(p.Order)-1-i] = name
	}
	return out
}

// Rank returns the rank of a local component, or -1.
func (p *Plan) Rank(name string) int {
	r, ok := p.rank[name]
	if !ok {
		return -1
	}
	return r
}

// Contains reports whether name is a local component of the plan.
func (p *Plan) Contains(name string) bool {
	_, ok := p.index[name]
	return ok
}

// DirectProviders returns the local components name depends on, in Order.
func (p *Plan) DirectProviders(name string) []string {
	return p.sorted(p.providers[name])
}

// DirectConsumers returns the local components depending on name, in Order.
func (p *Plan) DirectConsumers(name string) []string {
	return p.sorted(p.consumers[name])
}

// Providers returns the transitive local providers of name in Order.
func (p *Plan) Providers(name string) []string {
	return p.closure(name, p.providers)
}

// Consumers returns the transitive local consumers of name in Order.
func (p *Plan) Consumers(name string) []string {
	return p.closure(name, p.consumers)
}

// InboundOptional reports whether name has local consumers and every local
// edge into it is optional.
func (p *Plan) InboundOptional(name string) bool {
	if len(p.consumers[name]) == 0 {
		return false
	}
	for _, consumer := range p.consumers[name] {
		for _, b := range p.Bindings[consumer] {
			if b.Local && b.Provider == name && !b.Optional {
				return false
			}
		}
	}
	return true
}

func (p *Plan) closure(name string, edges map[string][]string) []string {
	seen := map[string]bool{name: true}
	stack := append([]string(nil), edges[name]...)
	var out []string
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, edges[n]...)
	}
	return p.sorted(out)
}

func (p *Plan) sorted(names []string) []string {
	out := make([]string, 0, len(names))
	placed := make([]bool, len(p.Order))
	for _, n := range names {
		if i, ok := p.index[n]; ok {
			placed[i] = true
		}
	}
	for i, ok := range placed {
		if ok {
			out = append(out, p.Order[i])
		}
	}
	return out
}
