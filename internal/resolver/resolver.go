// Package resolver orders the components of a scope so that every provider
// precedes its consumers.
//
// Resolution is a pure query over a descriptor.Scope. Edges whose provider is
// declared in an ancestor scope are satisfied by the ancestor and do not
// constrain local order.
package resolver

import (
	"sort"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/logging"
)

type color int

const (
	white color = iota
	gray
	black
)

// Resolve computes the commissioning plan of scope's local descriptors.
//
// A missing provider is an assembly error unless the dependency is optional, in
// which case it is recorded in Plan.Unresolved. A cycle is an assembly error
// whose path starts and ends with the same component.
func Resolve(scope *descriptor.Scope) (*Plan, error) {
	logger := logging.GetLogger("resolver")
	descs := scope.Descriptors()

	plan := &Plan{
		Scope:     scope,
		Bindings:  make(map[string]map[string]Binding, len(descs)),
		index:     make(map[string]int, len(descs)),
		rank:      make(map[string]int, len(descs)),
		providers: make(map[string][]string),
		consumers: make(map[string][]string),
	}

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
		roles := make(map[string]Binding, len(d.Dependencies))

		for _, dep := range d.Dependencies {
			match, ok := Locate(scope, dep)
			if !ok {
				if dep.Optional {
					plan.Unresolved = append(plan.Unresolved, Unresolved{
						Consumer: d.Name, Role: dep.Role, Target: dep.Target, Service: dep.Service,
					})
					logger.Debug("Optional dependency %q of %s has no provider", dep.Role, d.Name)
					continue
				}
				target := dep.Target
				if target == "" {
					target = "service:" + dep.Service
				}
				return nil, cterrors.NewMissingDependencyError(d.Name, dep.Role, target)
			}

			b := Binding{
				Provider: match.Descriptor.Name,
				Scope:    match.Scope,
				Optional: dep.Optional,
				Local:    match.Depth == 0,
			}
			roles[dep.Role] = b
			if b.Local {
				plan.providers[d.Name] = appendUnique(plan.providers[d.Name], b.Provider)
				plan.consumers[b.Provider] = appendUnique(plan.consumers[b.Provider], d.Name)
			}
		}
		plan.Bindings[d.Name] = roles
	}

	colors := make(map[string]color, len(names))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		colors[name] = gray
		stack = append(stack, name)

		for _, provider := range plan.providers[name] {
			switch colors[provider] {
			case gray:
				return cterrors.NewCycleError(cyclePath(stack, provider))
			case white:
				if err := visit(provider); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = black
		plan.index[name] = len(plan.Order)
		plan.Order = append(plan.Order, name)
		return nil
	}

	for _, name := range names {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range plan.Order {
		r := 0
		for _, provider := range plan.providers[name] {
			if pr := plan.rank[provider] + 1; pr > r {
				r = pr
			}
		}
		plan.rank[name] = r
		for len(plan.Ranks) <= r {
			plan.Ranks = append(plan.Ranks, nil)
		}
		plan.Ranks[r] = append(plan.Ranks[r], name)
	}
	for _, rank := range plan.Ranks {
		sort.Strings(rank)
	}

	logger.Debug("Resolved scope %s: %d components in %d ranks", scope.Name(), len(plan.Order), len(plan.Ranks))
	return plan, nil
}

// Locate finds the provider of dep visible from scope: by name when the
// dependency has a target, else by service and constraint.
func Locate(scope *descriptor.Scope, dep descriptor.Dependency) (*descriptor.Match, bool) {
	if dep.Target != "" {
		return scope.Lookup(dep.Target)
	}
	return scope.LookupService(dep.Service, dep.Constraint)
}

// cyclePath returns the part of the DFS stack from the first occurrence of
// closing, followed by closing again.
func cyclePath(stack []string, closing string) []string {
	start := 0
	for i, n := range stack {
		if n == closing {
			start = i
			break
		}
	}
	path := append([]string(nil), stack[start:]...)
	return append(path, closing)
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}
