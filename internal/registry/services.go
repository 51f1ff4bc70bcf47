package registry

import (
	"context"
	"sort"

	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
)

// Provider is the component planned for one role and the registry that owns
// it. An empty Name marks a declared role without a provider.
type Provider struct {
	Name     string
	Registry *Registry
}

// ServiceManager is the lifecycle.ServiceManager handed to one component. It
// only resolves the component's declared roles, each to its planned provider.
type ServiceManager struct {
	registry  *Registry
	component string
	providers map[string]Provider
}

var _ lifecycle.ServiceManager = (*ServiceManager)(nil)

// NewServiceManager restricts reg to the roles in providers. Providers with a
// nil Registry are bound from reg itself.
func NewServiceManager(reg *Registry, component string, providers map[string]Provider) *ServiceManager {
	cp := make(map[string]Provider, len(providers))
	for role, p := range providers {
		if p.Registry == nil {
			p.Registry = reg
		}
		cp[role] = p
	}
	return &ServiceManager{registry: reg, component: component, providers: cp}
}

// Lookup binds the provider planned for role in the registry that owns it.
func (s *ServiceManager) Lookup(ctx context.Context, role string) (interface{}, error) {
	p, declared := s.providers[role]
	if !declared {
		return nil, cterrors.NewInvalidStateError(s.component, "component %q did not declare a dependency on role %q", s.component, role)
	}
	if p.Name == "" {
		return nil, cterrors.NewNotFoundError(role, "")
	}
	return p.Registry.BindComponent(ctx, p.Name)
}

// Has reports whether role is declared and its provider is registered.
func (s *ServiceManager) Has(role string) bool {
	p := s.providers[role]
	return p.Name != "" && p.Registry.HasComponent(p.Name)
}

// Release hands back an object obtained from Lookup.
func (s *ServiceManager) Release(ctx context.Context, obj interface{}) error {
	return s.registry.Release(ctx, obj)
}

// Roles returns the sorted declared roles that currently have a provider.
func (s *ServiceManager) Roles() []string {
	var out []string
	for role, p := range s.providers {
		if p.Name != "" {
			out = append(out, role)
		}
	}
	sort.Strings(out)
	return out
}
