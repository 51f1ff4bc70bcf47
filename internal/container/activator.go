package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/logging"
	"github.com/moolen/citadel/internal/registry"
	"github.com/moolen/citadel/internal/resolver"
)

// Context keys supplied to every component.
const (
	ContextContainerName = "container.name"
	ContextContainerPath = "container.path"
	ContextComponentName = "component.name"
	ContextComponentID   = "component.id"
)

var _ registry.Activator = (*Container)(nil)

// Activate creates an instance of desc with its registered factory and
// commissions it. It implements registry.Activator.
func (c *Container) Activate(ctx context.Context, desc descriptor.Descriptor) (*lifecycle.Instance, error) {
	factory, ok := c.opts.Factories.Get(desc.Type)
	if !ok {
		err := cterrors.NewAssemblyError(desc.Name, "no factory registered for type %q", desc.Type)
		c.componentFailed(ctx, desc.Name, err)
		return nil, err
	}

	obj, err := factory(ctx, desc)
	if err == nil && obj == nil {
		err = fmt.Errorf("factory %q returned nil", desc.Type)
	}
	if err != nil {
		lerr := cterrors.NewLifecycleError(desc.Name, "create", err)
		c.componentFailed(ctx, desc.Name, lerr)
		return nil, lerr
	}

	inst := lifecycle.NewInstance(desc.Name, obj)
	if err := c.opts.Sequencer.Commission(ctx, inst, c.envFor(desc, inst)); err != nil {
		c.componentFailed(ctx, desc.Name, err)
		return nil, err
	}

	c.opts.Metrics.Commissioned(c.Path())
	c.logger.Debug("Commissioned %s (%s)", desc.Name, inst.ID)
	return inst, nil
}

// Deactivate decommissions inst. It implements registry.Activator.
func (c *Container) Deactivate(ctx context.Context, inst *lifecycle.Instance) []error {
	errs := c.opts.Sequencer.Decommission(ctx, inst)
	c.opts.Metrics.DisposalErrors(c.Path(), len(errs))
	return errs
}

func (c *Container) envFor(desc descriptor.Descriptor, inst *lifecycle.Instance) lifecycle.Env {
	entries := lifecycle.Context{}
	for _, ctxEntries := range c.contextChain() {
		for k, v := range ctxEntries {
			entries[k] = v
		}
	}
	for k, v := range desc.Context {
		entries[k] = v
	}
	entries[ContextContainerName] = c.name
	entries[ContextContainerPath] = c.Path()
	entries[ContextComponentName] = desc.Name
	entries[ContextComponentID] = inst.ID.String()

	return lifecycle.Env{
		Logger:     logging.GetLogger(c.componentLoggerName(desc.Name)),
		Context:    entries,
		Services:   registry.NewServiceManager(c.registry, desc.Name, c.providersFor(desc)),
		Config:     lifecycle.Configuration(desc.Config),
		Parameters: lifecycle.Parameters(desc.Parameters),
	}
}

// providersFor maps each declared role to its planned provider and the
// registry of the container that declares it. The name is "" when the
// provider is missing or failed.
func (c *Container) providersFor(desc descriptor.Descriptor) map[string]registry.Provider {
	plan := c.plan.Load()
	providers := make(map[string]registry.Provider, len(desc.Dependencies))

	for _, dep := range desc.Dependencies {
		var binding resolver.Binding
		var found bool
		if plan != nil && plan.Contains(desc.Name) {
			binding, found = plan.Bindings[desc.Name][dep.Role]
		} else if m, ok := resolver.Locate(c.scope, dep); ok {
			binding, found = resolver.Binding{Provider: m.Descriptor.Name, Scope: m.Scope, Local: m.Depth == 0}, true
		}

		owner := c.scopeOwner(binding.Scope)
		if !found || owner == nil || owner.isFailed(binding.Provider) {
			providers[dep.Role] = registry.Provider{}
			continue
		}
		providers[dep.Role] = registry.Provider{Name: binding.Provider, Registry: owner.registry}
	}
	return providers
}

// scopeOwner returns c or the ancestor whose scope is s.
func (c *Container) scopeOwner(s *descriptor.Scope) *Container {
	if s == nil {
		return c
	}
	for cur := c; cur != nil; cur = cur.parent {
		if cur.scope == s {
			return cur
		}
	}
	return nil
}

// contextChain returns context entries from the root down to c.
func (c *Container) contextChain() []lifecycle.Context {
	var chain []lifecycle.Context
	for cur := c; cur != nil; cur = cur.parent {
		chain = append([]lifecycle.Context{cur.opts.Context}, chain...)
	}
	return chain
}

// componentLoggerName is "component.<path with dots>.<name>".
func (c *Container) componentLoggerName(name string) string {
	return "component" + strings.ReplaceAll(c.Path(), "/", ".") + "." + name
}

func (c *Container) componentFailed(ctx context.Context, name string, err error) {
	stage := "unknown"
	var cerr *cterrors.Error
	if cterrors.As(err, &cerr) && cerr.Stage != "" {
		stage = cerr.Stage
	}
	c.opts.Metrics.Failed(c.Path(), stage)

	c.notify(ctx, func(l Listener) {
		if l.OnComponentFailed != nil {
			l.OnComponentFailed(c, name, err)
		}
	})
}
