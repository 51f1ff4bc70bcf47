package kernel

import (
	"fmt"

	"github.com/moolen/citadel/internal/config"
	"github.com/moolen/citadel/internal/container"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/registry"
	"github.com/moolen/citadel/internal/resolver"
)

// Assemble builds an uncommissioned container tree from an assembly.
// opts configures the root; children inherit from it.
func Assemble(assembly *config.Assembly, opts container.Options) (*container.Container, error) {
	if err := assembly.Validate(); err != nil {
		return nil, err
	}

	root := assembly.Root()
	policy, err := container.ParsePolicy(root.Policy)
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if root.MaxParallel > 0 {
		opts.MaxParallel = root.MaxParallel
	}
	opts.Context = mergeContext(opts.Context, root.Context)

	c := container.New(root.Name, opts)
	if err := populate(c, root); err != nil {
		return nil, err
	}
	return c, nil
}

func populate(c *container.Container, decl config.ContainerConfig) error {
	descs, err := decl.Descriptors()
	if err != nil {
		return fmt.Errorf("container %s: %w", c.Path(), err)
	}
	for _, d := range descs {
		if err := c.Add(d); err != nil {
			return err
		}
	}

	for _, childDecl := range decl.Containers {
		var policy container.Policy
		if childDecl.Policy != "" {
			if policy, err = container.ParsePolicy(childDecl.Policy); err != nil {
				return err
			}
		}
		child, err := c.AddChild(childDecl.Name, container.Options{
			Policy:      policy,
			MaxParallel: childDecl.MaxParallel,
			Optional:    childDecl.Optional,
			Context:     lifecycle.Context(childDecl.Context),
		})
		if err != nil {
			return err
		}
		if err := populate(child, childDecl); err != nil {
			return err
		}
	}
	return nil
}

func mergeContext(base lifecycle.Context, extra map[string]interface{}) lifecycle.Context {
	if len(extra) == 0 {
		return base
	}
	out := make(lifecycle.Context, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ContainerPlan is the resolved plan of one container of a tree.
type ContainerPlan struct {
	Path string
	Plan *resolver.Plan
}

// Verify resolves every container of root without commissioning anything.
// Unknown factory type tags are reported as assembly errors.
func Verify(root *container.Container, factories *registry.FactoryRegistry) ([]ContainerPlan, error) {
	var plans []ContainerPlan
	err := root.Walk(func(c *container.Container) error {
		for _, d := range c.Scope().Descriptors() {
			if _, ok := factories.Get(d.Type); !ok {
				return cterrors.NewAssemblyError(d.Name, "component %q in %s has unknown type %q", d.Name, c.Path(), d.Type)
			}
		}
		plan, err := resolver.Resolve(c.Scope())
		if err != nil {
			return fmt.Errorf("container %s: %w", c.Path(), err)
		}
		plans = append(plans, ContainerPlan{Path: c.Path(), Plan: plan})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}
