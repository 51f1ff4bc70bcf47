package container

import (
	"context"
	"fmt"
	"time"

	"github.com/moolen/citadel/internal/descriptor"
	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/resolver"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Commission resolves the scope and commissions the container.
//
// Within one rank, startup singletons and pools with a minimum size are
// commissioned concurrently, bounded by MaxParallel; ranks run in sequence.
// A failing component whose inbound edges are all optional is dropped and
// its consumers lose the binding. Any other failure aborts: everything already
// commissioned in this container is decommissioned in reverse order, the
// container becomes Disposed and the error is returned to the caller.
// Optional children are treated the same way by their parent.
func (c *Container) Commission(ctx context.Context) error {
	ctx, events, owner := withEvents(ctx)
	if owner {
		defer events.flush()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != lifecycle.Created {
		return cterrors.NewInvalidStateError(c.Path(), "container %s cannot be commissioned from state %s", c.Path(), st)
	}

	ctx, span := c.opts.Tracer.Start(ctx, "container.commission",
		trace.WithAttributes(attribute.String("container.path", c.Path())))
	defer span.End()

	logger := c.logger.WithContext(ctx)
	startTime := time.Now()
	logger.Info("Commissioning %s", c.Path())

	if err := c.commissionLocked(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Commissioning %s failed: %v", c.Path(), err)

		report := c.teardownLocked(context.WithoutCancel(ctx))
		for _, derr := range report.Errors {
			logger.Warn("Rollback: %v", derr)
		}
		c.setState(lifecycle.Disposed)
		return err
	}

	c.setState(lifecycle.Started)
	took := time.Since(startTime)
	c.opts.Metrics.ContainerStarted(c.Path(), took)
	logger.Info("%s commissioned (took %dms)", c.Path(), took.Milliseconds())

	c.notify(ctx, func(l Listener) {
		if l.OnCommissioned != nil {
			l.OnCommissioned(c)
		}
	})
	return nil
}

func (c *Container) commissionLocked(ctx context.Context) error {
	plan, err := resolver.Resolve(c.scope)
	if err != nil {
		return err
	}
	c.plan.Store(plan)

	for _, dep := range plan.Unresolved {
		c.logger.Warn("Optional dependency %q of %s has no provider", dep.Role, dep.Consumer)
	}

	for _, name := range plan.Order {
		desc, _ := c.scope.Get(name)
		if err := c.registry.Register(desc); err != nil {
			return err
		}
	}

	if c.opts.Policy == ChildFirst {
		if err := c.commissionChildren(ctx); err != nil {
			return err
		}
		return c.commissionComponents(ctx, plan)
	}
	if err := c.commissionComponents(ctx, plan); err != nil {
		return err
	}
	return c.commissionChildren(ctx)
}

func (c *Container) commissionComponents(ctx context.Context, plan *resolver.Plan) error {
	for rank, names := range plan.Ranks {
		g, gctx := errgroup.WithContext(ctx)
		if c.opts.MaxParallel > 0 {
			g.SetLimit(c.opts.MaxParallel)
		}

		for _, name := range names {
			desc, _ := c.scope.Get(name)
			if !startsEagerly(desc) {
				continue
			}
			g.Go(func() error {
				err := c.registry.Warm(gctx, name)
				if err == nil {
					return nil
				}
				if plan.InboundOptional(name) {
					c.markFailed(name, err)
					for _, derr := range c.registry.Unregister(context.WithoutCancel(gctx), name) {
						c.logger.Warn("Cleanup of failed %s: %v", name, derr)
					}
					c.logger.Warn("Optional component %s failed, continuing without it: %v", name, err)
					return nil
				}
				return err
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		c.logger.Debug("Rank %d of %s commissioned (%d components)", rank, c.Path(), len(names))
	}
	return nil
}

func (c *Container) commissionChildren(ctx context.Context) error {
	for _, child := range c.children {
		if err := child.Commission(ctx); err != nil {
			if child.Optional() {
				c.logger.Warn("Optional container %s failed, continuing without it: %v", child.Path(), err)
				continue
			}
			return fmt.Errorf("child container %s: %w", child.Path(), err)
		}
	}
	return nil
}

func startsEagerly(desc descriptor.Descriptor) bool {
	switch desc.Lifestyle {
	case descriptor.Singleton:
		return desc.Activation == descriptor.Startup
	case descriptor.Pooled:
		return desc.Pool.Min > 0
	}
	return false
}
