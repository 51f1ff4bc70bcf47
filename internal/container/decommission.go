package container

import (
	"context"
	stderrors "errors"

	"github.com/moolen/citadel/internal/lifecycle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DisposalReport collects the errors of a best-effort teardown.
type DisposalReport struct {
	Container string
	Errors    []error
}

// Add appends err if it is not nil.
func (r *DisposalReport) Add(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Merge appends the errors of other.
func (r *DisposalReport) Merge(other DisposalReport) {
	r.Errors = append(r.Errors, other.Errors...)
}

// Empty reports whether teardown was clean.
func (r DisposalReport) Empty() bool {
	return len(r.Errors) == 0
}

// Err joins the collected errors, or returns nil.
func (r DisposalReport) Err() error {
	return stderrors.Join(r.Errors...)
}

// Decommission tears the container down: children first in reverse order,
// then own components in shutdown order. It never fails; errors are logged
// and returned in the report. Decommissioning a disposed container is a no-op.
func (c *Container) Decommission(ctx context.Context) DisposalReport {
	ctx, events, owner := withEvents(ctx)
	if owner {
		defer events.flush()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	if st == lifecycle.Disposed {
		return DisposalReport{Container: c.Path()}
	}

	ctx, span := c.opts.Tracer.Start(ctx, "container.decommission",
		trace.WithAttributes(attribute.String("container.path", c.Path())))
	defer span.End()

	c.logger.Info("Decommissioning %s", c.Path())
	report := c.teardownLocked(ctx)
	c.setState(lifecycle.Disposed)
	if st == lifecycle.Started {
		c.opts.Metrics.ContainerStopped()
	}

	span.SetAttributes(attribute.Int("disposal.errors", len(report.Errors)))
	for _, err := range report.Errors {
		c.logger.Warn("%v", err)
	}
	c.logger.Info("%s decommissioned (%d errors)", c.Path(), len(report.Errors))

	c.notify(ctx, func(l Listener) {
		if l.OnDecommissioned != nil {
			l.OnDecommissioned(c, report)
		}
	})
	return report
}

// teardownLocked must be called with c.mu held.
func (c *Container) teardownLocked(ctx context.Context) DisposalReport {
	report := DisposalReport{Container: c.Path()}

	for i := len(c.children) - 1; i >= 0; i-- {
		report.Merge(c.children[i].Decommission(ctx))
	}

	if plan := c.plan.Load(); plan != nil {
		for _, name := range plan.ShutdownOrder() {
			for _, err := range c.registry.Unregister(ctx, name) {
				report.Add(err)
			}
		}
	}
	return report
}
