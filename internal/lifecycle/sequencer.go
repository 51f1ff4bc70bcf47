package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	cterrors "github.com/moolen/citadel/internal/errors"
	"github.com/moolen/citadel/internal/logging"
)

// Sequencer runs lifecycle stages. It is safe for concurrent use on distinct
// instances; operations on one instance are serialised.
type Sequencer struct {
	logger *logging.Logger

	mu          sync.RWMutex
	extensions  []Extension
	transitions []TransitionFunc
}

// NewSequencer creates a sequencer with no extensions.
func NewSequencer() *Sequencer {
	return &Sequencer{
		logger: logging.GetLogger("lifecycle"),
	}
}

// AddExtension registers hooks applied to every instance commissioned afterwards.
func (s *Sequencer) AddExtension(ext Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions = append(s.extensions, ext)
}

// OnTransition registers a state change observer.
func (s *Sequencer) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, fn)
}

// Commission drives inst through its supported stages in canonical order.
//
// On the first failure forward progress stops, whatever completed is torn down
// (Stop if Start ran, then Dispose) and a lifecycle error naming the component
// and stage is returned. A cancelled ctx fails the next stage.
func (s *Sequencer) Commission(ctx context.Context, inst *Instance, env Env) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if st := inst.State(); st != Created {
		return cterrors.NewInvalidStateError(inst.Name, "component %q cannot be commissioned from state %s", inst.Name, st)
	}

	logger := env.Logger
	if logger == nil {
		logger = logging.GetLogger("component." + inst.Name)
	}

	startTime := time.Now()
	for _, stage := range CommissionStages {
		if !inst.Stages.Supports(stage) {
			s.advance(inst, stage.reaches())
			continue
		}

		err := ctx.Err()
		if err == nil {
			err = guard(func() error { return s.invoke(ctx, inst, stage, env, logger) })
		}
		if err != nil {
			lerr := cterrors.NewLifecycleError(inst.Name, stage.String(), err)
			s.logger.Error("Component %s failed during %s: %v", inst.Name, stage, err)
			for _, derr := range s.teardown(context.WithoutCancel(ctx), inst) {
				s.logger.Warn("Teardown after failed commission: %v", derr)
			}
			return lerr
		}

		inst.markCompleted(stage)
		s.advance(inst, stage.reaches())
	}

	for _, ext := range s.snapshotExtensions() {
		if ext.Create == nil {
			continue
		}
		if err := guard(func() error { return ext.Create(ctx, inst) }); err != nil {
			lerr := cterrors.NewLifecycleError(inst.Name, "create:"+ext.Name, err)
			s.logger.Error("Extension %s rejected %s: %v", ext.Name, inst.Name, err)
			for _, derr := range s.teardown(context.WithoutCancel(ctx), inst) {
				s.logger.Warn("Teardown after failed commission: %v", derr)
			}
			return lerr
		}
	}
	inst.created = true

	s.logger.Debug("Commissioned %s (%s) in %dms", inst.Name, inst.ID, time.Since(startTime).Milliseconds())
	return nil
}

// Decommission runs Stop (if Start completed) then Dispose. It continues past
// failures and returns them as a report; they are never raised. Decommissioning
// a disposed instance is a no-op.
func (s *Sequencer) Decommission(ctx context.Context, inst *Instance) []error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.State() == Disposed {
		return nil
	}
	errs := s.teardown(ctx, inst)
	for _, err := range errs {
		s.logger.Warn("%v", err)
	}
	return errs
}

// Access runs extension Access hooks for a bind.
func (s *Sequencer) Access(ctx context.Context, inst *Instance) error {
	return s.runHooks(ctx, inst, "access", func(ext Extension) func(context.Context, *Instance) error { return ext.Access })
}

// Release runs extension Release hooks for a release.
func (s *Sequencer) Release(ctx context.Context, inst *Instance) error {
	return s.runHooks(ctx, inst, "release", func(ext Extension) func(context.Context, *Instance) error { return ext.Release })
}

func (s *Sequencer) runHooks(ctx context.Context, inst *Instance, kind string, pick func(Extension) func(context.Context, *Instance) error) error {
	for _, ext := range s.snapshotExtensions() {
		hook := pick(ext)
		if hook == nil {
			continue
		}
		if err := guard(func() error { return hook(ctx, inst) }); err != nil {
			return fmt.Errorf("extension %s %s hook for %s: %w", ext.Name, kind, inst.Name, err)
		}
	}
	return nil
}

// teardown must be called with inst.mu held.
func (s *Sequencer) teardown(ctx context.Context, inst *Instance) []error {
	var errs []error

	if inst.created {
		exts := s.snapshotExtensions()
		for i := len(exts) - 1; i >= 0; i-- {
			ext := exts[i]
			if ext.Destroy == nil {
				continue
			}
			if err := guard(func() error { return ext.Destroy(ctx, inst) }); err != nil {
				errs = append(errs, cterrors.NewDisposalError(inst.Name, "destroy:"+ext.Name, err))
			}
		}
		inst.created = false
	}

	if inst.Stages.Stop != nil && inst.hasCompleted(StageStart) {
		if err := guard(func() error { return inst.Stages.Stop(ctx) }); err != nil {
			errs = append(errs, cterrors.NewDisposalError(inst.Name, StageStop.String(), err))
		} else {
			inst.markCompleted(StageStop)
		}
	}

	if inst.Stages.Dispose != nil {
		if err := guard(func() error { return inst.Stages.Dispose(ctx) }); err != nil {
			errs = append(errs, cterrors.NewDisposalError(inst.Name, StageDispose.String(), err))
		} else {
			inst.markCompleted(StageDispose)
		}
	}

	s.advance(inst, Disposed)
	return errs
}

func (s *Sequencer) invoke(ctx context.Context, inst *Instance, stage Stage, env Env, logger *logging.Logger) error {
	st := inst.Stages
	switch stage {
	case StageLogEnable:
		st.LogEnable(logger)
		return nil
	case StageContextualize:
		return st.Contextualize(ctx, env.Context)
	case StageBindServices:
		return st.BindServices(ctx, env.Services)
	case StageConfigure:
		return st.Configure(ctx, env.Config)
	case StageParameterize:
		return st.Parameterize(ctx, env.Parameters)
	case StageInitialize:
		return st.Initialize(ctx)
	case StageStart:
		return st.Start(ctx)
	}
	return fmt.Errorf("stage %s is not a commission stage", stage)
}

// advance moves inst forward to next and notifies observers. Backward moves are ignored.
func (s *Sequencer) advance(inst *Instance, next State) {
	from := inst.State()
	if next <= from {
		return
	}
	inst.state.Store(int32(next))

	s.mu.RLock()
	fns := append([]TransitionFunc(nil), s.transitions...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(inst, from, next)
	}
}

func (s *Sequencer) snapshotExtensions() []Extension {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Extension(nil), s.extensions...)
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
