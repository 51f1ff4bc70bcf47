package lifecycle

import (
	"context"

	"github.com/moolen/citadel/internal/logging"
)

// Stages is the capability set of a component. A nil field means the
// component does not take part in that stage.
type Stages struct {
	LogEnable     func(logger *logging.Logger)
	Contextualize func(ctx context.Context, c Context) error
	BindServices  func(ctx context.Context, sm ServiceManager) error
	Configure     func(ctx context.Context, cfg Configuration) error
	Parameterize  func(ctx context.Context, p Parameters) error
	Initialize    func(ctx context.Context) error
	Start         func(ctx context.Context) error
	Stop          func(ctx context.Context) error
	Dispose       func(ctx context.Context) error
}

// Supports reports whether the set includes stage.
func (s Stages) Supports(stage Stage) bool {
	switch stage {
	case StageLogEnable:
		return s.LogEnable != nil
	case StageContextualize:
		return s.Contextualize != nil
	case StageBindServices:
		return s.BindServices != nil
	case StageConfigure:
		return s.Configure != nil
	case StageParameterize:
		return s.Parameterize != nil
	case StageInitialize:
		return s.Initialize != nil
	case StageStart:
		return s.Start != nil
	case StageStop:
		return s.Stop != nil
	case StageDispose:
		return s.Dispose != nil
	}
	return false
}

// Supported lists the stages in the set, commission stages first, in canonical order.
func (s Stages) Supported() []Stage {
	var out []Stage
	for _, st := range append(append([]Stage(nil), CommissionStages...), DecommissionStages...) {
		if s.Supports(st) {
			out = append(out, st)
		}
	}
	return out
}

// Optional capability interfaces recognised by StagesFor.
type (
	LogEnabled interface {
		EnableLogging(logger *logging.Logger)
	}
	Contextualizable interface {
		Contextualize(ctx context.Context, c Context) error
	}
	Serviceable interface {
		Service(ctx context.Context, sm ServiceManager) error
	}
	Configurable interface {
		Configure(ctx context.Context, cfg Configuration) error
	}
	Parameterizable interface {
		Parameterize(ctx context.Context, p Parameters) error
	}
	Initializable interface {
		Initialize(ctx context.Context) error
	}
	Startable interface {
		Start(ctx context.Context) error
	}
	Stoppable interface {
		Stop(ctx context.Context) error
	}
	Disposable interface {
		Dispose(ctx context.Context) error
	}
)

// StagesProvider lets an object declare its capability set explicitly.
type StagesProvider interface {
	Stages() Stages
}

// StagesFor derives the capability set of obj. An object implementing
// StagesProvider is taken at its word; otherwise each optional interface it
// implements contributes one stage.
func StagesFor(obj interface{}) Stages {
	if p, ok := obj.(StagesProvider); ok {
		return p.Stages()
	}

	var s Stages
	if c, ok := obj.(LogEnabled); ok {
		s.LogEnable = c.EnableLogging
	}
	if c, ok := obj.(Contextualizable); ok {
		s.Contextualize = c.Contextualize
	}
	if c, ok := obj.(Serviceable); ok {
		s.BindServices = c.Service
	}
	if c, ok := obj.(Configurable); ok {
		s.Configure = c.Configure
	}
	if c, ok := obj.(Parameterizable); ok {
		s.Parameterize = c.Parameterize
	}
	if c, ok := obj.(Initializable); ok {
		s.Initialize = c.Initialize
	}
	if c, ok := obj.(Startable); ok {
		s.Start = c.Start
	}
	if c, ok := obj.(Stoppable); ok {
		s.Stop = c.Stop
	}
	if c, ok := obj.(Disposable); ok {
		s.Dispose = c.Dispose
	}
	return s
}
