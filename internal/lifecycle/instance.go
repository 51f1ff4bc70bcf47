package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Instance is one live object of a component together with its lifecycle
// bookkeeping. Only the Sequencer mutates it.
type Instance struct {
	ID        uuid.UUID
	Name      string
	Object    interface{}
	Stages    Stages
	CreatedAt time.Time

	mu      sync.Mutex // serialises sequencer operations
	state   atomic.Int32
	created bool // extension Create hooks ran

	cmu       sync.Mutex
	completed []Stage
}

// NewInstance wraps obj, deriving its stages with StagesFor.
func NewInstance(name string, obj interface{}) *Instance {
	return NewInstanceWithStages(name, obj, StagesFor(obj))
}

// NewInstanceWithStages wraps obj with an explicit capability set.
func NewInstanceWithStages(name string, obj interface{}, stages Stages) *Instance {
	return &Instance{
		ID:        uuid.New(),
		Name:      name,
		Object:    obj,
		Stages:    stages,
		CreatedAt: time.Now(),
	}
}

// State returns the current state. Safe to call from transition listeners.
func (i *Instance) State() State {
	return State(i.state.Load())
}

// Completed returns the stages that ran successfully, in execution order.
func (i *Instance) Completed() []Stage {
	i.cmu.Lock()
	defer i.cmu.Unlock()
	return append([]Stage(nil), i.completed...)
}

func (i *Instance) markCompleted(stage Stage) {
	i.cmu.Lock()
	i.completed = append(i.completed, stage)
	i.cmu.Unlock()
}

func (i *Instance) hasCompleted(stage Stage) bool {
	i.cmu.Lock()
	defer i.cmu.Unlock()
	for _, s := range i.completed {
		if s == stage {
			return true
		}
	}
	return false
}
