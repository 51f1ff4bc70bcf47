// Package lifecycle drives component instances through the fixed stage
// sequence: LogEnable, Contextualize, BindServices, Configure, Parameterize,
// Initialize, Start. Teardown runs Stop then Dispose.
//
// A component opts in to a stage by exposing the matching capability in its
// Stages set. Stages it does not support are skipped; the order never changes.
package lifecycle

// Stage is one lifecycle step.
type Stage int

const (
	StageLogEnable Stage = iota
	StageContextualize
	StageBindServices
	StageConfigure
	StageParameterize
	StageInitialize
	StageStart
	StageStop
	StageDispose
)

// CommissionStages is the canonical forward order.
var CommissionStages = []Stage{
	StageLogEnable,
	StageContextualize,
	StageBindServices,
	StageConfigure,
	StageParameterize,
	StageInitialize,
	StageStart,
}

// DecommissionStages is the canonical teardown order.
var DecommissionStages = []Stage{StageStop, StageDispose}

var stageNames = map[Stage]string{
	StageLogEnable:     "log-enable",
	StageContextualize: "contextualize",
	StageBindServices:  "bind-services",
	StageConfigure:     "configure",
	StageParameterize:  "parameterize",
	StageInitialize:    "initialize",
	StageStart:         "start",
	StageStop:          "stop",
	StageDispose:       "dispose",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// State is the position of an instance in the lifecycle state machine.
// States only move forward; Disposed is absorbing.
type State int32

const (
	Created State = iota
	Contextualized
	Serviced
	Configured
	Parameterized
	Initialized
	Started
	Disposed
)

var stateNames = map[State]string{
	Created:        "created",
	Contextualized: "contextualized",
	Serviced:       "serviced",
	Configured:     "configured",
	Parameterized:  "parameterized",
	Initialized:    "initialized",
	Started:        "started",
	Disposed:       "disposed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// reaches returns the state an instance is in once stage has passed.
// LogEnable leaves the state at Created.
func (s Stage) reaches() State {
	switch s {
	case StageContextualize:
		return Contextualized
	case StageBindServices:
		return Serviced
	case StageConfigure:
		return Configured
	case StageParameterize:
		return Parameterized
	case StageInitialize:
		return Initialized
	case StageStart:
		return Started
	case StageStop, StageDispose:
		return Disposed
	}
	return Created
}
