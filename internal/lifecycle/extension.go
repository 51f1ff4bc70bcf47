package lifecycle

import "context"

// Extension adds hooks around the standard stages. Create runs once an
// instance is started, Destroy before its teardown, Access on every bind and
// Release on every release. Any hook may be nil.
type Extension struct {
	Name    string
	Create  func(ctx context.Context, inst *Instance) error
	Destroy func(ctx context.Context, inst *Instance) error
	Access  func(ctx context.Context, inst *Instance) error
	Release func(ctx context.Context, inst *Instance) error
}

// TransitionFunc observes a state change. It runs while the sequencer holds
// the instance and must not commission or decommission it.
type TransitionFunc func(inst *Instance, from, to State)
