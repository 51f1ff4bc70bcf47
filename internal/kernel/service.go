package kernel

import "context"

// Service is a process-level facility started before the container tree
// and stopped after it: the tracing provider, the metrics server, the
// assembly watcher and the tree itself.
type Service interface {
	// Start brings the service up. ctx bounds startup only.
	Start(ctx context.Context) error

	// Stop shuts the service down within the ctx deadline. An error is
	// logged and does not keep later services from stopping.
	Stop(ctx context.Context) error

	// Name is used for logging and must be unique within a Manager.
	Name() string
}
