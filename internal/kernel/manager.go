package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/citadel/internal/logging"
)

// Manager starts kernel services in dependency order and stops them in
// reverse, with a per-service shutdown timeout.
type Manager struct {
	mu              sync.Mutex
	services        []Service
	byName          map[string]Service
	dependsOn       map[string][]string
	started         []Service
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates a manager with a 30-second per-service shutdown timeout.
func NewManager() *Manager {
	return &Manager{
		byName:          make(map[string]Service),
		dependsOn:       make(map[string][]string),
		shutdownTimeout: 30 * time.Second,
		logger:          logging.GetLogger("kernel.manager"),
	}
}

// Register adds svc. Its dependencies must already be registered, which
// rules out cycles. Registration is refused while services are running.
func (m *Manager) Register(svc Service, dependsOn ...Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if svc == nil {
		return fmt.Errorf("cannot register nil service")
	}
	name := svc.Name()
	if name == "" {
		return fmt.Errorf("service must have a non-empty name")
	}
	if len(m.started) > 0 {
		return fmt.Errorf("cannot register %s while services are running", name)
	}
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	deps := make([]string, 0, len(dependsOn))
	for _, dep := range dependsOn {
		if dep == nil {
			return fmt.Errorf("service %s has a nil dependency", name)
		}
		if registered, ok := m.byName[dep.Name()]; !ok || registered != dep {
			return fmt.Errorf("dependency %s of %s is not registered", dep.Name(), name)
		}
		deps = append(deps, dep.Name())
	}

	m.services = append(m.services, svc)
	m.byName[name] = svc
	m.dependsOn[name] = deps

	m.logger.Debug("Registered service %s with %d dependencies", name, len(deps))
	return nil
}

// order returns services with dependencies first, registration order among peers.
func (m *Manager) order() []Service {
	visited := make(map[string]bool, len(m.services))
	sorted := make([]Service, 0, len(m.services))

	var visit func(svc Service)
	visit = func(svc Service) {
		visited[svc.Name()] = true
		for _, dep := range m.dependsOn[svc.Name()] {
			if !visited[dep] {
				visit(m.byName[dep])
			}
		}
		sorted = append(sorted, svc)
	}
	for _, svc := range m.services {
		if !visited[svc.Name()] {
			visit(svc)
		}
	}
	return sorted
}

// Start starts every service. If one fails, the already started services
// are stopped in reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.started) > 0 {
		return fmt.Errorf("services already started")
	}

	for _, svc := range m.order() {
		if err := ctx.Err(); err != nil {
			m.rollbackLocked()
			return fmt.Errorf("startup cancelled before %s: %w", svc.Name(), err)
		}

		m.logger.Info("Starting %s", svc.Name())
		startTime := time.Now()

		if err := svc.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", svc.Name(), err)
			m.rollbackLocked()
			return fmt.Errorf("initialization failed for %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)

		m.logger.Info("%s started (took %dms)", svc.Name(), time.Since(startTime).Milliseconds())
	}

	m.logger.Info("All services started")
	return nil
}

func (m *Manager) rollbackLocked() {
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		m.logger.Debug("Rolling back: stopping %s", svc.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := svc.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", svc.Name(), err)
		}
		cancel()
	}
	m.started = nil
}

// Stop stops the started services in reverse start order. Each gets its own
// deadline of the shutdown timeout. Errors are logged, and returned joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.started) == 0 {
		return nil
	}
	m.logger.Info("Stopping all services")

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		m.logger.Info("Stopping %s", svc.Name())
		startTime := time.Now()

		svcCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := svc.Stop(svcCtx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("Service %s exceeded grace period (%dms timeout)", svc.Name(), m.shutdownTimeout.Milliseconds())
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
		case err != nil:
			m.logger.Error("Error stopping %s: %v", svc.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
		default:
			m.logger.Info("%s stopped (took %dms)", svc.Name(), time.Since(startTime).Milliseconds())
		}
	}
	m.started = nil

	m.logger.Info("All services stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether the named service started and has not stopped.
func (m *Manager) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.started {
		if svc.Name() == name {
			return true
		}
	}
	return false
}

// Services lists registered service names in start order.
func (m *Manager) Services() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := m.order()
	names := make([]string, len(ordered))
	for i, svc := range ordered {
		names[i] = svc.Name()
	}
	return names
}

// SetShutdownTimeout sets the per-service grace period. Default 30s.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
	m.logger.Debug("Shutdown timeout set to %dms", timeout.Milliseconds())
}
