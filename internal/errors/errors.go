// Package errors defines the container error taxonomy.
//
// Every failure raised by the resolver, the lifecycle sequencer, the registry
// and the pool is an *Error carrying a Kind. Kinds compare with errors.Is
// against the exported sentinels, through any amount of fmt.Errorf wrapping:
//
//	if errors.Is(err, cterrors.ErrNotFound) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a container failure.
type Kind string

const (
	// KindAssembly is an unresolvable or cyclic dependency. Fatal to assembly.
	KindAssembly Kind = "ASSEMBLY"

	// KindLifecycle is a stage failure during commissioning.
	KindLifecycle Kind = "LIFECYCLE"

	// KindDisposal is a stage failure during decommissioning. Logged, never propagated.
	KindDisposal Kind = "DISPOSAL"

	// KindResourceExhausted is a pool at capacity.
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"

	// KindNotFound is a service lookup miss.
	KindNotFound Kind = "NOT_FOUND"

	// KindResolution is a matched service whose commissioning failed.
	KindResolution Kind = "RESOLUTION_FAILURE"

	// KindInvalidState is an operation on a component or container in the wrong state.
	KindInvalidState Kind = "INVALID_STATE"
)

// Sentinels for errors.Is.
var (
	ErrAssembly          = &Error{Kind: KindAssembly}
	ErrLifecycle         = &Error{Kind: KindLifecycle}
	ErrDisposal          = &Error{Kind: KindDisposal}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrResolution        = &Error{Kind: KindResolution}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
)

// Error is a classified container failure.
type Error struct {
	Kind Kind

	// Component is the descriptor or container name the failure is about.
	Component string

	// Role is the dependency role or service role involved, if any.
	Role string

	// Hint is the selection hint of a failed lookup.
	Hint string

	// Stage is the lifecycle stage that failed, if any.
	Stage string

	// Path is the offending name chain (a cycle, or a nested container path).
	Path []string

	Message string
	Cause   error
}

// Error renders "KIND: message [path a -> b]: cause".
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Path) > 0 {
		b.WriteString(" [")
		b.WriteString(FormatPath(e.Path))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// FormatPath joins a name chain with arrows.
func FormatPath(path []string) string {
	return strings.Join(path, " -> ")
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is errors.As re-exported so callers need a single import.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is re-exported.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// NewCycleError reports a dependency cycle. path starts and ends with the same name.
func NewCycleError(path []string) *Error {
	cp := append([]string(nil), path...)
	component := ""
	if len(cp) > 0 {
		component = cp[0]
	}
	return &Error{
		Kind:      KindAssembly,
		Component: component,
		Path:      cp,
		Message:   "cyclic dependency",
	}
}

// NewMissingDependencyError reports a dependency whose provider is not visible.
func NewMissingDependencyError(consumer, role, target string) *Error {
	what := target
	if what == "" {
		what = "<by service>"
	}
	return &Error{
		Kind:      KindAssembly,
		Component: consumer,
		Role:      role,
		Path:      []string{consumer, what},
		Message:   fmt.Sprintf("unresolvable dependency %q of %q: provider %q not found", role, consumer, what),
	}
}

// NewAssemblyError reports any other invalid assembly definition.
func NewAssemblyError(component, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      KindAssembly,
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	}
}

// NewLifecycleError reports a commissioning stage failure.
func NewLifecycleError(component, stage string, cause error) *Error {
	return &Error{
		Kind:      KindLifecycle,
		Component: component,
		Stage:     stage,
		Message:   fmt.Sprintf("component %q failed during %s", component, stage),
		Cause:     cause,
	}
}

// NewDisposalError reports a decommissioning stage failure.
func NewDisposalError(component, stage string, cause error) *Error {
	return &Error{
		Kind:      KindDisposal,
		Component: component,
		Stage:     stage,
		Message:   fmt.Sprintf("component %q failed during %s", component, stage),
		Cause:     cause,
	}
}

// NewExhaustedError reports a pool at capacity.
func NewExhaustedError(pool string, max int, cause error) *Error {
	return &Error{
		Kind:      KindResourceExhausted,
		Component: pool,
		Message:   fmt.Sprintf("pool %q exhausted (max %d)", pool, max),
		Cause:     cause,
	}
}

// NewNotFoundError reports a lookup miss.
func NewNotFoundError(role, hint string) *Error {
	msg := fmt.Sprintf("no service registered for role %q", role)
	if hint != "" {
		msg = fmt.Sprintf("no service registered for role %q with hint %q", role, hint)
	}
	return &Error{
		Kind:    KindNotFound,
		Role:    role,
		Hint:    hint,
		Message: msg,
	}
}

// NewResolutionError reports a service that matched but could not be commissioned.
func NewResolutionError(role, component string, cause error) *Error {
	return &Error{
		Kind:      KindResolution,
		Role:      role,
		Component: component,
		Message:   fmt.Sprintf("cannot resolve role %q to component %q", role, component),
		Cause:     cause,
	}
}

// NewInvalidStateError reports an operation attempted in the wrong state.
func NewInvalidStateError(component, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      KindInvalidState,
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	}
}
