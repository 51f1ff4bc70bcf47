// Package descriptor holds component descriptors and the containment scopes
// they are visible in.
//
// A Descriptor is the static definition of a component: its implementation
// type tag, the services it provides, the roles it depends on, its
// configuration and its lifestyle. Descriptors are validated once and never
// mutated afterwards; Scope hands out copies.
package descriptor

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	cterrors "github.com/moolen/citadel/internal/errors"
)

// Lifestyle governs instance sharing for a component.
type Lifestyle string

const (
	// Singleton components have exactly one live instance per registration.
	Singleton Lifestyle = "singleton"
	// Pooled components are borrowed from a bounded pool.
	Pooled Lifestyle = "pooled"
	// PerRequest components are created fresh for every bind.
	PerRequest Lifestyle = "per-request"
)

// ParseLifestyle accepts the canonical names plus "transient" as an alias of per-request.
// An empty string means Singleton.
func ParseLifestyle(s string) (Lifestyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Singleton):
		return Singleton, nil
	case string(Pooled), "pool":
		return Pooled, nil
	case string(PerRequest), "transient", "perrequest":
		return PerRequest, nil
	default:
		return "", fmt.Errorf("unknown lifestyle %q (must be singleton, pooled or per-request)", s)
	}
}

// Activation says when a singleton is commissioned.
type Activation string

const (
	// Startup singletons are commissioned with their container.
	Startup Activation = "startup"
	// Lazy singletons are commissioned on first bind.
	Lazy Activation = "lazy"
)

// ParseActivation returns Startup for an empty string.
func ParseActivation(s string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Startup):
		return Startup, nil
	case string(Lazy):
		return Lazy, nil
	default:
		return "", fmt.Errorf("unknown activation %q (must be startup or lazy)", s)
	}
}

// PoolSpec bounds a pooled component. Max 0 means unbounded.
type PoolSpec struct {
	Min          int
	Max          int
	Strict       bool          // fail fast at Max instead of blocking
	BlockTimeout time.Duration // 0 blocks until release or cancellation
}

// Service is a capability identifier with an optional version ("time@1.2.0").
type Service struct {
	ID      string
	Version *version.Version
}

// ParseService parses "id" or "id@version".
func ParseService(s string) (Service, error) {
	id, ver, found := strings.Cut(strings.TrimSpace(s), "@")
	if id == "" {
		return Service{}, fmt.Errorf("service identifier cannot be empty")
	}
	svc := Service{ID: id}
	if found {
		v, err := version.NewVersion(ver)
		if err != nil {
			return Service{}, fmt.Errorf("service %q has invalid version %q: %w", id, ver, err)
		}
		svc.Version = v
	}
	return svc, nil
}

// String renders the service in the "id@version" form.
func (s Service) String() string {
	if s.Version == nil {
		return s.ID
	}
	return s.ID + "@" + s.Version.Original()
}

// Dependency is one declared edge: the consumer wants role filled by Target
// (a component name), or when Target is empty, by the nearest provider of
// Service satisfying Constraint.
type Dependency struct {
	Role       string
	Target     string
	Service    string
	Constraint string
	Optional   bool
}

// Descriptor is the immutable definition of one component.
type Descriptor struct {
	Name         string
	Type         string
	Version      string
	Services     []Service
	Dependencies []Dependency
	ConfigSchema string
	Config       map[string]interface{}
	Parameters   map[string]string
	Context      map[string]interface{}
	Lifestyle    Lifestyle
	Activation   Activation
	Hint         string
	Pool         PoolSpec
}

// Validate checks the descriptor for structural errors.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return cterrors.NewAssemblyError("", "component name cannot be empty")
	}
	if strings.ContainsAny(d.Name, "/ ") {
		return cterrors.NewAssemblyError(d.Name, "component name %q must not contain '/' or spaces", d.Name)
	}
	if d.Type == "" {
		return cterrors.NewAssemblyError(d.Name, "component %q has no type", d.Name)
	}
	if _, err := ParseLifestyle(string(d.Lifestyle)); err != nil {
		return cterrors.NewAssemblyError(d.Name, "component %q: %v", d.Name, err)
	}
	if _, err := ParseActivation(string(d.Activation)); err != nil {
		return cterrors.NewAssemblyError(d.Name, "component %q: %v", d.Name, err)
	}
	if d.Version != "" {
		if _, err := version.NewVersion(d.Version); err != nil {
			return cterrors.NewAssemblyError(d.Name, "component %q has invalid version %q: %v", d.Name, d.Version, err)
		}
	}

	roles := make(map[string]bool, len(d.Dependencies))
	for i, dep := range d.Dependencies {
		if dep.Role == "" {
			return cterrors.NewAssemblyError(d.Name, "component %q: dependency[%d] has no role", d.Name, i)
		}
		if roles[dep.Role] {
			return cterrors.NewAssemblyError(d.Name, "component %q: duplicate dependency role %q", d.Name, dep.Role)
		}
		roles[dep.Role] = true
		if dep.Target == "" && dep.Service == "" {
			return cterrors.NewAssemblyError(d.Name, "component %q: dependency %q needs a target or a service", d.Name, dep.Role)
		}
		if dep.Target == d.Name {
			return cterrors.NewCycleError([]string{d.Name, d.Name})
		}
		if dep.Constraint != "" {
			if _, err := version.NewConstraint(dep.Constraint); err != nil {
				return cterrors.NewAssemblyError(d.Name, "component %q: dependency %q has invalid constraint %q: %v",
					d.Name, dep.Role, dep.Constraint, err)
			}
		}
	}

	if d.Lifestyle == Pooled {
		if d.Pool.Min < 0 || d.Pool.Max < 0 {
			return cterrors.NewAssemblyError(d.Name, "component %q: pool bounds must not be negative", d.Name)
		}
		if d.Pool.Max > 0 && d.Pool.Min > d.Pool.Max {
			return cterrors.NewAssemblyError(d.Name, "component %q: pool min %d exceeds max %d", d.Name, d.Pool.Min, d.Pool.Max)
		}
	}
	return nil
}

// Normalize returns a copy with defaults applied: type tag from name,
// singleton lifestyle and startup activation.
func (d Descriptor) Normalize() Descriptor {
	out := d.Clone()
	if out.Type == "" {
		out.Type = out.Name
	}
	if l, err := ParseLifestyle(string(out.Lifestyle)); err == nil {
		out.Lifestyle = l
	}
	if a, err := ParseActivation(string(out.Activation)); err == nil {
		out.Activation = a
	}
	return out
}

// Clone returns a deep copy of the descriptor's collections.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Services = append([]Service(nil), d.Services...)
	out.Dependencies = append([]Dependency(nil), d.Dependencies...)
	out.Config = cloneMap(d.Config)
	out.Context = cloneMap(d.Context)
	if d.Parameters != nil {
		out.Parameters = make(map[string]string, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Dependency returns the dependency declared under role.
func (d Descriptor) Dependency(role string) (Dependency, bool) {
	for _, dep := range d.Dependencies {
		if dep.Role == role {
			return dep, true
		}
	}
	return Dependency{}, false
}

// Provides reports whether the descriptor declares serviceID with a version
// satisfying constraint. An empty constraint matches any version, including
// none. The matched version (possibly nil) is returned.
func (d Descriptor) Provides(serviceID, constraint string) (bool, *version.Version) {
	var constraints version.Constraints
	if constraint != "" {
		c, err := version.NewConstraint(constraint)
		if err != nil {
			return false, nil
		}
		constraints = c
	}
	for _, svc := range d.Services {
		if svc.ID != serviceID {
			continue
		}
		if constraints == nil {
			return true, svc.Version
		}
		if svc.Version != nil && constraints.Check(svc.Version) {
			return true, svc.Version
		}
	}
	return false, nil
}

// ServiceIDs returns the declared service identifiers without versions.
func (d Descriptor) ServiceIDs() []string {
	ids := make([]string, 0, len(d.Services))
	for _, svc := range d.Services {
		ids = append(ids, svc.ID)
	}
	return ids
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		if nested, ok := v.(map[string]interface{}); ok {
			dst[k] = cloneMap(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}
