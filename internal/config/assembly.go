package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/moolen/citadel/internal/descriptor"
)

// SchemaVersion is the only assembly schema understood by this release.
const SchemaVersion = "v1"

// Assembly represents the top-level structure of an assembly file.
// The top level is the root container; nested containers form the tree.
//
// Example YAML structure:
//
//	schema_version: v1
//	name: root
//	policy: parent-first
//	components:
//	  - name: clock
//	    type: clock
//	    provides: ["time@1.0.0"]
//	  - name: greeter
//	    type: greeter
//	    config: {greeting: "hello"}
//	    dependencies:
//	      - role: clock
//	        service: time
//	        constraint: ">= 1.0"
//	containers:
//	  - name: child
//	    optional: true
type Assembly struct {
	// SchemaVersion is the explicit assembly schema version (e.g., "v1")
	SchemaVersion string `yaml:"schema_version"`

	Name        string                 `yaml:"name"`
	Policy      string                 `yaml:"policy,omitempty"`
	MaxParallel int                    `yaml:"max_parallel,omitempty"`
	Context     map[string]interface{} `yaml:"context,omitempty"`
	Components  []ComponentConfig      `yaml:"components,omitempty"`
	Containers  []ContainerConfig      `yaml:"containers,omitempty"`
}

// ContainerConfig declares one nested container.
type ContainerConfig struct {
	Name string `yaml:"name"`

	// Optional lets the parent keep running when this container fails to commission
	Optional bool `yaml:"optional,omitempty"`

	// Policy and MaxParallel are inherited from the parent when empty
	Policy      string                 `yaml:"policy,omitempty"`
	MaxParallel int                    `yaml:"max_parallel,omitempty"`
	Context     map[string]interface{} `yaml:"context,omitempty"`
	Components  []ComponentConfig      `yaml:"components,omitempty"`
	Containers  []ContainerConfig      `yaml:"containers,omitempty"`
}

// ComponentConfig is the file form of a component descriptor.
type ComponentConfig struct {
	Name string `yaml:"name"`

	// Type is the factory type tag. Defaults to Name.
	Type    string `yaml:"type,omitempty"`
	Version string `yaml:"version,omitempty"`

	// Provides lists services in "id" or "id@version" form
	Provides     []string           `yaml:"provides,omitempty"`
	Dependencies []DependencyConfig `yaml:"dependencies,omitempty"`

	Lifestyle  string      `yaml:"lifestyle,omitempty"`
	Activation string      `yaml:"activation,omitempty"`
	Hint       string      `yaml:"hint,omitempty"`
	Pool       *PoolConfig `yaml:"pool,omitempty"`

	ConfigSchema string                 `yaml:"config_schema,omitempty"`
	Config       map[string]interface{} `yaml:"config,omitempty"`
	Parameters   map[string]string      `yaml:"parameters,omitempty"`
	Context      map[string]interface{} `yaml:"context,omitempty"`
}

// DependencyConfig declares one role. With neither target nor service set,
// the role names the target component.
type DependencyConfig struct {
	Role       string `yaml:"role"`
	Target     string `yaml:"target,omitempty"`
	Service    string `yaml:"service,omitempty"`
	Constraint string `yaml:"constraint,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
}

// PoolConfig bounds a pooled component.
type PoolConfig struct {
	Min    int  `yaml:"min,omitempty"`
	Max    int  `yaml:"max,omitempty"`
	Strict bool `yaml:"strict,omitempty"`

	// BlockTimeout is a Go duration string; empty blocks until release or cancellation
	BlockTimeout string `yaml:"block_timeout,omitempty"`
}

// Root returns the top level of the assembly as a container declaration.
func (a *Assembly) Root() ContainerConfig {
	name := a.Name
	if name == "" {
		name = "root"
	}
	return ContainerConfig{
		Name:        name,
		Policy:      a.Policy,
		MaxParallel: a.MaxParallel,
		Context:     a.Context,
		Components:  a.Components,
		Containers:  a.Containers,
	}
}

// Validate checks the schema version and every container of the tree.
// Returns descriptive errors for validation failures.
func (a *Assembly) Validate() error {
	if a.SchemaVersion != SchemaVersion {
		return NewConfigError(fmt.Sprintf(
			"unsupported schema_version: %q (expected %q)",
			a.SchemaVersion, SchemaVersion,
		))
	}
	root := a.Root()
	return root.validate("/" + root.Name)
}

func (c ContainerConfig) validate(path string) error {
	if c.Name == "" || strings.ContainsAny(c.Name, "/ ") {
		return NewConfigError(fmt.Sprintf("%s: invalid container name %q", path, c.Name))
	}

	switch strings.ToLower(c.Policy) {
	case "", "parent-first", "child-first":
	default:
		return NewConfigError(fmt.Sprintf("%s: unknown policy %q (must be parent-first or child-first)", path, c.Policy))
	}

	if c.MaxParallel < 0 {
		return NewConfigError(fmt.Sprintf("%s: max_parallel must not be negative", path))
	}

	if _, err := c.Descriptors(); err != nil {
		return NewConfigError(fmt.Sprintf("%s: %v", path, err))
	}

	seenContainers := make(map[string]bool)
	for i, child := range c.Containers {
		if seenContainers[child.Name] {
			return NewConfigError(fmt.Sprintf(
				"%s: containers[%d]: duplicate container name %q",
				path, i, child.Name,
			))
		}
		seenContainers[child.Name] = true

		if err := child.validate(path + "/" + child.Name); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors converts the container's components to validated descriptors in
// declaration order. Names must be unique within the container.
func (c ContainerConfig) Descriptors() ([]descriptor.Descriptor, error) {
	seenNames := make(map[string]bool, len(c.Components))
	out := make([]descriptor.Descriptor, 0, len(c.Components))

	for i, comp := range c.Components {
		if comp.Name == "" {
			return nil, fmt.Errorf("components[%d]: name is required", i)
		}
		if seenNames[comp.Name] {
			return nil, fmt.Errorf("components[%d]: duplicate component name %q", i, comp.Name)
		}
		seenNames[comp.Name] = true

		desc, err := comp.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("components[%d]: %w", i, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// Descriptor converts a single component declaration.
func (c ComponentConfig) Descriptor() (descriptor.Descriptor, error) {
	lifestyle, err := descriptor.ParseLifestyle(c.Lifestyle)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("component %q: %w", c.Name, err)
	}
	activation, err := descriptor.ParseActivation(c.Activation)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("component %q: %w", c.Name, err)
	}

	b := descriptor.New(c.Name).
		Type(c.Type).
		Version(c.Version).
		Provides(c.Provides...).
		Lifestyle(lifestyle).
		Hint(c.Hint).
		ConfigSchema(c.ConfigSchema).
		Config(c.Config)
	if activation == descriptor.Lazy {
		b.Lazy()
	}

	if c.Pool != nil {
		if lifestyle != descriptor.Pooled {
			return descriptor.Descriptor{}, fmt.Errorf("component %q: pool settings require the pooled lifestyle", c.Name)
		}
		var timeout time.Duration
		if c.Pool.BlockTimeout != "" {
			timeout, err = time.ParseDuration(c.Pool.BlockTimeout)
			if err != nil {
				return descriptor.Descriptor{}, fmt.Errorf("component %q: invalid block_timeout %q: %w", c.Name, c.Pool.BlockTimeout, err)
			}
		}
		b.Pooled(c.Pool.Min, c.Pool.Max, c.Pool.Strict, timeout)
	}

	for _, dep := range c.Dependencies {
		target := dep.Target
		if target == "" && dep.Service == "" {
			target = dep.Role
		}
		b.WithDependency(descriptor.Dependency{
			Role:       dep.Role,
			Target:     target,
			Service:    dep.Service,
			Constraint: dep.Constraint,
			Optional:   dep.Optional,
		})
	}
	for k, v := range c.Parameters {
		b.Parameter(k, v)
	}
	for k, v := range c.Context {
		b.Context(k, v)
	}
	return b.Build()
}

// Walk visits the container tree depth-first, parents before children.
// path is the slash-separated container path starting at the root.
func (a *Assembly) Walk(fn func(path string, c ContainerConfig) error) error {
	root := a.Root()
	return walkContainers("/"+root.Name, root, fn)
}

func walkContainers(path string, c ContainerConfig, fn func(string, ContainerConfig) error) error {
	if err := fn(path, c); err != nil {
		return err
	}
	for _, child := range c.Containers {
		if err := walkContainers(path+"/"+child.Name, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Sample returns the assembly written by `citadel init`. It exercises every
// in-tree demo component.
func Sample() *Assembly {
	return &Assembly{
		SchemaVersion: SchemaVersion,
		Name:          "root",
		Policy:        "parent-first",
		Components: []ComponentConfig{
			{Name: "clock", Type: "clock", Version: "1.0.0", Provides: []string{"time@1.0.0"}},
			{
				Name:       "store",
				Type:       "store",
				Provides:   []string{"kv"},
				Parameters: map[string]string{"namespace": "default"},
			},
			{
				Name:   "greeter",
				Type:   "greeter",
				Config: map[string]interface{}{"greeting": "hello"},
				Dependencies: []DependencyConfig{
					{Role: "clock", Service: "time", Constraint: ">= 1.0"},
					{Role: "store", Optional: true},
				},
			},
			{
				Name:      "counter",
				Type:      "counter",
				Lifestyle: "pooled",
				Pool:      &PoolConfig{Min: 1, Max: 4, BlockTimeout: "2s"},
			},
		},
		Containers: []ContainerConfig{
			{
				Name:     "sessions",
				Optional: true,
				Components: []ComponentConfig{
					{
						Name:      "connection",
						Type:      "connection",
						Lifestyle: "per-request",
						Config:    map[string]interface{}{"target": "localhost:5432"},
						Dependencies: []DependencyConfig{
							{Role: "clock", Service: "time"},
						},
					},
				},
			},
		},
	}
}
