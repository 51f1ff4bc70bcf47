package descriptor

import "time"

// Builder declares a descriptor fluently. Errors are collected and reported by Build.
//
//	desc, err := descriptor.New("greeter").
//	    Type("greeter").
//	    Provides("greeting@1.0.0").
//	    DependsOnService("clock", "time", ">= 1.0").
//	    Set("greeting", "hello").
//	    Build()
type Builder struct {
	d    Descriptor
	errs []error
}

// New starts a descriptor named name. The type tag defaults to the name.
func New(name string) *Builder {
	return &Builder{d: Descriptor{
		Name:       name,
		Lifestyle:  Singleton,
		Activation: Startup,
	}}
}

// Type sets the factory type tag.
func (b *Builder) Type(t string) *Builder {
	b.d.Type = t
	return b
}

// Version sets the component version.
func (b *Builder) Version(v string) *Builder {
	b.d.Version = v
	return b
}

// Provides declares services in "id" or "id@version" form.
func (b *Builder) Provides(services ...string) *Builder {
	for _, s := range services {
		svc, err := ParseService(s)
		if err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		b.d.Services = append(b.d.Services, svc)
	}
	return b
}

// DependsOn declares role filled by the component named target.
func (b *Builder) DependsOn(role, target string) *Builder {
	return b.WithDependency(Dependency{Role: role, Target: target})
}

// OptionallyDependsOn is DependsOn with the optional flag set.
func (b *Builder) OptionallyDependsOn(role, target string) *Builder {
	return b.WithDependency(Dependency{Role: role, Target: target, Optional: true})
}

// DependsOnService declares role filled by the nearest provider of service.
func (b *Builder) DependsOnService(role, service, constraint string) *Builder {
	return b.WithDependency(Dependency{Role: role, Service: service, Constraint: constraint})
}

// WithDependency appends a fully specified dependency.
func (b *Builder) WithDependency(dep Dependency) *Builder {
	b.d.Dependencies = append(b.d.Dependencies, dep)
	return b
}

// Lifestyle sets the instance sharing policy.
func (b *Builder) Lifestyle(l Lifestyle) *Builder {
	b.d.Lifestyle = l
	return b
}

// Pooled sets the pooled lifestyle with the given bounds.
func (b *Builder) Pooled(min, max int, strict bool, blockTimeout time.Duration) *Builder {
	b.d.Lifestyle = Pooled
	b.d.Pool = PoolSpec{Min: min, Max: max, Strict: strict, BlockTimeout: blockTimeout}
	return b
}

// Lazy defers singleton commissioning to the first bind.
func (b *Builder) Lazy() *Builder {
	b.d.Activation = Lazy
	return b
}

// Hint sets the selection hint used by the registry.
func (b *Builder) Hint(h string) *Builder {
	b.d.Hint = h
	return b
}

// ConfigSchema sets the configuration schema reference.
func (b *Builder) ConfigSchema(ref string) *Builder {
	b.d.ConfigSchema = ref
	return b
}

// Config replaces the configuration map.
func (b *Builder) Config(cfg map[string]interface{}) *Builder {
	b.d.Config = cloneMap(cfg)
	return b
}

// Set adds one configuration entry.
func (b *Builder) Set(key string, value interface{}) *Builder {
	if b.d.Config == nil {
		b.d.Config = make(map[string]interface{})
	}
	b.d.Config[key] = value
	return b
}

// Parameter adds one parameter.
func (b *Builder) Parameter(key, value string) *Builder {
	if b.d.Parameters == nil {
		b.d.Parameters = make(map[string]string)
	}
	b.d.Parameters[key] = value
	return b
}

// Context adds one context entry.
func (b *Builder) Context(key string, value interface{}) *Builder {
	if b.d.Context == nil {
		b.d.Context = make(map[string]interface{})
	}
	b.d.Context[key] = value
	return b
}

// Build validates and returns the descriptor.
func (b *Builder) Build() (Descriptor, error) {
	if len(b.errs) > 0 {
		return Descriptor{}, b.errs[0]
	}
	if b.d.Type == "" {
		b.d.Type = b.d.Name
	}
	if err := b.d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return b.d.Clone(), nil
}

// MustBuild is Build that panics on error. Intended for static declarations and tests.
func (b *Builder) MustBuild() Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
