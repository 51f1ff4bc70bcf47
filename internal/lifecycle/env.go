package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/moolen/citadel/internal/logging"
)

// ServiceManager is the view of the registry a component receives in the
// BindServices stage. Roles are the component's declared dependency roles.
type ServiceManager interface {
	Lookup(ctx context.Context, role string) (interface{}, error)
	Has(role string) bool
	Release(ctx context.Context, obj interface{}) error
}

// Context is the set of entries supplied by the container to Contextualize.
type Context map[string]interface{}

// Get returns the entry stored under key.
func (c Context) Get(key string) (interface{}, error) {
	v, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("context entry %q not found", key)
	}
	return v, nil
}

// Configuration is a component's structured configuration.
type Configuration map[string]interface{}

// String returns key as a string, or def when absent.
func (c Configuration) String(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns key as an int, or def when absent or not numeric.
func (c Configuration) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns key as a bool, or def when absent.
func (c Configuration) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration parses key with time.ParseDuration, or returns def.
func (c Configuration) Duration(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Child returns the nested configuration under key, or an empty one.
func (c Configuration) Child(key string) Configuration {
	if m, ok := c[key].(map[string]interface{}); ok {
		return Configuration(m)
	}
	return Configuration{}
}

// Parameters is a flat string map supplied to Parameterize.
type Parameters map[string]string

// Get returns the parameter or def.
func (p Parameters) Get(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Env is everything the sequencer hands to the stages of one instance.
type Env struct {
	Logger     *logging.Logger
	Context    Context
	Services   ServiceManager
	Config     Configuration
	Parameters Parameters
}
