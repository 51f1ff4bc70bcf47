package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LogLevel orders log severities; higher is more severe.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if l < DEBUG || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// LogField is one structured key/value attached to a line.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger writes leveled lines under a dotted name.
type Logger struct {
	name   string
	fields map[string]interface{}
	ctx    context.Context
}

// overrideSet holds per-logger level overrides keyed by exact name or
// "prefix.*" pattern. Patterns are kept sorted longest first so the first
// match is the most specific.
type overrideSet struct {
	mu       sync.RWMutex
	exact    map[string]LogLevel
	patterns []patternLevel
}

type patternLevel struct {
	prefix string
	level  LogLevel
}

var overrides = &overrideSet{exact: map[string]LogLevel{}}

func (o *overrideSet) replace(levels map[string]LogLevel) {
	exact := make(map[string]LogLevel)
	var patterns []patternLevel
	for name, level := range levels {
		if prefix, ok := strings.CutSuffix(name, ".*"); ok {
			patterns = append(patterns, patternLevel{prefix: prefix + ".", level: level})
			continue
		}
		exact[name] = level
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i].prefix) != len(patterns[j].prefix) {
			return len(patterns[i].prefix) > len(patterns[j].prefix)
		}
		return patterns[i].prefix < patterns[j].prefix
	})

	o.mu.Lock()
	o.exact = exact
	o.patterns = patterns
	o.mu.Unlock()
}

// lookup returns the override for name and whether one applies.
func (o *overrideSet) lookup(name string) (LogLevel, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if level, ok := o.exact[name]; ok {
		return level, true
	}
	for _, p := range o.patterns {
		if strings.HasPrefix(name, p.prefix) {
			return p.level, true
		}
	}
	return 0, false
}

// SetPackageLogLevels replaces all per-logger overrides. A key is either an
// exact logger name or a pattern: "component.root.*" matches
// "component.root.clock" and everything below it.
func SetPackageLogLevels(levels map[string]string) error {
	if levels == nil {
		return nil
	}
	parsed := make(map[string]LogLevel, len(levels))
	for name, s := range levels {
		level, err := ParseLevel(s)
		if err != nil {
			return fmt.Errorf("invalid log level for package %q: %w", name, err)
		}
		parsed[name] = level
	}
	overrides.replace(parsed)
	return nil
}

// ParseLevel converts a level name (any case, WARNING accepted) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		name = "WARN"
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i), nil
		}
	}
	return -1, fmt.Errorf("invalid level: %s (must be one of %s)", s, strings.Join(levelNames[:], ", "))
}

func cloneFields(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
