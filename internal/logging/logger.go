// Package logging provides the named, leveled loggers used throughout citadel.
//
// Every subsystem asks for a logger by dotted name:
//
//	logger := logging.GetLogger("container")
//	logger.Info("commissioned %d components", n)
//
// Components receive a child logger through the LogEnable lifecycle stage, named
// after their position in the containment tree ("component.root.child.greeter"),
// so per-package overrides can target a whole subtree:
//
//	logging.Initialize("info", map[string]string{
//	    "component.root.*": "debug",
//	    "pool":             "warn",
//	})
//
// Structured fields are attached either per call or persistently:
//
//	logger.InfoWithFields("pool exhausted", logging.Field("pool", name), logging.Field("max", max))
//	scoped := logger.WithField("container", "/root/child")
//
// When a context carries an OpenTelemetry span, WithContext adds trace_id and
// span_id to every line.
//
// Logger values are immutable; the With* methods return copies, so a logger
// may be shared across goroutines freely. Output goes to stdout for
// DEBUG/INFO/WARN and stderr for ERROR/FATAL unless redirected with SetOutput.
package logging

import (
	"context"
	"os"
	"sync/atomic"
)

var (
	defaultLevel atomic.Int32
	// exitFunc is called by Fatal; tests replace it.
	exitFunc = os.Exit
)

func init() {
	defaultLevel.Store(int32(INFO))
}

// Initialize sets the default level and optional per-package overrides.
// An unparsable default falls back to INFO. The level applies to every
// logger, including ones created before the call.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		level = INFO
	}
	defaultLevel.Store(int32(level))

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		return SetPackageLogLevels(packageLevels[0])
	}
	return nil
}

// GetLogger returns a logger with the specified name.
func GetLogger(name string) *Logger {
	return &Logger{
		name:   name,
		fields: make(map[string]interface{}),
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if override, ok := overrides.lookup(l.name); ok {
		return level >= override
	}
	return level >= LogLevel(defaultLevel.Load())
}

// Name returns the logger name.
func (l *Logger) Name() string {
	return l.name
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, msg, args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// WithName returns a new logger with a custom name, keeping fields and context.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		name:   name,
		fields: cloneFields(l.fields),
		ctx:    l.ctx,
	}
}

// Child returns a logger named "<name>.<suffix>".
func (l *Logger) Child(suffix string) *Logger {
	return l.WithName(l.name + "." + suffix)
}

// WithField adds a structured field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newLogger := l.WithName(l.name)
	newLogger.fields[key] = value
	return newLogger
}

// WithContext returns a logger that adds trace_id and span_id from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	newLogger := l.WithName(l.name)
	newLogger.ctx = ctx
	return newLogger
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.logWithFields(INFO, msg, fields...)
	}
}

// logWithFields merges context, persistent and call fields (last wins).
func (l *Logger) logWithFields(level LogLevel, msg string, fields ...LogField) {
	merged := l.mergedFields()
	if len(fields) > 0 && merged == nil {
		merged = make(map[string]interface{}, len(fields))
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	l.writeLog(level, msg, merged)
}
