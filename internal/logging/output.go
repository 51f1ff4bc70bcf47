package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	outMu   sync.Mutex
	stdoutW io.Writer = os.Stdout
	stderrW io.Writer = os.Stderr
)

// SetOutput redirects log output. A nil writer keeps the current one.
// ERROR and FATAL lines go to errOut, everything else to out.
func SetOutput(out, errOut io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if out != nil {
		stdoutW = out
	}
	if errOut != nil {
		stderrW = errOut
	}
}

// ResetOutput restores stdout/stderr.
func ResetOutput() {
	SetOutput(os.Stdout, os.Stderr)
}

// writeLog renders "[ts] [LEVEL] name: msg | k=v ..." with fields sorted by key.
func (l *Logger) writeLog(level LogLevel, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", timestamp(), level, l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	outMu.Lock()
	defer outMu.Unlock()
	if level >= ERROR {
		_, _ = io.WriteString(stderrW, b.String())
		return
	}
	_, _ = io.WriteString(stdoutW, b.String())
}

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	l.writeLog(level, formatted, l.mergedFields())
}

// mergedFields returns context fields overlaid by persistent fields, or nil.
func (l *Logger) mergedFields() map[string]interface{} {
	contextFields := spanFields(l.ctx)
	if contextFields == nil && len(l.fields) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(contextFields)+len(l.fields))
	for k, v := range contextFields {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	return merged
}

// timestamp returns an RFC3339 timestamp, or LOG_TIMESTAMP when set.
func timestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
