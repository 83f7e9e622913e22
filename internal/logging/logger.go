// Package logging provides structured JSON logging with secret redaction for netsrp.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

// Log severity levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// rank orders levels for filtering. Unknown levels rank as info.
func (lv LogLevel) rank() int {
	switch lv {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// LogFormat represents the output format for log entries.
type LogFormat string

// Log output formats.
const (
	// FormatJSON writes one JSON object per line (default).
	FormatJSON LogFormat = "json"
	// FormatHuman writes "[time] level: message key=value ..." lines.
	FormatHuman LogFormat = "human"
)

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(s)); level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return level, nil
	default:
		return "", fmt.Errorf("invalid log level: %q", s)
	}
}

// ParseFormat converts a configuration string into a LogFormat.
func ParseFormat(s string) (LogFormat, error) {
	switch format := LogFormat(strings.ToLower(s)); format {
	case FormatJSON, FormatHuman:
		return format, nil
	default:
		return "", fmt.Errorf("invalid log format: %q", s)
	}
}

// sink is shared by a logger and every logger derived from it with With.
type sink struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// Logger writes redacted structured entries. Error entries go to stderr and
// everything else to stdout.
type Logger struct {
	level    LogLevel
	format   LogFormat
	redactor *Redactor
	bound    map[string]any
	out      *sink
	now      func() time.Time
}

type logEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New creates a Logger writing to the process's stdout and stderr.
func New(level LogLevel, format LogFormat) *Logger {
	return &Logger{
		level:    level,
		format:   format,
		redactor: NewRedactor(),
		out:      &sink{stdout: os.Stdout, stderr: os.Stderr},
		now:      time.Now,
	}
}

// SetOutput replaces the writers of l and of every logger derived from it.
func (l *Logger) SetOutput(stdout, stderr io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.stdout = stdout
	l.out.stderr = stderr
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level.rank() >= l.level.rank()
}

// With returns a logger that adds fields to every entry. Per-call fields
// override bound ones.
func (l *Logger) With(fields map[string]any) *Logger {
	child := *l
	child.bound = merge(l.bound, fields)
	return &child
}

// Log writes msg at level with the bound fields and fields merged in order.
func (l *Logger) Log(level LogLevel, msg string, fields ...map[string]any) {
	if !l.Enabled(level) {
		return
	}

	entry := logEntry{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Message:   msg,
		Fields:    l.redactor.RedactFields(merge(l.bound, fields...)),
	}

	var line []byte
	if l.format == FormatHuman {
		line = formatHuman(entry)
	} else {
		line = formatJSON(entry)
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	w := l.out.stdout
	if level == LevelError {
		w = l.out.stderr
	}
	_, _ = w.Write(line)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...map[string]any) { l.Log(LevelDebug, msg, fields...) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...map[string]any) { l.Log(LevelInfo, msg, fields...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...map[string]any) { l.Log(LevelWarn, msg, fields...) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...map[string]any) { l.Log(LevelError, msg, fields...) }

func formatJSON(entry logEntry) []byte {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Appendf(nil, `{"timestamp":%q,"level":"error","message":"failed to marshal log entry: %s"}`+"\n",
			entry.Timestamp, err.Error())
	}
	return append(data, '\n')
}

func formatHuman(entry logEntry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", entry.Timestamp, entry.Level, entry.Message)
	for _, k := range slices.Sorted(maps.Keys(entry.Fields)) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func merge(base map[string]any, more ...map[string]any) map[string]any {
	n := len(base)
	for _, m := range more {
		n += len(m)
	}
	if n == 0 {
		return nil
	}

	merged := make(map[string]any, n)
	maps.Copy(merged, base)
	for _, m := range more {
		maps.Copy(merged, m)
	}
	return merged
}
