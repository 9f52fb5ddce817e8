package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andywolf/agentgate/internal/security"
)

// Severity levels for structured logs
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// LogEntry is one structured log line. The format is compatible with the
// Cloud Logging agent, which lifts severity and labels from JSON written
// to stderr on GCP runtimes.
type LogEntry struct {
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes structured JSON log lines, sanitizing every message and
// field first. It is safe for concurrent use.
type Logger struct {
	writer    io.Writer
	labels    map[string]string
	sanitizer *security.LogSanitizer
	mu        sync.Mutex
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithWriter sets a custom writer for log output.
func WithWriter(w io.Writer) LoggerOption {
	return func(l *Logger) {
		l.writer = w
	}
}

// WithLabels adds labels attached to every entry.
func WithLabels(labels map[string]string) LoggerOption {
	return func(l *Logger) {
		for k, v := range labels {
			l.labels[k] = v
		}
	}
}

// NewLogger creates a structured logger writing to stderr.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		writer: os.Stderr,
		labels: map[string]string{
			"component": "agentgate",
		},
		sanitizer: security.NewLogSanitizer(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log writes one entry. Message and string fields pass through the
// sanitizer so a credential embedded in a command string never reaches
// the log stream.
func (l *Logger) Log(severity Severity, message string, fields map[string]interface{}) {
	sanitized := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			sanitized[k] = l.sanitizer.Sanitize(s)
			continue
		}
		sanitized[k] = v
	}
	if len(sanitized) == 0 {
		sanitized = nil
	}

	entry := LogEntry{
		Severity:  severity,
		Message:   l.sanitizer.Sanitize(message),
		Timestamp: time.Now().UTC(),
		Labels:    l.labels,
		Fields:    sanitized,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.writer, `{"severity":"ERROR","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

// Infof logs a formatted INFO entry.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Log(SeverityInfo, fmt.Sprintf(format, args...), nil)
}

// Warningf logs a formatted WARNING entry.
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Log(SeverityWarning, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted ERROR entry.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Log(SeverityError, fmt.Sprintf(format, args...), nil)
}
