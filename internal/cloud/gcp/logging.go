package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Severity levels for structured logs, matching Cloud Logging's names.
const (
	SeverityDefault  = "DEFAULT"
	SeverityDebug    = "DEBUG"
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// LogEntry is one structured log record.
type LogEntry struct {
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	SessionID string                 `json:"sessionId"`
	Attempt   int                    `json:"attempt"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LoggerInterface defines the cloud logging operations the orchestrator
// needs. CloudLogger emits agent-compatible JSON lines; APILogger writes
// straight to the Cloud Logging API.
type LoggerInterface interface {
	Log(severity, message string, fields map[string]interface{})
	Info(message string)
	Infof(format string, args ...interface{})
	Warning(message string)
	Warningf(format string, args ...interface{})
	Error(message string)
	Errorf(format string, args ...interface{})
	SetAttempt(attempt int)
	Flush() error
	Close() error
}

// CloudLogger writes structured JSON log lines compatible with the Cloud
// Logging agent. On GCP VMs the agent picks up JSON from stdout/stderr and
// forwards it with proper severity and labels. It also implements io.Writer
// so a stdlib log.Logger can be pointed at it.
type CloudLogger struct {
	writer    io.Writer
	sessionID string
	attempt   int
	labels    map[string]string
	mu        sync.Mutex
	closed    bool
}

// CloudLoggerOption configures the CloudLogger.
type CloudLoggerOption func(*CloudLogger)

// WithWriter sets a custom writer for log output.
func WithWriter(w io.Writer) CloudLoggerOption {
	return func(cl *CloudLogger) { cl.writer = w }
}

// WithSessionID tags every entry with the run's session ID.
func WithSessionID(sessionID string) CloudLoggerOption {
	return func(cl *CloudLogger) {
		cl.sessionID = sessionID
		cl.labels["session_id"] = sessionID
	}
}

// WithAttempt sets the current attempt number.
func WithAttempt(attempt int) CloudLoggerOption {
	return func(cl *CloudLogger) { cl.attempt = attempt }
}

// WithLabels adds custom labels to all log entries.
func WithLabels(labels map[string]string) CloudLoggerOption {
	return func(cl *CloudLogger) {
		for k, v := range labels {
			cl.labels[k] = v
		}
	}
}

// NewCloudLogger creates a logger that writes agent-compatible structured
// JSON. The default writer is stderr, which the Cloud Logging agent reads.
func NewCloudLogger(opts ...CloudLoggerOption) *CloudLogger {
	cl := &CloudLogger{
		writer: os.Stderr,
		labels: map[string]string{
			"component": "zen-orchestrator",
		},
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Log writes a structured log entry.
func (cl *CloudLogger) Log(severity, message string, fields map[string]interface{}) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.closed || cl.writer == nil {
		return
	}

	entry := LogEntry{
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: cl.sessionID,
		Attempt:   cl.attempt,
		Labels:    cl.labels,
		Fields:    fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(cl.writer, `{"severity":"ERROR","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	fmt.Fprintf(cl.writer, "%s\n", data)
}

func (cl *CloudLogger) Info(message string)    { cl.Log(SeverityInfo, message, nil) }
func (cl *CloudLogger) Warning(message string) { cl.Log(SeverityWarning, message, nil) }
func (cl *CloudLogger) Error(message string)   { cl.Log(SeverityError, message, nil) }

func (cl *CloudLogger) Infof(format string, args ...interface{}) {
	cl.Log(SeverityInfo, fmt.Sprintf(format, args...), nil)
}

func (cl *CloudLogger) Warningf(format string, args ...interface{}) {
	cl.Log(SeverityWarning, fmt.Sprintf(format, args...), nil)
}

func (cl *CloudLogger) Errorf(format string, args ...interface{}) {
	cl.Log(SeverityError, fmt.Sprintf(format, args...), nil)
}

// Write lets a stdlib log.Logger target the cloud logger. It strips a
// leading "[component]" prefix and guesses severity from the message text.
func (cl *CloudLogger) Write(p []byte) (int, error) {
	message := strings.TrimRight(string(p), "\n")

	if strings.HasPrefix(message, "[") {
		if end := strings.Index(message, "] "); end >= 0 {
			message = message[end+2:]
		}
	}

	cl.Log(cl.detectSeverity(message), message, nil)
	return len(p), nil
}

// detectSeverity guesses a severity from free-text log lines.
func (cl *CloudLogger) detectSeverity(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return SeverityError
	case strings.Contains(lower, "warning") || strings.HasPrefix(lower, "warn"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// SetAttempt updates the attempt number for subsequent entries.
func (cl *CloudLogger) SetAttempt(attempt int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.attempt = attempt
}

// Flush syncs the underlying writer when it supports it.
func (cl *CloudLogger) Flush() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.closed {
		return nil
	}
	if syncer, ok := cl.writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Close marks the logger closed; subsequent entries are dropped.
func (cl *CloudLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.closed = true
	return nil
}

// FormatEntry renders a LogEntry as a JSON string.
func FormatEntry(entry LogEntry) (string, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal log entry: %w", err)
	}
	return string(data), nil
}

// NewLogger picks the right logger for the environment: the Cloud Logging
// API client when a project is configured, agent-format stderr on GCP VMs,
// and stdout JSON for local runs.
func NewLogger(ctx context.Context, projectID, logName, credentialsFile, sessionID string) LoggerInterface {
	if projectID != "" {
		if logger, err := NewAPILogger(ctx, projectID, logName, credentialsFile, sessionID); err == nil {
			return logger
		}
	}
	if IsRunningOnGCP() {
		return NewCloudLogger(WithSessionID(sessionID))
	}
	return NewCloudLogger(WithSessionID(sessionID), WithWriter(os.Stdout))
}

var _ LoggerInterface = (*CloudLogger)(nil)
