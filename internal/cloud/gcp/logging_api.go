package gcp

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/logging"
	"google.golang.org/api/option"
)

// APILogger writes entries directly to the Cloud Logging API instead of
// relying on a logging agent. Entries are buffered and sent asynchronously
// by the client library; Flush blocks until they are delivered.
type APILogger struct {
	client    *logging.Client
	logger    *logging.Logger
	sessionID string

	mu      sync.Mutex
	attempt int
}

// NewAPILogger connects to Cloud Logging for the given project. When
// credentialsFile is empty, application default credentials are used.
func NewAPILogger(ctx context.Context, projectID, logName, credentialsFile, sessionID string) (*APILogger, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := logging.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cloud logging client: %w", err)
	}

	if logName == "" {
		logName = "zen-orchestrator"
	}

	logger := client.Logger(logName, logging.CommonLabels(map[string]string{
		"component":  "zen-orchestrator",
		"session_id": sessionID,
	}))

	return &APILogger{
		client:    client,
		logger:    logger,
		sessionID: sessionID,
	}, nil
}

// Log sends one structured entry.
func (l *APILogger) Log(severity, message string, fields map[string]interface{}) {
	l.mu.Lock()
	attempt := l.attempt
	l.mu.Unlock()

	payload := map[string]interface{}{
		"message":   message,
		"sessionId": l.sessionID,
		"attempt":   attempt,
	}
	for k, v := range fields {
		payload[k] = v
	}

	l.logger.Log(logging.Entry{
		Severity: logging.ParseSeverity(severity),
		Payload:  payload,
	})
}

func (l *APILogger) Info(message string)    { l.Log(SeverityInfo, message, nil) }
func (l *APILogger) Warning(message string) { l.Log(SeverityWarning, message, nil) }
func (l *APILogger) Error(message string)   { l.Log(SeverityError, message, nil) }

func (l *APILogger) Infof(format string, args ...interface{}) {
	l.Log(SeverityInfo, fmt.Sprintf(format, args...), nil)
}

func (l *APILogger) Warningf(format string, args ...interface{}) {
	l.Log(SeverityWarning, fmt.Sprintf(format, args...), nil)
}

func (l *APILogger) Errorf(format string, args ...interface{}) {
	l.Log(SeverityError, fmt.Sprintf(format, args...), nil)
}

// SetAttempt updates the attempt number for subsequent entries.
func (l *APILogger) SetAttempt(attempt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempt = attempt
}

// Flush blocks until buffered entries are delivered.
func (l *APILogger) Flush() error {
	return l.logger.Flush()
}

// Close flushes and releases the client.
func (l *APILogger) Close() error {
	return l.client.Close()
}

var _ LoggerInterface = (*APILogger)(nil)
