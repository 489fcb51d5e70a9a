package observability

import "context"

// Tracer defines the interface for observability tracing.
// Implementations track the lifecycle of a run through attempts,
// recording worker invocations (generations) and skipped components.
//
// Trace hierarchy:
//
//	Run (Trace)
//	  └── Attempt (Span): attempt-1, attempt-2, ...
//	        ├── Worker instance (Generation)
//	        └── Checkpoint (Event if suppressed)
type Tracer interface {
	StartTrace(sessionID string, opts TraceOptions) TraceContext
	StartPhase(trace TraceContext, phase string, opts SpanOptions) SpanContext
	RecordGeneration(span SpanContext, gen GenerationInput)
	RecordSkipped(span SpanContext, component string, reason string)
	EndPhase(span SpanContext, status string, durationMs int64)
	CompleteTrace(trace TraceContext, opts CompleteOptions)
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TraceContext holds the context for an active trace (run level).
type TraceContext struct {
	TraceID   string
	SessionID string
	Metadata  map[string]string
}

// SpanContext holds the context for an active span (attempt level).
type SpanContext struct {
	SpanID    string
	PhaseName string
	TraceID   string
}

// TraceOptions configures a new trace.
type TraceOptions struct {
	Workflow   string
	Repository string
	SessionID  string
}

// SpanOptions configures a new span.
type SpanOptions struct {
	Attempt     int
	MaxAttempts int
	Metadata    map[string]string
}

// GenerationInput describes a worker invocation to record.
type GenerationInput struct {
	Name         string // worker instance name
	Model        string
	Input        string // Prompt text sent to the worker
	Output       string // Response text from the worker
	InputTokens  int
	OutputTokens int
	Status       string // "completed" or "error"
	DurationMs   int64
}

// CompleteOptions configures trace completion.
type CompleteOptions struct {
	Status            string // "completed", "failed", "blocked"
	TotalInputTokens  int
	TotalOutputTokens int
}
