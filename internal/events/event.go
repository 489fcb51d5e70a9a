// Package events provides the structured run-event record for the
// orchestrator. Instance lifecycle, budget warnings and violations,
// checkpoint evaluations and restarts are all normalized into a single
// RunEvent format for logging and analysis.
package events

import (
	"time"
)

// EventType identifies the category of a run event.
type EventType string

const (
	// EventInstanceLaunched marks a worker subprocess start.
	EventInstanceLaunched EventType = "instance_launched"
	// EventInstanceCompleted marks a clean worker finish.
	EventInstanceCompleted EventType = "instance_completed"
	// EventInstanceFailed marks a terminal worker failure.
	EventInstanceFailed EventType = "instance_failed"
	// EventBudgetWarning is a non-fatal budget overage under warn mode.
	EventBudgetWarning EventType = "budget_warning"
	// EventBudgetViolation is a budget overage that terminated a worker.
	EventBudgetViolation EventType = "budget_violation"
	// EventCheckpoint is an adaptive checkpoint evaluation.
	EventCheckpoint EventType = "checkpoint"
	// EventRestart is an adaptive restart decision.
	EventRestart EventType = "restart"
	// EventToolUse is a tool invocation parsed from a worker stream.
	EventToolUse EventType = "tool_use"
)

// RunEvent is a single structured record of the orchestration run.
type RunEvent struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// SessionID identifies the run.
	SessionID string `json:"session_id"`

	// Attempt is the adaptive attempt number (1-indexed).
	Attempt int `json:"attempt,omitempty"`

	// Instance names the worker instance the event belongs to, when any.
	Instance string `json:"instance,omitempty"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Summary is a short human-readable description.
	Summary string `json:"summary,omitempty"`

	// Tokens is the token count attached to the event, when relevant.
	Tokens int64 `json:"tokens,omitempty"`

	// ToolName is set for tool_use events.
	ToolName string `json:"tool_name,omitempty"`

	// Fraction is the crossed checkpoint fraction for checkpoint events.
	Fraction float64 `json:"fraction,omitempty"`

	// Detail carries the failure reason or decision detail.
	Detail string `json:"detail,omitempty"`
}

// ValidEventTypes returns all valid event type values.
func ValidEventTypes() []EventType {
	return []EventType{
		EventInstanceLaunched,
		EventInstanceCompleted,
		EventInstanceFailed,
		EventBudgetWarning,
		EventBudgetViolation,
		EventCheckpoint,
		EventRestart,
		EventToolUse,
	}
}

// IsValidEventType checks if the given string is a valid event type.
func IsValidEventType(s string) bool {
	for _, t := range ValidEventTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}
