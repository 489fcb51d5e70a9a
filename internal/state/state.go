// Package state holds the per-attempt execution state shared by the
// adaptive controller and the restart planner. A restart never mutates a
// previous attempt's state; it seeds a fresh one, and the old state becomes
// immutable history.
package state

import (
	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/task"
)

// ExecutionState tracks one execution attempt.
type ExecutionState struct {
	SessionID string
	Attempt   int

	// Tasks is the full ordered task list of this attempt.
	Tasks []*task.Task

	// CompletedTasks and FailedTasks accumulate in completion order.
	CompletedTasks []*task.Task
	FailedTasks    []*task.Task

	// Allocator owns the quarter plans for this attempt.
	Allocator *budget.Allocator

	// TotalBudget is the budget this attempt was planned against.
	TotalBudget float64

	// ActualUsage is the consumption attributed to this attempt so far.
	ActualUsage float64

	// Data is the attempt's artifact bag: intermediate results keyed by
	// name (search indexes, discovered patterns, validation results) that
	// a restart may carry into the next attempt.
	Data map[string]string
}

// SetData stores an artifact value, creating the bag on first use.
func (s *ExecutionState) SetData(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// New creates the state for a fresh attempt.
func New(sessionID string, attempt int, tasks []*task.Task, alloc *budget.Allocator, totalBudget float64) *ExecutionState {
	return &ExecutionState{
		SessionID:   sessionID,
		Attempt:     attempt,
		Tasks:       tasks,
		Allocator:   alloc,
		TotalBudget: totalBudget,
	}
}

// MarkCompleted records a task completion with its actual cost.
func (s *ExecutionState) MarkCompleted(t *task.Task, actualCost float64) {
	t.Status = task.StatusCompleted
	t.ActualCost = actualCost
	s.CompletedTasks = append(s.CompletedTasks, t)
	s.ActualUsage += actualCost
}

// MarkFailed records a task failure with a human-readable reason.
func (s *ExecutionState) MarkFailed(t *task.Task, actualCost float64, reason string) {
	t.Status = task.StatusFailed
	t.ActualCost = actualCost
	t.FailureReason = reason
	s.FailedTasks = append(s.FailedTasks, t)
	s.ActualUsage += actualCost
}

// UsagePercentage returns actual usage as a fraction of the attempt budget,
// 0 when the budget is unset.
func (s *ExecutionState) UsagePercentage() float64 {
	if s.TotalBudget <= 0 {
		return 0
	}
	return s.ActualUsage / s.TotalBudget
}

// CompletedSet returns the IDs of completed tasks.
func (s *ExecutionState) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(s.CompletedTasks))
	for _, t := range s.CompletedTasks {
		set[t.ID] = true
	}
	return set
}

// Remaining returns tasks still pending or in progress, in plan order.
func (s *ExecutionState) Remaining() []*task.Task {
	var out []*task.Task
	for _, t := range s.Tasks {
		if t.Status == task.StatusPending || t.Status == task.StatusInProgress {
			out = append(out, t)
		}
	}
	return out
}

// RemainingByQuarter groups remaining tasks by their quarter index.
// Unassigned tasks land in quarter 0.
func (s *ExecutionState) RemainingByQuarter() map[int][]*task.Task {
	out := make(map[int][]*task.Task)
	for _, t := range s.Remaining() {
		q := 0
		if s.Allocator != nil {
			if idx := s.Allocator.QuarterOf(t.ID); idx >= 0 {
				q = idx
			}
		}
		out[q] = append(out[q], t)
	}
	return out
}

// RemainingBudget returns the unconsumed share of the attempt budget,
// floored at zero.
func (s *ExecutionState) RemainingBudget() float64 {
	rem := s.TotalBudget - s.ActualUsage
	if rem < 0 {
		return 0
	}
	return rem
}
