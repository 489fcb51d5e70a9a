// Package supervisor launches and supervises the external worker processes
// that tasks ultimately map to. It streams their stream-json output, feeds
// token deltas into the shared budget ledger, enforces limits at launch time
// and at runtime, and guarantees that no subprocess or background reporter
// survives LaunchAll returning.
package supervisor

import (
	"errors"
	"sync"
	"time"

	"github.com/netra-systems/zen-sub010/internal/stream"
)

// InstanceStatus is the lifecycle state of one worker instance.
type InstanceStatus string

const (
	StatusPending   InstanceStatus = "pending"
	StatusRunning   InstanceStatus = "running"
	StatusCompleted InstanceStatus = "completed"
	StatusFailed    InstanceStatus = "failed"
)

// Sentinel failure causes. They are wrapped with instance detail so callers
// can classify results with errors.Is.
var (
	ErrAdmissionDenied        = errors.New("budget admission denied")
	ErrRuntimeBudgetViolation = errors.New("runtime budget violation")
	ErrTimeout                = errors.New("instance timed out")
	ErrSubprocessFailure      = errors.New("worker exited with failure")
)

// Instance is one external worker run. Configuration fields are set before
// Add and never mutated afterwards; runtime fields are guarded by mu because
// the instance goroutine writes them while the reporter reads them.
type Instance struct {
	// ID uniquely identifies the instance within the run.
	ID string

	// Name is the human-readable label used in reports.
	Name string

	// Command is the budget-ledger key this instance's consumption is
	// recorded under.
	Command string

	// Args are appended to the supervisor's base worker arguments.
	Args []string

	// Prompt is delivered to the worker on stdin.
	Prompt string

	// Env is extra environment for the worker, KEY=VALUE form.
	Env []string

	// EstimatedCost is the admission estimate; 0 uses the configured
	// default.
	EstimatedCost float64

	mu        sync.Mutex
	status    InstanceStatus
	pid       int
	startTime time.Time
	endTime   time.Time
	usage     stream.Usage
	toolCalls int
	costUSD   float64
	err       error
}

// Status returns the current lifecycle state.
func (in *Instance) Status() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status == "" {
		return StatusPending
	}
	return in.status
}

// markRunning records launch, once the subprocess has a pid.
func (in *Instance) markRunning(pid int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status = StatusRunning
	in.pid = pid
	in.startTime = time.Now()
}

// markCompleted records a clean finish with the final counters.
func (in *Instance) markCompleted(usage stream.Usage, toolCalls int, costUSD float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status = StatusCompleted
	in.endTime = time.Now()
	in.usage = usage
	in.toolCalls = toolCalls
	in.costUSD = costUSD
}

// markFailed records a terminal failure, keeping whatever counters
// accumulated before it.
func (in *Instance) markFailed(err error, usage stream.Usage, toolCalls int, costUSD float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status = StatusFailed
	in.endTime = time.Now()
	in.usage = usage
	in.toolCalls = toolCalls
	in.costUSD = costUSD
	in.err = err
}

// updateProgress publishes in-flight counters for the reporter.
func (in *Instance) updateProgress(usage stream.Usage, toolCalls int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.usage = usage
	in.toolCalls = toolCalls
}

// runningPid returns the pid when the instance is still running, 0 otherwise.
// The cleanup pass uses it to find survivors.
func (in *Instance) runningPid() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status == StatusRunning && in.pid > 0 {
		return in.pid
	}
	return 0
}

// snapshot copies the runtime fields under the lock.
func (in *Instance) snapshot() (InstanceStatus, stream.Usage, int, float64, time.Time, time.Time, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	status := in.status
	if status == "" {
		status = StatusPending
	}
	return status, in.usage, in.toolCalls, in.costUSD, in.startTime, in.endTime, in.err
}
