// Package adaptive orchestrates execution attempts under a finite budget.
// The controller plans a task list, watches consumption at checkpoint
// fractions, reallocates the remaining budget when the trend drifts, and
// restarts from a precomputed safe point when completion becomes unlikely.
//
// The controller holds a budget.Ledger by composition and delegates all
// accounting to it; it never keeps its own usage counters.
package adaptive

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/events"
	"github.com/netra-systems/zen-sub010/internal/observability"
	"github.com/netra-systems/zen-sub010/internal/plan"
	"github.com/netra-systems/zen-sub010/internal/restart"
	"github.com/netra-systems/zen-sub010/internal/state"
	"github.com/netra-systems/zen-sub010/internal/task"
	"github.com/netra-systems/zen-sub010/internal/trend"
)

// State names the controller's execution phases.
type State string

const (
	StatePlanning             State = "planning"
	StateExecuting            State = "executing"
	StateCheckpointEvaluating State = "checkpoint_evaluating"
	StateRestarting           State = "restarting"
	StateCompleted            State = "completed"
	StateFallenBack           State = "fallen_back"
)

// Defaults for the adaptive policy knobs.
const (
	DefaultRestartThreshold         = 0.9
	DefaultMinCompletionProbability = 0.5
	DefaultMaxRestarts              = 2
	DefaultQuarterBuffer            = 0.05
)

// DefaultCheckpointFractions returns the standard quarter boundaries.
func DefaultCheckpointFractions() []float64 {
	return []float64{0.25, 0.5, 0.75, 1.0}
}

// Runner executes one task and reports its actual cost (in the same units
// as the budget) plus any artifacts the task produced. The supervisor is
// the production Runner; tests substitute fakes.
type Runner interface {
	RunTask(ctx context.Context, t *task.Task) (actualCost float64, artifacts map[string]string, err error)
}

// Config holds the adaptive policy configuration.
type Config struct {
	TotalBudget              float64
	CheckpointFractions      []float64
	RestartThreshold         float64
	MinCompletionProbability float64
	MaxRestarts              int
	QuarterBufferFraction    float64
	EstimationBufferFraction float64
	WorkKind                 plan.WorkKind

	// FallbackOnError runs the non-adaptive path when adaptive execution
	// hits an unexpected error instead of propagating it.
	FallbackOnError bool
}

// applyDefaults fills unset policy knobs.
func (c *Config) applyDefaults() {
	if len(c.CheckpointFractions) == 0 {
		c.CheckpointFractions = DefaultCheckpointFractions()
	}
	if c.RestartThreshold == 0 {
		c.RestartThreshold = DefaultRestartThreshold
	}
	if c.MinCompletionProbability == 0 {
		c.MinCompletionProbability = DefaultMinCompletionProbability
	}
	if c.MaxRestarts == 0 {
		c.MaxRestarts = DefaultMaxRestarts
	}
	if c.QuarterBufferFraction == 0 {
		c.QuarterBufferFraction = DefaultQuarterBuffer
	}
	if c.WorkKind == "" {
		c.WorkKind = plan.KindDefault
	}
}

// Result summarizes a full adaptive run (all attempts).
type Result struct {
	FinalState     State
	Attempts       int
	Restarts       int
	CompletedTasks int
	FailedTasks    int
	TotalUsage     float64
}

// Controller drives adaptive execution. Compose it from a shared ledger,
// the planners, a task runner, and the run's event sink.
type Controller struct {
	cfg      Config
	ledger   budget.Ledger
	planner  *plan.Planner
	analyzer *trend.Analyzer
	runner   Runner
	sink     events.Sink
	logger   *log.Logger
	tracer   observability.Tracer

	restartCount int
}

// NewController wires a controller. sink, logger, and tracer may be nil.
func NewController(cfg Config, ledger budget.Ledger, runner Runner, sink events.Sink, logger *log.Logger, tracer observability.Tracer) *Controller {
	cfg.applyDefaults()
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = log.New(logDiscard{}, "", 0)
	}
	if tracer == nil {
		tracer = &observability.NoOpTracer{}
	}
	planner := plan.NewPlanner(
		plan.WithEstimationBuffer(cfg.EstimationBufferFraction),
		plan.WithQuarterBuffer(cfg.QuarterBufferFraction),
	)
	return &Controller{
		cfg:      cfg,
		ledger:   ledger,
		planner:  planner,
		analyzer: trend.NewAnalyzer(),
		runner:   runner,
		sink:     sink,
		logger:   logger,
		tracer:   tracer,
	}
}

// emit records one run event; sink failures are logged, never fatal.
func (c *Controller) emit(ev events.RunEvent) {
	ev.Timestamp = time.Now()
	if err := c.sink.Emit(ev); err != nil {
		c.logger.Printf("event sink error: %v", err)
	}
}

// Run executes the unit of work adaptively. Each restart creates a fresh
// ExecutionState seeded from the captured restart context; earlier states
// are never mutated again.
func (c *Controller) Run(ctx context.Context, sessionID, unitOfWork string) (*Result, error) {
	trace := c.tracer.StartTrace(sessionID, observability.TraceOptions{
		Workflow:  "adaptive-execution",
		SessionID: sessionID,
	})

	result := &Result{FinalState: StatePlanning}
	var rctx *restart.Context

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		started := time.Now()
		span := c.tracer.StartPhase(trace, fmt.Sprintf("attempt-%d", attempt), observability.SpanOptions{
			Attempt:     attempt,
			MaxAttempts: c.cfg.MaxRestarts + 1,
		})

		p, err := c.planAttempt(unitOfWork, rctx)
		if err != nil {
			c.tracer.EndPhase(span, "failed", time.Since(started).Milliseconds())
			c.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: "failed"})
			return result, fmt.Errorf("planning attempt %d: %w", attempt, err)
		}

		st := state.New(sessionID, attempt, p.Tasks, p.Allocator, c.attemptBudget(rctx))
		if rctx != nil {
			for k, v := range rctx.PreservedData {
				st.SetData(k, v)
			}
		}

		restartPlanner := restart.NewPlanner()
		if _, err := restartPlanner.Precompute(p.Tasks); err != nil {
			// Planning failure: no restart point is derivable, so the
			// adaptive path is off the table. Run the work anyway.
			c.logger.Printf("no restart points derivable (%v), falling back to non-adaptive execution", err)
			c.runNonAdaptive(ctx, st, span)
			c.finish(trace, span, started, st, result, StateFallenBack)
			return result, nil
		}

		next, err := c.runAttempt(ctx, st, span, restartPlanner)
		if err != nil {
			if c.cfg.FallbackOnError {
				c.logger.Printf("adaptive execution error (%v), falling back to non-adaptive execution", err)
				c.runNonAdaptive(ctx, st, span)
				c.finish(trace, span, started, st, result, StateFallenBack)
				return result, nil
			}
			c.finish(trace, span, started, st, result, StateFallenBack)
			return result, err
		}

		if next == nil {
			c.finish(trace, span, started, st, result, StateCompleted)
			return result, nil
		}

		// Restarting: seed the next attempt from the captured context.
		c.restartCount++
		result.Restarts = c.restartCount
		result.CompletedTasks += len(st.CompletedTasks)
		result.FailedTasks += len(st.FailedTasks)
		result.TotalUsage += st.ActualUsage
		rctx = next
		c.tracer.EndPhase(span, string(StateRestarting), time.Since(started).Milliseconds())
		c.emit(events.RunEvent{
			SessionID: sessionID,
			Attempt:   attempt,
			Type:      events.EventRestart,
			Summary:   fmt.Sprintf("restarting from task index %d", next.Point.TaskIndex),
			Tokens:    int64(st.ActualUsage),
			Detail:    next.Point.Reason,
		})
		c.logger.Printf("restarting from task index %d (attempt %d, %d lessons, %d mistakes)",
			next.Point.TaskIndex, attempt+1, len(next.LessonsLearned), len(next.MistakesToAvoid))
	}
}

// planAttempt produces the plan for a fresh or restarted attempt.
func (c *Controller) planAttempt(unitOfWork string, rctx *restart.Context) (*plan.Plan, error) {
	if rctx == nil {
		return c.planner.Decompose(unitOfWork, c.cfg.WorkKind, c.cfg.TotalBudget, c.cfg.CheckpointFractions)
	}
	return c.planner.Replan(rctx.RemainingTasks, rctx.EstimateAdjustments(), rctx.EstimatedRemainingBudget, c.cfg.CheckpointFractions)
}

// attemptBudget returns the budget the current attempt is planned against.
func (c *Controller) attemptBudget(rctx *restart.Context) float64 {
	if rctx == nil {
		return c.cfg.TotalBudget
	}
	return rctx.EstimatedRemainingBudget
}

// runAttempt executes one attempt. It returns a non-nil restart context
// when a restart is warranted, nil when the attempt ran to completion.
func (c *Controller) runAttempt(ctx context.Context, st *state.ExecutionState, span observability.SpanContext, restartPlanner *restart.Planner) (*restart.Context, error) {
	// Block mode suppresses the adaptive machinery entirely: budget
	// enforcement already terminates overage at the supervisor level, and
	// restarting a blocked attempt would just re-spend the budget.
	adaptive := c.ledger.Mode() != budget.ModeBlock
	if !adaptive {
		c.tracer.RecordSkipped(span, "checkpoints", "block enforcement mode")
	}

	processed := make(map[float64]bool, len(c.cfg.CheckpointFractions))

	for _, t := range st.Tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.runOne(ctx, st, span, t)

		if !adaptive {
			continue
		}

		usagePct := st.UsagePercentage()
		for _, fraction := range c.sortedFractions() {
			if processed[fraction] || usagePct < fraction {
				continue
			}
			processed[fraction] = true

			analysis := c.evaluateCheckpoint(st, fraction)
			c.emit(events.RunEvent{
				SessionID: st.SessionID,
				Attempt:   st.Attempt,
				Type:      events.EventCheckpoint,
				Summary:   fmt.Sprintf("completion probability %.2f", analysis.CompletionProbability),
				Tokens:    int64(st.ActualUsage),
				Fraction:  fraction,
			})
			if c.shouldRestart(analysis, usagePct) {
				point := restartPlanner.SelectBest(st)
				return restartPlanner.CaptureContext(st, point), nil
			}
		}
	}

	return nil, nil
}

// runOne executes a single task, folds its outcome into the state, and
// records the worker invocation on the attempt's span.
func (c *Controller) runOne(ctx context.Context, st *state.ExecutionState, span observability.SpanContext, t *task.Task) {
	t.Status = task.StatusInProgress
	started := time.Now()
	actual, artifacts, err := c.runner.RunTask(ctx, t)

	gen := observability.GenerationInput{
		Name:         t.ID,
		Input:        t.Description,
		OutputTokens: int(actual),
		Status:       "completed",
		DurationMs:   time.Since(started).Milliseconds(),
	}
	if err != nil {
		gen.Status = "error"
		gen.Output = err.Error()
	}
	c.tracer.RecordGeneration(span, gen)

	if err != nil {
		st.MarkFailed(t, actual, err.Error())
		c.logger.Printf("task %s (%s) failed after %.0f units: %v", t.ID, t.Category, actual, err)
		return
	}
	st.MarkCompleted(t, actual)
	for k, v := range artifacts {
		st.SetData(k, v)
	}
}

// evaluateCheckpoint runs the trend analysis for a crossed fraction and
// applies its reallocation to the remaining quarters.
func (c *Controller) evaluateCheckpoint(st *state.ExecutionState, fraction float64) trend.Analysis {
	checkpointIndex := c.fractionIndex(fraction)

	analysis := c.analyzer.Analyze(trend.Input{
		CheckpointIndex:    checkpointIndex,
		PlannedBudgetSoFar: st.TotalBudget * fraction,
		ActualUsage:        st.ActualUsage,
		RemainingBudget:    st.RemainingBudget(),
		Completed:          st.CompletedTasks,
		Remaining:          st.Remaining(),
		RemainingByQuarter: st.RemainingByQuarter(),
	})

	c.logger.Printf("checkpoint %.0f%%: accuracy=%.2f velocity=%.0f completion_probability=%.2f",
		fraction*100, analysis.EstimationAccuracy, analysis.Velocity, analysis.CompletionProbability)

	if len(analysis.Reallocation) > 0 && st.Allocator != nil {
		from := checkpointIndex
		if from >= st.Allocator.NumQuarters() {
			from = st.Allocator.NumQuarters() - 1
		}
		weights := make(map[int]float64, len(analysis.Reallocation))
		for quarter, amount := range analysis.Reallocation {
			if quarter >= from {
				weights[quarter] = amount
			}
		}
		if len(weights) > 0 {
			if err := st.Allocator.Reallocate(from, weights); err != nil {
				c.logger.Printf("reallocation after checkpoint %.0f%% skipped: %v", fraction*100, err)
			}
		}
	}

	return analysis
}

// shouldRestart applies the restart decision rule: all three conditions
// must hold.
func (c *Controller) shouldRestart(analysis trend.Analysis, usagePct float64) bool {
	return analysis.CompletionProbability < c.cfg.MinCompletionProbability &&
		usagePct >= c.cfg.RestartThreshold &&
		c.restartCount < c.cfg.MaxRestarts
}

// runNonAdaptive executes the attempt's tasks without checkpoints or
// restarts. Used for the FallenBack path.
func (c *Controller) runNonAdaptive(ctx context.Context, st *state.ExecutionState, span observability.SpanContext) {
	for _, t := range st.Tasks {
		if ctx.Err() != nil {
			return
		}
		if t.Status != task.StatusPending {
			continue
		}
		c.runOne(ctx, st, span, t)
	}
}

// finish folds the final attempt into the result and closes the span and
// the trace.
func (c *Controller) finish(trace observability.TraceContext, span observability.SpanContext, started time.Time, st *state.ExecutionState, result *Result, final State) {
	result.FinalState = final
	result.CompletedTasks += len(st.CompletedTasks)
	result.FailedTasks += len(st.FailedTasks)
	result.TotalUsage += st.ActualUsage

	status := "completed"
	if final != StateCompleted {
		status = string(final)
	}
	c.tracer.EndPhase(span, status, time.Since(started).Milliseconds())
	c.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: status})
}

// sortedFractions returns the checkpoint fractions in ascending order so
// lower checkpoints are always processed before higher ones.
func (c *Controller) sortedFractions() []float64 {
	fractions := append([]float64(nil), c.cfg.CheckpointFractions...)
	sort.Float64s(fractions)
	return fractions
}

// fractionIndex maps a fraction to its quarter index.
func (c *Controller) fractionIndex(fraction float64) int {
	for i, f := range c.sortedFractions() {
		if f == fraction {
			return i
		}
	}
	return 0
}

// logDiscard is an io.Writer that drops everything; used when no logger is
// supplied.
type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }
