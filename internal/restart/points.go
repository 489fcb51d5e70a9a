// Package restart pre-computes safe restart points from task metadata alone,
// confirms at runtime which points have become available, and packages the
// context bundle a fresh attempt resumes from.
//
// Points are computed before any task runs. This removes the circular
// dependency of "restart points depend on what has run, but what should run
// depends on restart points": the plan is fixed up front and only the
// confirmation step consults execution history.
package restart

import (
	"fmt"

	"github.com/netra-systems/zen-sub010/internal/state"
	"github.com/netra-systems/zen-sub010/internal/task"
)

// TriggerCondition describes when a planned point becomes available.
type TriggerCondition string

const (
	// TriggerCompletion: available once the task at TaskIndex completes.
	TriggerCompletion TriggerCondition = "completion"
	// TriggerBeforeNext: a checkpoint between the task at TaskIndex and
	// its successor; available once the task at TaskIndex completes.
	TriggerBeforeNext TriggerCondition = "before_next"
	// TriggerToolCompletion: available once the delegating task at
	// TaskIndex (and therefore its spawned tool work) completes.
	TriggerToolCompletion TriggerCondition = "tool_completion"
	// TriggerDependenciesComplete: available once every dependency of the
	// task at TaskIndex completes.
	TriggerDependenciesComplete TriggerCondition = "dependencies_complete"
	// TriggerAlwaysAvailable: usable unconditionally.
	TriggerAlwaysAvailable TriggerCondition = "always_available"
)

// Priority bounds: 1 is best, 4 is last resort.
const (
	PriorityBest      = 1
	PriorityGood      = 2
	PriorityRisky     = 3
	PriorityEmergency = 4
)

// Point is one restart position in the task sequence.
type Point struct {
	TaskIndex         int              `json:"task_index"`
	Trigger           TriggerCondition `json:"trigger"`
	Reason            string           `json:"reason"`
	ContextToPreserve []string         `json:"context_to_preserve,omitempty"`
	Priority          int              `json:"priority"`
	CorruptionRisk    bool             `json:"corruption_risk"`
	Confirmed         bool             `json:"confirmed"`
}

// Plan is the precomputed restart plan for one task list.
type Plan struct {
	Planned    []Point
	Guaranteed []Point
	Fallback   []Point
	Emergency  Point
}

// categoryPreserve names the artifacts worth carrying across a restart for
// each read-only category.
var categoryPreserve = map[task.Category][]string{
	task.CategorySearch:     {"search_indexes"},
	task.CategoryRead:       {"file_summaries"},
	task.CategoryAnalyze:    {"analysis_results"},
	task.CategoryResearch:   {"research_notes"},
	task.CategoryPlanning:   {"planning_notes"},
	task.CategoryValidation: {"validation_results"},
	task.CategoryTest:       {"test_results"},
}

// Planner computes and evaluates restart plans.
type Planner struct {
	opts  Options
	tasks []*task.Task
	plan  *Plan
}

// NewPlanner creates a restart planner with the given options.
func NewPlanner(opts ...Option) *Planner {
	return &Planner{opts: defaultOptions(opts...)}
}

// Precompute derives the restart plan from task metadata alone. It must be
// called before execution starts; the returned plan is also retained by the
// planner for Confirm/SelectBest/CaptureContext.
//
// Invariant: the returned plan always contains at least one usable point
// (the emergency point guarantees this); Validate makes the check explicit
// because running the adaptive path without any restart point is a
// planning failure.
func (p *Planner) Precompute(tasks []*task.Task) (*Plan, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("cannot precompute restart points for an empty task list")
	}
	p.tasks = tasks

	plan := &Plan{}
	for i, t := range tasks {
		switch {
		case isGuaranteedCategory(t.Category):
			plan.Planned = append(plan.Planned, Point{
				TaskIndex:         i,
				Trigger:           TriggerCompletion,
				Reason:            fmt.Sprintf("read-only %s task leaves no partial state", t.Category),
				ContextToPreserve: append([]string(nil), categoryPreserve[t.Category]...),
				Priority:          PriorityBest,
			})
		case t.SafeRestartAfter:
			plan.Planned = append(plan.Planned, Point{
				TaskIndex:         i,
				Trigger:           TriggerCompletion,
				Reason:            fmt.Sprintf("%s task completes a verifiable step", t.Category),
				ContextToPreserve: append([]string(nil), categoryPreserve[t.Category]...),
				Priority:          PriorityGood,
			})
		}

		// A checkpoint just before destructive work, when the preceding
		// task cannot corrupt state.
		if t.Destructive() && i > 0 && !tasks[i-1].Destructive() {
			plan.Planned = append(plan.Planned, Point{
				TaskIndex: i - 1,
				Trigger:   TriggerBeforeNext,
				Reason:    fmt.Sprintf("checkpoint before destructive %s task", t.Category),
				Priority:  PriorityGood,
			})
		}

		if t.HasTool("Task") {
			plan.Planned = append(plan.Planned, Point{
				TaskIndex: i,
				Trigger:   TriggerToolCompletion,
				Reason:    "delegated work settles once the spawning task completes",
				Priority:  PriorityRisky,
			})
		}

		if t.Destructive() && len(t.Dependencies) > 0 {
			plan.Planned = append(plan.Planned, Point{
				TaskIndex:      i,
				Trigger:        TriggerDependenciesComplete,
				Reason:         fmt.Sprintf("dependencies of %s task are checkpoints of their own", t.Category),
				Priority:       PriorityRisky,
				CorruptionRisk: true,
			})
		}
	}

	for _, pt := range plan.Planned {
		if pt.Priority == PriorityBest && (pt.Trigger == TriggerCompletion || pt.Trigger == TriggerBeforeNext) {
			plan.Guaranteed = append(plan.Guaranteed, pt)
		}
	}

	// Restarting from the very beginning is always possible when the first
	// task cannot have corrupted anything.
	if !tasks[0].Destructive() {
		plan.Fallback = append(plan.Fallback, Point{
			TaskIndex: 0,
			Trigger:   TriggerAlwaysAvailable,
			Reason:    "first task is non-destructive; restart from the beginning is safe",
			Priority:  PriorityEmergency,
		})
	}

	plan.Emergency = Point{
		TaskIndex:      0,
		Trigger:        TriggerAlwaysAvailable,
		Reason:         "emergency restart from the beginning",
		Priority:       PriorityEmergency,
		CorruptionRisk: true,
	}
	if len(plan.Guaranteed) == 0 && len(plan.Fallback) == 0 {
		plan.Fallback = append(plan.Fallback, plan.Emergency)
	}

	p.plan = plan
	return plan, p.Validate()
}

// Validate checks the at-least-one-point invariant.
func (p *Planner) Validate() error {
	if p.plan == nil {
		return fmt.Errorf("restart plan not computed")
	}
	if len(p.plan.Planned) == 0 && len(p.plan.Fallback) == 0 {
		return fmt.Errorf("no restart points derivable from task list")
	}
	return nil
}

// Confirm tests each planned point's trigger against the execution state
// and returns the points that are now available, marked confirmed.
func (p *Planner) Confirm(st *state.ExecutionState) []Point {
	if p.plan == nil {
		return nil
	}
	completed := st.CompletedSet()

	var confirmed []Point
	for _, pt := range p.plan.Planned {
		if p.triggered(pt, completed) {
			pt.Confirmed = true
			confirmed = append(confirmed, pt)
		}
	}
	return confirmed
}

// triggered evaluates one point's trigger condition.
func (p *Planner) triggered(pt Point, completed map[string]bool) bool {
	if pt.TaskIndex < 0 || pt.TaskIndex >= len(p.tasks) {
		return false
	}
	t := p.tasks[pt.TaskIndex]

	switch pt.Trigger {
	case TriggerCompletion, TriggerBeforeNext, TriggerToolCompletion:
		return completed[t.ID]
	case TriggerDependenciesComplete:
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				return false
			}
		}
		return true
	case TriggerAlwaysAvailable:
		return true
	default:
		return false
	}
}

// SelectBest picks the best available restart point: the lowest priority
// number among confirmed points (ties broken toward the latest task index,
// preserving the most progress), then the first fallback, then the
// emergency point. It always returns a usable point.
func (p *Planner) SelectBest(st *state.ExecutionState) Point {
	confirmed := p.Confirm(st)

	if len(confirmed) > 0 {
		best := confirmed[0]
		for _, pt := range confirmed[1:] {
			if pt.Priority < best.Priority ||
				(pt.Priority == best.Priority && pt.TaskIndex > best.TaskIndex) {
				best = pt
			}
		}
		return best
	}

	if p.plan != nil && len(p.plan.Fallback) > 0 {
		pt := p.plan.Fallback[0]
		pt.Confirmed = true
		return pt
	}

	emergency := Point{
		TaskIndex:      0,
		Trigger:        TriggerAlwaysAvailable,
		Reason:         "emergency restart from the beginning",
		Priority:       PriorityEmergency,
		CorruptionRisk: true,
		Confirmed:      true,
	}
	if p.plan != nil {
		emergency = p.plan.Emergency
		emergency.Confirmed = true
	}
	return emergency
}

// isGuaranteedCategory marks the categories whose completion points are
// guaranteed restart points.
func isGuaranteedCategory(c task.Category) bool {
	switch c {
	case task.CategorySearch, task.CategoryRead, task.CategoryAnalyze, task.CategoryResearch:
		return true
	default:
		return false
	}
}
