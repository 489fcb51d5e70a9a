package restart

import (
	"fmt"

	"github.com/netra-systems/zen-sub010/internal/state"
	"github.com/netra-systems/zen-sub010/internal/task"
)

// Policy thresholds for deriving lessons and mistakes. They are named,
// overridable configuration so the heuristics can be tuned and tested
// independently of the capture mechanism.
const (
	// DefaultCostOverrunFactor flags a task whose actual cost exceeded its
	// estimate by this factor as an estimation lesson.
	DefaultCostOverrunFactor = 1.5

	// DefaultToolEfficiencyFloor flags tools whose mean estimated/actual
	// ratio falls below this value.
	DefaultToolEfficiencyFloor = 0.5

	// DefaultBudgetWasteFactor flags the whole attempt as wasteful when
	// total actual / total estimated exceeds it.
	DefaultBudgetWasteFactor = 1.5
)

// alwaysPreserve are artifact keys carried across every restart so the next
// attempt never repeats expensive read-only work.
var alwaysPreserve = []string{"discovered_patterns", "validation_results", "search_indexes"}

// Options tune the lesson/mistake heuristics.
type Options struct {
	CostOverrunFactor   float64
	ToolEfficiencyFloor float64
	BudgetWasteFactor   float64
}

// Option overrides one policy threshold.
type Option func(*Options)

// WithCostOverrunFactor overrides the per-task overrun threshold.
func WithCostOverrunFactor(f float64) Option {
	return func(o *Options) { o.CostOverrunFactor = f }
}

// WithToolEfficiencyFloor overrides the tool efficiency threshold.
func WithToolEfficiencyFloor(f float64) Option {
	return func(o *Options) { o.ToolEfficiencyFloor = f }
}

// WithBudgetWasteFactor overrides the attempt-level waste threshold.
func WithBudgetWasteFactor(f float64) Option {
	return func(o *Options) { o.BudgetWasteFactor = f }
}

func defaultOptions(opts ...Option) Options {
	o := Options{
		CostOverrunFactor:   DefaultCostOverrunFactor,
		ToolEfficiencyFloor: DefaultToolEfficiencyFloor,
		BudgetWasteFactor:   DefaultBudgetWasteFactor,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LessonKind classifies a lesson learned from a finished attempt.
type LessonKind string

const (
	LessonEstimationAccuracy LessonKind = "estimation_accuracy"
	LessonToolEfficiency     LessonKind = "tool_efficiency"
)

// Lesson is one piece of guidance for the next attempt.
type Lesson struct {
	Kind     LessonKind    `json:"kind"`
	Category task.Category `json:"category,omitempty"`
	Tool     string        `json:"tool,omitempty"`

	// AdjustmentFactor scales the next attempt's estimates for the
	// affected category (actual/estimated mean of the overruns).
	AdjustmentFactor float64 `json:"adjustment_factor,omitempty"`

	Detail string `json:"detail"`
}

// Mistake is something the next attempt should avoid repeating.
type Mistake struct {
	TaskID      string `json:"task_id,omitempty"`
	Reason      string `json:"reason"`
	Alternative string `json:"alternative,omitempty"`
}

// Context is the bundle a fresh attempt is seeded from. It is built once
// per restart and consumed exactly once.
type Context struct {
	Point                    Point             `json:"point"`
	CompletedTasks           []*task.Task      `json:"completed_tasks"`
	RemainingTasks           []*task.Task      `json:"remaining_tasks"`
	LessonsLearned           []Lesson          `json:"lessons_learned,omitempty"`
	MistakesToAvoid          []Mistake         `json:"mistakes_to_avoid,omitempty"`
	PreservedData            map[string]string `json:"preserved_data,omitempty"`
	EstimatedRemainingBudget float64           `json:"estimated_remaining_budget"`
}

// EstimateAdjustments aggregates the estimation lessons into per-category
// scale factors for replanning.
func (c *Context) EstimateAdjustments() map[task.Category]float64 {
	out := make(map[task.Category]float64)
	for _, l := range c.LessonsLearned {
		if l.Kind == LessonEstimationAccuracy && l.Category != "" && l.AdjustmentFactor > 0 {
			out[l.Category] = l.AdjustmentFactor
		}
	}
	return out
}

// CaptureContext packages the restart bundle for the given point: the
// completed prefix up to the point, the remaining tasks after it, lessons
// and mistakes derived from the attempt's actuals, and the preserved
// artifacts named by the point plus the always-preserved keys.
func (p *Planner) CaptureContext(st *state.ExecutionState, pt Point) *Context {
	var completed, remaining []*task.Task
	for i, t := range st.Tasks {
		if i <= pt.TaskIndex && t.Status == task.StatusCompleted {
			completed = append(completed, t)
		}
		if i > pt.TaskIndex {
			remaining = append(remaining, t)
		}
	}

	preserved := make(map[string]string)
	for _, key := range append(append([]string(nil), pt.ContextToPreserve...), alwaysPreserve...) {
		if val, ok := st.Data[key]; ok {
			preserved[key] = val
		}
	}

	return &Context{
		Point:                    pt,
		CompletedTasks:           completed,
		RemainingTasks:           remaining,
		LessonsLearned:           p.deriveLessons(st.CompletedTasks),
		MistakesToAvoid:          p.deriveMistakes(st),
		PreservedData:            preserved,
		EstimatedRemainingBudget: st.RemainingBudget(),
	}
}

// deriveLessons builds estimation and tool-efficiency lessons from the
// completed tasks' actuals.
func (p *Planner) deriveLessons(completed []*task.Task) []Lesson {
	var lessons []Lesson

	// Estimation accuracy per category: tasks whose actual cost blew past
	// the overrun threshold contribute to a per-category adjustment.
	type overrun struct {
		sum   float64
		count int
	}
	overruns := make(map[task.Category]*overrun)
	for _, t := range completed {
		if t.EstimatedCost <= 0 || t.ActualCost <= t.EstimatedCost*p.opts.CostOverrunFactor {
			continue
		}
		o := overruns[t.Category]
		if o == nil {
			o = &overrun{}
			overruns[t.Category] = o
		}
		o.sum += t.ActualCost / t.EstimatedCost
		o.count++
	}
	for _, cat := range task.Categories() {
		o, ok := overruns[cat]
		if !ok {
			continue
		}
		factor := o.sum / float64(o.count)
		lessons = append(lessons, Lesson{
			Kind:             LessonEstimationAccuracy,
			Category:         cat,
			AdjustmentFactor: factor,
			Detail: fmt.Sprintf("%s tasks ran %.1fx over estimate; scale future %s estimates accordingly",
				cat, factor, cat),
		})
	}

	// Tool efficiency: mean estimated/actual per tool across the tasks
	// that used it.
	type efficiency struct {
		sum   float64
		count int
	}
	tools := make(map[string]*efficiency)
	for _, t := range completed {
		if t.ActualCost <= 0 {
			continue
		}
		ratio := t.EstimatedCost / t.ActualCost
		for _, tool := range t.Tools {
			e := tools[tool]
			if e == nil {
				e = &efficiency{}
				tools[tool] = e
			}
			e.sum += ratio
			e.count++
		}
	}
	for tool, e := range tools {
		mean := e.sum / float64(e.count)
		if mean >= p.opts.ToolEfficiencyFloor {
			continue
		}
		lessons = append(lessons, Lesson{
			Kind:   LessonToolEfficiency,
			Tool:   tool,
			Detail: fmt.Sprintf("tool %s delivered %.2f of estimated value per unit spent; prefer cheaper alternatives", tool, mean),
		})
	}

	return lessons
}

// categoryAlternatives suggests a cheaper substitute per failed category.
var categoryAlternatives = map[task.Category]string{
	task.CategorySearch:  "narrow the search scope before retrying",
	task.CategoryAnalyze: "analyze only files touched by the change",
	task.CategoryWrite:   "split the write into smaller reviewed edits",
	task.CategoryModify:  "split the modification into smaller reviewed edits",
	task.CategoryDeploy:  "deploy to a staging target first",
	task.CategoryTest:    "run only the affected test packages",
	task.CategorySpawn:   "run the delegated work inline instead of spawning",
}

// deriveMistakes builds the mistakes list from failed tasks and the
// attempt-level budget-waste signal.
func (p *Planner) deriveMistakes(st *state.ExecutionState) []Mistake {
	var mistakes []Mistake
	for _, t := range st.FailedTasks {
		reason := t.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("%s task %s failed", t.Category, t.ID)
		}
		mistakes = append(mistakes, Mistake{
			TaskID:      t.ID,
			Reason:      reason,
			Alternative: categoryAlternatives[t.Category],
		})
	}

	var estSum, actSum float64
	for _, t := range st.CompletedTasks {
		estSum += t.EstimatedCost
		actSum += t.ActualCost
	}
	if estSum > 0 && actSum/estSum > p.opts.BudgetWasteFactor {
		mistakes = append(mistakes, Mistake{
			Reason:      fmt.Sprintf("attempt consumed %.1fx its estimated budget across completed tasks", actSum/estSum),
			Alternative: "tighten estimates and prefer the preserved artifacts over re-reading",
		})
	}

	return mistakes
}
