// Package plan decomposes a unit of work into a dependency-ordered task list
// and assigns the tasks to budget quarters. The category sequence for each
// kind of work is a fixed lookup table: planning is deterministic and happens
// entirely before execution, which is what lets the restart planner compute
// safe points from task metadata alone.
package plan

import (
	"fmt"

	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/task"
)

// WorkKind names a known shape of work with a fixed category sequence.
type WorkKind string

const (
	KindFeature       WorkKind = "feature"
	KindBugfix        WorkKind = "bugfix"
	KindRefactor      WorkKind = "refactor"
	KindInvestigation WorkKind = "investigation"
	KindDefault       WorkKind = "default"
)

// categorySequences maps each work kind to its fixed task category sequence.
var categorySequences = map[WorkKind][]task.Category{
	KindFeature: {
		task.CategorySearch, task.CategoryRead, task.CategoryAnalyze,
		task.CategoryPlanning, task.CategoryWrite, task.CategoryModify,
		task.CategoryTest, task.CategoryValidation, task.CategoryMerge,
	},
	KindBugfix: {
		task.CategorySearch, task.CategoryRead, task.CategoryAnalyze,
		task.CategoryModify, task.CategoryTest, task.CategoryValidation,
	},
	KindRefactor: {
		task.CategoryRead, task.CategoryAnalyze, task.CategoryPlanning,
		task.CategoryModify, task.CategoryTest, task.CategoryValidation,
	},
	KindInvestigation: {
		task.CategorySearch, task.CategoryResearch, task.CategoryRead,
		task.CategoryAnalyze, task.CategoryPlanning,
	},
	KindDefault: {
		task.CategorySearch, task.CategoryRead, task.CategoryAnalyze,
		task.CategoryWrite, task.CategoryTest,
	},
}

// categoryTools maps each category to its default tool set.
var categoryTools = map[task.Category][]string{
	task.CategorySearch:      {"Grep", "Glob"},
	task.CategoryRead:        {"Read"},
	task.CategoryAnalyze:     {"Read", "Task"},
	task.CategoryResearch:    {"WebSearch", "WebFetch"},
	task.CategoryPlanning:    {"Read"},
	task.CategoryValidation:  {"Bash", "Read"},
	task.CategoryPreparation: {"Bash"},
	task.CategoryWrite:       {"Write"},
	task.CategoryModify:      {"Edit"},
	task.CategoryDeploy:      {"Bash"},
	task.CategoryDelete:      {"Bash"},
	task.CategoryTest:        {"Bash"},
	task.CategorySetup:       {"Bash"},
	task.CategorySpawn:       {"Task"},
	task.CategoryMonitor:     {"Read"},
	task.CategoryMerge:       {"Bash"},
}

// Dependency rule classes: which categories a class depends on, applied over
// all prior tasks in the sequence.
var (
	analysisClass = map[task.Category]bool{task.CategoryAnalyze: true, task.CategoryResearch: true, task.CategoryPlanning: true}
	analysisDeps  = map[task.Category]bool{task.CategorySearch: true, task.CategoryRead: true}

	modifyClass = map[task.Category]bool{task.CategoryWrite: true, task.CategoryModify: true, task.CategoryDeploy: true, task.CategoryDelete: true}
	modifyDeps  = map[task.Category]bool{task.CategoryAnalyze: true, task.CategoryPlanning: true}

	testClass = map[task.Category]bool{task.CategoryTest: true, task.CategoryValidation: true}
	testDeps  = map[task.Category]bool{task.CategoryModify: true, task.CategoryWrite: true}
)

// DefaultEstimationBuffer is the uniform headroom added to every estimate.
const DefaultEstimationBuffer = 0.10

// Planner produces task plans for units of work.
type Planner struct {
	estimationBuffer float64
	quarterBuffer    float64
}

// Option configures a Planner.
type Option func(*Planner)

// WithEstimationBuffer overrides the default +10% estimation buffer.
func WithEstimationBuffer(fraction float64) Option {
	return func(p *Planner) { p.estimationBuffer = fraction }
}

// WithQuarterBuffer sets the per-quarter allocation buffer fraction.
func WithQuarterBuffer(fraction float64) Option {
	return func(p *Planner) { p.quarterBuffer = fraction }
}

// NewPlanner creates a Planner with default buffers.
func NewPlanner(opts ...Option) *Planner {
	p := &Planner{estimationBuffer: DefaultEstimationBuffer}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan is the output of decomposing one unit of work.
type Plan struct {
	Tasks                []*task.Task
	Allocator            *budget.Allocator
	TotalEstimatedBudget float64
	RestartableIndices   []int
}

// Decompose expands the unit of work into category-tagged tasks with
// estimates, dependencies and restart-safety flags, then distributes them
// across quarters aligned to the checkpoint fractions.
func (p *Planner) Decompose(unitOfWork string, kind WorkKind, totalBudget float64, checkpointFractions []float64) (*Plan, error) {
	if unitOfWork == "" {
		return nil, fmt.Errorf("unit of work is required")
	}
	seq, ok := categorySequences[kind]
	if !ok {
		seq = categorySequences[KindDefault]
	}

	tasks := make([]*task.Task, 0, len(seq))
	for i, cat := range seq {
		tools := append([]string(nil), categoryTools[cat]...)
		estimate := task.BaseCost(cat) * task.ToolMultiplier(tools) * (1 + p.estimationBuffer)
		tasks = append(tasks, &task.Task{
			ID:               fmt.Sprintf("task-%d", i+1),
			Description:      fmt.Sprintf("%s: %s", cat, unitOfWork),
			Category:         cat,
			EstimatedCost:    estimate,
			Tools:            tools,
			Status:           task.StatusPending,
			SafeRestartAfter: task.SafeRestartAfterCategory(cat),
		})
	}

	applyDependencyRules(tasks)

	var total float64
	var restartable []int
	for i, t := range tasks {
		total += t.EstimatedCost
		if t.SafeRestartAfter {
			restartable = append(restartable, i)
		}
	}

	alloc, err := budget.NewAllocator(totalBudget, checkpointFractions, p.quarterBuffer)
	if err != nil {
		return nil, fmt.Errorf("allocating quarters: %w", err)
	}
	alloc.Distribute(tasks)

	return &Plan{
		Tasks:                tasks,
		Allocator:            alloc,
		TotalEstimatedBudget: total,
		RestartableIndices:   restartable,
	}, nil
}

// Replan builds a plan for a restart attempt from the surviving tasks,
// scaling each estimate by the per-category adjustment factors learned in
// the previous attempt. The remaining budget is split 30/30/25/15 across
// the quarters.
func (p *Planner) Replan(remaining []*task.Task, adjustments map[task.Category]float64, remainingBudget float64, checkpointFractions []float64) (*Plan, error) {
	if len(remaining) == 0 {
		return nil, fmt.Errorf("no remaining tasks to replan")
	}

	tasks := make([]*task.Task, 0, len(remaining))
	for _, t := range remaining {
		copied := *t
		copied.Status = task.StatusPending
		copied.ActualCost = 0
		copied.FailureReason = ""
		if factor, ok := adjustments[t.Category]; ok && factor > 0 {
			copied.EstimatedCost = t.EstimatedCost * factor
		}
		tasks = append(tasks, &copied)
	}

	alloc, err := budget.NewAllocator(remainingBudget, checkpointFractions, p.quarterBuffer)
	if err != nil {
		return nil, fmt.Errorf("allocating quarters: %w", err)
	}
	if err := applyRestartSplit(alloc, remainingBudget); err != nil {
		return nil, err
	}
	alloc.Distribute(tasks)

	var total float64
	var restartable []int
	for i, t := range tasks {
		total += t.EstimatedCost
		if t.SafeRestartAfter {
			restartable = append(restartable, i)
		}
	}

	return &Plan{
		Tasks:                tasks,
		Allocator:            alloc,
		TotalEstimatedBudget: total,
		RestartableIndices:   restartable,
	}, nil
}

// restartSplit is the fresh budget split applied across the quarters of a
// restart attempt, front-loaded because a restart resumes with context.
var restartSplit = []float64{0.30, 0.30, 0.25, 0.15}

// applyRestartSplit overrides quarter allocations with the restart split.
// When the quarter count differs from the split length, the split is
// truncated or the tail share spread evenly.
func applyRestartSplit(alloc *budget.Allocator, remainingBudget float64) error {
	n := alloc.NumQuarters()
	shares := make([]float64, n)
	var covered float64
	for i := 0; i < n && i < len(restartSplit); i++ {
		shares[i] = restartSplit[i]
		covered += restartSplit[i]
	}
	if n > len(restartSplit) {
		extra := (1 - covered) / float64(n-len(restartSplit))
		for i := len(restartSplit); i < n; i++ {
			shares[i] = extra
		}
	} else if n < len(restartSplit) {
		// Renormalize the truncated shares so they still sum to 1.
		var sum float64
		for _, s := range shares {
			sum += s
		}
		for i := range shares {
			shares[i] /= sum
		}
	}
	for i, s := range shares {
		if err := alloc.SetAllocation(i, remainingBudget*s); err != nil {
			return err
		}
	}
	return nil
}

// applyDependencyRules wires the fixed class-based dependencies:
// analysis-class tasks depend on all prior search/read tasks, modify-class
// on all prior analyze/planning tasks, test-class on all prior modify/write
// tasks.
func applyDependencyRules(tasks []*task.Task) {
	for i, t := range tasks {
		var depsOn map[task.Category]bool
		switch {
		case analysisClass[t.Category]:
			depsOn = analysisDeps
		case modifyClass[t.Category]:
			depsOn = modifyDeps
		case testClass[t.Category]:
			depsOn = testDeps
		default:
			continue
		}
		for j := 0; j < i; j++ {
			if depsOn[tasks[j].Category] {
				t.Dependencies = append(t.Dependencies, tasks[j].ID)
			}
		}
	}
}
