// Package task defines the task data model shared by the planner, the
// adaptive controller, and the restart planner. A task is the unit of work
// a worker instance executes; its identity is immutable once created, while
// ActualCost and Status are updated as execution progresses.
package task

import "fmt"

// Category classifies what kind of work a task performs. The category drives
// cost estimation, quarter placement, and restart safety.
type Category string

const (
	CategorySearch      Category = "search"
	CategoryRead        Category = "read"
	CategoryAnalyze     Category = "analyze"
	CategoryResearch    Category = "research"
	CategoryPlanning    Category = "planning"
	CategoryValidation  Category = "validation"
	CategoryPreparation Category = "preparation"
	CategoryWrite       Category = "write"
	CategoryModify      Category = "modify"
	CategoryDeploy      Category = "deploy"
	CategoryDelete      Category = "delete"
	CategoryTest        Category = "test"
	CategorySetup       Category = "setup"
	CategorySpawn       Category = "spawn"
	CategoryMonitor     Category = "monitor"
	CategoryMerge       Category = "merge"
)

// Categories returns all valid categories in declaration order.
func Categories() []Category {
	return []Category{
		CategorySearch, CategoryRead, CategoryAnalyze, CategoryResearch,
		CategoryPlanning, CategoryValidation, CategoryPreparation,
		CategoryWrite, CategoryModify, CategoryDeploy, CategoryDelete,
		CategoryTest, CategorySetup, CategorySpawn, CategoryMonitor,
		CategoryMerge,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Status is the execution status of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is a single planned unit of work.
type Task struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Category      Category `json:"category"`
	EstimatedCost float64  `json:"estimated_cost"`
	ActualCost    float64  `json:"actual_cost"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	Status        Status   `json:"status"`

	// SafeRestartAfter marks tasks that leave no partial side effects,
	// so execution may resume from just after them.
	SafeRestartAfter bool `json:"safe_restart_after"`

	// FailureReason holds a human-readable reason when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Destructive reports whether the task's category can leave partial side
// effects if interrupted (the complement of the safe-restart set).
func (t *Task) Destructive() bool {
	return !safeAfter[t.Category]
}

// HasTool reports whether the task's tool set contains name.
func (t *Task) HasTool(name string) bool {
	for _, tool := range t.Tools {
		if tool == name {
			return true
		}
	}
	return false
}

// safeAfter is the set of categories after which a restart is safe.
var safeAfter = map[Category]bool{
	CategorySearch:      true,
	CategoryRead:        true,
	CategoryAnalyze:     true,
	CategoryResearch:    true,
	CategoryPlanning:    true,
	CategoryValidation:  true,
	CategoryPreparation: true,
	CategoryTest:        true,
}

// SafeRestartAfterCategory reports whether a restart is safe after a task of
// the given category completes.
func SafeRestartAfterCategory(c Category) bool {
	return safeAfter[c]
}

// BaseCost returns the base cost estimate (in budget units) for a category.
var baseCosts = map[Category]float64{
	CategorySearch:      100,
	CategoryRead:        200,
	CategoryAnalyze:     300,
	CategoryResearch:    250,
	CategoryPlanning:    200,
	CategoryValidation:  150,
	CategoryPreparation: 100,
	CategoryWrite:       300,
	CategoryModify:      250,
	CategoryDeploy:      200,
	CategoryDelete:      50,
	CategoryTest:        150,
	CategorySetup:       100,
	CategorySpawn:       400,
	CategoryMonitor:     100,
	CategoryMerge:       150,
}

// BaseCost returns the base cost estimate for a category. Unknown categories
// return the read cost as a conservative middle value.
func BaseCost(c Category) float64 {
	if cost, ok := baseCosts[c]; ok {
		return cost
	}
	return baseCosts[CategoryRead]
}

// toolMultipliers scales cost estimates for tools known to be expensive.
// The agent-delegation tool spawns a nested worker, hence the largest factor.
var toolMultipliers = map[string]float64{
	"Task":      1.5,
	"WebSearch": 1.3,
	"WebFetch":  1.3,
	"Bash":      1.2,
}

// ToolMultiplier returns the largest multiplier among the given tools,
// defaulting to 1.0 when no tool has a configured multiplier.
func ToolMultiplier(tools []string) float64 {
	mult := 1.0
	for _, tool := range tools {
		if m, ok := toolMultipliers[tool]; ok && m > mult {
			mult = m
		}
	}
	return mult
}

// PreferredQuarter returns the quarter index a category prefers, given the
// number of quarters: discovery work goes first, analysis second, mutation
// second-to-last, everything else last.
func PreferredQuarter(c Category, numQuarters int) int {
	if numQuarters <= 0 {
		return 0
	}
	last := numQuarters - 1
	switch c {
	case CategoryRead, CategorySearch, CategoryResearch:
		return 0
	case CategoryAnalyze, CategoryPlanning:
		if numQuarters > 1 {
			return 1
		}
		return 0
	case CategoryWrite, CategoryModify, CategoryDeploy:
		if numQuarters > 1 {
			return last - 1
		}
		return 0
	default:
		return last
	}
}

func init() {
	// The category tables are data, not code paths; verify at startup that
	// every category has an entry so a new category cannot be added without
	// updating them.
	for _, c := range Categories() {
		if _, ok := baseCosts[c]; !ok {
			panic(fmt.Sprintf("task: category %q missing from baseCosts", c))
		}
	}
}
