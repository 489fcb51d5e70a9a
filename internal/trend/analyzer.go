// Package trend scores actual-vs-planned consumption at checkpoints and
// recommends how to spread the remaining budget over the remaining quarters.
package trend

import (
	"math"

	"github.com/netra-systems/zen-sub010/internal/task"
)

// Accuracy clamp bounds: a wildly over- or under-estimating attempt should
// not swing adjusted estimates by more than these factors.
const (
	MinEstimationAccuracy = 0.1
	MaxEstimationAccuracy = 3.0
)

// maxVelocityBonus caps how much raw throughput can raise the completion
// probability.
const maxVelocityBonus = 0.2

// Input carries everything a checkpoint evaluation needs.
type Input struct {
	CheckpointIndex    int
	PlannedBudgetSoFar float64
	ActualUsage        float64
	RemainingBudget    float64
	Completed          []*task.Task
	Remaining          []*task.Task

	// RemainingByQuarter groups the remaining tasks by their quarter index,
	// used to compute the proportional reallocation.
	RemainingByQuarter map[int][]*task.Task
}

// Analysis is the outcome of one checkpoint evaluation.
type Analysis struct {
	// Velocity is the mean actual cost per completed task.
	Velocity float64

	// EstimationAccuracy is mean(estimated/actual) over completed tasks,
	// clamped to [MinEstimationAccuracy, MaxEstimationAccuracy]. Values
	// below 1 mean the plan underestimated.
	EstimationAccuracy float64

	// CompletionProbability estimates the chance the remaining work fits
	// in the remaining budget.
	CompletionProbability float64

	// AdjustedRemainingEstimate is the accuracy-scaled estimate of the
	// remaining work.
	AdjustedRemainingEstimate float64

	// Reallocation maps remaining quarter index to its recommended budget,
	// proportional to that quarter's share of the adjusted estimates.
	Reallocation map[int]float64
}

// Analyzer computes trend analyses. The zero value is usable.
type Analyzer struct{}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze scores the consumption trend at a checkpoint.
func (a *Analyzer) Analyze(in Input) Analysis {
	accuracy := estimationAccuracy(in.Completed)
	velocity := consumptionVelocity(in.Completed)

	var adjustedTotal float64
	for _, t := range in.Remaining {
		adjustedTotal += t.EstimatedCost / accuracy
	}

	probability := 1.0
	if adjustedTotal > 0 {
		budgetRatio := in.RemainingBudget / adjustedTotal
		bonus := velocity / 1000
		if bonus > maxVelocityBonus {
			bonus = maxVelocityBonus
		}
		probability = sigmoid(budgetRatio - 1 + bonus)
	}

	realloc := make(map[int]float64, len(in.RemainingByQuarter))
	if adjustedTotal > 0 {
		for quarter, tasks := range in.RemainingByQuarter {
			var share float64
			for _, t := range tasks {
				share += t.EstimatedCost / accuracy
			}
			realloc[quarter] = in.RemainingBudget * (share / adjustedTotal)
		}
	}

	return Analysis{
		Velocity:                  velocity,
		EstimationAccuracy:        accuracy,
		CompletionProbability:     probability,
		AdjustedRemainingEstimate: adjustedTotal,
		Reallocation:              realloc,
	}
}

// estimationAccuracy returns mean(estimated/actual) over completed tasks
// with nonzero actuals, clamped; 1.0 with no data.
func estimationAccuracy(completed []*task.Task) float64 {
	var sum float64
	var count int
	for _, t := range completed {
		if t.ActualCost > 0 {
			sum += t.EstimatedCost / t.ActualCost
			count++
		}
	}
	if count == 0 {
		return 1.0
	}
	accuracy := sum / float64(count)
	if accuracy < MinEstimationAccuracy {
		return MinEstimationAccuracy
	}
	if accuracy > MaxEstimationAccuracy {
		return MaxEstimationAccuracy
	}
	return accuracy
}

// consumptionVelocity returns total actual cost divided by the number of
// completed tasks, 0 with no data.
func consumptionVelocity(completed []*task.Task) float64 {
	if len(completed) == 0 {
		return 0
	}
	var total float64
	for _, t := range completed {
		total += t.ActualCost
	}
	return total / float64(len(completed))
}

// sigmoid maps the budget slack onto (0,1) with a steepness of 2: a ratio
// exactly matching the adjusted estimates scores 0.5.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-2*x))
}
