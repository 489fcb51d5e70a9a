package budget

import (
	"fmt"
	"sync"

	"github.com/netra-systems/zen-sub010/internal/task"
)

// QuarterPlan is one budget segment bounded by a checkpoint fraction.
// AssignedBudget tracks the sum of estimated costs of the tasks placed in
// the quarter; it should not exceed AllocatedBudget except transiently
// during rebalancing.
type QuarterPlan struct {
	AllocatedBudget float64
	AssignedBudget  float64
	Tasks           []*task.Task
}

// Remaining returns the unassigned allocation of the quarter.
func (q *QuarterPlan) Remaining() float64 {
	return q.AllocatedBudget - q.AssignedBudget
}

// Allocator splits a total budget into sequential quarters and supports
// redistributing unused allocation between them. It is mutated both by the
// adaptive controller goroutine and checkpoint evaluation, so all state is
// guarded by a mutex.
type Allocator struct {
	mu        sync.Mutex
	quarters  []*QuarterPlan
	fractions []float64
}

// NewAllocator creates one quarter per checkpoint fraction, each allocated
// an equal share of totalBudget plus the buffer fraction.
func NewAllocator(totalBudget float64, checkpointFractions []float64, bufferFraction float64) (*Allocator, error) {
	if len(checkpointFractions) == 0 {
		return nil, fmt.Errorf("at least one checkpoint fraction is required")
	}
	prev := 0.0
	for _, f := range checkpointFractions {
		if f <= 0 || f > 1 {
			return nil, fmt.Errorf("checkpoint fraction %v out of range (0,1]", f)
		}
		if f <= prev {
			return nil, fmt.Errorf("checkpoint fractions must be strictly increasing")
		}
		prev = f
	}

	n := len(checkpointFractions)
	share := totalBudget / float64(n) * (1 + bufferFraction)
	quarters := make([]*QuarterPlan, n)
	for i := range quarters {
		quarters[i] = &QuarterPlan{AllocatedBudget: share}
	}
	return &Allocator{
		quarters:  quarters,
		fractions: append([]float64(nil), checkpointFractions...),
	}, nil
}

// NumQuarters returns the number of quarters.
func (a *Allocator) NumQuarters() int {
	return len(a.quarters)
}

// Fractions returns the checkpoint fractions the allocator was built with.
func (a *Allocator) Fractions() []float64 {
	return append([]float64(nil), a.fractions...)
}

// Quarter returns a copy of the quarter at index i. The task slice is shared
// (tasks themselves are owned by the controller); the budget numbers are a
// snapshot.
func (a *Allocator) Quarter(i int) (QuarterPlan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.quarters) {
		return QuarterPlan{}, fmt.Errorf("quarter index %d out of range [0,%d)", i, len(a.quarters))
	}
	q := a.quarters[i]
	return QuarterPlan{
		AllocatedBudget: q.AllocatedBudget,
		AssignedBudget:  q.AssignedBudget,
		Tasks:           append([]*task.Task(nil), q.Tasks...),
	}, nil
}

// Quarters returns a snapshot of all quarters.
func (a *Allocator) Quarters() []QuarterPlan {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]QuarterPlan, len(a.quarters))
	for i, q := range a.quarters {
		out[i] = QuarterPlan{
			AllocatedBudget: q.AllocatedBudget,
			AssignedBudget:  q.AssignedBudget,
			Tasks:           append([]*task.Task(nil), q.Tasks...),
		}
	}
	return out
}

// SetAllocation overrides the allocated budget of quarter i. Used when a
// restart re-splits the remaining budget across quarters.
func (a *Allocator) SetAllocation(i int, amount float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.quarters) {
		return fmt.Errorf("quarter index %d out of range [0,%d)", i, len(a.quarters))
	}
	a.quarters[i].AllocatedBudget = amount
	return nil
}

// Reallocate redistributes the unassigned allocation of quarters at or after
// fromQuarter across the weighted target quarters: each target's allocation
// becomes its assigned budget plus its weighted share of the pooled
// remainder, so already-assigned work is always preserved.
func (a *Allocator) Reallocate(fromQuarter int, weights map[int]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if fromQuarter < 0 || fromQuarter >= len(a.quarters) {
		return fmt.Errorf("quarter index %d out of range [0,%d)", fromQuarter, len(a.quarters))
	}

	var remaining, weightSum float64
	for i := fromQuarter; i < len(a.quarters); i++ {
		remaining += a.quarters[i].AllocatedBudget - a.quarters[i].AssignedBudget
	}
	for i, w := range weights {
		if i < fromQuarter || i >= len(a.quarters) {
			return fmt.Errorf("reallocation target %d outside [%d,%d)", i, fromQuarter, len(a.quarters))
		}
		if w < 0 {
			return fmt.Errorf("negative weight %v for quarter %d", w, i)
		}
		weightSum += w
	}
	if weightSum <= 0 {
		return fmt.Errorf("reallocation weights sum to zero")
	}
	if remaining < 0 {
		remaining = 0
	}

	for i, w := range weights {
		q := a.quarters[i]
		q.AllocatedBudget = q.AssignedBudget + remaining*(w/weightSum)
	}
	return nil
}

// Distribute places tasks (already in dependency order) into quarters.
// Each task first tries its category's preferred quarter, then the earliest
// quarter with room, then the quarter with the most available room. After
// placement, quarters left over-assigned pull unused allocation from later
// quarters.
func (a *Allocator) Distribute(tasks []*task.Task) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.quarters)
	for _, t := range tasks {
		idx := task.PreferredQuarter(t.Category, n)
		if a.quarters[idx].Remaining() < t.EstimatedCost {
			idx = a.earliestWithRoomLocked(t.EstimatedCost)
		}
		if idx < 0 {
			idx = a.mostRoomLocked()
		}
		q := a.quarters[idx]
		q.Tasks = append(q.Tasks, t)
		q.AssignedBudget += t.EstimatedCost
	}

	a.rebalanceOverflowLocked()
}

// earliestWithRoomLocked returns the first quarter index whose remaining
// allocation covers cost, or -1.
func (a *Allocator) earliestWithRoomLocked(cost float64) int {
	for i, q := range a.quarters {
		if q.Remaining() >= cost {
			return i
		}
	}
	return -1
}

// mostRoomLocked returns the quarter index with the most remaining
// allocation (which may be negative everywhere).
func (a *Allocator) mostRoomLocked() int {
	best := 0
	for i, q := range a.quarters {
		if q.Remaining() > a.quarters[best].Remaining() {
			best = i
		}
	}
	return best
}

// rebalanceOverflowLocked shifts unused allocation from later quarters into
// earlier over-assigned ones so the assigned<=allocated invariant is
// restored where possible.
func (a *Allocator) rebalanceOverflowLocked() {
	for i, q := range a.quarters {
		deficit := q.AssignedBudget - q.AllocatedBudget
		if deficit <= 0 {
			continue
		}
		for j := i + 1; j < len(a.quarters) && deficit > 0; j++ {
			donor := a.quarters[j]
			slack := donor.Remaining()
			if slack <= 0 {
				continue
			}
			moved := slack
			if moved > deficit {
				moved = deficit
			}
			donor.AllocatedBudget -= moved
			q.AllocatedBudget += moved
			deficit -= moved
		}
	}
}

// QuarterOf returns the quarter index containing the task with the given ID,
// or -1 when the task is unassigned.
func (a *Allocator) QuarterOf(taskID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, q := range a.quarters {
		for _, t := range q.Tasks {
			if t.ID == taskID {
				return i
			}
		}
	}
	return -1
}

// TotalAllocated returns the sum of all quarter allocations.
func (a *Allocator) TotalAllocated() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sum float64
	for _, q := range a.quarters {
		sum += q.AllocatedBudget
	}
	return sum
}

// PlanSummary renders a compact ordered description of the quarters for
// logging and dry-run output.
func (a *Allocator) PlanSummary() []string {
	quarters := a.Quarters()
	lines := make([]string, 0, len(quarters))
	for i, q := range quarters {
		ids := make([]string, 0, len(q.Tasks))
		for _, t := range q.Tasks {
			ids = append(ids, t.ID)
		}
		lines = append(lines, fmt.Sprintf("quarter %d (<=%.0f%%): allocated=%.0f assigned=%.0f tasks=%v",
			i+1, a.fractions[i]*100, q.AllocatedBudget, q.AssignedBudget, ids))
	}
	return lines
}
