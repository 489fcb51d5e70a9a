package budget

import (
	"math"
	"testing"

	"github.com/netra-systems/zen-sub010/internal/task"
)

func defaultFractions() []float64 {
	return []float64{0.25, 0.5, 0.75, 1.0}
}

func TestNewAllocator(t *testing.T) {
	tests := []struct {
		name      string
		fractions []float64
		wantErr   bool
	}{
		{"standard quarters", defaultFractions(), false},
		{"single checkpoint", []float64{1.0}, false},
		{"empty fractions", nil, true},
		{"fraction above one", []float64{0.5, 1.5}, true},
		{"zero fraction", []float64{0, 0.5}, true},
		{"non-increasing", []float64{0.5, 0.5}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewAllocator(1000, tc.fractions, 0.05)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewAllocator() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if a.NumQuarters() != len(tc.fractions) {
				t.Errorf("NumQuarters() = %d, want %d", a.NumQuarters(), len(tc.fractions))
			}
		})
	}
}

func TestAllocatorShares(t *testing.T) {
	a, err := NewAllocator(1000, defaultFractions(), 0.05)
	if err != nil {
		t.Fatal(err)
	}

	// Each quarter gets an equal share of the total plus the buffer.
	wantShare := 1000.0 / 4 * 1.05
	for i := 0; i < a.NumQuarters(); i++ {
		q, err := a.Quarter(i)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(q.AllocatedBudget-wantShare) > 1e-9 {
			t.Errorf("quarter %d allocated = %v, want %v", i, q.AllocatedBudget, wantShare)
		}
	}

	if _, err := a.Quarter(4); err == nil {
		t.Error("expected error for out of range quarter index")
	}
	if _, err := a.Quarter(-1); err == nil {
		t.Error("expected error for negative quarter index")
	}
}

func TestDistribute(t *testing.T) {
	a, err := NewAllocator(2000, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}

	tasks := []*task.Task{
		{ID: "t1", Category: task.CategorySearch, EstimatedCost: 100},
		{ID: "t2", Category: task.CategoryAnalyze, EstimatedCost: 300},
		{ID: "t3", Category: task.CategoryWrite, EstimatedCost: 300},
		{ID: "t4", Category: task.CategoryTest, EstimatedCost: 150},
	}
	a.Distribute(tasks)

	// Discovery goes first, analysis second, mutation second-to-last,
	// everything else last.
	wantQuarter := map[string]int{"t1": 0, "t2": 1, "t3": 2, "t4": 3}
	for id, want := range wantQuarter {
		if got := a.QuarterOf(id); got != want {
			t.Errorf("QuarterOf(%s) = %d, want %d", id, got, want)
		}
	}

	if got := a.QuarterOf("missing"); got != -1 {
		t.Errorf("QuarterOf(missing) = %d, want -1", got)
	}
}

func TestDistributeOverflowSpills(t *testing.T) {
	// Quarter share is 100; the second search task cannot fit the preferred
	// first quarter and must spill to the earliest quarter with room.
	a, err := NewAllocator(400, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}

	tasks := []*task.Task{
		{ID: "t1", Category: task.CategorySearch, EstimatedCost: 90},
		{ID: "t2", Category: task.CategorySearch, EstimatedCost: 90},
	}
	a.Distribute(tasks)

	if got := a.QuarterOf("t1"); got != 0 {
		t.Errorf("QuarterOf(t1) = %d, want 0", got)
	}
	if got := a.QuarterOf("t2"); got != 1 {
		t.Errorf("QuarterOf(t2) = %d, want spill to 1", got)
	}
}

func TestDistributeRebalancesOverAssignment(t *testing.T) {
	// One task larger than any quarter share forces over-assignment; the
	// rebalance pass must pull allocation from later quarters to cover it.
	a, err := NewAllocator(400, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}

	a.Distribute([]*task.Task{
		{ID: "big", Category: task.CategorySearch, EstimatedCost: 250},
	})

	idx := a.QuarterOf("big")
	q, err := a.Quarter(idx)
	if err != nil {
		t.Fatal(err)
	}
	if q.AssignedBudget > q.AllocatedBudget {
		t.Errorf("quarter %d still over-assigned: assigned=%v allocated=%v",
			idx, q.AssignedBudget, q.AllocatedBudget)
	}
	// Total allocation is conserved by rebalancing.
	if got := a.TotalAllocated(); math.Abs(got-400) > 1e-9 {
		t.Errorf("TotalAllocated() = %v, want 400", got)
	}
}

func TestReallocate(t *testing.T) {
	a, err := NewAllocator(1000, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}
	// Assign 100 into quarter 2 so reallocation must preserve it.
	a.Distribute([]*task.Task{
		{ID: "w", Category: task.CategoryWrite, EstimatedCost: 100},
	})

	if err := a.Reallocate(2, map[int]float64{2: 1, 3: 3}); err != nil {
		t.Fatalf("Reallocate: %v", err)
	}

	q2, _ := a.Quarter(2)
	q3, _ := a.Quarter(3)
	// Pool was (250-100)+250 = 400, split 1:3.
	if math.Abs(q2.AllocatedBudget-(100+100)) > 1e-9 {
		t.Errorf("quarter 2 allocated = %v, want 200", q2.AllocatedBudget)
	}
	if math.Abs(q3.AllocatedBudget-300) > 1e-9 {
		t.Errorf("quarter 3 allocated = %v, want 300", q3.AllocatedBudget)
	}
}

func TestReallocateErrors(t *testing.T) {
	a, err := NewAllocator(1000, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Reallocate(5, map[int]float64{3: 1}); err == nil {
		t.Error("expected error for out of range fromQuarter")
	}
	if err := a.Reallocate(2, map[int]float64{0: 1}); err == nil {
		t.Error("expected error for target before fromQuarter")
	}
	if err := a.Reallocate(2, map[int]float64{3: -1}); err == nil {
		t.Error("expected error for negative weight")
	}
	if err := a.Reallocate(2, map[int]float64{}); err == nil {
		t.Error("expected error for zero weight sum")
	}
}

func TestSetAllocation(t *testing.T) {
	a, err := NewAllocator(1000, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetAllocation(1, 500); err != nil {
		t.Fatalf("SetAllocation: %v", err)
	}
	q, _ := a.Quarter(1)
	if q.AllocatedBudget != 500 {
		t.Errorf("quarter 1 allocated = %v, want 500", q.AllocatedBudget)
	}
	if err := a.SetAllocation(9, 500); err == nil {
		t.Error("expected error for out of range index")
	}
}

func TestPlanSummary(t *testing.T) {
	a, err := NewAllocator(1000, defaultFractions(), 0)
	if err != nil {
		t.Fatal(err)
	}
	a.Distribute([]*task.Task{
		{ID: "t1", Category: task.CategorySearch, EstimatedCost: 100},
	})

	lines := a.PlanSummary()
	if len(lines) != 4 {
		t.Fatalf("PlanSummary() returned %d lines, want 4", len(lines))
	}
}
