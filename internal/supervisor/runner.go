package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/events"
	"github.com/netra-systems/zen-sub010/internal/task"
)

// TaskRunner adapts the supervisor to adaptive execution: each task runs as
// a single worker instance, and the instance's metered tokens become the
// task's actual cost. All instances share one ledger, so the adaptive
// controller and the enforcement path see the same aggregate.
type TaskRunner struct {
	cfg    Config
	ledger budget.Ledger
	logger *log.Logger
	sink   events.Sink
}

// NewTaskRunner creates the adapter. The per-task supervisors run silent;
// the adaptive controller owns progress reporting.
func NewTaskRunner(cfg Config, ledger budget.Ledger, logger *log.Logger, sink events.Sink) *TaskRunner {
	cfg.Silent = true
	return &TaskRunner{cfg: cfg, ledger: ledger, logger: logger, sink: sink}
}

// RunTask launches one worker for the task and blocks until it resolves.
func (r *TaskRunner) RunTask(ctx context.Context, t *task.Task) (float64, map[string]string, error) {
	sup := New(r.cfg, r.ledger, r.logger, r.sink)
	sup.Add(&Instance{
		ID:            t.ID,
		Name:          t.ID,
		Command:       string(t.Category),
		Prompt:        t.Description,
		EstimatedCost: t.EstimatedCost,
	})

	summary, err := sup.LaunchAll(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("launch %s: %w", t.ID, err)
	}

	res := summary.Instances[0]
	actual := float64(res.Tokens.Total)
	if res.Status == StatusFailed {
		return actual, nil, errors.New(res.Error)
	}
	return actual, nil, nil
}
