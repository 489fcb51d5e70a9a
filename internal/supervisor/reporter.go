package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/netra-systems/zen-sub010/internal/budget"
)

// reporter periodically logs aggregate run status. It runs on its own
// goroutine until cancelled and always emits one final report on the way
// out, so the last log line reflects the terminal state of the run.
type reporter struct {
	ledger    budget.Ledger
	instances []*Instance
	logger    *log.Logger
	interval  time.Duration
}

func (r *reporter) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report("status")
		case <-ctx.Done():
			r.report("final")
			return
		}
	}
}

// report logs one aggregate line. Instance counters are read through their
// locks; the total comes from the ledger, which is the authoritative
// cross-instance aggregate.
func (r *reporter) report(tag string) {
	var pending, running, completed, failed int
	var toolCalls int
	for _, inst := range r.instances {
		status, _, tools, _, _, _, _ := inst.snapshot()
		toolCalls += tools
		switch status {
		case StatusPending:
			pending++
		case StatusRunning:
			running++
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}

	r.logger.Printf("[%s] instances pending=%d running=%d completed=%d failed=%d tokens=%.0f tool_calls=%d",
		tag, pending, running, completed, failed, r.ledger.TotalUsed(), toolCalls)
}
