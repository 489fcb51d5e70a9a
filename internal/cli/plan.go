package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netra-systems/zen-sub010/internal/config"
	"github.com/netra-systems/zen-sub010/internal/plan"
	"github.com/netra-systems/zen-sub010/internal/restart"
)

var planCmd = &cobra.Command{
	Use:   "plan <unit of work>",
	Short: "Show the task plan and restart points for a unit of work",
	Long: `Plan decomposes the unit of work into categorized tasks, assigns them
to budget quarters, and prints the precomputed restart points, without
launching any workers.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().Float64("budget", 0, "overall token budget")
	planCmd.Flags().String("work-kind", "default", "work kind (feature, bugfix, refactor, investigation, default)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	totalBudget, _ := cmd.Flags().GetFloat64("budget")
	if totalBudget <= 0 {
		totalBudget = cfg.Budget.OverallBudget
	}
	if totalBudget <= 0 {
		return fmt.Errorf("planning requires a positive budget (--budget or overall_budget)")
	}
	workKind, _ := cmd.Flags().GetString("work-kind")

	planner := plan.NewPlanner(
		plan.WithEstimationBuffer(cfg.Adaptive.EstimationBufferFraction),
		plan.WithQuarterBuffer(cfg.Adaptive.QuarterBufferFraction),
	)
	p, err := planner.Decompose(args[0], plan.WorkKind(workKind), totalBudget, cfg.Adaptive.CheckpointFractions)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "plan for %q (%s): %d tasks, estimated %.0f of %.0f tokens\n\n",
		args[0], workKind, len(p.Tasks), p.TotalEstimatedBudget, totalBudget)

	for _, t := range p.Tasks {
		quarter := p.Allocator.QuarterOf(t.ID)
		fmt.Fprintf(out, "  %-10s %-12s est=%-8.0f quarter=%d deps=%v\n",
			t.ID, t.Category, t.EstimatedCost, quarter, t.Dependencies)
	}

	restartPlanner := restart.NewPlanner()
	rp, err := restartPlanner.Precompute(p.Tasks)
	if err != nil {
		return fmt.Errorf("restart planning: %w", err)
	}

	fmt.Fprintf(out, "\nrestart points: %d planned, %d guaranteed, %d fallback\n",
		len(rp.Planned), len(rp.Guaranteed), len(rp.Fallback))
	for _, pt := range rp.Planned {
		fmt.Fprintf(out, "  after index %d: %s (priority %d) %s\n",
			pt.TaskIndex, pt.Trigger, pt.Priority, pt.Reason)
	}

	return nil
}
