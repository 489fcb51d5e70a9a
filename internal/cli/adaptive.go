package cli

import (
	"log"

	"github.com/netra-systems/zen-sub010/internal/adaptive"
	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/config"
	"github.com/netra-systems/zen-sub010/internal/events"
	"github.com/netra-systems/zen-sub010/internal/observability"
	"github.com/netra-systems/zen-sub010/internal/plan"
)

// newAdaptiveController maps the configuration surface onto the adaptive
// controller's policy knobs.
func newAdaptiveController(cfg *config.Config, ledger budget.Ledger, runner adaptive.Runner,
	sink events.Sink, logger *log.Logger, tracer observability.Tracer, kind plan.WorkKind) *adaptive.Controller {

	return adaptive.NewController(adaptive.Config{
		TotalBudget:              cfg.Budget.OverallBudget,
		CheckpointFractions:      cfg.Adaptive.CheckpointFractions,
		RestartThreshold:         cfg.Adaptive.RestartThreshold,
		MinCompletionProbability: cfg.Adaptive.MinCompletionProbability,
		MaxRestarts:              cfg.Adaptive.MaxRestarts,
		QuarterBufferFraction:    cfg.Adaptive.QuarterBufferFraction,
		EstimationBufferFraction: cfg.Adaptive.EstimationBufferFraction,
		WorkKind:                 kind,
		FallbackOnError:          cfg.Adaptive.FallbackOnError,
	}, ledger, runner, sink, logger, tracer)
}
