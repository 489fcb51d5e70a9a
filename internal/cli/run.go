package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/cloud/gcp"
	"github.com/netra-systems/zen-sub010/internal/config"
	"github.com/netra-systems/zen-sub010/internal/events"
	"github.com/netra-systems/zen-sub010/internal/github"
	"github.com/netra-systems/zen-sub010/internal/observability"
	"github.com/netra-systems/zen-sub010/internal/plan"
	"github.com/netra-systems/zen-sub010/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch worker instances under a shared token budget",
	Long: `Run launches one worker per --command flag (or per manifest entry),
staggers their starts, meters token consumption against the configured
budget, and prints a per-instance summary.

With --adaptive, the single unit of work given as the positional argument
is decomposed into a task plan, executed with checkpoint evaluation, and
restarted from a safe point when the budget trend demands it.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSlice("command", nil, "worker command/prompt (repeatable)")
	runCmd.Flags().String("manifest", "", "YAML manifest of instances")
	runCmd.Flags().Float64("budget", 0, "overall token budget (0 = unlimited)")
	runCmd.Flags().String("enforcement", "", "enforcement mode: warn or block")
	runCmd.Flags().Bool("adaptive", false, "adaptive budget-governed execution of one unit of work")
	runCmd.Flags().String("work-kind", "default", "adaptive work kind (feature, bugfix, refactor, investigation, default)")
	runCmd.Flags().Bool("json", false, "print the summary as JSON")
	runCmd.Flags().Bool("silent", false, "suppress periodic status reports")
	runCmd.Flags().Bool("dry-run", false, "show the launch plan without starting workers")

	_ = viper.BindPFlag("budget.overall_budget", runCmd.Flags().Lookup("budget"))
	_ = viper.BindPFlag("budget.enforcement_mode", runCmd.Flags().Lookup("enforcement"))
	_ = viper.BindPFlag("adaptive.enabled", runCmd.Flags().Lookup("adaptive"))
	_ = viper.BindPFlag("supervisor.silent", runCmd.Flags().Lookup("silent"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mode, err := budget.ParseEnforcementMode(cfg.Budget.EnforcementMode)
	if err != nil {
		return err
	}

	sessionID := "zen-" + uuid.New().String()[:8]
	logger := log.New(os.Stderr, "[zen] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if ok {
			logger.Printf("received signal %v, shutting down", sig)
			cancel()
		}
	}()

	cloudLogger := gcp.NewLogger(ctx, cfg.Cloud.Project, cfg.Cloud.LogName, cfg.Cloud.CredentialsFile, sessionID)
	defer func() { _ = cloudLogger.Close() }()
	cloudLogger.Infof("session %s starting", sessionID)

	var sink events.Sink = events.NopSink{}
	if cfg.Events.LogDir != "" {
		fileSink, err := events.NewSessionFileSink(cfg.Events.LogDir, sessionID)
		if err != nil {
			return err
		}
		defer func() { _ = fileSink.Close() }()
		sink = fileSink
	}

	supCfg := supervisor.Config{
		WorkerBinary:    cfg.Supervisor.WorkerBinary,
		BaseArgs:        cfg.Supervisor.WorkerArgs,
		StartupDelay:    cfg.Supervisor.StartupDelayDuration(),
		InstanceTimeout: cfg.Supervisor.InstanceTimeoutDuration(),
		StatusInterval:  cfg.Supervisor.StatusReportIntervalDuration(),
		Silent:          cfg.Supervisor.Silent,
		DefaultEstimate: cfg.Supervisor.DefaultEstimate,
	}

	if cfg.Adaptive.Enabled {
		if len(args) != 1 {
			return fmt.Errorf("adaptive mode takes exactly one unit of work as argument")
		}
		ledger := budget.NewTokenLedger(mode, cfg.Budget.OverallBudget, cfg.Budget.CommandBudgets)
		workKind, _ := cmd.Flags().GetString("work-kind")
		return runAdaptive(ctx, cmd, cfg, supCfg, ledger, sink, logger, cloudLogger, sessionID, args[0], plan.WorkKind(workKind))
	}

	instances, overrides, err := collectInstances(cmd)
	if err != nil {
		return err
	}

	// Manifest budgets take precedence over configured per-command budgets.
	commandBudgets := cfg.Budget.CommandBudgets
	if len(overrides) > 0 {
		merged := make(map[string]float64, len(commandBudgets)+len(overrides))
		for k, v := range commandBudgets {
			merged[k] = v
		}
		for k, v := range overrides {
			merged[k] = v
		}
		commandBudgets = merged
	}
	ledger := budget.NewTokenLedger(mode, cfg.Budget.OverallBudget, commandBudgets)

	if err := attachGitHubEnv(ctx, cfg, instances, logger); err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		return printLaunchPlan(cmd, instances, ledger, supCfg)
	}

	sup := supervisor.New(supCfg, ledger, logger, sink)
	sup.SetSessionID(sessionID)
	for _, inst := range instances {
		sup.Add(inst)
	}

	summary, err := sup.LaunchAll(ctx)
	if err != nil {
		return err
	}
	cloudLogger.Infof("session %s finished: %d completed, %d failed, %.0f tokens",
		sessionID, summary.Completed, summary.Failed, ledger.TotalUsed())

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := summary.WriteJSON(cmd.OutOrStdout()); err != nil {
			return err
		}
	} else if err := summary.WriteTable(cmd.OutOrStdout()); err != nil {
		return err
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d instances failed", summary.Failed, len(summary.Instances))
	}
	return nil
}

// collectInstances builds the instance list from --manifest or --command.
// The second return value carries per-command budget overrides declared in
// the manifest.
func collectInstances(cmd *cobra.Command) ([]*supervisor.Instance, map[string]float64, error) {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	commands, _ := cmd.Flags().GetStringSlice("command")

	if manifestPath != "" && len(commands) > 0 {
		return nil, nil, fmt.Errorf("--manifest and --command are mutually exclusive")
	}

	if manifestPath != "" {
		m, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, nil, err
		}
		var out []*supervisor.Instance
		overrides := map[string]float64{}
		for i, mi := range m.Instances {
			name := mi.Name
			if name == "" {
				name = "instance-" + strconv.Itoa(i+1)
			}
			out = append(out, &supervisor.Instance{
				ID:            name,
				Name:          name,
				Command:       mi.Command,
				Prompt:        mi.Command,
				Args:          mi.Args,
				Env:           mi.Env,
				EstimatedCost: mi.EstimatedCost,
			})
			if mi.Budget > 0 {
				overrides[mi.Command] = mi.Budget
			}
		}
		return out, overrides, nil
	}

	if len(commands) == 0 {
		return nil, nil, fmt.Errorf("no instances: pass --command or --manifest")
	}
	var out []*supervisor.Instance
	for i, c := range commands {
		name := "instance-" + strconv.Itoa(i+1)
		out = append(out, &supervisor.Instance{
			ID:      name,
			Name:    name,
			Command: c,
			Prompt:  c,
		})
	}
	return out, nil, nil
}

// attachGitHubEnv mints one installation token and injects it into every
// worker environment. Skipped silently when GitHub App auth is not
// configured.
func attachGitHubEnv(ctx context.Context, cfg *config.Config, instances []*supervisor.Instance, logger *log.Logger) error {
	if cfg.ValidateForGitHub() != nil {
		return nil
	}

	secrets, err := gcp.NewSecretManagerClient(ctx)
	if err != nil {
		return fmt.Errorf("secret manager: %w", err)
	}
	defer func() { _ = secrets.Close() }()

	privateKey, err := secrets.FetchSecret(ctx, cfg.GitHub.PrivateKeySecret)
	if err != nil {
		return fmt.Errorf("fetch GitHub App private key: %w", err)
	}

	tm, err := github.NewTokenManager(
		strconv.FormatInt(cfg.GitHub.AppID, 10),
		cfg.GitHub.InstallationID,
		[]byte(privateKey),
	)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	token, err := tm.Token()
	if err != nil {
		return fmt.Errorf("mint installation token: %w", err)
	}

	logger.Printf("injected GitHub installation token into %d instances (expires %s)",
		len(instances), tm.ExpiresAt().Format("15:04:05"))
	for _, inst := range instances {
		inst.Env = append(inst.Env, "GITHUB_TOKEN="+token)
	}
	return nil
}

// printLaunchPlan previews admission decisions without starting anything.
func printLaunchPlan(cmd *cobra.Command, instances []*supervisor.Instance, ledger budget.Ledger, supCfg supervisor.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dry run: %d instance(s), enforcement=%s\n", len(instances), ledger.Mode())
	for _, inst := range instances {
		estimate := inst.EstimatedCost
		if estimate <= 0 {
			estimate = supCfg.DefaultEstimate
		}
		allowed, reason := ledger.Admit(inst.Command, estimate)
		verdict := "would launch"
		if !allowed {
			if ledger.Mode() == budget.ModeBlock {
				verdict = "would be denied"
			} else {
				verdict = "would warn"
			}
		}
		fmt.Fprintf(out, "  %s: estimate=%.0f %s", inst.Name, estimate, verdict)
		if reason != "" {
			fmt.Fprintf(out, " (%s)", reason)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// runAdaptive drives one unit of work through the adaptive controller.
func runAdaptive(ctx context.Context, cmd *cobra.Command, cfg *config.Config, supCfg supervisor.Config,
	ledger budget.Ledger, sink events.Sink, logger *log.Logger, cloudLogger gcp.LoggerInterface,
	sessionID, unitOfWork string, kind plan.WorkKind) error {

	if cfg.Budget.OverallBudget <= 0 {
		return fmt.Errorf("adaptive mode requires a positive overall budget")
	}

	var tracer observability.Tracer = &observability.NoOpTracer{}
	if cfg.Observability.LangfuseEnabled {
		lf := observability.NewLangfuseTracer(observability.LangfuseConfig{
			PublicKey: cfg.Observability.LangfusePublicKey,
			SecretKey: cfg.Observability.LangfuseSecretKey,
			BaseURL:   cfg.Observability.LangfuseHost,
		}, logger)
		defer func() { _ = lf.Stop(context.Background()) }()
		tracer = lf
	}

	runner := supervisor.NewTaskRunner(supCfg, ledger, logger, sink)
	result, err := newAdaptiveController(cfg, ledger, runner, sink, logger, tracer, kind).Run(ctx, sessionID, unitOfWork)
	if err != nil {
		return err
	}

	cloudLogger.Infof("adaptive run %s: state=%s attempts=%d restarts=%d tokens=%.0f",
		sessionID, result.FinalState, result.Attempts, result.Restarts, result.TotalUsage)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state:      %s\n", result.FinalState)
	fmt.Fprintf(out, "attempts:   %d (restarts: %d)\n", result.Attempts, result.Restarts)
	fmt.Fprintf(out, "tasks:      %d completed, %d failed\n", result.CompletedTasks, result.FailedTasks)
	fmt.Fprintf(out, "usage:      %.0f of %.0f tokens\n", result.TotalUsage, cfg.Budget.OverallBudget)
	return nil
}
