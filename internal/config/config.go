package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full zen configuration.
type Config struct {
	Budget        BudgetConfig        `mapstructure:"budget"`
	Adaptive      AdaptiveConfig      `mapstructure:"adaptive"`
	Supervisor    SupervisorConfig    `mapstructure:"supervisor"`
	GitHub        GitHubConfig        `mapstructure:"github"`
	Cloud         CloudConfig         `mapstructure:"cloud"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Events        EventsConfig        `mapstructure:"events"`
}

// BudgetConfig contains the token budget and enforcement settings.
type BudgetConfig struct {
	// OverallBudget is the total token budget across all commands.
	// 0 means unlimited.
	OverallBudget float64 `mapstructure:"overall_budget"`

	// EnforcementMode is "warn" or "block".
	EnforcementMode string `mapstructure:"enforcement_mode"`

	// CommandBudgets are per-command token limits.
	CommandBudgets map[string]float64 `mapstructure:"command_budgets"`
}

// AdaptiveConfig contains the adaptive execution policy.
type AdaptiveConfig struct {
	Enabled                  bool      `mapstructure:"enabled"`
	CheckpointFractions      []float64 `mapstructure:"checkpoint_fractions"`
	RestartThreshold         float64   `mapstructure:"restart_threshold"`
	MinCompletionProbability float64   `mapstructure:"min_completion_probability"`
	MaxRestarts              int       `mapstructure:"max_restarts"`
	QuarterBufferFraction    float64   `mapstructure:"quarter_buffer_fraction"`
	EstimationBufferFraction float64   `mapstructure:"estimation_buffer_fraction"`

	// FallbackOnError runs the non-adaptive path on unexpected adaptive
	// execution errors instead of failing the run.
	FallbackOnError bool `mapstructure:"fallback_on_error"`
}

// SupervisorConfig contains worker launch and supervision settings.
type SupervisorConfig struct {
	WorkerBinary         string   `mapstructure:"worker_binary"`
	WorkerArgs           []string `mapstructure:"worker_args"`
	StartupDelay         string   `mapstructure:"startup_delay"`
	InstanceTimeout      string   `mapstructure:"instance_timeout"`
	StatusReportInterval string   `mapstructure:"status_report_interval"`
	Silent               bool     `mapstructure:"silent"`
	DefaultEstimate      float64  `mapstructure:"default_estimate"`
}

// GitHubConfig contains GitHub App authentication settings used to mint
// installation tokens for worker environments.
type GitHubConfig struct {
	AppID            int64  `mapstructure:"app_id"`
	InstallationID   int64  `mapstructure:"installation_id"`
	PrivateKeySecret string `mapstructure:"private_key_secret"`
}

// CloudConfig contains GCP settings for Secret Manager and Cloud Logging.
type CloudConfig struct {
	Project         string `mapstructure:"project"`
	LogName         string `mapstructure:"log_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ObservabilityConfig contains Langfuse tracing settings.
type ObservabilityConfig struct {
	LangfuseEnabled   bool   `mapstructure:"langfuse_enabled"`
	LangfuseHost      string `mapstructure:"langfuse_host"`
	LangfusePublicKey string `mapstructure:"langfuse_public_key"`
	LangfuseSecretKey string `mapstructure:"langfuse_secret_key"`
}

// EventsConfig contains the JSONL event sink settings.
type EventsConfig struct {
	LogDir string `mapstructure:"log_dir"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Budget.EnforcementMode == "" {
		cfg.Budget.EnforcementMode = "warn"
	}

	if len(cfg.Adaptive.CheckpointFractions) == 0 {
		cfg.Adaptive.CheckpointFractions = []float64{0.25, 0.5, 0.75, 1.0}
	}
	if cfg.Adaptive.RestartThreshold == 0 {
		cfg.Adaptive.RestartThreshold = 0.9
	}
	if cfg.Adaptive.MinCompletionProbability == 0 {
		cfg.Adaptive.MinCompletionProbability = 0.5
	}
	if cfg.Adaptive.MaxRestarts == 0 {
		cfg.Adaptive.MaxRestarts = 2
	}
	if cfg.Adaptive.QuarterBufferFraction == 0 {
		cfg.Adaptive.QuarterBufferFraction = 0.05
	}
	if cfg.Adaptive.EstimationBufferFraction == 0 {
		cfg.Adaptive.EstimationBufferFraction = 0.10
	}

	if cfg.Supervisor.WorkerBinary == "" {
		cfg.Supervisor.WorkerBinary = "claude"
	}
	if cfg.Supervisor.StartupDelay == "" {
		cfg.Supervisor.StartupDelay = "1s"
	}
	if cfg.Supervisor.InstanceTimeout == "" {
		cfg.Supervisor.InstanceTimeout = "10m"
	}
	if cfg.Supervisor.StatusReportInterval == "" {
		cfg.Supervisor.StatusReportInterval = "30s"
	}
	if cfg.Supervisor.DefaultEstimate == 0 {
		cfg.Supervisor.DefaultEstimate = 1000
	}

	if cfg.Observability.LangfuseHost == "" {
		cfg.Observability.LangfuseHost = "https://cloud.langfuse.com"
	}

	if cfg.Cloud.LogName == "" {
		cfg.Cloud.LogName = "zen-orchestrator"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Budget.EnforcementMode != "warn" && c.Budget.EnforcementMode != "block" {
		return fmt.Errorf("invalid enforcement_mode: %s (must be warn or block)", c.Budget.EnforcementMode)
	}

	if c.Budget.OverallBudget < 0 {
		return fmt.Errorf("overall_budget must not be negative")
	}
	for name, limit := range c.Budget.CommandBudgets {
		if limit < 0 {
			return fmt.Errorf("command budget for %q must not be negative", name)
		}
	}

	prev := 0.0
	for i, f := range c.Adaptive.CheckpointFractions {
		if f <= prev || f > 1 {
			return fmt.Errorf("checkpoint_fractions must be strictly increasing in (0,1], got %v at index %d", f, i)
		}
		prev = f
	}

	if c.Adaptive.RestartThreshold <= 0 || c.Adaptive.RestartThreshold > 1 {
		return fmt.Errorf("restart_threshold must be in (0,1]")
	}
	if c.Adaptive.MinCompletionProbability <= 0 || c.Adaptive.MinCompletionProbability >= 1 {
		return fmt.Errorf("min_completion_probability must be in (0,1)")
	}
	if c.Adaptive.MaxRestarts < 0 {
		return fmt.Errorf("max_restarts must not be negative")
	}

	for _, field := range []struct {
		name, value string
	}{
		{"startup_delay", c.Supervisor.StartupDelay},
		{"instance_timeout", c.Supervisor.InstanceTimeout},
		{"status_report_interval", c.Supervisor.StatusReportInterval},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}

	return nil
}

// ValidateForGitHub performs the additional validation required before
// minting worker GitHub tokens.
func (c *Config) ValidateForGitHub() error {
	if c.GitHub.AppID == 0 {
		return fmt.Errorf("GitHub App ID is required")
	}
	if c.GitHub.InstallationID == 0 {
		return fmt.Errorf("GitHub App Installation ID is required")
	}
	if c.GitHub.PrivateKeySecret == "" {
		return fmt.Errorf("GitHub App private key secret path is required")
	}
	return nil
}

// StartupDelayDuration parses the configured stagger delay.
func (c *SupervisorConfig) StartupDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.StartupDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// InstanceTimeoutDuration parses the configured per-instance timeout.
func (c *SupervisorConfig) InstanceTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.InstanceTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// StatusReportIntervalDuration parses the configured reporter period.
func (c *SupervisorConfig) StatusReportIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.StatusReportInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
