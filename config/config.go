// Package config holds the reelforge orchestrator configuration.
package config

// Config represents the core reelforge configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig configures the production pipeline and its worker pool
type PipelineConfig struct {
	// Worker concurrency configuration
	Workers             int `mapstructure:"workers"`               // Number of concurrent job workers (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // How often workers check for claimable jobs (default: 5)
	LeaseSeconds        int `mapstructure:"lease_seconds"`         // Job lease duration; expired leases are re-claimable (default: 300)

	// Retry policy
	MaxRetries             int `mapstructure:"max_retries"`               // Transient failures beyond this count dead-letter the job (default: 3)
	RetryBackoffSeconds    int `mapstructure:"retry_backoff_seconds"`     // Base for exponential retry backoff (default: 30)
	RetryBackoffMaxSeconds int `mapstructure:"retry_backoff_max_seconds"` // Backoff cap (default: 900)

	// Checkpoint recovery
	RecoverableThreshold string `mapstructure:"recoverable_threshold"` // Earliest step worth resuming from (default: "image_gen")

	// Rate limiting for step executor invocations (0 disables)
	MaxStepsPerMinute int `mapstructure:"max_steps_per_minute"`

	// StepCommands maps each pipeline step to the external command that
	// implements it, e.g. scripting = "reelforge-script --model gpt". The
	// worker refuses to start while any step is unmapped.
	StepCommands map[string]string `mapstructure:"step_commands"`

	// StepTimeoutSeconds bounds a single step command run (default: 1800)
	StepTimeoutSeconds int `mapstructure:"step_timeout_seconds"`

	// WorkDir is where step commands place intermediate artifacts
	WorkDir string `mapstructure:"work_dir"`
}

// LedgerConfig configures credit finalization policy
type LedgerConfig struct {
	// DeadLetterCostMode controls how much of the reservation is charged when
	// a job is dead-lettered: "proportional" charges per completed step,
	// "zero" refunds the full reservation.
	DeadLetterCostMode string `mapstructure:"dead_letter_cost_mode"`
}

// NotifyConfig configures the user notification side channel
type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
