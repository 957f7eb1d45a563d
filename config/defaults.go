package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "reelforge.db")

	// Pipeline worker pool defaults
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.poll_interval_seconds", 5)
	v.SetDefault("pipeline.lease_seconds", 300) // 5 minute lease; renders renew per step

	// Retry policy defaults
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_backoff_seconds", 30)      // 30s, 60s, 120s, ...
	v.SetDefault("pipeline.retry_backoff_max_seconds", 900) // capped at 15 minutes

	// Checkpoint recovery: image generation is the first expensive, slow step.
	// Everything before it is cheap enough to just redo.
	v.SetDefault("pipeline.recoverable_threshold", "image_gen")

	// Rate limiting for step executor invocations (0 disables)
	v.SetDefault("pipeline.max_steps_per_minute", 0)

	// Step command execution defaults
	v.SetDefault("pipeline.step_timeout_seconds", 1800)
	v.SetDefault("pipeline.work_dir", "reelforge-work")

	// Ledger policy defaults
	v.SetDefault("ledger.dead_letter_cost_mode", "proportional")

	// Notification defaults
	v.SetDefault("notify.enabled", true)
}
