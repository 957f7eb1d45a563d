package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/ledger"
	"github.com/reelforge/reelforge/logger"
	"github.com/reelforge/reelforge/notify"
	"github.com/reelforge/reelforge/pipeline"
	"github.com/reelforge/reelforge/steps"
)

// WorkerCmd runs the job worker pool in the foreground.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker pool",
	Long: `Run the job worker pool in foreground mode.

Workers claim queued jobs under a lease, drive them through the production
pipeline, checkpoint after every step, and settle credits on completion.
Jobs abandoned by a previous crash are re-queued on start. Runs until
interrupted (Ctrl+C); a job mid-step is released back to the queue with its
checkpoint intact.

Each pipeline step must have a command configured under
[pipeline.step_commands] in reelforge.toml.`,
	RunE: runWorker,
}

func init() {
	WorkerCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workers := cfg.Pipeline.Workers
	if flagWorkers, _ := cmd.Flags().GetInt("workers"); flagWorkers > 0 {
		workers = flagWorkers
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	registry := pipeline.NewExecutorRegistry()
	if err := steps.RegisterCommandExecutors(
		registry,
		cfg.Pipeline.StepCommands,
		time.Duration(cfg.Pipeline.StepTimeoutSeconds)*time.Second,
		cfg.Pipeline.WorkDir,
		logger.Logger,
	); err != nil {
		return fmt.Errorf("incomplete step configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := pipeline.NewStore(database)
	ledgerStore := ledger.NewStore(database)
	checkpoints := pipeline.NewCheckpointStore(database, pipeline.Step(cfg.Pipeline.RecoverableThreshold))

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		notifier = notify.NewLogNotifier(logger.Logger)
	}

	escalator := pipeline.NewEscalator(jobs, ledgerStore, notifier, cfg.Ledger.DeadLetterCostMode, logger.Logger)
	orchestrator := pipeline.NewOrchestrator(jobs, checkpoints, ledgerStore, registry, escalator, notifier,
		pipeline.OrchestratorConfig{
			MaxRetries:      cfg.Pipeline.MaxRetries,
			LeaseDuration:   time.Duration(cfg.Pipeline.LeaseSeconds) * time.Second,
			RetryBackoff:    time.Duration(cfg.Pipeline.RetryBackoffSeconds) * time.Second,
			RetryBackoffMax: time.Duration(cfg.Pipeline.RetryBackoffMaxSeconds) * time.Second,
		},
		logger.Logger)

	pool := pipeline.NewWorkerPool(ctx, jobs, orchestrator, pipeline.WorkerPoolConfig{
		Workers:           workers,
		PollInterval:      time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second,
		LeaseDuration:     time.Duration(cfg.Pipeline.LeaseSeconds) * time.Second,
		MaxRetries:        cfg.Pipeline.MaxRetries,
		MaxStepsPerMinute: cfg.Pipeline.MaxStepsPerMinute,
	}, logger.Logger)

	pool.Start()
	fmt.Printf("reelforge worker pool started\n")
	fmt.Printf("  Workers: %d\n", workers)
	fmt.Printf("  Poll interval: %ds\n", cfg.Pipeline.PollIntervalSeconds)
	fmt.Printf("  Lease: %ds\n", cfg.Pipeline.LeaseSeconds)
	fmt.Printf("  Recoverable threshold: %s\n", cfg.Pipeline.RecoverableThreshold)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	fmt.Printf("\nReceived %s, stopping workers...\n", sig)
	pool.Stop()
	fmt.Println("Worker pool stopped")

	return nil
}
