package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/cmd/reelforge/commands"
	"github.com/reelforge/reelforge/logger"
)

var (
	jsonFlag    bool
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "reelforge",
	Short: "reelforge - prompt-to-video production pipeline",
	Long: `reelforge - prompt-to-video production pipeline.

reelforge turns a text prompt into a rendered short-form video through a
fixed pipeline: scripting, voice generation, caption alignment, visual
planning, image generation, timeline assembly, rendering, and packaging.
Jobs checkpoint after every step, retry with backoff on transient
failures, and settle user credits when they finish.

Available commands:
  worker   - Run the job worker pool
  enqueue  - Reserve credits and queue a production job
  jobs     - Inspect jobs and the dead-letter queue
  credits  - Manage user credit balances
  db       - Database maintenance

Examples:
  reelforge worker --workers 2       # Process jobs with 2 workers
  reelforge enqueue --user u1 --project p1 --credits 50
  reelforge jobs status <job-id>     # Show one job
  reelforge credits balance --user u1`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonFlag); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verboseFlag {
			logger.SetVerbose()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.CreditsCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
