package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/ledger"
	"github.com/reelforge/reelforge/logger"
	"github.com/reelforge/reelforge/notify"
	"github.com/reelforge/reelforge/pipeline"
)

// JobsCmd groups job inspection subcommands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect jobs and the dead-letter queue",
	Long: `Inspect production jobs.

Examples:
  reelforge jobs status <job-id>   # Show one job with its ledger entries
  reelforge jobs ls                # List recent jobs
  reelforge jobs ls --status failed
  reelforge jobs dead              # List dead-lettered jobs
  reelforge jobs stats             # Job counts per status`,
}

var (
	jobsListStatusFlag string
	jobsListLimitFlag  int
)

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job with its checkpoint and ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent jobs",
	RunE:  runJobsList,
}

var jobsDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List dead-lettered jobs",
	RunE:  runJobsDead,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE:  runJobsStats,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListStatusFlag, "status", "", "Filter by status")
	jobsListCmd.Flags().IntVar(&jobsListLimitFlag, "limit", 20, "Maximum jobs to show")
	jobsDeadCmd.Flags().IntVar(&jobsListLimitFlag, "limit", 20, "Maximum entries to show")

	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsDeadCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	jobs := pipeline.NewStore(database)
	job, err := jobs.GetJob(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Job %s\n", job.ID)
	fmt.Printf("  User: %s  Project: %s\n", job.UserID, job.ProjectID)
	fmt.Printf("  Status: %s  Progress: %d%%  Retries: %d\n", job.Status, job.Progress, job.RetryCount)
	if job.ErrorCode != "" {
		fmt.Printf("  Error: [%s] %s\n", job.ErrorCode, job.ErrorMessage)
	}
	fmt.Printf("  Credits reserved: %d", job.CreditsReserved)
	if job.CreditsFinal != nil {
		fmt.Printf("  final: %d", *job.CreditsFinal)
	}
	fmt.Println()
	if job.WorkerID != "" {
		fmt.Printf("  Worker: %s  lease expires: %s\n", job.WorkerID, formatTime(job.LeaseExpiresAt))
	}
	if job.NextRetryAt != nil {
		fmt.Printf("  Next retry: %s\n", formatTime(job.NextRetryAt))
	}
	fmt.Printf("  Created: %s  Started: %s  Finished: %s\n",
		job.CreatedAt.Format(time.RFC3339), formatTime(job.StartedAt), formatTime(job.FinishedAt))

	checkpoints := pipeline.NewCheckpointStore(database, pipeline.DefaultRecoverableThreshold)
	if cp, err := checkpoints.Load(job.ID); err == nil && cp != nil {
		fmt.Printf("  Checkpoint: after %s (%d%%), saved %s\n",
			cp.LastCompletedStep, cp.Progress, cp.SavedAt.Format(time.RFC3339))
		for kind, ref := range cp.Artifacts {
			fmt.Printf("    %s: %s\n", kind, ref)
		}
	}

	entries, err := ledger.NewStore(database).EntriesForJob(job.ID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Println("  Ledger:")
		for _, entry := range entries {
			fmt.Printf("    %-12s %+d  %s\n", entry.Type, entry.Amount, entry.Note)
		}
	}

	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	var status *pipeline.Status
	if jobsListStatusFlag != "" {
		if !pipeline.IsValidStatus(jobsListStatusFlag) {
			return fmt.Errorf("unknown status: %s", jobsListStatusFlag)
		}
		s := pipeline.Status(jobsListStatusFlag)
		status = &s
	}

	jobs, err := pipeline.NewStore(database).ListJobs(status, jobsListLimitFlag)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	for _, job := range jobs {
		fmt.Printf("%s  %-14s %3d%%  user:%s  created:%s\n",
			job.ID, job.Status, job.Progress, job.UserID,
			job.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runJobsDead(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	jobs := pipeline.NewStore(database)
	ledgerStore := ledger.NewStore(database)
	escalator := pipeline.NewEscalator(jobs, ledgerStore, notify.NopNotifier{}, "", logger.Logger)

	entries, err := escalator.ListDeadLetters(jobsListLimitFlag)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Dead-letter queue is empty")
		return nil
	}

	for _, entry := range entries {
		lastStep := string(entry.LastCompletedStep)
		if lastStep == "" {
			lastStep = "-"
		}
		fmt.Printf("%s  job:%s  user:%s  after:%s  %s\n    %s\n",
			entry.FailedAt.Format(time.RFC3339), entry.JobID, entry.UserID,
			lastStep, entry.ID, entry.Reason)
	}
	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := pipeline.NewStore(database).Stats()
	if err != nil {
		return err
	}

	if len(stats) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	for _, status := range []pipeline.Status{pipeline.StatusQueued, pipeline.StatusFailed, pipeline.StatusReady, pipeline.StatusDeadLettered} {
		if count, ok := stats[status]; ok {
			fmt.Printf("  %-14s %d\n", status, count)
			delete(stats, status)
		}
	}
	for status, count := range stats {
		fmt.Printf("  %-14s %d\n", status, count)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
