package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/errors"
	"github.com/reelforge/reelforge/ledger"
	"github.com/reelforge/reelforge/pipeline"
)

var (
	enqueueUserFlag    string
	enqueueProjectFlag string
	enqueueCreditsFlag int64
)

// EnqueueCmd admits a production job: reserves credits, then inserts the job.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Reserve credits and queue a production job",
	Long: `Admit a production job for a user's project.

Credits are reserved against the user's balance first; a job is only
created once the reservation holds. Insufficient balance admits nothing.

Example:
  reelforge enqueue --user u1 --project p1 --credits 50`,
	RunE: runEnqueue,
}

func init() {
	EnqueueCmd.Flags().StringVar(&enqueueUserFlag, "user", "", "User ID (required)")
	EnqueueCmd.Flags().StringVar(&enqueueProjectFlag, "project", "", "Project ID (required)")
	EnqueueCmd.Flags().Int64Var(&enqueueCreditsFlag, "credits", 0, "Credits to reserve (required)")
	EnqueueCmd.MarkFlagRequired("user")
	EnqueueCmd.MarkFlagRequired("project")
	EnqueueCmd.MarkFlagRequired("credits")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	job := pipeline.NewJob(enqueueUserFlag, enqueueProjectFlag, enqueueCreditsFlag)

	ledgerStore := ledger.NewStore(database)
	if _, err := ledgerStore.Reserve(job.UserID, job.ID, enqueueCreditsFlag); err != nil {
		if errors.IsInsufficientFundsError(err) {
			balance, balErr := ledgerStore.Balance(job.UserID)
			if balErr == nil {
				return fmt.Errorf("insufficient credits: balance %d, need %d", balance, enqueueCreditsFlag)
			}
		}
		return errors.Wrap(err, "failed to reserve credits")
	}

	if err := pipeline.NewStore(database).CreateJob(job); err != nil {
		// Roll the reservation back so the user is not charged for a job
		// that never existed.
		if finErr := ledgerStore.Finalize(job.UserID, job.ID, 0); finErr != nil {
			return errors.Wrapf(err, "failed to create job (reservation refund also failed: %v)", finErr)
		}
		return errors.Wrap(err, "failed to create job")
	}

	fmt.Printf("Job queued\n")
	fmt.Printf("  ID: %s\n", job.ID)
	fmt.Printf("  User: %s\n", job.UserID)
	fmt.Printf("  Project: %s\n", job.ProjectID)
	fmt.Printf("  Credits reserved: %d\n", job.CreditsReserved)

	return nil
}
