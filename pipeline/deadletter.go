package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/errors"
	"github.com/reelforge/reelforge/ledger"
	"github.com/reelforge/reelforge/notify"
)

// Dead-letter cost modes. Proportional charges for the fraction of the
// pipeline that completed; zero refunds the whole reservation.
const (
	CostModeProportional = "proportional"
	CostModeZero         = "zero"
)

// ShouldEscalate reports whether a job that just failed has exhausted its
// retry budget and must be dead-lettered instead of retried.
func ShouldEscalate(retryCount, maxRetries int) bool {
	return retryCount > maxRetries
}

// DeadLetterCost computes the credits charged for a dead-lettered job.
// Proportional mode charges reserved * completedSteps / totalSteps, rounded
// down; zero mode charges nothing.
func DeadLetterCost(mode string, reserved int64, completedSteps int) int64 {
	if mode == CostModeZero || completedSteps <= 0 {
		return 0
	}
	return reserved * int64(completedSteps) / int64(TotalSteps())
}

// DeadLetterEntry is one row in the dead-letter queue.
type DeadLetterEntry struct {
	ID                string
	JobID             string
	UserID            string
	Reason            string
	LastCompletedStep Step
	FailedAt          time.Time
}

// Escalator moves jobs that exhausted their retries into the dead-letter
// queue, settles their credits, and notifies the user.
type Escalator struct {
	jobs     *Store
	ledger   *ledger.Store
	notifier notify.Notifier
	costMode string
	log      *zap.SugaredLogger
}

// NewEscalator creates a dead-letter escalator.
func NewEscalator(jobs *Store, ledgerStore *ledger.Store, notifier notify.Notifier, costMode string, log *zap.SugaredLogger) *Escalator {
	if costMode != CostModeZero {
		costMode = CostModeProportional
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Escalator{
		jobs:     jobs,
		ledger:   ledgerStore,
		notifier: notifier,
		costMode: costMode,
		log:      log,
	}
}

// Escalate dead-letters a job: writes the terminal status and the
// dead-letter row in one transaction, then settles the job's credits and
// fires the notification. The checkpoint is kept for operator forensics.
//
// lastCompleted is the job's furthest completed step, or "" when it never
// finished one.
func (e *Escalator) Escalate(ctx context.Context, job *Job, lastCompleted Step, reason string) error {
	completedSteps := lastCompleted.Index() + 1
	finalCost := DeadLetterCost(e.costMode, job.CreditsReserved, completedSteps)

	job.DeadLetter(ErrorCodeRetryExhausted, reason, finalCost)

	tx, err := e.jobs.DB().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin dead-letter transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE jobs
		SET status = ?, error_code = ?, error_message = ?, credits_final = ?,
		    worker_id = NULL, lease_expires_at = NULL, next_retry_at = NULL,
		    finished_at = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.ErrorCode, job.ErrorMessage, *job.CreditsFinal,
		job.FinishedAt, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to dead-letter job %s", job.ID)
	}

	_, err = tx.Exec(`
		INSERT INTO dead_letter_jobs (id, job_id, user_id, reason, last_completed_step, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), job.ID, job.UserID, reason, string(lastCompleted), time.Now(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert dead-letter entry for job %s", job.ID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit dead-letter for job %s", job.ID)
	}

	if err := e.ledger.Finalize(job.UserID, job.ID, finalCost); err != nil {
		// The job is already dead-lettered; credits stay reserved until an
		// operator re-runs finalization. Loud, not fatal.
		e.log.Errorw("Dead-lettered job has unsettled credits",
			"job_id", job.ID,
			"user_id", job.UserID,
			"final_cost", finalCost,
			"error", err)
	}

	e.log.Warnw("Job dead-lettered",
		"job_id", job.ID,
		"user_id", job.UserID,
		"reason", reason,
		"last_completed_step", string(lastCompleted),
		"final_cost", finalCost)

	if err := e.notifier.Notify(ctx, job.ID, job.UserID, notify.EventDeadLettered); err != nil {
		e.log.Warnw("Dead-letter notification failed",
			"job_id", job.ID,
			"error", err)
	}

	return nil
}

// ListDeadLetters returns dead-letter entries newest first.
func (e *Escalator) ListDeadLetters(limit int) ([]*DeadLetterEntry, error) {
	rows, err := e.jobs.DB().Query(`
		SELECT id, job_id, user_id, reason, last_completed_step, failed_at
		FROM dead_letter_jobs
		ORDER BY failed_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dead-letter entries")
	}
	defer rows.Close()

	var entries []*DeadLetterEntry
	for rows.Next() {
		var entry DeadLetterEntry
		var step string
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.UserID, &entry.Reason, &step, &entry.FailedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan dead-letter entry")
		}
		entry.LastCompletedStep = Step(step)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating dead-letter entries")
	}
	return entries, nil
}
