package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/errors"
	"github.com/reelforge/reelforge/ledger"
	"github.com/reelforge/reelforge/notify"
)

// OrchestratorConfig carries the retry and lease policy the orchestrator
// applies. Zero values fall back to the defaults below.
type OrchestratorConfig struct {
	MaxRetries      int
	LeaseDuration   time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

const (
	defaultMaxRetries      = 3
	defaultLeaseDuration   = 5 * time.Minute
	defaultRetryBackoff    = 30 * time.Second
	defaultRetryBackoffMax = 15 * time.Minute
)

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = defaultRetryBackoffMax
	}
	return c
}

// RetryBackoff returns the delay before a job's nth retry (attempt is the
// retry count after incrementing). Exponential, capped.
func (c OrchestratorConfig) retryDelay(attempt int) time.Duration {
	delay := c.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.RetryBackoffMax {
			return c.RetryBackoffMax
		}
	}
	if delay > c.RetryBackoffMax {
		delay = c.RetryBackoffMax
	}
	return delay
}

// Orchestrator runs one claimed job through the pipeline: resume decision,
// step execution, checkpointing, retry accounting, credit settlement.
type Orchestrator struct {
	jobs        *Store
	checkpoints *CheckpointStore
	ledger      *ledger.Store
	executors   *ExecutorRegistry
	escalator   *Escalator
	notifier    notify.Notifier
	config      OrchestratorConfig
	log         *zap.SugaredLogger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(
	jobs *Store,
	checkpoints *CheckpointStore,
	ledgerStore *ledger.Store,
	executors *ExecutorRegistry,
	escalator *Escalator,
	notifier notify.Notifier,
	config OrchestratorConfig,
	log *zap.SugaredLogger,
) *Orchestrator {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Orchestrator{
		jobs:        jobs,
		checkpoints: checkpoints,
		ledger:      ledgerStore,
		executors:   executors,
		escalator:   escalator,
		notifier:    notifier,
		config:      config.withDefaults(),
		log:         log,
	}
}

// Run drives a claimed job until it parks: terminal success, scheduled
// retry, dead-letter, or context cancellation. The worker owns the lease;
// Run renews it after every step.
//
// Returns context errors unwrapped so the worker can distinguish shutdown
// from job failure; every other outcome is persisted on the job and
// returns nil.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	cp, err := o.checkpoints.Load(job.ID)
	if err != nil {
		// Treat an unreadable checkpoint like a missing one.
		o.log.Warnw("Failed to load checkpoint, restarting job from scratch",
			"job_id", job.ID,
			"error", err)
		cp = nil
	}

	start, artifacts, done := o.checkpoints.ResumePoint(cp)
	if done {
		// The pipeline already completed; the job died between its last
		// step and credit settlement. Only finalization remains.
		return o.complete(ctx, job, artifacts)
	}

	if cp != nil && start != FirstStep() {
		o.log.Infow("Resuming job from checkpoint",
			"job_id", job.ID,
			"last_completed_step", string(cp.LastCompletedStep),
			"resume_step", string(start))
	}

	for step, ok := start, true; ok; step, ok = NextAfter(step) {
		if err := ctx.Err(); err != nil {
			return err
		}

		executor := o.executors.Get(step)
		if executor == nil {
			return o.handleStepFailure(ctx, job, step,
				NewStepError(ErrorCodeUnknown, "no executor registered for step "+string(step), nil))
		}

		job.EnterStep(step)
		if err := o.jobs.UpdateJob(job); err != nil {
			return errors.Wrapf(err, "failed to persist step transition for job %s", job.ID)
		}

		o.log.Debugw("Executing step",
			"job_id", job.ID,
			"step", string(step))

		produced, err := executor.Execute(ctx, job, artifacts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.handleStepFailure(ctx, job, step, err)
		}

		artifacts = artifacts.Merge(produced)

		// Checkpoint after the step's artifacts are durable. A failed save
		// only costs redone work on the next recovery, so it does not fail
		// the job.
		if err := o.checkpoints.Save(job.ID, step, artifacts); err != nil {
			o.log.Warnw("Failed to save checkpoint",
				"job_id", job.ID,
				"step", string(step),
				"error", err)
		}

		job.Progress = step.Percent()
		if err := o.jobs.UpdateJob(job); err != nil {
			return errors.Wrapf(err, "failed to persist progress for job %s", job.ID)
		}

		if err := o.jobs.RenewLease(job.ID, job.WorkerID, o.config.LeaseDuration); err != nil {
			// Lease lost: another worker owns the job now. Stop without
			// touching it further.
			return errors.Wrapf(err, "stopping work on job %s", job.ID)
		}
	}

	return o.complete(ctx, job, artifacts)
}

// complete settles credits and marks the job ready. A finalization failure
// leaves the job retryable so settlement is eventually driven to
// completion instead of silently dropped.
func (o *Orchestrator) complete(ctx context.Context, job *Job, artifacts Artifacts) error {
	finalCost := job.CreditsReserved

	if err := o.ledger.Finalize(job.UserID, job.ID, finalCost); err != nil {
		o.log.Errorw("Credit finalization failed, job will retry settlement",
			"job_id", job.ID,
			"user_id", job.UserID,
			"final_cost", finalCost,
			"error", err)

		// Retry without burning the retry budget: the work is done, only
		// the ledger write failed.
		job.Fail(ErrorCodeFinalizeFailed, "credit finalization failed")
		job.ScheduleRetry(time.Now().Add(o.config.RetryBackoff))
		if updateErr := o.jobs.UpdateJob(job); updateErr != nil {
			return errors.Wrapf(updateErr, "failed to persist finalize-failed state for job %s", job.ID)
		}
		return nil
	}

	job.Ready(finalCost)
	if err := o.jobs.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to persist terminal state for job %s", job.ID)
	}

	if err := o.checkpoints.Clear(job.ID); err != nil {
		o.log.Warnw("Failed to clear checkpoint for completed job",
			"job_id", job.ID,
			"error", err)
	}

	o.log.Infow("Job completed",
		"job_id", job.ID,
		"user_id", job.UserID,
		"final_cost", finalCost)

	if err := o.notifier.Notify(ctx, job.ID, job.UserID, notify.EventCompleted); err != nil {
		o.log.Warnw("Completion notification failed",
			"job_id", job.ID,
			"error", err)
	}

	return nil
}

// handleStepFailure records a step failure and either schedules a retry or
// escalates to the dead-letter queue.
func (o *Orchestrator) handleStepFailure(ctx context.Context, job *Job, step Step, stepErr error) error {
	code, message := ClassifyStepError(step, stepErr)
	job.RetryCount++
	job.Fail(code, message)

	o.log.Warnw("Step failed",
		"job_id", job.ID,
		"step", string(step),
		"error_code", code,
		"retry_count", job.RetryCount,
		"error", stepErr)

	if ShouldEscalate(job.RetryCount, o.config.MaxRetries) {
		var lastCompleted Step
		if cp, err := o.checkpoints.Load(job.ID); err == nil && cp != nil {
			lastCompleted = cp.LastCompletedStep
		}
		return o.escalator.Escalate(ctx, job, lastCompleted, message)
	}

	job.ScheduleRetry(time.Now().Add(o.config.retryDelay(job.RetryCount)))
	if err := o.jobs.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to persist retry state for job %s", job.ID)
	}

	return nil
}
