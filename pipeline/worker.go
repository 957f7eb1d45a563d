package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/errors"
)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`              // Number of concurrent workers
	PollInterval      time.Duration `json:"poll_interval"`        // How often to check for claimable jobs
	LeaseDuration     time.Duration `json:"lease_duration"`       // How long a claim is held before it can lapse
	MaxRetries        int           `json:"max_retries"`          // Retry budget before dead-letter
	MaxStepsPerMinute int           `json:"max_steps_per_minute"` // 0 = unlimited
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:       1,
		PollInterval:  5 * time.Second,
		LeaseDuration: 5 * time.Minute,
		MaxRetries:    3,
	}
}

// WorkerPool manages a pool of workers that claim and run production jobs.
// Each worker polls for claimable jobs, takes a lease, and drives the job
// through the orchestrator. Safe to Start and Stop repeatedly.
type WorkerPool struct {
	jobs          *Store
	orchestrator  *Orchestrator
	limiter       *StepLimiter
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	activeWorkers int
	log           *zap.SugaredLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool. The parent context controls shutdown
// coordination: cancelling it stops all workers, and jobs mid-pipeline are
// released back to the queue with their checkpoints intact.
func NewWorkerPool(ctx context.Context, jobs *Store, orchestrator *Orchestrator, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = 5 * time.Second
	}
	if poolCfg.LeaseDuration <= 0 {
		poolCfg.LeaseDuration = 5 * time.Minute
	}

	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		jobs:         jobs,
		orchestrator: orchestrator,
		limiter:      NewStepLimiter(poolCfg.MaxStepsPerMinute),
		poolConfig:   poolCfg,
		workers:      poolCfg.Workers,
		parentCtx:    ctx,
		ctx:          workerCtx,
		cancel:       cancel,
		log:          log.Named("pool"),
	}
}

// Start begins processing jobs. Leases abandoned by crashed workers are
// cleared first so their jobs become claimable immediately.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Recreate the context if Stop() ran before. Must happen before
	// spawning workers to avoid races.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.log.Debugw("Recreated worker context after previous shutdown")
	default:
	}
	wp.mu.Unlock()

	recovered, err := wp.jobs.RequeueAbandoned()
	if err != nil {
		wp.log.Warnw("Failed to requeue abandoned jobs", "error", err)
		// Continue starting workers even if recovery fails
	} else if recovered > 0 {
		wp.log.Infow("Requeued jobs abandoned by previous run", "count", recovered)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.log.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully stops the worker pool. Workers exit at the next
// cancellation check; a job mid-step is released back to the queue with its
// checkpoint intact. Uses a 30-second timeout to avoid blocking shutdown.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.log.Infow("Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		wp.log.Warnw("Worker pool stop timed out, workers may still be releasing jobs", "timeout", timeout)
	}
}

// worker polls for claimable jobs until the pool shuts down.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	workerID := fmt.Sprintf("worker-%d-%d", id, time.Now().UnixNano())

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(workerID); err != nil {
				select {
				case <-wp.ctx.Done():
					// Shutdown in progress - exit without logging
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown
					return
				}

				errorCount++
				wp.log.Errorw("Worker error processing job",
					"worker_id", workerID,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.log.Warnw("Worker backing off after consecutive errors",
						"worker_id", workerID,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					time.Sleep(backoffDuration)
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
			} else {
				if errorCount > 0 {
					wp.log.Infow("Worker recovered from errors",
						"worker_id", workerID,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}
		}
	}
}

// processNextJob claims and runs one job. Returns nil when no job is
// available or the claimed job parked itself (retry, dead-letter, done).
func (wp *WorkerPool) processNextJob(workerID string) error {
	select {
	case <-wp.ctx.Done():
		return nil // Shutting down - don't claim new work
	default:
	}

	// Gate on the step rate limit before claiming so a throttled pool
	// leaves jobs claimable by less busy peers.
	if err := wp.limiter.Allow(); err != nil {
		starts, remaining := wp.limiter.Stats()
		wp.log.Debugw("Step rate limit reached, deferring claim",
			"worker_id", workerID,
			"starts_in_window", starts,
			"remaining", remaining)
		return nil
	}

	job, err := wp.jobs.ClaimNext(workerID, wp.poolConfig.LeaseDuration, wp.poolConfig.MaxRetries)
	if err != nil {
		return errors.Wrap(err, "failed to claim job")
	}
	if job == nil {
		return nil // Nothing claimable
	}

	wp.log.Infow("Claimed job",
		"worker_id", workerID,
		"job_id", job.ID,
		"status", string(job.Status),
		"retry_count", job.RetryCount)

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if err := wp.orchestrator.Run(wp.ctx, job); err != nil {
		if wp.ctx.Err() != nil {
			// Shutdown mid-job: release the claim so another worker can
			// resume from the checkpoint without waiting out the lease.
			wp.log.Infow("Releasing job during shutdown, checkpoint intact",
				"worker_id", workerID,
				"job_id", job.ID)
			if releaseErr := wp.jobs.ReleaseJob(job.ID, workerID); releaseErr != nil {
				wp.log.Errorw("Failed to release job during shutdown",
					"job_id", job.ID,
					"error", releaseErr)
			}
			return nil
		}
		return errors.Wrapf(err, "orchestrator failed for job %s", job.ID)
	}

	return nil
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}
