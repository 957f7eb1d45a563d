package pipeline

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestPool(t *testing.T, harness *orchestratorHarness, workers int) *WorkerPool {
	t.Helper()

	pool := NewWorkerPool(context.Background(), harness.jobs, harness.orch, WorkerPoolConfig{
		Workers:       workers,
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Minute,
		MaxRetries:    3,
	}, zap.NewNop().Sugar())
	t.Cleanup(pool.Stop)
	return pool
}

func waitForStatus(t *testing.T, jobs *Store, jobID string, want Status) *Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetJob(jobID)
		if err != nil {
			t.Fatalf("failed to poll job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := jobs.GetJob(jobID)
	t.Fatalf("job %s never reached %s (last status: %s)", jobID, want, job.Status)
	return nil
}

func TestWorkerPoolProcessesQueuedJob(t *testing.T) {
	h := newOrchestratorHarness(t, 3)
	if _, err := h.ledger.Purchase("user-1", 100, "", ""); err != nil {
		t.Fatal(err)
	}

	job := NewJob("user-1", "project-1", 40)
	if _, err := h.ledger.Reserve(job.UserID, job.ID, 40); err != nil {
		t.Fatal(err)
	}
	if err := h.jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	pool := newTestPool(t, h, 1)
	pool.Start()

	done := waitForStatus(t, h.jobs, job.ID, StatusReady)
	if done.CreditsFinal == nil || *done.CreditsFinal != 40 {
		t.Errorf("expected final cost 40, got %v", done.CreditsFinal)
	}

	balance, err := h.ledger.Balance("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 60 {
		t.Errorf("expected balance 60 after settlement, got %d", balance)
	}
}

func TestWorkerPoolRequeuesAbandonedJobsOnStart(t *testing.T) {
	h := newOrchestratorHarness(t, 3)
	if _, err := h.ledger.Purchase("user-1", 100, "", ""); err != nil {
		t.Fatal(err)
	}

	job := NewJob("user-1", "project-1", 40)
	if _, err := h.ledger.Reserve(job.UserID, job.ID, 40); err != nil {
		t.Fatal(err)
	}
	if err := h.jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	// A previous process died mid-render with the lease long expired.
	job.Status = StatusForStep(StepRendering)
	job.WorkerID = "worker-from-dead-process"
	expired := time.Now().Add(-time.Hour)
	job.LeaseExpiresAt = &expired
	if err := h.jobs.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	pool := newTestPool(t, h, 1)
	pool.Start()

	waitForStatus(t, h.jobs, job.ID, StatusReady)
}

func TestWorkerPoolStopIsGraceful(t *testing.T) {
	h := newOrchestratorHarness(t, 3)

	pool := newTestPool(t, h, 2)
	pool.Start()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWorkerPoolStartStopStart(t *testing.T) {
	h := newOrchestratorHarness(t, 3)
	if _, err := h.ledger.Purchase("user-1", 100, "", ""); err != nil {
		t.Fatal(err)
	}

	pool := newTestPool(t, h, 1)
	pool.Start()
	pool.Stop()

	// A second Start must work against the recreated context.
	job := NewJob("user-1", "project-1", 40)
	if _, err := h.ledger.Reserve(job.UserID, job.ID, 40); err != nil {
		t.Fatal(err)
	}
	if err := h.jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	pool.Start()
	waitForStatus(t, h.jobs, job.ID, StatusReady)
}

func TestReleasedJobKeepsCheckpointForNextWorker(t *testing.T) {
	h := newOrchestratorHarness(t, 3)
	if _, err := h.ledger.Purchase("user-1", 100, "", ""); err != nil {
		t.Fatal(err)
	}

	job := h.admitJob(t, 40)
	if err := h.checkpoints.Save(job.ID, StepImageGen, Artifacts{ArtifactImages: "ref://images"}); err != nil {
		t.Fatal(err)
	}
	job.Status = StatusForStep(StepTimelineBuild)
	if err := h.jobs.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	if err := h.jobs.ReleaseJob(job.ID, "worker-test"); err != nil {
		t.Fatal(err)
	}

	loaded, err := h.jobs.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != StatusQueued {
		t.Errorf("released job should be queued, got %s", loaded.Status)
	}
	if loaded.WorkerID != "" {
		t.Error("released job should carry no worker")
	}

	cp, err := h.checkpoints.Load(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.LastCompletedStep != StepImageGen {
		t.Error("checkpoint must survive a release")
	}
}
