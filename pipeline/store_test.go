package pipeline

import (
	"testing"
	"time"

	"github.com/reelforge/reelforge/errors"
	reeltest "github.com/reelforge/reelforge/internal/testing"
)

func TestCreateAndGetJob(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 50)
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	loaded, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}

	if loaded.Status != StatusQueued {
		t.Errorf("new job should be queued, got %s", loaded.Status)
	}
	if loaded.UserID != "user-1" || loaded.ProjectID != "project-1" {
		t.Errorf("job owner mismatch: %s/%s", loaded.UserID, loaded.ProjectID)
	}
	if loaded.CreditsReserved != 50 {
		t.Errorf("expected 50 credits reserved, got %d", loaded.CreditsReserved)
	}
	if loaded.CreditsFinal != nil {
		t.Error("new job should have no final cost")
	}
}

func TestGetJobNotFound(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("no-such-job")
	if !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestClaimNextTakesOldestQueuedJob(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	older := NewJob("user-1", "project-1", 10)
	older.CreatedAt = time.Now().Add(-time.Hour)
	if err := store.CreateJob(older); err != nil {
		t.Fatal(err)
	}
	newer := NewJob("user-1", "project-2", 10)
	if err := store.CreateJob(newer); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimNext("worker-a", time.Minute, 3)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimable job")
	}
	if claimed.ID != older.ID {
		t.Errorf("expected oldest job %s, got %s", older.ID, claimed.ID)
	}
	if claimed.WorkerID != "worker-a" {
		t.Errorf("claimed job should carry the worker ID, got %q", claimed.WorkerID)
	}
	if claimed.LeaseExpiresAt == nil || !claimed.LeaseExpiresAt.After(time.Now()) {
		t.Error("claimed job should have a live lease")
	}
	if claimed.StartedAt == nil {
		t.Error("first claim should stamp started_at")
	}
}

func TestClaimedJobIsNotReclaimableWhileLeaseHolds(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	first, err := store.ClaimNext("worker-a", time.Minute, 3)
	if err != nil || first == nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// The job is still queued (the orchestrator has not entered a step
	// yet), but the lease alone must block a second claim.
	second, err := store.ClaimNext("worker-b", time.Minute, 3)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if second != nil {
		t.Errorf("job with a live lease must not be claimable, but worker-b got %s", second.ID)
	}
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	// worker-a claims with an already-lapsed lease (crashed mid-step).
	if _, err := store.ClaimNext("worker-a", -time.Second, 3); err != nil {
		t.Fatal(err)
	}
	job.Status = StatusForStep(StepImageGen)
	job.WorkerID = "worker-a"
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := store.ClaimNext("worker-b", time.Minute, 3)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed == nil {
		t.Fatal("expired lease should make the job claimable again")
	}
	if reclaimed.ID != job.ID || reclaimed.WorkerID != "worker-b" {
		t.Errorf("expected worker-b to take over %s, got %+v", job.ID, reclaimed)
	}
}

func TestFailedJobRespectsRetrySchedule(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	job.RetryCount = 1
	job.Fail(ErrorCodeProviderError, "tts unavailable")
	job.ScheduleRetry(time.Now().Add(time.Hour))
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimNext("worker-a", time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Error("failed job must wait out its backoff before re-claim")
	}

	// Backoff elapsed.
	job.ScheduleRetry(time.Now().Add(-time.Second))
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	claimed, err = store.ClaimNext("worker-a", time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Error("failed job past its backoff should be claimable")
	}
}

func TestExhaustedJobIsNotClaimable(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	job.RetryCount = 4
	job.Fail(ErrorCodeProviderError, "still down")
	job.ScheduleRetry(time.Now().Add(-time.Minute))
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimNext("worker-a", time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Error("job past its retry budget must not be claimed")
	}
}

func TestTerminalJobsAreNeverClaimable(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	ready := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(ready); err != nil {
		t.Fatal(err)
	}
	ready.Ready(10)
	if err := store.UpdateJob(ready); err != nil {
		t.Fatal(err)
	}

	dead := NewJob("user-1", "project-2", 10)
	if err := store.CreateJob(dead); err != nil {
		t.Fatal(err)
	}
	dead.DeadLetter(ErrorCodeRetryExhausted, "gave up", 0)
	if err := store.UpdateJob(dead); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimNext("worker-a", time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Errorf("terminal jobs must stay parked, got %s (%s)", claimed.ID, claimed.Status)
	}
}

func TestRenewLeaseRequiresOwnership(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext("worker-a", time.Minute, 3); err != nil {
		t.Fatal(err)
	}

	if err := store.RenewLease(job.ID, "worker-a", time.Minute); err != nil {
		t.Errorf("owner should renew its lease: %v", err)
	}
	if err := store.RenewLease(job.ID, "worker-b", time.Minute); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("non-owner renewal should conflict, got %v", err)
	}
}

func TestRequeueAbandoned(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	// Crashed worker: mid-step status, lapsed lease.
	job.Status = StatusForStep(StepRendering)
	job.WorkerID = "worker-dead"
	past := time.Now().Add(-time.Hour)
	job.LeaseExpiresAt = &past
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	recovered, err := store.RequeueAbandoned()
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if recovered != 1 {
		t.Errorf("expected 1 recovered job, got %d", recovered)
	}

	loaded, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != StatusQueued {
		t.Errorf("recovered job should be queued, got %s", loaded.Status)
	}
	if loaded.WorkerID != "" || loaded.LeaseExpiresAt != nil {
		t.Error("recovered job should carry no worker or lease")
	}
}

func TestCleanupOldKeepsRecentAndLiveJobs(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	old := NewJob("user-1", "project-1", 10)
	if err := store.CreateJob(old); err != nil {
		t.Fatal(err)
	}
	old.Ready(10)
	finished := time.Now().Add(-48 * time.Hour)
	old.FinishedAt = &finished
	if err := store.UpdateJob(old); err != nil {
		t.Fatal(err)
	}

	recent := NewJob("user-1", "project-2", 10)
	if err := store.CreateJob(recent); err != nil {
		t.Fatal(err)
	}
	recent.Ready(10)
	if err := store.UpdateJob(recent); err != nil {
		t.Fatal(err)
	}

	live := NewJob("user-1", "project-3", 10)
	if err := store.CreateJob(live); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.CleanupOld(24 * time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected to delete 1 job, deleted %d", deleted)
	}

	if _, err := store.GetJob(old.ID); !errors.IsNotFoundError(err) {
		t.Error("old terminal job should be gone")
	}
	if _, err := store.GetJob(recent.ID); err != nil {
		t.Errorf("recent terminal job should survive: %v", err)
	}
	if _, err := store.GetJob(live.ID); err != nil {
		t.Errorf("live job should survive: %v", err)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	store := NewStore(db)

	for i := 0; i < 3; i++ {
		if err := store.CreateJob(NewJob("user-1", "project", 10)); err != nil {
			t.Fatal(err)
		}
	}
	done := NewJob("user-1", "project", 10)
	if err := store.CreateJob(done); err != nil {
		t.Fatal(err)
	}
	done.Ready(10)
	if err := store.UpdateJob(done); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats[StatusQueued] != 3 {
		t.Errorf("expected 3 queued, got %d", stats[StatusQueued])
	}
	if stats[StatusReady] != 1 {
		t.Errorf("expected 1 ready, got %d", stats[StatusReady])
	}
}
