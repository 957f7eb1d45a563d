package pipeline

import (
	"database/sql"
	"time"

	"github.com/reelforge/reelforge/errors"
)

// Checkpoint records the furthest completed step of a job and the storage
// references of everything produced so far. One row per job, overwritten
// after each completed step.
type Checkpoint struct {
	JobID             string
	LastCompletedStep Step
	Artifacts         Artifacts
	Progress          int
	SavedAt           time.Time
}

// CheckpointStore persists per-job pipeline checkpoints.
type CheckpointStore struct {
	db *sql.DB

	// threshold is the earliest step worth resuming from. Checkpoints
	// before it exist for observability but a recovered job restarts from
	// scratch.
	threshold Step
}

// NewCheckpointStore creates a checkpoint store with the given recoverable
// threshold. An invalid threshold falls back to the default.
func NewCheckpointStore(db *sql.DB, threshold Step) *CheckpointStore {
	if !threshold.Valid() {
		threshold = DefaultRecoverableThreshold
	}
	return &CheckpointStore{db: db, threshold: threshold}
}

// Threshold returns the configured recoverable threshold step.
func (cs *CheckpointStore) Threshold() Step {
	return cs.threshold
}

// Save upserts the job's checkpoint. Called after a step completes and
// after its artifacts are durably stored, never before.
func (cs *CheckpointStore) Save(jobID string, step Step, artifacts Artifacts) error {
	artifactsJSON, err := MarshalArtifacts(artifacts)
	if err != nil {
		return err
	}

	_, err = cs.db.Exec(`
		INSERT INTO job_checkpoints (job_id, last_completed_step, artifacts, progress, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			last_completed_step = excluded.last_completed_step,
			artifacts = excluded.artifacts,
			progress = excluded.progress,
			saved_at = excluded.saved_at`,
		jobID, step, artifactsJSON, step.Percent(), time.Now(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save checkpoint for job %s", jobID)
	}

	return nil
}

// Load returns the job's checkpoint, or nil if none exists.
func (cs *CheckpointStore) Load(jobID string) (*Checkpoint, error) {
	var cp Checkpoint
	var artifactsJSON string

	err := cs.db.QueryRow(`
		SELECT job_id, last_completed_step, artifacts, progress, saved_at
		FROM job_checkpoints WHERE job_id = ?`,
		jobID,
	).Scan(&cp.JobID, &cp.LastCompletedStep, &artifactsJSON, &cp.Progress, &cp.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load checkpoint for job %s", jobID)
	}

	cp.Artifacts, err = UnmarshalArtifacts(artifactsJSON)
	if err != nil {
		return nil, err
	}

	return &cp, nil
}

// Clear deletes the job's checkpoint once it reaches a terminal state.
func (cs *CheckpointStore) Clear(jobID string) error {
	_, err := cs.db.Exec(`DELETE FROM job_checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to clear checkpoint for job %s", jobID)
	}
	return nil
}

// CanResume reports whether the checkpoint is past the recoverable
// threshold. A nil or corrupt checkpoint is not resumable.
func (cs *CheckpointStore) CanResume(cp *Checkpoint) bool {
	if cp == nil || !cp.LastCompletedStep.Valid() {
		return false
	}
	return cp.LastCompletedStep.Index() >= cs.threshold.Index()
}

// ResumePoint decides where a claimed job starts executing. With a
// resumable checkpoint the job continues after the last completed step and
// inherits its artifacts; otherwise it restarts from the first step with
// nothing. done is true when the checkpointed step was the final one, which
// happens when a job fell over between finishing the pipeline and settling
// its credits.
func (cs *CheckpointStore) ResumePoint(cp *Checkpoint) (start Step, artifacts Artifacts, done bool) {
	if !cs.CanResume(cp) {
		return FirstStep(), Artifacts{}, false
	}
	next, ok := NextAfter(cp.LastCompletedStep)
	if !ok {
		return "", cp.Artifacts, true
	}
	return next, cp.Artifacts, false
}
