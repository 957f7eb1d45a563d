package pipeline

import (
	"database/sql"
	"time"

	"github.com/reelforge/reelforge/errors"
)

// Store handles persistence of production jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for coordinated multi-table writes
// (dead-letter escalation updates the job and the dead-letter row in one
// transaction).
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, user_id, project_id, status,
			progress, retry_count,
			credits_reserved,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		job.ID,
		job.UserID,
		job.ProjectID,
		job.Status,
		job.Progress,
		job.RetryCount,
		job.CreditsReserved,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	var job Job
	args := GetJobScanArgs()
	targets := GetJobScanTargets(&job, args)

	err := s.db.QueryRow(query, id).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	ProcessJobScanArgs(&job, args)
	return &job, nil
}

// UpdateJob persists the mutable fields of an existing job.
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?,
		    progress = ?,
		    retry_count = ?,
		    error_code = ?,
		    error_message = ?,
		    credits_final = ?,
		    worker_id = ?,
		    lease_expires_at = ?,
		    next_retry_at = ?,
		    started_at = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	errorCode := sql.NullString{String: job.ErrorCode, Valid: job.ErrorCode != ""}
	errorMessage := sql.NullString{String: job.ErrorMessage, Valid: job.ErrorMessage != ""}
	workerID := sql.NullString{String: job.WorkerID, Valid: job.WorkerID != ""}

	var creditsFinal sql.NullInt64
	if job.CreditsFinal != nil {
		creditsFinal = sql.NullInt64{Int64: *job.CreditsFinal, Valid: true}
	}

	result, err := s.db.Exec(query,
		job.Status,
		job.Progress,
		job.RetryCount,
		errorCode,
		errorMessage,
		creditsFinal,
		workerID,
		nullTime(job.LeaseExpiresAt),
		nullTime(job.NextRetryAt),
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job not found: %s", job.ID)
	}

	return nil
}

// claimEligibleWhere selects jobs a worker may take: fresh queued jobs,
// failed jobs whose retry is due, and mid-pipeline jobs abandoned by a
// crashed or wedged worker. A live lease blocks every branch, so a job
// claimed but not yet advanced out of queued cannot be claimed twice.
const claimEligibleWhere = `
	(lease_expires_at IS NULL OR lease_expires_at < ?)
	AND (
	    status = 'queued'
	    OR (status = 'failed'
	        AND retry_count <= ?
	        AND (next_retry_at IS NULL OR next_retry_at <= ?))
	    OR status NOT IN ('queued', 'ready', 'failed', 'dead_lettered')
	)
`

// ClaimNext atomically claims the oldest eligible job for a worker. The
// select and the lease write happen in one transaction so two workers
// never claim the same job. Returns nil, nil when no job is eligible.
func (s *Store) ClaimNext(workerID string, leaseDuration time.Duration, maxRetries int) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE ` + claimEligibleWhere + `
		ORDER BY created_at ASC
		LIMIT 1`

	var job Job
	args := GetJobScanArgs()
	targets := GetJobScanTargets(&job, args)

	err = tx.QueryRow(query, now, maxRetries, now).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select claimable job")
	}
	ProcessJobScanArgs(&job, args)

	leaseExpires := now.Add(leaseDuration)
	startedAt := job.StartedAt
	if startedAt == nil {
		startedAt = &now
	}

	_, err = tx.Exec(`
		UPDATE jobs
		SET worker_id = ?,
		    lease_expires_at = ?,
		    started_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		workerID, leaseExpires, startedAt, now, job.ID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lease job")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}

	job.WorkerID = workerID
	job.LeaseExpiresAt = &leaseExpires
	job.StartedAt = startedAt
	job.UpdatedAt = now
	return &job, nil
}

// RenewLease extends the worker's lease on a job it still owns. Returns
// ErrConflict when another worker has taken the job over.
func (s *Store) RenewLease(jobID, workerID string, leaseDuration time.Duration) error {
	now := time.Now()
	result, err := s.db.Exec(`
		UPDATE jobs
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND worker_id = ?`,
		now.Add(leaseDuration), now, jobID, workerID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to renew lease")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check lease renewal")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrConflict, "lease lost for job %s", jobID)
	}

	return nil
}

// ReleaseJob gives up the worker's claim without changing retry accounting.
// Used on graceful shutdown so another worker can resume from the
// checkpoint immediately instead of waiting for the lease to lapse.
func (s *Store) ReleaseJob(jobID, workerID string) error {
	_, err := s.db.Exec(`
		UPDATE jobs
		SET worker_id = NULL, lease_expires_at = NULL, status = 'queued', updated_at = ?
		WHERE id = ? AND worker_id = ? AND status NOT IN ('ready', 'failed', 'dead_lettered')`,
		time.Now(), jobID, workerID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to release job")
	}
	return nil
}

// RequeueAbandoned clears leases left behind by workers that died without
// releasing. Run at worker pool startup. Returns the number of jobs
// recovered.
func (s *Store) RequeueAbandoned() (int64, error) {
	now := time.Now()
	result, err := s.db.Exec(`
		UPDATE jobs
		SET worker_id = NULL, lease_expires_at = NULL, status = 'queued', updated_at = ?
		WHERE status NOT IN ('queued', 'ready', 'failed', 'dead_lettered')
		  AND (lease_expires_at IS NULL OR lease_expires_at < ?)`,
		now, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to requeue abandoned jobs")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count requeued jobs")
	}
	return affected, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(status *Status, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListUserJobs returns a user's jobs newest first.
func (s *Store) ListUserJobs(userID string, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// Stats returns job counts grouped by status.
func (s *Store) Stats() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query job stats")
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job stats")
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job stats")
	}
	return stats, nil
}

// CleanupOld deletes terminal jobs finished before the cutoff. Checkpoints
// go with them via foreign key cascade. Returns the number deleted.
func (s *Store) CleanupOld(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN ('ready', 'dead_lettered')
		  AND finished_at IS NOT NULL
		  AND finished_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cleaned up jobs")
	}
	return affected, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
