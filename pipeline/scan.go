package pipeline

import (
	"database/sql"
)

// JobScanArgs holds the nullable column targets needed when scanning a job
// row. Follows the same pattern as the ledger entry scans.
type JobScanArgs struct {
	ErrorCode      sql.NullString
	ErrorMessage   sql.NullString
	CreditsFinal   sql.NullInt64
	WorkerID       sql.NullString
	LeaseExpiresAt sql.NullTime
	NextRetryAt    sql.NullTime
	StartedAt      sql.NullTime
	FinishedAt     sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan targets for the job and its nullable
// columns, in the order of StandardJobSelectColumns.
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.UserID,
		&job.ProjectID,
		&job.Status,
		&job.Progress,
		&job.RetryCount,
		&args.ErrorCode,
		&args.ErrorMessage,
		&job.CreditsReserved,
		&args.CreditsFinal,
		&args.WorkerID,
		&args.LeaseExpiresAt,
		&args.NextRetryAt,
		&job.CreatedAt,
		&args.StartedAt,
		&args.FinishedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable columns into the job.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.ErrorCode.Valid {
		job.ErrorCode = args.ErrorCode.String
	}
	if args.ErrorMessage.Valid {
		job.ErrorMessage = args.ErrorMessage.String
	}
	if args.CreditsFinal.Valid {
		v := args.CreditsFinal.Int64
		job.CreditsFinal = &v
	}
	if args.WorkerID.Valid {
		job.WorkerID = args.WorkerID.String
	}
	if args.LeaseExpiresAt.Valid {
		job.LeaseExpiresAt = &args.LeaseExpiresAt.Time
	}
	if args.NextRetryAt.Valid {
		job.NextRetryAt = &args.NextRetryAt.Time
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.FinishedAt.Valid {
		job.FinishedAt = &args.FinishedAt.Time
	}
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	ProcessJobScanArgs(job, args)
	return nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, user_id, project_id, status,
		progress, retry_count,
		error_code, error_message,
		credits_reserved, credits_final,
		worker_id, lease_expires_at, next_retry_at,
		created_at, started_at, finished_at, updated_at`
}
