package ledger

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/errors"
)

// Store handles persistence of credit ledger entries.
//
// Every mutating call is a single transaction. SQLite serializes writers,
// so the balance check inside Reserve and the reserve lookup inside
// Finalize are atomic with their writes even under concurrent callers.
type Store struct {
	db *sql.DB
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Reserve atomically checks the user's balance and holds amount credits
// against the job. Returns the reservation entry ID, or ErrInsufficientFunds
// with no side effects when the balance cannot cover the amount.
func (s *Store) Reserve(userID, jobID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", errors.Newf("reservation amount must be positive, got %d", amount)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", errors.Wrap(err, "failed to begin reserve transaction")
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		return "", errors.Wrap(err, "failed to read balance")
	}

	if balance < amount {
		err := errors.Wrapf(errors.ErrInsufficientFunds, "balance %d, need %d", balance, amount)
		err = errors.WithDetailf(err, "User ID: %s", userID)
		err = errors.WithDetailf(err, "Job ID: %s", jobID)
		return "", err
	}

	entryID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO credit_ledger (id, user_id, entry_type, amount, job_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entryID, userID, EntryReserve, -amount, jobID, "reserved at job admission", time.Now(),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to insert reserve entry")
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit reservation")
	}

	return entryID, nil
}

// Finalize converts the job's outstanding reservation into usage, refunding
// any unused portion. Idempotent per job: when no outstanding reserve entry
// exists this is a no-op success, so finalizing twice (or finalizing a job
// that never reserved) is safe.
//
// The reserve entry's type is rewritten to usage in place; its amount is
// untouched so the refund entry keeps the job's entries summing to
// -finalCost and the observable balance lands at initialBalance - finalCost.
func (s *Store) Finalize(userID, jobID string, finalCost int64) error {
	if finalCost < 0 {
		finalCost = 0
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin finalize transaction")
	}
	defer tx.Rollback()

	var reserveID string
	var reserved int64
	err = tx.QueryRow(`
		SELECT id, -amount FROM credit_ledger
		WHERE job_id = ? AND entry_type = ?`,
		jobID, EntryReserve,
	).Scan(&reserveID, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // already finalized, or never reserved
	}
	if err != nil {
		return errors.Wrapf(err, "failed to look up reservation for job %s", jobID)
	}

	// A job can never be charged more than it reserved.
	if finalCost > reserved {
		finalCost = reserved
	}

	_, err = tx.Exec(`UPDATE credit_ledger SET entry_type = ?, note = ? WHERE id = ?`,
		EntryUsage, "finalized", reserveID)
	if err != nil {
		return errors.Wrap(err, "failed to convert reservation to usage")
	}

	if refund := reserved - finalCost; refund > 0 {
		_, err = tx.Exec(`
			INSERT INTO credit_ledger (id, user_id, entry_type, amount, job_id, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), userID, EntryRefund, refund, jobID, "unused reservation refunded", time.Now(),
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert refund entry")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit finalization for job %s", jobID)
	}

	return nil
}

// Balance returns the sum of all ledger entries for a user. Never negative
// by construction given Reserve's atomic balance check.
func (s *Store) Balance(userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read balance for user %s", userID)
	}
	return balance, nil
}

// Purchase appends a positive purchase entry. The idempotency key, when
// supplied, makes repeated webhook deliveries append at most one entry.
func (s *Store) Purchase(userID string, amount int64, idempotencyKey, note string) (string, error) {
	if amount <= 0 {
		return "", errors.Newf("purchase amount must be positive, got %d", amount)
	}

	entryID := uuid.NewString()
	var key interface{}
	if idempotencyKey != "" {
		key = idempotencyKey
	}

	_, err := s.db.Exec(`
		INSERT INTO credit_ledger (id, user_id, entry_type, amount, idempotency_key, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entryID, userID, EntryPurchase, amount, key, note, time.Now(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", errors.Wrapf(errors.ErrConflict, "purchase with idempotency key %s already recorded", idempotencyKey)
		}
		return "", errors.Wrap(err, "failed to insert purchase entry")
	}

	return entryID, nil
}

// AdminAdjust appends a signed manual adjustment entry.
func (s *Store) AdminAdjust(userID string, amount int64, note string) (string, error) {
	entryID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO credit_ledger (id, user_id, entry_type, amount, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entryID, userID, EntryAdminAdjust, amount, note, time.Now(),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to insert adjustment entry")
	}
	return entryID, nil
}

// EntriesForJob returns all ledger entries tied to a job, oldest first.
func (s *Store) EntriesForJob(jobID string) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, entry_type, amount, job_id, idempotency_key, note, created_at
		FROM credit_ledger
		WHERE job_id = ?
		ORDER BY created_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list entries for job %s", jobID)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var job, key, note sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.Amount, &job, &key, &note, &entry.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		entry.JobID = job.String
		entry.IdempotencyKey = key.String
		entry.Note = note.String
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating ledger entries")
	}

	return entries, nil
}

// OutstandingReservation reports the reserved amount still held for a job,
// or ok=false when the job has no open reservation.
func (s *Store) OutstandingReservation(jobID string) (amount int64, ok bool, err error) {
	err = s.db.QueryRow(`
		SELECT -amount FROM credit_ledger
		WHERE job_id = ? AND entry_type = ?`,
		jobID, EntryReserve,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to look up reservation for job %s", jobID)
	}
	return amount, true, nil
}
