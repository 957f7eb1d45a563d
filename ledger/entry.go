// Package ledger implements the append-only credit ledger.
//
// A user's balance is the sum of all their entries. Reservations hold
// credits against a job's estimated cost as a negative entry; finalization
// converts the reservation into actual usage exactly once, refunding any
// unused portion.
package ledger

import (
	"time"
)

// EntryType classifies a credit movement
type EntryType string

const (
	EntryPurchase    EntryType = "purchase"
	EntryReserve     EntryType = "reserve"
	EntryUsage       EntryType = "usage"
	EntryRefund      EntryType = "refund"
	EntryAdminAdjust EntryType = "admin_adjust"
)

// Entry is one append-only ledger record. Entries are never mutated or
// deleted, with one exception: finalization rewrites the reserve entry's
// type in place, which is the logical equivalent of a compensating pair.
type Entry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Type           EntryType `json:"entry_type"`
	Amount         int64     `json:"amount"` // signed credits; negative holds or spends
	JobID          string    `json:"job_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
