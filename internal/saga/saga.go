// Package saga records the progress of multi-step booking operations so an
// interrupted book or cancel can be finished or undone later.
package saga

import (
	"context"
	"time"
)

// Kind names the operation a record tracks.
type Kind string

const (
	KindBook   Kind = "book"
	KindCancel Kind = "cancel"
)

// Status is the step a saga last reached.
type Status string

const (
	StatusReserved            Status = "reserved"
	StatusDebited             Status = "debited"
	StatusCompleted           Status = "completed"
	StatusCompensating        Status = "compensating"
	StatusCompensated         Status = "compensated"
	StatusRefundPending       Status = "refund_pending"
	StatusNeedsReconciliation Status = "needs_reconciliation"
)

// Terminal reports whether no further repair applies.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// RepairableStatuses are the non-terminal states the worker picks up.
func RepairableStatuses() []Status {
	return []Status{StatusReserved, StatusDebited, StatusCompensating, StatusRefundPending, StatusNeedsReconciliation}
}

// Record is one saga row, keyed by (BookingID, Kind).
type Record struct {
	BookingID string
	Kind      Kind
	Status    Status
	PatientID string
	DoctorID  string
	Fee       int64
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ledger persists saga records.
type Ledger interface {
	// Begin creates the record, or resets status on an existing one.
	Begin(ctx context.Context, rec Record) error
	// Advance moves a saga to status. A non-nil cause is stored and bumps Attempts.
	Advance(ctx context.Context, bookingID string, kind Kind, status Status, cause error) error
	Get(ctx context.Context, bookingID string, kind Kind) (*Record, bool, error)
	// ListRepairable returns non-terminal sagas untouched since staleBefore, oldest first.
	ListRepairable(ctx context.Context, staleBefore time.Time, limit int) ([]Record, error)
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
