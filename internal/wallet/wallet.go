// Package wallet is the booking core's view of the external wallet ledger:
// balance reads plus idempotent debits and credits.
package wallet

import "context"

// Reason labels a ledger entry.
type Reason string

const (
	ReasonBookingFee Reason = "booking-fee"
	ReasonRefund     Reason = "refund"
)

// Entry is one ledger line. Amount is negative for debits.
type Entry struct {
	AccountID        string `json:"account_id"`
	Amount           int64  `json:"amount"`
	Reason           Reason `json:"reason"`
	IdempotencyKey   string `json:"idempotency_key"`
	RelatedBookingID string `json:"related_booking_id,omitempty"`
}

// Mutation is a debit or credit request.
type Mutation struct {
	UserID           string
	Amount           int64
	IdempotencyKey   string
	Reason           Reason
	RelatedBookingID string
}

// Service is the external wallet ledger. Debit and Credit must be idempotent
// on IdempotencyKey: replaying a key returns success without a second entry.
// Debit reports an apperr.KindInsufficientFunds error when the balance is short.
type Service interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, m Mutation) error
	Credit(ctx context.Context, m Mutation) error
	// Entry looks up a ledger entry by idempotency key; found=false when absent.
	Entry(ctx context.Context, idempotencyKey string) (*Entry, bool, error)
}

// DebitKey is the idempotency key of a booking's fee debit.
func DebitKey(bookingID string) string { return bookingID }

// RefundKey is the idempotency key of a booking's refund credit.
func RefundKey(bookingID string) string { return bookingID + "-refund" }
