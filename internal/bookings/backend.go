package bookings

import "context"

// Backend is the authoritative booking store. Implementations must enforce the
// one-holding-booking-per-slot rule inside CreateBooking and report a violation
// as an apperr.KindConflict error.
type Backend interface {
	CreateBooking(ctx context.Context, p CreateParams) (*Booking, error)
	GetBooking(ctx context.Context, id string) (*Booking, error)
	// FindActive returns the booking currently holding the slot, if any.
	FindActive(ctx context.Context, doctorID, date, clock string) (*Booking, bool, error)
	ListUpcoming(ctx context.Context, f Filter) ([]Booking, error)
	// CancelBooking is idempotent: cancelling a cancelled booking succeeds.
	CancelBooking(ctx context.Context, id string) (*Booking, error)
	MarkNeedsReconciliation(ctx context.Context, id string) error
}

// Directory exposes doctor reference data and shifts.
type Directory interface {
	Doctor(ctx context.Context, id string) (*Doctor, error)
	// Shift returns found=false when the doctor has no shift on date.
	Shift(ctx context.Context, doctorID, date string) (Shift, bool, error)
	ShiftsOn(ctx context.Context, date string, doctorIDs []string) ([]Shift, error)
}
