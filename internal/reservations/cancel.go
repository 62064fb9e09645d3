package reservations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/notify"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/saga"
)

// RefundPolicy decides how much of the fee goes back on cancellation.
type RefundPolicy interface {
	RefundAmount(b *bookings.Booking, actorID string, now time.Time) int64
}

// FullRefund returns the whole fee.
type FullRefund struct{}

func (FullRefund) RefundAmount(b *bookings.Booking, _ string, _ time.Time) int64 { return b.Fee }

// Ack is the result of a cancellation.
type Ack struct {
	Booking  *bookings.Booking `json:"booking"`
	Refunded int64             `json:"refunded"`
}

// CancellationCoordinator cancels bookings and refunds their fee.
type CancellationCoordinator struct {
	core
	policy RefundPolicy
	now    func() time.Time
}

func NewCancellationCoordinator(deps Deps, opts Options, policy RefundPolicy) *CancellationCoordinator {
	if policy == nil {
		policy = FullRefund{}
	}
	return &CancellationCoordinator{core: newCore(deps, opts), policy: policy, now: time.Now}
}

// Cancel moves the booking to cancelled and then credits the refund under
// bookingID+"-refund". The credit never precedes the state change.
func (c *CancellationCoordinator) Cancel(ctx context.Context, bookingID, actorID string) (*Ack, error) {
	ctx, span := tracer.Start(ctx, "reservations.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("consult.booking_id", bookingID))

	started := time.Now()
	ack, err := c.cancel(ctx, strings.TrimSpace(bookingID), strings.TrimSpace(actorID))
	c.deps.Metrics.ObserveCancellation(outcome(err))
	c.deps.Metrics.ObserveStep("cancel", time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ack, nil
}

func (c *CancellationCoordinator) cancel(ctx context.Context, bookingID, actorID string) (*Ack, error) {
	const op = "reservations.cancel"
	if bookingID == "" || actorID == "" {
		return nil, apperr.Validation(op, "booking id and actor are required")
	}

	callCtx, cancel := c.callCtx(ctx)
	b, err := c.deps.Backend.GetBooking(callCtx, bookingID)
	cancel()
	if err != nil {
		return nil, apperr.FromCall("bookings.get", err)
	}
	if !b.Party(actorID) {
		return nil, apperr.New(apperr.KindForbidden, op, "user is not a party to booking %s", bookingID)
	}
	if !b.Status.Cancellable() {
		return nil, apperr.New(apperr.KindInvalidState, op, "booking %s is %s", bookingID, b.Status)
	}
	log := c.deps.Logger.With("booking_id", b.ID, "actor_id", actorID)
	wasReconciling := b.Status == bookings.StatusNeedsReconciliation

	// Past this point a caller giving up must not strand a cancelled,
	// unrefunded booking.
	ctx = context.WithoutCancel(ctx)
	cancelled, err := c.release(ctx, b.ID)
	if err != nil && apperr.Ambiguous(err) {
		cancelled, err = c.confirmCancelled(ctx, b.ID, err)
	}
	if err != nil {
		log.Warn("cancel rejected", "error", err)
		return nil, err
	}

	amount := c.policy.RefundAmount(cancelled, actorID, c.now())
	if amount > cancelled.Fee {
		amount = cancelled.Fee
	}
	if amount > 0 {
		// Only a fee that reached the ledger is refunded.
		collected, bookSaga, err := c.feeCollected(ctx, b.ID)
		if err != nil {
			return nil, c.refundPending(ctx, cancelled, amount, err)
		}
		if !collected {
			if bookSaga != nil && bookSaga.Status == saga.StatusReserved {
				// The debit may still be in flight. The repairer credits it
				// if it lands.
				c.awaitDebit(ctx, cancelled, amount)
			}
			amount = 0
		}
	}

	if amount > 0 {
		if err := c.deps.Sagas.Begin(ctx, saga.Record{
			BookingID: b.ID,
			Kind:      saga.KindCancel,
			Status:    saga.StatusRefundPending,
			PatientID: cancelled.PatientID,
			DoctorID:  cancelled.DoctorID,
			Fee:       amount,
		}); err != nil {
			log.Error("saga begin failed before refund", "error", err)
		}
		if err := c.refund(ctx, cancelled.PatientID, cancelled.ID, amount); err != nil {
			return nil, c.refundPending(ctx, cancelled, amount, err)
		}
		c.advance(ctx, b.ID, saga.KindCancel, saga.StatusCompleted, nil)
	}
	if wasReconciling {
		c.advance(ctx, b.ID, saga.KindBook, saga.StatusCompensated, nil)
	}

	log.Info("booking cancelled", "refunded", amount)
	counterparty := cancelled.Counterparty(actorID)
	c.announce(ctx, cancelled, actorID, counterparty, relay.EventCancelled, notify.Notification{
		ReceiverID: counterparty,
		Title:      "Consultation cancelled",
		Content:    fmt.Sprintf("The consultation on %s at %s was cancelled.", cancelled.Date, cancelled.Time),
		Type:       notify.TypeBookingCancelled,
		Metadata: map[string]string{
			"booking_id":   cancelled.ID,
			"cancelled_by": actorID,
			"date":         cancelled.Date,
			"time":         cancelled.Time,
		},
	})
	return &Ack{Booking: cancelled, Refunded: amount}, nil
}

// confirmCancelled re-reads the booking after an ambiguous cancel; the write
// may have landed even though the call failed.
func (c *CancellationCoordinator) confirmCancelled(ctx context.Context, bookingID string, cause error) (*bookings.Booking, error) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	b, err := c.deps.Backend.GetBooking(callCtx, bookingID)
	if err != nil || b.Status != bookings.StatusCancelled {
		return nil, cause
	}
	return b, nil
}

// awaitDebit records a refund to be settled by the repairer once the
// booking's debit outcome is final.
func (c *CancellationCoordinator) awaitDebit(ctx context.Context, b *bookings.Booking, amount int64) {
	if err := c.deps.Sagas.Begin(ctx, saga.Record{
		BookingID: b.ID,
		Kind:      saga.KindCancel,
		Status:    saga.StatusRefundPending,
		PatientID: b.PatientID,
		DoctorID:  b.DoctorID,
		Fee:       amount,
	}); err != nil {
		c.deps.Logger.Error("saga begin failed for unsettled debit", "booking_id", b.ID, "error", err)
	}
}

// refundPending parks a cancelled booking whose refund could not be credited.
func (c *CancellationCoordinator) refundPending(ctx context.Context, b *bookings.Booking, amount int64, cause error) error {
	if _, found, _ := c.deps.Sagas.Get(ctx, b.ID, saga.KindCancel); !found {
		if err := c.deps.Sagas.Begin(ctx, saga.Record{
			BookingID: b.ID,
			Kind:      saga.KindCancel,
			Status:    saga.StatusRefundPending,
			PatientID: b.PatientID,
			DoctorID:  b.DoctorID,
			Fee:       amount,
		}); err != nil {
			c.deps.Logger.Error("saga begin failed for pending refund", "booking_id", b.ID, "error", err)
		}
	}
	c.advance(ctx, b.ID, saga.KindCancel, saga.StatusNeedsReconciliation, cause)
	c.deps.Metrics.ObserveCompensation("refund_pending")
	c.deps.Logger.Error("refund exhausted, queued for repair", "booking_id", b.ID, "amount", amount, "error", cause)
	return reconciliationNeeded("reservations.cancel", b.ID, cause)
}
