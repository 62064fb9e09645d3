package reservations

import (
	"context"
	"errors"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/saga"
)

// Repairer finishes sagas left behind by a crash or an exhausted
// compensation. Every step is idempotent, so repairing twice is harmless.
type Repairer struct {
	core
}

func NewRepairer(deps Deps, opts Options) *Repairer {
	return &Repairer{core: newCore(deps, opts)}
}

func (r *Repairer) Repair(ctx context.Context, rec saga.Record) error {
	ctx, span := tracer.Start(ctx, "reservations.repair")
	defer span.End()

	var err error
	switch rec.Kind {
	case saga.KindBook:
		err = r.repairBook(ctx, rec)
	case saga.KindCancel:
		err = r.repairCancel(ctx, rec)
	default:
		err = apperr.New(apperr.KindInternal, "reservations.repair", "unknown saga kind %q", rec.Kind)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *Repairer) repairBook(ctx context.Context, rec saga.Record) error {
	switch rec.Status {
	case saga.StatusDebited:
		r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompleted, nil)
		return nil
	case saga.StatusReserved:
		// Interrupted between reservation and the end of the debit.
		applied, err := r.debitApplied(ctx, rec.BookingID)
		if err != nil {
			return err
		}
		if !applied {
			return r.undoBooking(ctx, rec, false)
		}
		callCtx, cancel := r.callCtx(ctx)
		b, err := r.deps.Backend.GetBooking(callCtx, rec.BookingID)
		cancel()
		if err != nil {
			return apperr.FromCall("bookings.get", err)
		}
		if b.Status == bookings.StatusCancelled {
			return r.refundCancelled(ctx, rec)
		}
		r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompleted, nil)
		r.deps.Logger.Info("stale booking saga completed", "booking_id", rec.BookingID)
		return nil
	case saga.StatusCompensating, saga.StatusNeedsReconciliation:
		return r.undoBooking(ctx, rec, true)
	default:
		return nil
	}
}

// undoBooking releases the slot and refunds the fee when the debit landed.
func (r *Repairer) undoBooking(ctx context.Context, rec saga.Record, checkDebit bool) error {
	if _, err := r.release(ctx, rec.BookingID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		if errors.Is(err, apperr.ErrInvalidState) {
			// Completed in the meantime: the consultation happened, keep the fee.
			r.deps.Logger.Warn("booking no longer releasable, keeping fee", "booking_id", rec.BookingID, "error", err)
			r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompleted, nil)
			return nil
		}
		return err
	}
	if checkDebit {
		applied, err := r.debitApplied(ctx, rec.BookingID)
		if err != nil {
			return err
		}
		if applied {
			if err := r.refund(ctx, rec.PatientID, rec.BookingID, rec.Fee); err != nil {
				return err
			}
		}
	}
	r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompensated, nil)
	r.deps.Metrics.ObserveCompensation("repaired")
	r.deps.Logger.Info("booking saga compensated by repair", "booking_id", rec.BookingID)
	return nil
}

// refundCancelled settles a booking that was cancelled before its debit
// landed. The refund key is per booking, so a cancel saga settled earlier
// cannot be credited twice.
func (r *Repairer) refundCancelled(ctx context.Context, rec saga.Record) error {
	amount := rec.Fee
	cancelRec, found, err := r.deps.Sagas.Get(ctx, rec.BookingID, saga.KindCancel)
	if err != nil {
		return err
	}
	if found {
		amount = cancelRec.Fee
	}
	if amount > 0 {
		if err := r.refund(ctx, rec.PatientID, rec.BookingID, amount); err != nil {
			return err
		}
	}
	if found && cancelRec.Status != saga.StatusCompleted {
		r.advance(ctx, rec.BookingID, saga.KindCancel, saga.StatusCompleted, nil)
	}
	r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompensated, nil)
	r.deps.Metrics.ObserveCompensation("repaired")
	r.deps.Logger.Info("late debit of cancelled booking compensated", "booking_id", rec.BookingID, "amount", amount)
	return nil
}

func (r *Repairer) repairCancel(ctx context.Context, rec saga.Record) error {
	switch rec.Status {
	case saga.StatusRefundPending, saga.StatusNeedsReconciliation:
	default:
		return nil
	}
	callCtx, cancel := r.callCtx(ctx)
	b, err := r.deps.Backend.GetBooking(callCtx, rec.BookingID)
	cancel()
	if err != nil {
		return apperr.FromCall("bookings.get", err)
	}
	if b.Status != bookings.StatusCancelled {
		return apperr.New(apperr.KindInvalidState, "reservations.repair", "refund pending for %s booking %s", b.Status, b.ID)
	}
	collected, _, err := r.feeCollected(ctx, rec.BookingID)
	if err != nil {
		return err
	}
	if !collected {
		r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompleted, nil)
		r.deps.Logger.Info("no fee collected, nothing to refund", "booking_id", rec.BookingID)
		return nil
	}
	if err := r.refund(ctx, rec.PatientID, rec.BookingID, rec.Fee); err != nil {
		return err
	}
	r.advance(ctx, rec.BookingID, rec.Kind, saga.StatusCompleted, nil)
	r.deps.Metrics.ObserveCompensation("repaired")
	r.deps.Logger.Info("pending refund credited by repair", "booking_id", rec.BookingID, "amount", rec.Fee)
	return nil
}

var _ saga.Repairer = (*Repairer)(nil)
