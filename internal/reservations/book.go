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
	"github.com/wolfman30/consult-escrow/internal/slots"
)

// BookRequest asks for one slot. Fee is optional: the doctor's consultation
// fee applies, and a non-zero Fee must match it.
type BookRequest struct {
	DoctorID   string        `json:"doctor_id"`
	PatientID  string        `json:"patient_id"`
	Date       string        `json:"date"`
	Time       string        `json:"time"`
	Type       bookings.Type `json:"type"`
	Reason     string        `json:"reason,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	Fee        int64         `json:"fee"`
	IsFollowUp bool          `json:"is_follow_up"`
}

// BookingCoordinator reserves a slot and escrows its fee.
type BookingCoordinator struct {
	core
}

func NewBookingCoordinator(deps Deps, opts Options) *BookingCoordinator {
	if deps.Calculator == nil {
		panic("reservations: slot calculator required")
	}
	if deps.Directory == nil {
		panic("reservations: doctor directory required")
	}
	return &BookingCoordinator{core: newCore(deps, opts)}
}

// Book validates req locally, checks the balance, creates the booking (the
// backend's uniqueness check decides contention) and debits the fee under the
// booking id. A failed debit is compensated by releasing the booking and, if
// the debit may have landed, refunding it.
func (c *BookingCoordinator) Book(ctx context.Context, req BookRequest) (*bookings.Booking, error) {
	ctx, span := tracer.Start(ctx, "reservations.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("consult.doctor_id", req.DoctorID),
		attribute.String("consult.patient_id", req.PatientID),
		attribute.String("consult.slot", req.Date+" "+req.Time),
		attribute.Int64("consult.fee", req.Fee),
	)

	started := time.Now()
	booking, err := c.book(ctx, req)
	c.deps.Metrics.ObserveBooking(outcome(err))
	c.deps.Metrics.ObserveStep("book", time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("consult.booking_id", booking.ID))
	return booking, nil
}

func (c *BookingCoordinator) book(ctx context.Context, req BookRequest) (*bookings.Booking, error) {
	req, err := c.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if req, err = c.resolveFee(ctx, req); err != nil {
		return nil, err
	}
	log := c.deps.Logger.With("doctor_id", req.DoctorID, "patient_id", req.PatientID, "date", req.Date, "time", req.Time)

	if req.Fee > 0 {
		balance, err := c.deps.Wallet.Balance(ctx, req.PatientID)
		if err != nil {
			return nil, err
		}
		if balance < req.Fee {
			return nil, apperr.New(apperr.KindInsufficientFunds, "reservations.book",
				"balance %d below fee %d", balance, req.Fee)
		}
	}

	booking, err := c.create(ctx, req)
	if err != nil {
		log.Info("booking create rejected", "error", err)
		return nil, err
	}
	log = log.With("booking_id", booking.ID)

	if req.Fee == 0 {
		c.announceBooked(ctx, booking)
		return booking, nil
	}

	// The saga and compensation must outlive a caller that gives up.
	sagaCtx := context.WithoutCancel(ctx)
	if err := c.deps.Sagas.Begin(sagaCtx, saga.Record{
		BookingID: booking.ID,
		Kind:      saga.KindBook,
		Status:    saga.StatusReserved,
		PatientID: booking.PatientID,
		DoctorID:  booking.DoctorID,
		Fee:       booking.Fee,
	}); err != nil {
		log.Error("saga begin failed, releasing booking", "error", err)
		return nil, c.compensate(sagaCtx, booking, apperr.Wrap(apperr.KindUnavailable, "saga.begin", err), false)
	}

	if err := c.deps.Wallet.ChargeBookingFee(ctx, booking.PatientID, booking.ID, booking.Fee); err != nil {
		log.Warn("debit failed, compensating", "error", err)
		return nil, c.compensate(sagaCtx, booking, err, apperr.Ambiguous(err))
	}

	c.advance(sagaCtx, booking.ID, saga.KindBook, saga.StatusCompleted, nil)
	log.Info("booking committed", "fee", booking.Fee)
	c.announceBooked(ctx, booking)
	return booking, nil
}

// create submits the booking. When the outcome is unknown (timeout, network)
// the slot is queried: if this patient already holds it, the create landed.
func (c *BookingCoordinator) create(ctx context.Context, req BookRequest) (*bookings.Booking, error) {
	callCtx, cancel := c.callCtx(ctx)
	booking, err := c.deps.Backend.CreateBooking(callCtx, bookings.CreateParams{
		DoctorID:   req.DoctorID,
		PatientID:  req.PatientID,
		Date:       req.Date,
		Time:       req.Time,
		Type:       req.Type,
		Fee:        req.Fee,
		IsFollowUp: req.IsFollowUp,
		Reason:     req.Reason,
		Notes:      req.Notes,
	})
	cancel()
	if err == nil {
		return booking, nil
	}
	err = apperr.FromCall("bookings.create", err)
	if !apperr.Ambiguous(err) {
		return nil, err
	}

	lookupCtx, cancel := c.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	held, found, lookupErr := c.deps.Backend.FindActive(lookupCtx, req.DoctorID, req.Date, req.Time)
	if lookupErr != nil {
		c.deps.Logger.Error("create outcome unknown and slot lookup failed",
			"doctor_id", req.DoctorID, "date", req.Date, "time", req.Time, "error", lookupErr)
		return nil, err
	}
	if found && held.PatientID == req.PatientID && held.Status == bookings.StatusPending && held.Fee == req.Fee {
		c.deps.Logger.Info("create outcome recovered from slot lookup", "booking_id", held.ID)
		return held, nil
	}
	return nil, err
}

// compensate undoes a reserved booking whose debit failed. It releases the
// booking first and only then refunds, when the debit may have landed. If it
// cannot finish, the booking is flagged for the repair worker.
func (c *BookingCoordinator) compensate(ctx context.Context, b *bookings.Booking, cause error, ambiguous bool) error {
	log := c.deps.Logger.With("booking_id", b.ID)
	c.advance(ctx, b.ID, saga.KindBook, saga.StatusCompensating, cause)

	_, releaseErr := c.release(ctx, b.ID)
	var refundErr error
	if releaseErr == nil && ambiguous {
		applied, err := c.debitApplied(ctx, b.ID)
		switch {
		case err != nil:
			refundErr = err
		case applied:
			refundErr = c.refund(ctx, b.PatientID, b.ID, b.Fee)
		}
	}

	if releaseErr != nil || refundErr != nil {
		callCtx, cancel := c.callCtx(ctx)
		if err := c.deps.Backend.MarkNeedsReconciliation(callCtx, b.ID); err != nil {
			log.Error("mark needs reconciliation failed", "error", err)
		}
		cancel()
		c.advance(ctx, b.ID, saga.KindBook, saga.StatusNeedsReconciliation, firstErr(releaseErr, refundErr))
		c.deps.Metrics.ObserveCompensation("failed")
		log.Error("compensation exhausted", "release_error", releaseErr, "refund_error", refundErr)
		return reconciliationNeeded("reservations.book", b.ID, cause, releaseErr, refundErr)
	}

	c.advance(ctx, b.ID, saga.KindBook, saga.StatusCompensated, nil)
	c.deps.Metrics.ObserveCompensation("compensated")
	log.Info("booking compensated", "ambiguous_debit", ambiguous)
	return cause
}

func (c *BookingCoordinator) announceBooked(ctx context.Context, b *bookings.Booking) {
	c.announce(ctx, b, b.PatientID, b.DoctorID, relay.EventBooked, notify.Notification{
		ReceiverID: b.DoctorID,
		Title:      "New consultation booked",
		Content:    fmt.Sprintf("A %s consultation was booked for %s at %s.", b.Type, b.Date, b.Time),
		Type:       notify.TypeBookingCreated,
		Metadata: map[string]string{
			"booking_id": b.ID,
			"patient_id": b.PatientID,
			"date":       b.Date,
			"time":       b.Time,
		},
	})
}

// validate checks everything that can be checked without the booking backend
// or the wallet. The shift lookup degrades to the default window.
func (c *BookingCoordinator) validate(ctx context.Context, req BookRequest) (BookRequest, error) {
	const op = "reservations.book"
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	if req.DoctorID == "" || req.PatientID == "" || req.Date == "" || req.Time == "" {
		return req, apperr.Validation(op, "doctor, patient, date and time are required")
	}
	if req.Type == "" {
		req.Type = bookings.TypeOnsite
	}
	if !req.Type.Valid() {
		return req, apperr.Validation(op, "unknown consultation type %q", req.Type)
	}
	if req.Fee < 0 {
		return req, apperr.Validation(op, "fee must not be negative")
	}

	calc := c.deps.Calculator
	day, err := bookings.ParseDate(req.Date, calc.Location())
	if err != nil {
		return req, apperr.Validation(op, "%v", err)
	}
	clock, err := bookings.ParseClock(req.Time)
	if err != nil {
		return req, apperr.Validation(op, "%v", err)
	}

	now := calc.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if day.Before(today) {
		return req, apperr.Validation(op, "date %s is in the past", req.Date)
	}
	if day.After(today.AddDate(0, 0, c.opts.HorizonDays)) {
		return req, apperr.Validation(op, "date %s is more than %d days ahead", req.Date, c.opts.HorizonDays)
	}
	if slots.SameDay(day, now) && slots.Elapsed(clock, now) {
		return req, apperr.Validation(op, "time %s has already passed", req.Time)
	}

	start, end := calc.Window(ctx, req.DoctorID, req.Date)
	if !calc.Fits(start, end, clock) {
		return req, apperr.OutOfHours(op, "%s is outside %s-%s", req.Time,
			bookings.FormatClock(start), bookings.FormatClock(end))
	}
	return req, nil
}

// resolveFee sets the fee from the doctor's consultation fee. A follow-up is
// free only after a completed consultation with the same doctor.
func (c *BookingCoordinator) resolveFee(ctx context.Context, req BookRequest) (BookRequest, error) {
	const op = "reservations.book"
	callCtx, cancel := c.callCtx(ctx)
	doc, err := c.deps.Directory.Doctor(callCtx, req.DoctorID)
	cancel()
	if err != nil {
		return req, apperr.FromCall("directory.doctor", err)
	}

	fee := doc.ConsultationFee
	if req.IsFollowUp {
		callCtx, cancel := c.callCtx(ctx)
		prior, err := c.deps.Backend.ListUpcoming(callCtx, bookings.Filter{
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Statuses:  []bookings.Status{bookings.StatusCompleted},
			Limit:     1,
		})
		cancel()
		if err != nil {
			return req, apperr.FromCall("bookings.list", err)
		}
		if len(prior) == 0 {
			return req, apperr.Validation(op, "no completed consultation with doctor %s to follow up", req.DoctorID)
		}
		fee = 0
	}
	if req.Fee != 0 && req.Fee != fee {
		return req, apperr.Validation(op, "fee %d does not match the consultation fee %d", req.Fee, fee)
	}
	req.Fee = fee
	return req, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
