// Package reservations coordinates slot reservation with fee escrow. A booking
// and its wallet debit are separate remote writes, so every multi-step
// operation is tracked in the saga ledger and compensated on failure.
package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/calls"
	"github.com/wolfman30/consult-escrow/internal/notify"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/retry"
	"github.com/wolfman30/consult-escrow/internal/saga"
	"github.com/wolfman30/consult-escrow/internal/slots"
	"github.com/wolfman30/consult-escrow/internal/wallet"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

var tracer = otel.Tracer("consult.internal.reservations")

// Deps are the collaborators shared by the coordinators. Relay, Notifier and
// Metrics are optional. Directory and Calculator are needed for booking only.
type Deps struct {
	Backend    bookings.Backend
	Directory  bookings.Directory
	Calculator *slots.Calculator
	Wallet     *wallet.LedgerClient
	Sagas      saga.Ledger
	Relay      relay.Relay
	Notifier   notify.Gateway
	Metrics    *metrics.BookingMetrics
	Logger     *logging.Logger
}

// Options are the booking rules and failure policy.
type Options struct {
	HorizonDays  int
	CallTimeout  time.Duration
	Compensation retry.Policy
}

func (o Options) normalized() Options {
	if o.HorizonDays <= 0 {
		o.HorizonDays = 30
	}
	if o.Compensation.Attempts <= 0 {
		o.Compensation = retry.DefaultPolicy()
	}
	return o
}

// core holds the plumbing both coordinators and the repairer use.
type core struct {
	deps Deps
	opts Options
}

func newCore(deps Deps, opts Options) core {
	if deps.Backend == nil {
		panic("reservations: booking backend required")
	}
	if deps.Wallet == nil {
		panic("reservations: wallet client required")
	}
	if deps.Sagas == nil {
		panic("reservations: saga ledger required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return core{deps: deps, opts: opts.normalized()}
}

func (c core) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.CallTimeout)
}

// release cancels the booking with retry. CancelBooking is idempotent, so a
// replay after an ambiguous failure is safe.
func (c core) release(ctx context.Context, bookingID string) (*bookings.Booking, error) {
	var released *bookings.Booking
	err := retry.Do(ctx, c.opts.Compensation, func(ctx context.Context) error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		b, err := c.deps.Backend.CancelBooking(callCtx, bookingID)
		if err != nil {
			return apperr.FromCall("bookings.cancel", err)
		}
		released = b
		return nil
	})
	return released, err
}

// refund credits amount under the booking's refund key, with retry.
func (c core) refund(ctx context.Context, patientID, bookingID string, amount int64) error {
	return retry.Do(ctx, c.opts.Compensation, func(ctx context.Context) error {
		return c.deps.Wallet.RefundBooking(ctx, patientID, bookingID, amount)
	})
}

// debitApplied asks the ledger whether the booking's debit landed, with retry.
func (c core) debitApplied(ctx context.Context, bookingID string) (bool, error) {
	var applied bool
	err := retry.Do(ctx, c.opts.Compensation, func(ctx context.Context) error {
		var err error
		applied, err = c.deps.Wallet.DebitApplied(ctx, bookingID)
		return err
	})
	return applied, err
}

// feeCollected reports whether the booking's fee debit landed. A book saga
// that got past the debit answers without asking the ledger. The book saga
// is returned when one exists.
func (c core) feeCollected(ctx context.Context, bookingID string) (bool, *saga.Record, error) {
	rec, found, err := c.deps.Sagas.Get(ctx, bookingID, saga.KindBook)
	if err != nil {
		c.deps.Logger.Warn("book saga lookup failed, asking the ledger", "booking_id", bookingID, "error", err)
		found = false
	}
	if !found {
		rec = nil
	}
	if rec != nil && (rec.Status == saga.StatusDebited || rec.Status == saga.StatusCompleted) {
		return true, rec, nil
	}
	applied, err := c.debitApplied(ctx, bookingID)
	if err != nil {
		return false, rec, err
	}
	return applied, rec, nil
}

func (c core) advance(ctx context.Context, bookingID string, kind saga.Kind, status saga.Status, cause error) {
	if err := c.deps.Sagas.Advance(ctx, bookingID, kind, status, cause); err != nil {
		c.deps.Logger.Error("saga advance failed", "booking_id", bookingID, "kind", kind, "status", status, "error", err)
	}
}

// announce sends the best-effort notification and relay signal that follow a
// committed change. Failures are logged and counted only.
func (c core) announce(ctx context.Context, b *bookings.Booking, sender, receiver string, typ relay.EventType, n notify.Notification) {
	if c.deps.Notifier != nil {
		callCtx, cancel := c.callCtx(ctx)
		if err := c.deps.Notifier.Create(callCtx, n); err != nil {
			c.deps.Logger.Warn("notification failed", "booking_id", b.ID, "receiver_id", n.ReceiverID, "error", err)
		}
		cancel()
	}
	if c.deps.Relay != nil {
		callCtx, cancel := c.callCtx(ctx)
		err := c.deps.Relay.Publish(callCtx, relay.SignalEvent{
			RoomID:     calls.RoomKey(b.DoctorID, b.PatientID),
			SenderID:   sender,
			ReceiverID: receiver,
			Type:       typ,
			StatusText: string(b.Status),
			Timestamp:  time.Now().UTC(),
		})
		cancel()
		c.deps.Metrics.ObserveSignal(string(typ), err == nil)
		if err != nil {
			c.deps.Logger.Warn("signal publish failed", "booking_id", b.ID, "type", typ, "error", err)
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

func reconciliationNeeded(op string, bookingID string, errs ...error) error {
	return &apperr.Error{
		Kind: apperr.KindReconciliationNeeded,
		Op:   op,
		Msg:  fmt.Sprintf("booking %s queued for repair", bookingID),
		Err:  errors.Join(errs...),
	}
}
