package wallet

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

var tracer = otel.Tracer("consult.internal.wallet")

// LedgerClient is the booking core's facade over Service. Every call gets its
// own deadline and booking mutations always carry the booking-derived keys.
type LedgerClient struct {
	svc         Service
	callTimeout time.Duration
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
}

// NewLedgerClient wraps svc. A zero callTimeout disables the per-call deadline.
func NewLedgerClient(svc Service, callTimeout time.Duration, m *metrics.BookingMetrics, logger *logging.Logger) *LedgerClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &LedgerClient{svc: svc, callTimeout: callTimeout, metrics: m, logger: logger}
}

func (c *LedgerClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// Balance reads the patient's current balance. Never cache the result.
func (c *LedgerClient) Balance(ctx context.Context, userID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "wallet.balance")
	defer span.End()
	span.SetAttributes(attribute.String("consult.user_id", userID))

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	balance, err := c.svc.Balance(callCtx, userID)
	err = classify("wallet.balance", err)
	c.observe("balance", err)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return balance, nil
}

// ChargeBookingFee debits the fee under key bookingID.
func (c *LedgerClient) ChargeBookingFee(ctx context.Context, patientID, bookingID string, fee int64) error {
	ctx, span := tracer.Start(ctx, "wallet.debit")
	defer span.End()
	span.SetAttributes(
		attribute.String("consult.booking_id", bookingID),
		attribute.Int64("consult.amount", fee),
	)

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	err := classify("wallet.debit", c.svc.Debit(callCtx, Mutation{
		UserID:           patientID,
		Amount:           fee,
		IdempotencyKey:   DebitKey(bookingID),
		Reason:           ReasonBookingFee,
		RelatedBookingID: bookingID,
	}))
	c.observe("debit", err)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("booking fee debit failed", "booking_id", bookingID, "error", err)
	}
	return err
}

// RefundBooking credits amount under key bookingID+"-refund".
func (c *LedgerClient) RefundBooking(ctx context.Context, patientID, bookingID string, amount int64) error {
	ctx, span := tracer.Start(ctx, "wallet.credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("consult.booking_id", bookingID),
		attribute.Int64("consult.amount", amount),
	)

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	err := classify("wallet.credit", c.svc.Credit(callCtx, Mutation{
		UserID:           patientID,
		Amount:           amount,
		IdempotencyKey:   RefundKey(bookingID),
		Reason:           ReasonRefund,
		RelatedBookingID: bookingID,
	}))
	c.observe("credit", err)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("booking refund credit failed", "booking_id", bookingID, "error", err)
	}
	return err
}

// DebitApplied reports whether the booking's fee debit reached the ledger.
func (c *LedgerClient) DebitApplied(ctx context.Context, bookingID string) (bool, error) {
	return c.entryExists(ctx, DebitKey(bookingID))
}

// RefundApplied reports whether the booking's refund credit reached the ledger.
func (c *LedgerClient) RefundApplied(ctx context.Context, bookingID string) (bool, error) {
	return c.entryExists(ctx, RefundKey(bookingID))
}

func (c *LedgerClient) entryExists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "wallet.entry")
	defer span.End()

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	_, found, err := c.svc.Entry(callCtx, key)
	err = classify("wallet.entry", err)
	c.observe("entry", err)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return found, nil
}

func (c *LedgerClient) observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = string(apperr.KindOf(err))
	}
	c.metrics.ObserveWallet(op, status)
}

func classify(op string, err error) error {
	return apperr.FromCall(op, err)
}
