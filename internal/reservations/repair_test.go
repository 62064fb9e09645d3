package reservations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/saga"
	"github.com/wolfman30/consult-escrow/internal/wallet"
)

// crashAfterCreate leaves a booking and a reserved saga, as a process dying
// between reservation and debit would.
func crashAfterCreate(t *testing.T, h *harness, debitLanded bool) (*bookings.Booking, saga.Record) {
	t.Helper()
	ctx := context.Background()
	h.ledger.Seed("patient-a", 100000)
	b, err := h.backend.CreateBooking(ctx, bookings.CreateParams{
		DoctorID: doctorID, PatientID: "patient-a", Date: shiftDay, Time: "13:00", Type: bookings.TypeOnsite, Fee: 20000,
	})
	require.NoError(t, err)
	rec := saga.Record{BookingID: b.ID, Kind: saga.KindBook, Status: saga.StatusReserved, PatientID: "patient-a", DoctorID: doctorID, Fee: 20000}
	require.NoError(t, h.sagas.Begin(ctx, rec))
	if debitLanded {
		require.NoError(t, h.ledger.Debit(ctx, wallet.Mutation{
			UserID: "patient-a", Amount: 20000, IdempotencyKey: b.ID, Reason: wallet.ReasonBookingFee,
		}))
	}
	return b, rec
}

func TestRepairReservedSagaWithLandedDebitCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, rec := crashAfterCreate(t, h, true)

	require.NoError(t, h.repair.Repair(ctx, rec))
	got, _, _ := h.sagas.Get(ctx, b.ID, saga.KindBook)
	assert.Equal(t, saga.StatusCompleted, got.Status)
	stored, _ := h.backend.GetBooking(ctx, b.ID)
	assert.Equal(t, bookings.StatusPending, stored.Status)
	assert.Equal(t, int64(80000), h.balance(t, "patient-a"))
}

func TestRepairReservedSagaWithoutDebitReleases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, rec := crashAfterCreate(t, h, false)

	require.NoError(t, h.repair.Repair(ctx, rec))
	got, _, _ := h.sagas.Get(ctx, b.ID, saga.KindBook)
	assert.Equal(t, saga.StatusCompensated, got.Status)
	stored, _ := h.backend.GetBooking(ctx, b.ID)
	assert.Equal(t, bookings.StatusCancelled, stored.Status)
	assert.Equal(t, int64(100000), h.balance(t, "patient-a"))
}

func TestRepairKeepsFeeOfCompletedConsultation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, rec := crashAfterCreate(t, h, true)
	require.NoError(t, h.backend.SetStatus(b.ID, bookings.StatusCompleted))
	rec.Status = saga.StatusCompensating

	require.NoError(t, h.repair.Repair(ctx, rec))
	got, _, _ := h.sagas.Get(ctx, b.ID, saga.KindBook)
	assert.Equal(t, saga.StatusCompleted, got.Status)
	assert.Equal(t, int64(80000), h.balance(t, "patient-a"))
}

func TestRepairLedgerLookupFailureIsRetriedLater(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, rec := crashAfterCreate(t, h, false)
	h.ledger.entryFails = 100

	require.Error(t, h.repair.Repair(ctx, rec))
	got, _, _ := h.sagas.Get(ctx, b.ID, saga.KindBook)
	assert.Equal(t, saga.StatusReserved, got.Status)
}

func TestRepairThroughWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = crashAfterCreate(t, h, false)

	w := saga.NewWorker(h.sagas, h.repair, nil).WithStaleAfter(1)
	// Let the saga age past the stale threshold.
	require.Eventually(t, func() bool { return w.RunOnce(ctx) == 1 }, secondTimeout, tick)
	recs, err := h.sagas.ListRepairable(ctx, farFuture(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
