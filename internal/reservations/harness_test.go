package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/notify"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/retry"
	"github.com/wolfman30/consult-escrow/internal/saga"
	"github.com/wolfman30/consult-escrow/internal/slots"
	"github.com/wolfman30/consult-escrow/internal/wallet"
)

const (
	doctorID = "doctor-1"
	shiftDay = "2025-06-20"
)

var (
	errNetwork = apperr.Wrap(apperr.KindNetwork, "test", errors.New("connection reset"))
	errTimeout = apperr.Wrap(apperr.KindTimeout, "test", context.DeadlineExceeded)
)

// testBackend wraps the memory backend with injectable faults.
type testBackend struct {
	*bookings.MemoryBackend
	mu sync.Mutex
	// createErr is returned after the create has (createLands) or has not landed.
	createErr   error
	createLands bool
	cancelFails int
	cancelErr   error
}

func (b *testBackend) CreateBooking(ctx context.Context, p bookings.CreateParams) (*bookings.Booking, error) {
	b.mu.Lock()
	err, lands := b.createErr, b.createLands
	b.mu.Unlock()
	if err == nil {
		return b.MemoryBackend.CreateBooking(ctx, p)
	}
	if lands {
		if _, cerr := b.MemoryBackend.CreateBooking(ctx, p); cerr != nil {
			return nil, cerr
		}
	}
	return nil, err
}

func (b *testBackend) CancelBooking(ctx context.Context, id string) (*bookings.Booking, error) {
	b.mu.Lock()
	if b.cancelFails > 0 {
		b.cancelFails--
		err := b.cancelErr
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()
	return b.MemoryBackend.CancelBooking(ctx, id)
}

// testWallet wraps the memory ledger with injectable faults.
type testWallet struct {
	*wallet.MemoryService
	mu          sync.Mutex
	debitErr    error
	debitLands  bool
	creditFails int
	entryFails  int
}

func (w *testWallet) Debit(ctx context.Context, m wallet.Mutation) error {
	w.mu.Lock()
	err, lands := w.debitErr, w.debitLands
	w.mu.Unlock()
	if err == nil {
		return w.MemoryService.Debit(ctx, m)
	}
	if lands {
		if derr := w.MemoryService.Debit(ctx, m); derr != nil {
			return derr
		}
	}
	return err
}

func (w *testWallet) Credit(ctx context.Context, m wallet.Mutation) error {
	w.mu.Lock()
	if w.creditFails > 0 {
		w.creditFails--
		w.mu.Unlock()
		return errNetwork
	}
	w.mu.Unlock()
	return w.MemoryService.Credit(ctx, m)
}

func (w *testWallet) Entry(ctx context.Context, key string) (*wallet.Entry, bool, error) {
	w.mu.Lock()
	if w.entryFails > 0 {
		w.entryFails--
		w.mu.Unlock()
		return nil, false, errNetwork
	}
	w.mu.Unlock()
	return w.MemoryService.Entry(ctx, key)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Create(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

type harness struct {
	backend   *testBackend
	directory *bookings.MemoryDirectory
	ledger    *testWallet
	sagas     *saga.MemoryStore
	relay     *relay.MemoryRelay
	notes     *recordingNotifier
	book      *BookingCoordinator
	cancel    *CancellationCoordinator
	repair    *Repairer
}

// newHarness runs on a clock fixed at 2025-06-19 10:00 UTC with a
// 08:00-17:00 shift for doctor-1 on 2025-06-20.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:   &testBackend{MemoryBackend: bookings.NewMemoryBackend()},
		directory: bookings.NewMemoryDirectory(),
		ledger:    &testWallet{MemoryService: wallet.NewMemoryService()},
		sagas:     saga.NewMemoryStore(),
		relay:     relay.NewMemoryRelay(),
		notes:     &recordingNotifier{},
	}
	h.directory.PutDoctor(bookings.Doctor{ID: doctorID, Name: "Dr. Ada", ConsultationFee: 20000})
	h.directory.PutShift(bookings.Shift{DoctorID: doctorID, Date: shiftDay, Start: "08:00", End: "17:00"})

	now := time.Date(2025, 6, 19, 10, 0, 0, 0, time.UTC)
	calc := slots.NewCalculator(h.directory, h.backend, slots.Options{Now: func() time.Time { return now }}, nil)
	deps := Deps{
		Backend:    h.backend,
		Directory:  h.directory,
		Calculator: calc,
		Wallet:     wallet.NewLedgerClient(h.ledger, time.Second, nil, nil),
		Sagas:      h.sagas,
		Relay:      h.relay,
		Notifier:   h.notes,
	}
	opts := Options{
		HorizonDays:  30,
		CallTimeout:  time.Second,
		Compensation: retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	h.book = NewBookingCoordinator(deps, opts)
	h.cancel = NewCancellationCoordinator(deps, opts, nil)
	h.repair = NewRepairer(deps, opts)
	return h
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func bookReq(patient, clock string, fee int64) BookRequest {
	return BookRequest{DoctorID: doctorID, PatientID: patient, Date: shiftDay, Time: clock, Type: bookings.TypeOnline, Fee: fee}
}
