package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/calls"
	httpmiddleware "github.com/wolfman30/consult-escrow/internal/http/middleware"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/reqctx"
	"github.com/wolfman30/consult-escrow/internal/reservations"
	"github.com/wolfman30/consult-escrow/internal/retry"
	"github.com/wolfman30/consult-escrow/internal/saga"
	"github.com/wolfman30/consult-escrow/internal/slots"
	"github.com/wolfman30/consult-escrow/internal/wallet"
)

const (
	doctorID = "doctor-1"
	shiftDay = "2025-06-20"
)

// countingDirectory counts Doctor lookups so cache hits can be observed.
type countingDirectory struct {
	*bookings.MemoryDirectory
	doctorReads atomic.Int32
}

func (d *countingDirectory) Doctor(ctx context.Context, id string) (*bookings.Doctor, error) {
	d.doctorReads.Add(1)
	return d.MemoryDirectory.Doctor(ctx, id)
}

type testEnv struct {
	directory *countingDirectory
	backend   *bookings.MemoryBackend
	ledger    *wallet.MemoryService
	relay     *relay.MemoryRelay
	router    http.Handler
}

// newTestEnv wires memory adapters behind a router whose auth stand-in reads
// the caller from the X-User header.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		directory: &countingDirectory{MemoryDirectory: bookings.NewMemoryDirectory()},
		backend:   bookings.NewMemoryBackend(),
		ledger:    wallet.NewMemoryService(),
		relay:     relay.NewMemoryRelay(),
	}
	env.directory.PutDoctor(bookings.Doctor{ID: doctorID, Name: "Dr. Ada", Specialty: "cardiology", ConsultationFee: 20000})
	env.directory.PutShift(bookings.Shift{DoctorID: doctorID, Date: shiftDay, Start: "08:00", End: "17:00"})

	now := time.Date(2025, 6, 19, 10, 0, 0, 0, time.UTC)
	calc := slots.NewCalculator(env.directory, env.backend, slots.Options{Now: func() time.Time { return now }}, nil)
	ledger := wallet.NewLedgerClient(env.ledger, time.Second, nil, nil)
	deps := reservations.Deps{
		Backend:    env.backend,
		Directory:  env.directory,
		Calculator: calc,
		Wallet:     ledger,
		Sagas:      saga.NewMemoryStore(),
		Relay:      env.relay,
	}
	opts := reservations.Options{
		HorizonDays:  30,
		CallTimeout:  time.Second,
		Compensation: retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	machine := calls.NewStateMachine(calls.NewMemoryStore(), env.relay, nil)

	doctors := NewDoctorsHandler(env.directory, calc, nil)
	bookingsH := NewBookingsHandler(reservations.NewBookingCoordinator(deps, opts), reservations.NewCancellationCoordinator(deps, opts, nil), env.backend, nil)
	walletH := NewWalletHandler(ledger, nil)
	callsH := NewCallsHandler(machine, nil)
	signals := NewSignalsHandler(reservations.NewWatcher(env.relay, env.backend, ledger, machine, nil), httpmiddleware.OriginPolicy{}, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid := r.Header.Get("X-User"); uid != "" {
				r = r.WithContext(reqctx.WithUserID(r.Context(), uid))
			} else if uid := r.URL.Query().Get("as"); uid != "" {
				r = r.WithContext(reqctx.WithUserID(r.Context(), uid))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/doctors/{doctorID}", doctors.GetDoctor)
	r.Get("/doctors/{doctorID}/slots", doctors.ListSlots)
	r.Get("/bookings", bookingsH.List)
	r.Post("/bookings", bookingsH.Create)
	r.Post("/bookings/{bookingID}/cancel", bookingsH.Cancel)
	r.Get("/wallet/balance", walletH.Balance)
	r.Post("/calls", callsH.Create)
	r.Get("/calls/{peerID}", callsH.State)
	r.Post("/calls/{peerID}/accept", callsH.Accept)
	r.Post("/calls/{peerID}/end", callsH.End)
	r.Get("/ws/signals", signals.Serve)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func bookBody(clock string, fee int64) map[string]any {
	return map[string]any{"doctor_id": doctorID, "date": shiftDay, "time": clock, "type": "online", "fee": fee}
}
