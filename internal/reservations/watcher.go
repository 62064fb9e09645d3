package reservations

import (
	"context"
	"errors"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/calls"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/wallet"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// Snapshot is canonical state re-read after a signal.
type Snapshot struct {
	Signal   relay.SignalEvent  `json:"signal"`
	Bookings []bookings.Booking `json:"bookings"`
	Balance  int64              `json:"balance"`
	Call     *calls.Session     `json:"call,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Watcher turns relay signals into fresh snapshots. The signal payload is
// never trusted; it only says when to look again.
type Watcher struct {
	relay   relay.Relay
	backend bookings.Backend
	wallet  *wallet.LedgerClient
	calls   *calls.StateMachine
	logger  *logging.Logger
}

func NewWatcher(r relay.Relay, backend bookings.Backend, w *wallet.LedgerClient, sm *calls.StateMachine, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{relay: r, backend: backend, wallet: w, calls: sm, logger: logger}
}

// Watch streams snapshots for userID's room with peerID until ctx is done.
func (w *Watcher) Watch(ctx context.Context, userID, peerID string, fn func(Snapshot)) error {
	room := calls.RoomKey(userID, peerID)
	return w.relay.SubscribeLatest(ctx, room, userID, func(ev relay.SignalEvent) {
		fn(w.Snapshot(ctx, userID, peerID, ev))
	})
}

// Snapshot reads the bookings between the pair, the user's balance and the
// call state. Partial failures are logged in full and reported in Error by
// kind only, since the snapshot goes to the client.
func (w *Watcher) Snapshot(ctx context.Context, userID, peerID string, ev relay.SignalEvent) Snapshot {
	snap := Snapshot{Signal: ev, Bookings: []bookings.Booking{}}
	var errs []error

	for _, f := range []bookings.Filter{
		{PatientID: userID, DoctorID: peerID},
		{PatientID: peerID, DoctorID: userID},
	} {
		list, err := w.backend.ListUpcoming(ctx, f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snap.Bookings = append(snap.Bookings, list...)
	}
	if w.wallet != nil {
		balance, err := w.wallet.Balance(ctx, userID)
		if err != nil {
			errs = append(errs, err)
		}
		snap.Balance = balance
	}
	if w.calls != nil {
		sess, err := w.calls.State(ctx, userID, peerID)
		if err != nil {
			errs = append(errs, err)
		}
		snap.Call = sess
	}
	if err := errors.Join(errs...); err != nil {
		w.logger.Warn("snapshot refresh incomplete", "user_id", userID, "peer_id", peerID, "error", err)
		snap.Error = string(apperr.KindOf(err))
	}
	return snap
}
