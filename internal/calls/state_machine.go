package calls

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/retry"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

var tracer = otel.Tracer("consult.internal.calls")

// StateMachine drives call sessions through
// idle -> pending -> accepted -> idle (and pending -> idle).
type StateMachine struct {
	records     RecordStore
	relay       relay.Relay
	policy      retry.Policy
	callTimeout time.Duration
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// Option customizes a StateMachine.
type Option func(*StateMachine)

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *StateMachine) { m.policy = p }
}

func WithCallTimeout(d time.Duration) Option {
	return func(m *StateMachine) { m.callTimeout = d }
}

func WithMetrics(bm *metrics.BookingMetrics) Option {
	return func(m *StateMachine) { m.metrics = bm }
}

func WithClock(now func() time.Time) Option {
	return func(m *StateMachine) {
		if now != nil {
			m.now = now
		}
	}
}

func NewStateMachine(records RecordStore, r relay.Relay, logger *logging.Logger, opts ...Option) *StateMachine {
	if logger == nil {
		logger = logging.Default()
	}
	m := &StateMachine{
		records: records,
		relay:   r,
		policy:  retry.DefaultPolicy(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateCall opens a pending session from caller to callee. It refuses when
// either participant is already in a live session with someone else.
func (m *StateMachine) CreateCall(ctx context.Context, caller, callee string) (sess *Session, err error) {
	ctx, span := m.start(ctx, "calls.create", caller, callee)
	defer func() { m.finish(span, "create", err) }()

	if caller == "" || callee == "" {
		return nil, apperr.Validation("calls.create", "caller and callee are required")
	}
	if caller == callee {
		return nil, apperr.Validation("calls.create", "cannot call yourself")
	}
	room := RoomKey(caller, callee)

	for _, uid := range []string{caller, callee} {
		existing, found, err := m.get(ctx, uid)
		if err != nil {
			return nil, err
		}
		if !found || !existing.Live() {
			continue
		}
		if existing.RoomID != room {
			return nil, apperr.New(apperr.KindInvalidState, "calls.create", "%s is busy in another call", uid)
		}
		if existing.State == StatePending && existing.Caller == caller {
			// Retried create: finish the writes of the first attempt.
			return existing, m.writeBoth(ctx, *existing)
		}
		return nil, apperr.New(apperr.KindInvalidState, "calls.create", "call already %s", existing.State)
	}

	s := Session{
		RoomID:    room,
		Caller:    caller,
		Callee:    callee,
		State:     StatePending,
		StartedAt: m.now().UTC(),
	}
	if err := m.put(ctx, caller, s); err != nil {
		return nil, err
	}
	if err := m.put(ctx, callee, s); err != nil {
		if delErr := m.del(ctx, caller); delErr != nil {
			m.logger.Warn("call create rollback failed", "room_id", room, "uid", caller, "error", delErr)
		}
		return nil, err
	}
	m.signal(ctx, s, caller, callee, relay.EventCallPending)
	return &s, nil
}

// AcceptCall moves the pending session between caller and callee to
// accepted. Only the callee may accept. Both records are rewritten, so
// repeating AcceptCall after a partial failure heals the stale side.
func (m *StateMachine) AcceptCall(ctx context.Context, callee, caller string) (sess *Session, err error) {
	ctx, span := m.start(ctx, "calls.accept", caller, callee)
	defer func() { m.finish(span, "accept", err) }()

	if caller == "" || callee == "" {
		return nil, apperr.Validation("calls.accept", "caller and callee are required")
	}
	room := RoomKey(caller, callee)

	current, err := m.findSession(ctx, room, callee, caller)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.New(apperr.KindInvalidState, "calls.accept", "no pending call in room %s", room)
	}
	if current.Callee != callee {
		return nil, apperr.New(apperr.KindForbidden, "calls.accept", "only the callee can accept")
	}
	switch current.State {
	case StatePending, StateAccepted:
	default:
		return nil, apperr.New(apperr.KindInvalidState, "calls.accept", "call is %s", current.State)
	}

	accepted := *current
	accepted.State = StateAccepted
	if err := m.writeBoth(ctx, accepted); err != nil {
		return nil, err
	}
	if current.State == StatePending {
		m.signal(ctx, accepted, callee, caller, relay.EventCallAccepted)
	}
	return &accepted, nil
}

// EndCall clears the session between uid and peer from both participants.
// It is legal from any state and a no-op when nothing is left to clear. Each
// side is cleared independently; failures are joined.
func (m *StateMachine) EndCall(ctx context.Context, uid, peer string) (err error) {
	ctx, span := m.start(ctx, "calls.end", uid, peer)
	defer func() { m.finish(span, "end", err) }()

	if uid == "" || peer == "" {
		return apperr.Validation("calls.end", "both participants are required")
	}
	room := RoomKey(uid, peer)

	var errs []error
	cleared := false
	for _, participant := range []string{uid, peer} {
		ok, clearErr := m.clear(ctx, room, participant)
		if clearErr != nil {
			errs = append(errs, clearErr)
		}
		cleared = cleared || ok
	}
	if cleared {
		m.signal(ctx, Session{RoomID: room}, uid, peer, relay.EventCallEnded)
	}
	return errors.Join(errs...)
}

// State returns uid's view of the session with peer. A missing record, or one
// for another room, reads as idle.
func (m *StateMachine) State(ctx context.Context, uid, peer string) (*Session, error) {
	room := RoomKey(uid, peer)
	sess, found, err := m.get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !found || sess.RoomID != room {
		return &Session{RoomID: room, State: StateIdle}, nil
	}
	return sess, nil
}

// findSession prefers the callee's record and falls back to the caller's when
// the callee write of CreateCall was lost.
func (m *StateMachine) findSession(ctx context.Context, room string, uids ...string) (*Session, error) {
	for _, uid := range uids {
		sess, found, err := m.get(ctx, uid)
		if err != nil {
			return nil, err
		}
		if found && sess.RoomID == room {
			return sess, nil
		}
	}
	return nil, nil
}

func (m *StateMachine) clear(ctx context.Context, room, uid string) (bool, error) {
	sess, found, err := m.get(ctx, uid)
	if err != nil {
		// Unknown state: delete anyway so a stale record cannot lock uid out.
		m.logger.Warn("call record read failed, clearing blindly", "room_id", room, "uid", uid, "error", err)
		return true, m.del(ctx, uid)
	}
	if !found || sess.RoomID != room {
		return false, nil
	}
	return true, m.del(ctx, uid)
}

func (m *StateMachine) writeBoth(ctx context.Context, s Session) error {
	return errors.Join(m.put(ctx, s.Caller, s), m.put(ctx, s.Callee, s))
}

func (m *StateMachine) get(ctx context.Context, uid string) (*Session, bool, error) {
	var (
		sess  *Session
		found bool
	)
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		callCtx, cancel := m.callCtx(ctx)
		defer cancel()
		var err error
		sess, found, err = m.records.Get(callCtx, uid)
		return apperr.FromCall("calls.get_record", err)
	})
	return sess, found, err
}

func (m *StateMachine) put(ctx context.Context, uid string, s Session) error {
	return retry.Do(ctx, m.policy, func(ctx context.Context) error {
		callCtx, cancel := m.callCtx(ctx)
		defer cancel()
		return apperr.FromCall("calls.put_record", m.records.Put(callCtx, uid, s))
	})
}

func (m *StateMachine) del(ctx context.Context, uid string) error {
	return retry.Do(ctx, m.policy, func(ctx context.Context) error {
		callCtx, cancel := m.callCtx(ctx)
		defer cancel()
		return apperr.FromCall("calls.delete_record", m.records.Delete(callCtx, uid))
	})
}

func (m *StateMachine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.callTimeout)
}

// signal is best-effort: failures are logged and counted only.
func (m *StateMachine) signal(ctx context.Context, s Session, sender, receiver string, typ relay.EventType) {
	if m.relay == nil {
		return
	}
	callCtx, cancel := m.callCtx(ctx)
	defer cancel()
	err := m.relay.Publish(callCtx, relay.SignalEvent{
		RoomID:     s.RoomID,
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       typ,
		StatusText: string(s.State),
		Timestamp:  m.now().UTC(),
	})
	m.metrics.ObserveSignal(string(typ), err == nil)
	if err != nil {
		m.logger.Warn("call signal publish failed", "room_id", s.RoomID, "type", typ, "error", err)
	}
}

func (m *StateMachine) start(ctx context.Context, name, a, b string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("consult.room_id", RoomKey(a, b)))
	return ctx, span
}

func (m *StateMachine) finish(span trace.Span, transition string, err error) {
	status := "ok"
	if err != nil {
		status = string(apperr.KindOf(err))
		span.RecordError(err)
	}
	m.metrics.ObserveCallTransition(transition, status)
	span.End()
}
