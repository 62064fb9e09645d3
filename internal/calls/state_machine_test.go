package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/retry"
)

var errRecordDown = apperr.Wrap(apperr.KindNetwork, "test", errors.New("record store down"))

// flakyStore fails Put/Delete for a uid a fixed number of times.
type flakyStore struct {
	*MemoryStore
	mu         sync.Mutex
	putFails   map[string]int
	delFails   map[string]int
	putAttempt map[string]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryStore: NewMemoryStore(),
		putFails:    map[string]int{},
		delFails:    map[string]int{},
		putAttempt:  map[string]int{},
	}
}

func (f *flakyStore) Put(ctx context.Context, uid string, s Session) error {
	f.mu.Lock()
	f.putAttempt[uid]++
	if f.putFails[uid] > 0 {
		f.putFails[uid]--
		f.mu.Unlock()
		return errRecordDown
	}
	f.mu.Unlock()
	return f.MemoryStore.Put(ctx, uid, s)
}

func (f *flakyStore) Delete(ctx context.Context, uid string) error {
	f.mu.Lock()
	if f.delFails[uid] > 0 {
		f.delFails[uid]--
		f.mu.Unlock()
		return errRecordDown
	}
	f.mu.Unlock()
	return f.MemoryStore.Delete(ctx, uid)
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestMachine(store RecordStore, r relay.Relay) *StateMachine {
	return NewStateMachine(store, r, nil, WithRetryPolicy(fastPolicy()), WithCallTimeout(time.Second))
}

func TestRoomKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, RoomKey("alice", "bob"), RoomKey("bob", "alice"))
	assert.Equal(t, "5:alice_3:bob", RoomKey("bob", "alice"))
	assert.NotEqual(t, RoomKey("a", "bc"), RoomKey("ab", "c"))
	assert.NotEqual(t, RoomKey("a_b", "c"), RoomKey("a", "b_c"))
	assert.NotEqual(t, RoomKey("x_1:y", "z"), RoomKey("x", "y_1:z"))
}

func TestCreateAcceptEndRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := relay.NewMemoryRelay()
	m := newTestMachine(store, r)

	sess, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, StatePending, sess.State)
	ev, ok := r.Latest(sess.RoomID, "B")
	require.True(t, ok)
	assert.Equal(t, relay.EventCallPending, ev.Type)

	_, err = m.AcceptCall(ctx, "B", "A")
	require.NoError(t, err)

	a, err := m.State(ctx, "A", "B")
	require.NoError(t, err)
	b, err := m.State(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, a.State)
	assert.Equal(t, StateAccepted, b.State)
	assert.Equal(t, a.RoomID, b.RoomID)
	assert.Equal(t, *a, *b)

	require.NoError(t, m.EndCall(ctx, "A", "B"))
	for _, uid := range []string{"A", "B"} {
		_, found, _ := store.Get(ctx, uid)
		assert.False(t, found, uid)
	}
	ev, _ = r.Latest(sess.RoomID, "B")
	assert.Equal(t, relay.EventCallEnded, ev.Type)

	// The other party ending again is a no-op.
	require.NoError(t, m.EndCall(ctx, "B", "A"))
	st, err := m.State(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
}

func TestEndCallIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(NewMemoryStore(), nil)
	_, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)

	require.NoError(t, m.EndCall(ctx, "A", "B"))
	require.NoError(t, m.EndCall(ctx, "A", "B"))
	require.NoError(t, m.EndCall(ctx, "X", "Y"))
}

func TestEndCallClearsEachSideIndependently(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	m := newTestMachine(store, nil)
	_, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)

	store.delFails["A"] = 10
	err = m.EndCall(ctx, "A", "B")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNetwork)

	_, found, _ := store.Get(ctx, "B")
	assert.False(t, found, "callee record must be cleared despite caller failure")

	store.delFails["A"] = 0
	require.NoError(t, m.EndCall(ctx, "B", "A"))
	_, found, _ = store.Get(ctx, "A")
	assert.False(t, found)

	_, err = m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)
}

func TestCreateCallRefusesBusyParticipant(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(NewMemoryStore(), nil)
	_, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)

	_, err = m.CreateCall(ctx, "C", "B")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = m.CreateCall(ctx, "A", "C")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = m.CreateCall(ctx, "B", "A")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// The same create replayed is accepted.
	sess, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, StatePending, sess.State)
}

func TestCreateCallValidation(t *testing.T) {
	m := newTestMachine(NewMemoryStore(), nil)
	_, err := m.CreateCall(context.Background(), "A", "A")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = m.CreateCall(context.Background(), "", "B")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateCallRollsBackCallerOnCalleeFailure(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.putFails["B"] = 10
	m := newTestMachine(store, nil)

	_, err := m.CreateCall(ctx, "A", "B")
	require.Error(t, err)
	_, found, _ := store.Get(ctx, "A")
	assert.False(t, found)
}

func TestAcceptCallOnlyByCallee(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(NewMemoryStore(), nil)
	_, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)

	_, err = m.AcceptCall(ctx, "A", "B")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = m.AcceptCall(ctx, "C", "A")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAcceptCallRetriesTransientWrite(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	m := newTestMachine(store, nil)
	_, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)

	store.putFails["A"] = 2
	sess, err := m.AcceptCall(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, sess.State)
	a, _, _ := store.Get(ctx, "A")
	assert.Equal(t, StateAccepted, a.State)
}

func TestAcceptCallHealsHalfWrittenState(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	m := newTestMachine(store, nil)
	_, err := m.CreateCall(ctx, "A", "B")
	require.NoError(t, err)

	store.putFails["A"] = 10
	_, err = m.AcceptCall(ctx, "B", "A")
	require.Error(t, err)
	a, _, _ := store.Get(ctx, "A")
	b, _, _ := store.Get(ctx, "B")
	assert.Equal(t, StatePending, a.State)
	assert.Equal(t, StateAccepted, b.State)

	store.putFails["A"] = 0
	_, err = m.AcceptCall(ctx, "B", "A")
	require.NoError(t, err)
	a, _, _ = store.Get(ctx, "A")
	assert.Equal(t, StateAccepted, a.State)
}

func TestAcceptCallFallsBackToCallerRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newTestMachine(store, nil)
	require.NoError(t, store.Put(ctx, "A", Session{RoomID: RoomKey("A", "B"), Caller: "A", Callee: "B", State: StatePending}))

	sess, err := m.AcceptCall(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, sess.State)
	b, found, _ := store.Get(ctx, "B")
	require.True(t, found)
	assert.Equal(t, StateAccepted, b.State)
}
