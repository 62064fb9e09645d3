package relay

import (
	"context"
	"sync"
	"time"
)

type roomReceiver struct {
	room     string
	receiver string
}

// MemoryRelay is an in-process Relay.
type MemoryRelay struct {
	mu      sync.Mutex
	latest  map[roomReceiver]SignalEvent
	waiters map[roomReceiver]map[chan struct{}]struct{}
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		latest:  make(map[roomReceiver]SignalEvent),
		waiters: make(map[roomReceiver]map[chan struct{}]struct{}),
	}
}

func (m *MemoryRelay) Publish(ctx context.Context, ev SignalEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	key := roomReceiver{ev.RoomID, ev.ReceiverID}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[key] = ev
	for ch := range m.waiters[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Latest returns the stored signal for (room, receiver).
func (m *MemoryRelay) Latest(roomID, receiverID string) (SignalEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.latest[roomReceiver{roomID, receiverID}]
	return ev, ok
}

func (m *MemoryRelay) SubscribeLatest(ctx context.Context, roomID, receiverID string, fn func(SignalEvent)) error {
	key := roomReceiver{roomID, receiverID}
	wake := make(chan struct{}, 1)
	m.mu.Lock()
	if m.waiters[key] == nil {
		m.waiters[key] = make(map[chan struct{}]struct{})
	}
	m.waiters[key][wake] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.waiters[key], wake)
		m.mu.Unlock()
	}()

	var last *SignalEvent
	deliver := func() {
		ev, ok := m.Latest(roomID, receiverID)
		if !ok || !newer(ev, last) {
			return
		}
		last = &ev
		fn(ev)
	}

	deliver()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			deliver()
		}
	}
}

var _ Relay = (*MemoryRelay)(nil)
