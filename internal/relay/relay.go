// Package relay carries small "something changed" signals between the two
// sides of a room. Delivery is at-least-once and unordered, and only the
// latest signal per (room, receiver) is kept, so receivers treat a signal as
// a prompt to re-read canonical state.
package relay

import (
	"context"
	"time"
)

// EventType names a signal.
type EventType string

const (
	EventBooked       EventType = "booked"
	EventCancelled    EventType = "cancelled"
	EventCallPending  EventType = "call_pending"
	EventCallAccepted EventType = "call_accepted"
	EventCallEnded    EventType = "call_ended"
)

// SignalEvent is a wake-up hint addressed to ReceiverID in RoomID.
type SignalEvent struct {
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Type       EventType `json:"type"`
	StatusText string    `json:"status_text,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Relay publishes signals and streams the latest one to a receiver.
type Relay interface {
	Publish(ctx context.Context, ev SignalEvent) error
	// SubscribeLatest calls fn with the current latest signal, if any, and
	// then with each newer one until ctx is done. Signals older than the last
	// one delivered are dropped.
	SubscribeLatest(ctx context.Context, roomID, receiverID string, fn func(SignalEvent)) error
}

// newer reports whether ev should be delivered after last.
func newer(ev SignalEvent, last *SignalEvent) bool {
	if last == nil {
		return true
	}
	return ev.Timestamp.After(last.Timestamp)
}
