// Package calls runs the two-party call handoff: pending, accepted, ended.
// A session exists only as two identical records, one per participant.
package calls

import (
	"context"
	"fmt"
	"time"
)

// State of a call between two participants.
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateAccepted State = "accepted"
	StateEnded    State = "ended"
)

// Session is the record both participants hold for a live call.
type Session struct {
	RoomID    string    `json:"room_id"`
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Live reports whether the session still occupies its participants.
func (s Session) Live() bool {
	return s.State == StatePending || s.State == StateAccepted
}

// Peer returns the other participant.
func (s Session) Peer(uid string) string {
	if uid == s.Caller {
		return s.Callee
	}
	return s.Caller
}

// RoomKey derives the shared room id of two participants. Both sides get the
// same key whichever of them is the caller. Each id is length-prefixed so
// ids containing the separator cannot collide.
func RoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s_%d:%s", len(a), a, len(b), b)
}

// RecordStore holds each participant's current session record.
type RecordStore interface {
	Get(ctx context.Context, uid string) (*Session, bool, error)
	Put(ctx context.Context, uid string, s Session) error
	// Delete removes uid's record; deleting a missing record is not an error.
	Delete(ctx context.Context, uid string) error
}
