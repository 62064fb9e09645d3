package events

import "time"

const (
	TypeNotificationRequested = "notification.requested.v1"
)

// NotificationRequestedV1 is a user notification waiting for hand-off to the
// notification transports.
type NotificationRequestedV1 struct {
	EventID     string            `json:"event_id"`
	ReceiverID  string            `json:"receiver_id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Type        string            `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}
