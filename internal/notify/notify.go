// Package notify delivers user notifications produced by the reservation core.
// Delivery is best-effort from the caller's point of view.
package notify

import (
	"context"
	"errors"

	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// Notification types.
const (
	TypeBookingCreated   = "booking_created"
	TypeBookingCancelled = "booking_cancelled"
)

// Notification is a message addressed to one user.
type Notification struct {
	ReceiverID string            `json:"receiver_id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Gateway creates notifications.
type Gateway interface {
	Create(ctx context.Context, n Notification) error
}

// Fanout hands each notification to every gateway; one failing gateway does
// not stop the others.
type Fanout []Gateway

func (f Fanout) Create(ctx context.Context, n Notification) error {
	var errs []error
	for _, g := range f {
		if g == nil {
			continue
		}
		if err := g.Create(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogGateway only logs. Used when no transport is configured.
type LogGateway struct {
	logger *logging.Logger
}

func NewLogGateway(logger *logging.Logger) *LogGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Create(ctx context.Context, n Notification) error {
	g.logger.Info("notification (log only)", "receiver_id", n.ReceiverID, "type", n.Type, "title", n.Title)
	return nil
}

var (
	_ Gateway = Fanout(nil)
	_ Gateway = (*LogGateway)(nil)
)
