package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/consult-escrow/internal/events"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// OutboxInserter is the write side of events.OutboxStore.
type OutboxInserter interface {
	Insert(ctx context.Context, key string, eventType string, payload any) (uuid.UUID, error)
}

// OutboxGateway records notifications in the outbox; a Dispatcher hands
// them to the real transports later.
type OutboxGateway struct {
	outbox OutboxInserter
	now    func() time.Time
}

func NewOutboxGateway(outbox OutboxInserter) *OutboxGateway {
	if outbox == nil {
		panic("notify: outbox required")
	}
	return &OutboxGateway{outbox: outbox, now: time.Now}
}

func (g *OutboxGateway) Create(ctx context.Context, n Notification) error {
	evt := events.NotificationRequestedV1{
		EventID:     uuid.NewString(),
		ReceiverID:  n.ReceiverID,
		Title:       n.Title,
		Content:     n.Content,
		Type:        n.Type,
		Metadata:    n.Metadata,
		RequestedAt: g.now().UTC(),
	}
	if _, err := g.outbox.Insert(ctx, n.ReceiverID, events.TypeNotificationRequested, evt); err != nil {
		return fmt.Errorf("notify: queue notification: %w", err)
	}
	return nil
}

// Dispatcher is the outbox delivery handler for notification events.
type Dispatcher struct {
	downstream Gateway
	logger     *logging.Logger
}

func NewDispatcher(downstream Gateway, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{downstream: downstream, logger: logger}
}

func (d *Dispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeNotificationRequested {
		d.logger.Warn("outbox event ignored", "event_id", entry.ID, "type", entry.Type)
		return nil
	}
	var evt events.NotificationRequestedV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		// A payload that cannot decode will never deliver; drop it.
		d.logger.Error("outbox payload undecodable", "event_id", entry.ID, "error", err)
		return nil
	}
	return d.downstream.Create(ctx, Notification{
		ReceiverID: evt.ReceiverID,
		Title:      evt.Title,
		Content:    evt.Content,
		Type:       evt.Type,
		Metadata:   evt.Metadata,
	})
}

var (
	_ Gateway                = (*OutboxGateway)(nil)
	_ events.DeliveryHandler = (*Dispatcher)(nil)
)
