package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// OutboxEntry is one queued event. Attempts counts failed hand-offs.
type OutboxEntry struct {
	ID        uuid.UUID
	Key       string
	Type      string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DeliveryHandler hands an entry to its transport.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type pgExecQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore keeps events in the outbox table until they are delivered or
// run out of attempts.
type OutboxStore struct {
	db pgExecQuerier
}

func NewOutboxStore(db pgExecQuerier) *OutboxStore {
	if db == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{db: db}
}

const (
	insertOutboxSQL = `
		INSERT INTO outbox (id, aggregate_key, type, payload)
		VALUES ($1, $2, $3, $4)`

	pendingOutboxSQL = `
		SELECT id, aggregate_key, type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1`

	deliveredOutboxSQL = `
		UPDATE outbox SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL`

	failedOutboxSQL = `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND delivered_at IS NULL`
)

// Insert queues payload under eventType. key is the aggregate the event
// belongs to; notifications use the receiver id.
func (s *OutboxStore) Insert(ctx context.Context, key string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	id := uuid.New()
	if _, err := s.db.Exec(ctx, insertOutboxSQL, id, key, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert %s: %w", eventType, err)
	}
	return id, nil
}

// FetchPending returns undelivered entries that have failed fewer than
// maxAttempts times, oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error) {
	rows, err := s.db.Query(ctx, pendingOutboxSQL, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Key, &e.Type, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		e.Payload = append(json.RawMessage(nil), payload...)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered reports false when the entry was already delivered.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.db.Exec(ctx, deliveredOutboxSQL, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed hand-off and its cause.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.Exec(ctx, failedOutboxSQL, id, msg); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

// Deliverer drains the outbox on a ticker. An entry that fails maxAttempts
// times stays in the table with its last error and is no longer fetched.
type Deliverer struct {
	store       *OutboxStore
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	maxAttempts int
	interval    time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger.Component("outbox"),
		batchSize:   25,
		maxAttempts: 10,
		interval:    2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain delivers one batch and returns how many entries were delivered.
func (d *Deliverer) drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.fail(ctx, entry, err)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered
}

func (d *Deliverer) fail(ctx context.Context, entry OutboxEntry, cause error) {
	attempts := entry.Attempts + 1
	if attempts >= d.maxAttempts {
		d.logger.Warn("outbox entry parked after max attempts",
			"error", cause, "event_id", entry.ID, "type", entry.Type, "attempts", attempts)
	} else {
		d.logger.Error("outbox delivery failed",
			"error", cause, "event_id", entry.ID, "type", entry.Type, "attempts", attempts)
	}
	if err := d.store.MarkFailed(ctx, entry.ID, cause); err != nil {
		d.logger.Error("failed to record outbox failure", "error", err, "event_id", entry.ID)
	}
}
