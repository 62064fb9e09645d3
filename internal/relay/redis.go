package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// RedisRelay keeps the latest signal per (room, receiver) in a key and uses
// PUBLISH on a matching channel as the wake-up.
type RedisRelay struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewRedisRelay(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisRelay {
	if client == nil {
		panic("relay: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRelay{redis: client, ttl: ttl, logger: logger}
}

func latestKey(roomID, receiverID string) string {
	return fmt.Sprintf("signal:latest:%s:%s", roomID, receiverID)
}

func wakeChannel(roomID, receiverID string) string {
	return fmt.Sprintf("signal:wake:%s:%s", roomID, receiverID)
}

func (r *RedisRelay) Publish(ctx context.Context, ev SignalEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal signal: %w", err)
	}
	pipe := r.redis.Pipeline()
	pipe.Set(ctx, latestKey(ev.RoomID, ev.ReceiverID), data, r.ttl)
	pipe.Publish(ctx, wakeChannel(ev.RoomID, ev.ReceiverID), ev.Type)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.FromCall("relay.publish", fmt.Errorf("relay: publish: %w", err))
	}
	return nil
}

// Latest returns the stored signal for (room, receiver).
func (r *RedisRelay) Latest(ctx context.Context, roomID, receiverID string) (*SignalEvent, bool, error) {
	raw, err := r.redis.Get(ctx, latestKey(roomID, receiverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.FromCall("relay.latest", fmt.Errorf("relay: get latest: %w", err))
	}
	var ev SignalEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, false, fmt.Errorf("relay: decode signal: %w", err)
	}
	return &ev, true, nil
}

func (r *RedisRelay) SubscribeLatest(ctx context.Context, roomID, receiverID string, fn func(SignalEvent)) error {
	sub := r.redis.Subscribe(ctx, wakeChannel(roomID, receiverID))
	defer sub.Close()
	// Wait for the subscription so a publish racing the initial read is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return apperr.FromCall("relay.subscribe", fmt.Errorf("relay: subscribe: %w", err))
	}

	var last *SignalEvent
	deliver := func() {
		ev, found, err := r.Latest(ctx, roomID, receiverID)
		if err != nil {
			r.logger.Warn("relay latest read failed", "room_id", roomID, "receiver_id", receiverID, "error", err)
			return
		}
		if !found || !newer(*ev, last) {
			return
		}
		last = ev
		fn(*ev)
	}

	deliver()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			deliver()
		}
	}
}

var _ Relay = (*RedisRelay)(nil)
