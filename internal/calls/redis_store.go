package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

// RedisStore keeps session records under call:record:<uid>.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a store. Records expire after ttl so an abandoned
// call cannot lock a participant out forever; zero keeps them indefinitely.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("calls: redis client required")
	}
	return &RedisStore{redis: client, ttl: ttl}
}

func recordKey(uid string) string {
	return "call:record:" + uid
}

func (s *RedisStore) Get(ctx context.Context, uid string) (*Session, bool, error) {
	raw, err := s.redis.Get(ctx, recordKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.FromCall("calls.get_record", fmt.Errorf("calls: get record: %w", err))
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, fmt.Errorf("calls: decode record: %w", err)
	}
	return &sess, true, nil
}

func (s *RedisStore) Put(ctx context.Context, uid string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("calls: marshal record: %w", err)
	}
	if err := s.redis.Set(ctx, recordKey(uid), data, s.ttl).Err(); err != nil {
		return apperr.FromCall("calls.put_record", fmt.Errorf("calls: put record: %w", err))
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, uid string) error {
	if err := s.redis.Del(ctx, recordKey(uid)).Err(); err != nil {
		return apperr.FromCall("calls.delete_record", fmt.Errorf("calls: delete record: %w", err))
	}
	return nil
}

var _ RecordStore = (*RedisStore)(nil)
