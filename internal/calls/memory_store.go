package calls

import (
	"context"
	"sync"
)

// MemoryStore is an in-process RecordStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Session)}
}

func (s *MemoryStore) Get(ctx context.Context, uid string) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.records[uid]
	if !ok {
		return nil, false, nil
	}
	return &sess, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, uid string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[uid] = sess
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uid)
	return nil
}

var _ RecordStore = (*MemoryStore)(nil)
