package saga

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

type recordKey struct {
	bookingID string
	kind      Kind
}

// MemoryStore is an in-process Ledger.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record), now: time.Now}
}

// WithClock overrides the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Begin(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{rec.BookingID, rec.Kind}
	now := s.now()
	if existing, ok := s.records[key]; ok {
		existing.Status = rec.Status
		existing.LastError = ""
		existing.UpdatedAt = now
		s.records[key] = existing
		return nil
	}
	rec.Attempts = 0
	rec.LastError = ""
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Advance(ctx context.Context, bookingID string, kind Kind, status Status, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{bookingID, kind}
	rec, ok := s.records[key]
	if !ok {
		return apperr.New(apperr.KindNotFound, "saga.advance", "no %s saga for booking %s", kind, bookingID)
	}
	rec.Status = status
	rec.LastError = causeText(cause)
	if cause != nil {
		rec.Attempts++
	}
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, bookingID string, kind Kind) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{bookingID, kind}]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *MemoryStore) ListRepairable(ctx context.Context, staleBefore time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Status.Terminal() || !rec.UpdatedAt.Before(staleBefore) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Ledger = (*MemoryStore)(nil)
