package wallet

import (
	"context"
	"sync"

	"github.com/wolfman30/consult-escrow/internal/apperr"
)

// MemoryService is an in-process ledger for local runs and tests.
type MemoryService struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string]Entry
}

// NewMemoryService creates an empty ledger.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		balances: make(map[string]int64),
		entries:  make(map[string]Entry),
	}
}

// Seed sets an account balance directly. Test and bootstrap use only.
func (s *MemoryService) Seed(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *MemoryService) Balance(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.FromCall("wallet.balance", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *MemoryService) Debit(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromCall("wallet.debit", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.entries[m.IdempotencyKey]; seen {
		return nil
	}
	if s.balances[m.UserID] < m.Amount {
		return apperr.New(apperr.KindInsufficientFunds, "wallet.debit",
			"balance %d below %d", s.balances[m.UserID], m.Amount)
	}
	s.balances[m.UserID] -= m.Amount
	s.entries[m.IdempotencyKey] = Entry{
		AccountID:        m.UserID,
		Amount:           -m.Amount,
		Reason:           m.Reason,
		IdempotencyKey:   m.IdempotencyKey,
		RelatedBookingID: m.RelatedBookingID,
	}
	return nil
}

func (s *MemoryService) Credit(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromCall("wallet.credit", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.entries[m.IdempotencyKey]; seen {
		return nil
	}
	s.balances[m.UserID] += m.Amount
	s.entries[m.IdempotencyKey] = Entry{
		AccountID:        m.UserID,
		Amount:           m.Amount,
		Reason:           m.Reason,
		IdempotencyKey:   m.IdempotencyKey,
		RelatedBookingID: m.RelatedBookingID,
	}
	return nil
}

func (s *MemoryService) Entry(ctx context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

var _ Service = (*MemoryService)(nil)
