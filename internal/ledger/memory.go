package ledger

import (
	"context"
	"sync"
)

type account struct {
	txs      []Transaction
	earned   int64
	redeemed int64
}

// MemoryStore keeps transactions in process. Totals are maintained on
// append so Balance never rescans history.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[int64]*account
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[int64]*account)}
}

func (s *MemoryStore) Append(_ context.Context, accountID int64, next func(last *Transaction) Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		a = &account{}
		s.accounts[accountID] = a
	}

	var last *Transaction
	if n := len(a.txs); n > 0 {
		cp := a.txs[n-1]
		last = &cp
	}

	tx := next(last)
	s.nextID++
	tx.ID = s.nextID
	tx.AccountID = accountID
	a.txs = append(a.txs, tx)
	if tx.Amount > 0 {
		a.earned += tx.Amount
	} else {
		a.redeemed += -tx.Amount
	}
	return tx, nil
}

func (s *MemoryStore) Totals(_ context.Context, accountID int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, 0, nil
	}
	return a.earned, a.redeemed, nil
}

func (s *MemoryStore) List(_ context.Context, accountID int64, limit, offset int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || offset >= len(a.txs) {
		return []Transaction{}, nil
	}

	out := make([]Transaction, 0, limit)
	for i := len(a.txs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.txs[i])
	}
	return out, nil
}
