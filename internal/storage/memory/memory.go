// Package memory is an in-memory Store used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mangadrop/internal/storage"
)

type claim struct {
	itemID int
	at     time.Time
}

type account struct {
	balance     float64
	totalEarned float64
	lastDaily   time.Time
}

type transaction struct {
	userID      string
	kind        string
	amount      float64
	description string
	at          time.Time
}

type Store struct {
	mu           sync.Mutex
	claims       map[string][]claim
	accounts     map[string]*account
	transactions []transaction
}

func New() *Store {
	return &Store{
		claims:   map[string][]claim{},
		accounts: map[string]*account{},
	}
}

func (s *Store) RecordClaim(_ context.Context, userID string, itemID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[userID] = append(s.claims[userID], claim{itemID: itemID, at: at})
	return nil
}

func (s *Store) ClaimsForUser(_ context.Context, userID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := map[int]time.Time{}
	for _, c := range s.claims[userID] {
		if existing, ok := latest[c.itemID]; !ok || c.at.After(existing) {
			latest[c.itemID] = c.at
		}
	}

	ids := make([]int, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := latest[ids[i]], latest[ids[j]]
		if ti.Equal(tj) {
			return ids[i] > ids[j]
		}
		return ti.After(tj)
	})
	return ids, nil
}

func (s *Store) RankingByUniqueClaims(_ context.Context, limit int) ([]storage.RankingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]storage.RankingEntry, 0, len(s.claims))
	for userID, claims := range s.claims {
		unique := map[int]struct{}{}
		for _, c := range claims {
			unique[c.itemID] = struct{}{}
		}
		if len(unique) > 0 {
			entries = append(entries, storage.RankingEntry{UserID: userID, Count: len(unique)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count == entries[j].Count {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].Count > entries[j].Count
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) Balance(_ context.Context, userID string) (storage.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accountLocked(userID)
	return storage.BalanceSnapshot{
		Balance:     acct.balance,
		TotalEarned: acct.totalEarned,
		LastDaily:   acct.lastDaily,
	}, nil
}

func (s *Store) Credit(_ context.Context, userID string, amount float64, kind, description string, at time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accountLocked(userID)
	acct.balance += amount
	acct.totalEarned += amount
	s.transactions = append(s.transactions, transaction{
		userID:      userID,
		kind:        kind,
		amount:      amount,
		description: description,
		at:          at,
	})
	return acct.balance, nil
}

func (s *Store) RecordDaily(_ context.Context, userID string, amount float64, at time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accountLocked(userID)
	acct.balance += amount
	acct.totalEarned += amount
	acct.lastDaily = at
	s.transactions = append(s.transactions, transaction{
		userID: userID,
		kind:   "daily",
		amount: amount,
		at:     at,
	})
	return acct.balance, nil
}

func (s *Store) RankingByBalance(_ context.Context, limit int) ([]storage.BalanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]storage.BalanceEntry, 0, len(s.accounts))
	for userID, acct := range s.accounts {
		if acct.balance <= 0 {
			continue
		}
		entries = append(entries, storage.BalanceEntry{
			UserID:      userID,
			Balance:     acct.balance,
			TotalEarned: acct.totalEarned,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Balance == entries[j].Balance {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].Balance > entries[j].Balance
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) accountLocked(userID string) *account {
	acct, ok := s.accounts[userID]
	if !ok {
		acct = &account{}
		s.accounts[userID] = acct
	}
	return acct
}
