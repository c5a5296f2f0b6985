// Package storage persists awarded claims and the community economy.
// The pending-posting table is deliberately not stored here: postings are
// ephemeral and owned by the pending registry.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type RankingEntry struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type BalanceEntry struct {
	UserID      string  `json:"user_id"`
	Balance     float64 `json:"balance"`
	TotalEarned float64 `json:"total_earned"`
}

// BalanceSnapshot is a single user's economy state. LastDaily is the
// zero time when the user never took a daily reward.
type BalanceSnapshot struct {
	Balance     float64   `json:"balance"`
	TotalEarned float64   `json:"total_earned"`
	LastDaily   time.Time `json:"last_daily,omitzero"`
}

type Store interface {
	// RecordClaim appends one awarded claim. Claiming the same item
	// twice is allowed; uniqueness is applied at query time.
	RecordClaim(ctx context.Context, userID string, itemID int, at time.Time) error

	// ClaimsForUser returns the user's claimed item IDs, most recent
	// first, deduplicated.
	ClaimsForUser(ctx context.Context, userID string) ([]int, error)

	// RankingByUniqueClaims returns users ordered by distinct claimed
	// items, descending.
	RankingByUniqueClaims(ctx context.Context, limit int) ([]RankingEntry, error)

	// Balance returns the user's economy snapshot, creating a zeroed
	// account for unknown users.
	Balance(ctx context.Context, userID string) (BalanceSnapshot, error)

	// Credit adds to the user's balance and logs a transaction,
	// returning the new balance.
	Credit(ctx context.Context, userID string, amount float64, kind, description string, at time.Time) (float64, error)

	// RecordDaily credits the daily reward and stamps the cooldown.
	RecordDaily(ctx context.Context, userID string, amount float64, at time.Time) (float64, error)

	// RankingByBalance returns users ordered by balance, descending,
	// skipping empty accounts.
	RankingByBalance(ctx context.Context, limit int) ([]BalanceEntry, error)

	Close() error
}
