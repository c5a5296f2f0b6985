// Package economy credits users for awarded claims and hands out the
// daily reward. Claim credits always use the canonical score of the item
// so a user's balance never depends on presentation jitter.
package economy

import (
	"context"
	"fmt"
	"time"

	"mangadrop/internal/clock"
	"mangadrop/internal/domain"
	"mangadrop/internal/score"
	"mangadrop/internal/storage"
)

type Service struct {
	store       storage.Store
	engine      *score.Engine
	clock       clock.Clock
	dailyAmount float64
	dailyEvery  time.Duration
}

func NewService(store storage.Store, engine *score.Engine, clk clock.Clock, dailyAmount float64, dailyEvery time.Duration) *Service {
	return &Service{
		store:       store,
		engine:      engine,
		clock:       clk,
		dailyAmount: dailyAmount,
		dailyEvery:  dailyEvery,
	}
}

// AwardClaim credits the item's canonical value to the claimant and
// returns the credited amount and new balance.
func (s *Service) AwardClaim(ctx context.Context, userID string, item domain.Item) (float64, float64, error) {
	amount := s.engine.Compute(item)
	balance, err := s.store.Credit(ctx, userID, amount, "claim",
		fmt.Sprintf("claimed item %d", item.ID), s.clock.Now())
	if err != nil {
		return 0, 0, fmt.Errorf("credit claim: %w", err)
	}
	return amount, balance, nil
}

// DailyResult reports one daily-reward attempt. When the cooldown is
// still running, Granted is false and RetryAfter says how long remains.
type DailyResult struct {
	Granted    bool
	Amount     float64
	Balance    float64
	RetryAfter time.Duration
}

func (s *Service) Daily(ctx context.Context, userID string) (DailyResult, error) {
	snapshot, err := s.store.Balance(ctx, userID)
	if err != nil {
		return DailyResult{}, fmt.Errorf("load balance: %w", err)
	}

	now := s.clock.Now()
	if !snapshot.LastDaily.IsZero() {
		if next := snapshot.LastDaily.Add(s.dailyEvery); now.Before(next) {
			return DailyResult{RetryAfter: next.Sub(now)}, nil
		}
	}

	balance, err := s.store.RecordDaily(ctx, userID, s.dailyAmount, now)
	if err != nil {
		return DailyResult{}, fmt.Errorf("record daily: %w", err)
	}
	return DailyResult{Granted: true, Amount: s.dailyAmount, Balance: balance}, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (storage.BalanceSnapshot, error) {
	return s.store.Balance(ctx, userID)
}

func (s *Service) Ranking(ctx context.Context, limit int) ([]storage.BalanceEntry, error) {
	return s.store.RankingByBalance(ctx, limit)
}
