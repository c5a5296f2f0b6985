package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"mangadrop/internal/clock"
	"mangadrop/internal/domain"
	"mangadrop/internal/economy"
	"mangadrop/internal/feed"
	"mangadrop/internal/metrics"
	"mangadrop/internal/pending"
	"mangadrop/internal/ratelimit"
	"mangadrop/internal/score"
	"mangadrop/internal/stats"
	"mangadrop/internal/storage/memory"
)

type fakeCatalog struct {
	mu      sync.Mutex
	items   []domain.Item
	next    int
	failure error
	fetched int
}

func (c *fakeCatalog) FetchRandom(_ context.Context) (domain.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched++
	if c.failure != nil {
		return domain.Item{}, c.failure
	}
	item := c.items[c.next%len(c.items)]
	c.next++
	return item, nil
}

func (c *fakeCatalog) FetchByID(_ context.Context, id int) (domain.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.Item{}, errors.New("unknown item")
}

type fixture struct {
	service *Service
	catalog *fakeCatalog
	store   *memory.Store
	clock   *clock.FakeClock
	limiter *ratelimit.Limiter
	hub     *feed.Hub
	stats   *stats.MemoryRecorder
}

func newFixture() *fixture {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	catalog := &fakeCatalog{items: []domain.Item{
		{ID: 1, Title: "Vagabond", Score: 9.2, Popularity: 20, Members: 400000, Favorites: 60000, Status: domain.StatusHiatus},
		{ID: 2, Title: "Uzumaki", Score: 8.2, Popularity: 90, Members: 250000, Favorites: 20000, Status: domain.StatusFinished},
	}}
	store := memory.New()
	limiter := ratelimit.New(clk, map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassRoll:  {Max: 10, Window: time.Hour},
		ratelimit.ClassClaim: {Max: 1, Window: 5 * time.Hour},
	})
	registry := pending.NewRegistry(clk, pending.Options{
		Expiration:  30 * time.Second,
		Retention:   3 * time.Hour,
		HardCap:     1000,
		EvictTarget: 800,
	})
	engine := score.NewEngine(score.DefaultParams())
	recorder := stats.NewMemoryRecorder()
	hub := feed.NewHub()

	service := NewService(Dependencies{
		Catalog:    catalog,
		Store:      store,
		Registry:   registry,
		Limiter:    limiter,
		Engine:     engine,
		Economy:    economy.NewService(store, engine, clk, 100, 24*time.Hour),
		Hub:        hub,
		Stats:      recorder,
		Clock:      clk,
		Logger:     log.New(io.Discard, "", 0),
		Metrics:    metrics.NewCounters(),
		Expiration: 30 * time.Second,
	})
	return &fixture{
		service: service,
		catalog: catalog,
		store:   store,
		clock:   clk,
		limiter: limiter,
		hub:     hub,
		stats:   recorder,
	}
}

func TestRollIssuesPosting(t *testing.T) {
	f := newFixture()
	result, err := f.service.Roll(context.Background(), "alice", "msg-1")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if result.Outcome != RollIssued {
		t.Fatalf("outcome = %v, want issued", result.Outcome)
	}
	if result.Posting.ID != "msg-1" || result.Item.ID == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.DisplayValue < 1 {
		t.Fatalf("display value missing: %v", result.DisplayValue)
	}

	view, ok := f.service.Posting("msg-1")
	if !ok || view.State != "active" {
		t.Fatalf("posting should be active: %+v ok=%v", view, ok)
	}
}

func TestRollRateLimitedAfterBudget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := f.service.Roll(ctx, "alice", fmt.Sprintf("msg-%d", i))
		if err != nil || result.Outcome != RollIssued {
			t.Fatalf("roll %d: outcome=%v err=%v", i+1, result.Outcome, err)
		}
	}

	result, err := f.service.Roll(ctx, "alice", "msg-over")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if result.Outcome != RollRateLimited {
		t.Fatalf("11th roll should be rate limited, got %v", result.Outcome)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Hour {
		t.Fatalf("retry-after out of range: %v", result.RetryAfter)
	}

	// No posting was registered for the denied roll.
	if _, ok := f.service.Posting("msg-over"); ok {
		t.Fatalf("rate-limited roll must leave no posting behind")
	}
}

func TestFailedRollConsumesNoQuota(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.catalog.failure = errors.New("catalog down")

	for i := 0; i < 20; i++ {
		result, err := f.service.Roll(ctx, "alice", fmt.Sprintf("msg-%d", i))
		if err == nil || result.Outcome != RollUpstreamFailure {
			t.Fatalf("expected upstream failure, got %v err=%v", result.Outcome, err)
		}
	}

	// Twenty failures later the user still has the full roll budget.
	f.catalog.failure = nil
	result, err := f.service.Roll(ctx, "alice", "msg-ok")
	if err != nil || result.Outcome != RollIssued {
		t.Fatalf("roll after failures: outcome=%v err=%v", result.Outcome, err)
	}
	if result.Remaining != 10 {
		t.Fatalf("remaining = %d, want full budget of 10", result.Remaining)
	}
}

func TestClaimAwardsOnceAndCreditsReward(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.service.Roll(ctx, "alice", "msg-1"); err != nil {
		t.Fatalf("roll: %v", err)
	}

	result, err := f.service.Claim(ctx, "msg-1", "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Outcome != ClaimAwarded {
		t.Fatalf("outcome = %v, want awarded", result.Outcome)
	}
	if result.Reward <= 0 || result.Balance != result.Reward {
		t.Fatalf("reward not credited: %+v", result)
	}

	claims, err := f.store.ClaimsForUser(ctx, "bob")
	if err != nil || len(claims) != 1 {
		t.Fatalf("claim not persisted: %v err=%v", claims, err)
	}

	// The posting is gone; a retry is not-found, not a second award.
	retry, err := f.service.Claim(ctx, "msg-1", "carol")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if retry.Outcome != ClaimNotFound {
		t.Fatalf("second claim should be not-found, got %v", retry.Outcome)
	}
}

func TestClaimTooSoonWithinWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.service.Roll(ctx, "alice", "msg-1")
	_, _ = f.service.Roll(ctx, "alice", "msg-2")

	if result, _ := f.service.Claim(ctx, "msg-1", "bob"); result.Outcome != ClaimAwarded {
		t.Fatalf("first claim should be awarded, got %v", result.Outcome)
	}
	result, err := f.service.Claim(ctx, "msg-2", "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Outcome != ClaimTooSoon {
		t.Fatalf("second claim inside the window should be too-soon, got %v", result.Outcome)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > 5*time.Hour {
		t.Fatalf("retry-after out of range: %v", result.RetryAfter)
	}

	// msg-2 is still claimable by someone else.
	if result, _ := f.service.Claim(ctx, "msg-2", "carol"); result.Outcome != ClaimAwarded {
		t.Fatalf("posting should remain claimable, got %v", result.Outcome)
	}
}

func TestExpiredClaimConsumesNoQuota(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.service.Roll(ctx, "alice", "msg-1")
	f.clock.Advance(31 * time.Second)

	result, err := f.service.Claim(ctx, "msg-1", "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Outcome != ClaimExpired {
		t.Fatalf("outcome = %v, want expired", result.Outcome)
	}

	// The failed attempt charged nothing: bob can still claim a fresh
	// posting immediately.
	_, _ = f.service.Roll(ctx, "alice", "msg-2")
	if result, _ := f.service.Claim(ctx, "msg-2", "bob"); result.Outcome != ClaimAwarded {
		t.Fatalf("expired attempt should not consume claim quota, got %v", result.Outcome)
	}
}

func TestConcurrentClaimsSingleAward(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.service.Roll(ctx, "alice", "msg-1"); err != nil {
		t.Fatalf("roll: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	awarded := 0

	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		userID := fmt.Sprintf("user-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, _ := f.service.Claim(ctx, "msg-1", userID)
			if result.Outcome == ClaimAwarded {
				mu.Lock()
				awarded++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if awarded != 1 {
		t.Fatalf("expected exactly one award, got %d", awarded)
	}

	// Exactly one persisted record exists across all claimers.
	total := 0
	for i := 0; i < claimers; i++ {
		claims, err := f.store.ClaimsForUser(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatalf("claims: %v", err)
		}
		total += len(claims)
	}
	if total != 1 {
		t.Fatalf("expected one persisted claim, got %d", total)
	}
}

func TestRollAndClaimPublishFeedEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sub := f.hub.Subscribe()
	defer f.hub.Unsubscribe(sub)

	_, _ = f.service.Roll(ctx, "alice", "msg-1")
	_, _ = f.service.Claim(ctx, "msg-1", "bob")

	first := <-sub.C
	second := <-sub.C
	if first.Type != feed.EventPostingIssued || second.Type != feed.EventPostingClaimed {
		t.Fatalf("unexpected events: %v then %v", first.Type, second.Type)
	}
	if second.UserID != "bob" {
		t.Fatalf("claim event should carry the claimant: %+v", second)
	}
}

func TestQuotaStatsRecorded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, _ = f.service.Roll(ctx, "alice", fmt.Sprintf("msg-%d", i))
	}

	snapshot, err := f.stats.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot["roll:allowed"] != 10 || snapshot["roll:denied"] != 1 {
		t.Fatalf("unexpected stats: %+v", snapshot)
	}
}
