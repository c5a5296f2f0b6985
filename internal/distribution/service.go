// Package distribution orchestrates rolls and claims: quota checks,
// catalog fetches, the pending registry, the economy and the event feed.
// Collaborator I/O (catalog, store) always happens outside registry and
// limiter critical sections, so a slow upstream never stalls claims.
package distribution

import (
	"context"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"mangadrop/internal/clock"
	"mangadrop/internal/domain"
	"mangadrop/internal/economy"
	"mangadrop/internal/feed"
	"mangadrop/internal/logging"
	"mangadrop/internal/metrics"
	"mangadrop/internal/pending"
	"mangadrop/internal/ratelimit"
	"mangadrop/internal/score"
	"mangadrop/internal/stats"
	"mangadrop/internal/storage"
)

const maxTitleLength = 256

// Catalog is the remote item source. Its retry and backoff policy is its
// own; the service only maps failures to upstream-failure outcomes.
type Catalog interface {
	FetchRandom(ctx context.Context) (domain.Item, error)
	FetchByID(ctx context.Context, id int) (domain.Item, error)
}

type RollOutcome string

const (
	RollIssued          RollOutcome = "issued"
	RollRateLimited     RollOutcome = "rate_limited"
	RollUpstreamFailure RollOutcome = "upstream_failure"
)

type RollResult struct {
	Outcome      RollOutcome
	Posting      pending.Posting
	Item         domain.Item
	DisplayValue float64
	Remaining    int
	RetryAfter   time.Duration
}

type ClaimOutcome string

const (
	ClaimAwarded         ClaimOutcome = "awarded"
	ClaimTooSoon         ClaimOutcome = "too_soon"
	ClaimExpired         ClaimOutcome = "expired"
	ClaimNotFound        ClaimOutcome = "not_found"
	ClaimUpstreamFailure ClaimOutcome = "upstream_failure"
)

type ClaimResult struct {
	Outcome    ClaimOutcome
	ItemID     int
	Title      string
	Reward     float64
	Balance    float64
	RetryAfter time.Duration
}

type PostingView struct {
	ID        string
	ItemID    int
	Title     string
	CreatedAt time.Time
	State     string
}

type Dependencies struct {
	Catalog  Catalog
	Store    storage.Store
	Registry *pending.Registry
	Limiter  *ratelimit.Limiter
	Engine   *score.Engine
	Economy  *economy.Service
	Hub      *feed.Hub
	Stats    stats.Recorder
	Clock    clock.Clock
	Logger   *log.Logger
	Metrics  *metrics.Counters

	// Expiration mirrors the registry's posting expiration and drives
	// the per-posting expiry timer.
	Expiration time.Duration
}

type Service struct {
	deps Dependencies

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewService(deps Dependencies) *Service {
	return &Service{
		deps: deps,
		rng:  rand.New(rand.NewSource(deps.Clock.Now().UnixNano())),
	}
}

// Roll issues a new claimable posting to userID under the opaque
// postingID minted by the caller. A roll that fails before the end
// leaves no trace: quota is committed and the posting registered only
// once the catalog fetch has succeeded.
func (s *Service) Roll(ctx context.Context, userID, postingID string) (RollResult, error) {
	decision := s.deps.Limiter.Check(userID, ratelimit.ClassRoll)
	if !decision.Allowed {
		s.recordStats(ctx, string(ratelimit.ClassRoll), false)
		s.deps.Metrics.IncRollsRateLimited()
		return RollResult{Outcome: RollRateLimited, RetryAfter: decision.RetryAfter}, nil
	}

	item, err := s.deps.Catalog.FetchRandom(ctx)
	if err != nil {
		s.deps.Metrics.IncUpstreamErrors()
		logging.Allowlist(s.deps.Logger, map[string]string{
			"event": "roll_upstream_failure",
			"error": "catalog_error",
		})
		return RollResult{Outcome: RollUpstreamFailure}, err
	}

	s.deps.Limiter.Record(userID, ratelimit.ClassRoll)
	s.recordStats(ctx, string(ratelimit.ClassRoll), true)

	title := item.Title
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	evicted, err := s.deps.Registry.Register(postingID, item.ID, title)
	if err != nil {
		// Posting ID collisions are a caller bug, not a user-visible
		// error path.
		return RollResult{Outcome: RollUpstreamFailure}, err
	}
	if evicted > 0 {
		s.deps.Metrics.AddPostingsEvicted(evicted)
		logging.Allowlist(s.deps.Logger, map[string]string{
			"event": "registry_overflow",
			"count": strconv.Itoa(evicted),
		})
	}

	s.scheduleExpiry(postingID)

	posting, _ := s.deps.Registry.Get(postingID)
	display := s.displayValue(item)

	s.deps.Metrics.IncRollsIssued()
	s.deps.Hub.Publish(feed.Event{
		Type:      feed.EventPostingIssued,
		PostingID: postingID,
		ItemID:    item.ID,
		Title:     title,
		Value:     display,
		At:        s.deps.Clock.Now(),
	})

	return RollResult{
		Outcome:      RollIssued,
		Posting:      posting,
		Item:         item,
		DisplayValue: display,
		Remaining:    decision.Remaining,
	}, nil
}

// Claim resolves a claim signal for postingID on behalf of userID. Claim
// quota is checked up front but only committed once this user has
// actually won the posting, so expired or missing postings never charge
// the claimer.
func (s *Service) Claim(ctx context.Context, postingID, userID string) (ClaimResult, error) {
	decision := s.deps.Limiter.Check(userID, ratelimit.ClassClaim)
	if !decision.Allowed {
		s.recordStats(ctx, string(ratelimit.ClassClaim), false)
		s.deps.Metrics.IncClaimsTooSoon()
		return ClaimResult{Outcome: ClaimTooSoon, RetryAfter: decision.RetryAfter}, nil
	}

	result, posting := s.deps.Registry.ResolveClaim(postingID)
	switch result {
	case pending.ClaimNotFound:
		s.deps.Metrics.IncClaimsNotFound()
		return ClaimResult{Outcome: ClaimNotFound}, nil
	case pending.ClaimExpired:
		s.deps.Metrics.IncClaimsExpired()
		return ClaimResult{Outcome: ClaimExpired, ItemID: posting.ItemID, Title: posting.Title}, nil
	}

	s.deps.Limiter.Record(userID, ratelimit.ClassClaim)
	s.recordStats(ctx, string(ratelimit.ClassClaim), true)

	now := s.deps.Clock.Now()
	if err := s.deps.Store.RecordClaim(ctx, userID, posting.ItemID, now); err != nil {
		s.deps.Metrics.IncUpstreamErrors()
		logging.Allowlist(s.deps.Logger, map[string]string{
			"event":      "claim_persist_failure",
			"posting_id": postingID,
			"error":      "store_error",
		})
		return ClaimResult{Outcome: ClaimUpstreamFailure}, err
	}

	reward, balance := s.awardReward(ctx, userID, posting)

	s.deps.Metrics.IncClaimsAwarded()
	s.deps.Hub.Publish(feed.Event{
		Type:      feed.EventPostingClaimed,
		PostingID: postingID,
		ItemID:    posting.ItemID,
		Title:     posting.Title,
		UserID:    userID,
		Value:     reward,
		At:        now,
	})

	return ClaimResult{
		Outcome: ClaimAwarded,
		ItemID:  posting.ItemID,
		Title:   posting.Title,
		Reward:  reward,
		Balance: balance,
	}, nil
}

// Posting reports a posting's current display state for UI refresh.
func (s *Service) Posting(postingID string) (PostingView, bool) {
	posting, ok := s.deps.Registry.Get(postingID)
	if !ok {
		return PostingView{}, false
	}
	state := "active"
	if posting.Expired {
		state = "expired"
	}
	return PostingView{
		ID:        posting.ID,
		ItemID:    posting.ItemID,
		Title:     posting.Title,
		CreatedAt: posting.CreatedAt,
		State:     state,
	}, true
}

// awardReward credits the claimant with the item's canonical value. The
// item is usually a cache hit since it was fetched for the roll; losing
// the reward to an upstream failure does not undo the claim.
func (s *Service) awardReward(ctx context.Context, userID string, posting pending.Posting) (float64, float64) {
	if s.deps.Economy == nil {
		return 0, 0
	}
	item, err := s.deps.Catalog.FetchByID(ctx, posting.ItemID)
	if err != nil {
		s.deps.Metrics.IncUpstreamErrors()
		logging.Allowlist(s.deps.Logger, map[string]string{
			"event":   "reward_lookup_failure",
			"item_id": strconv.Itoa(posting.ItemID),
			"error":   "catalog_error",
		})
		return 0, 0
	}
	reward, balance, err := s.deps.Economy.AwardClaim(ctx, userID, item)
	if err != nil {
		logging.Allowlist(s.deps.Logger, map[string]string{
			"event": "reward_credit_failure",
			"error": "store_error",
		})
		return 0, 0
	}
	return reward, balance
}

func (s *Service) scheduleExpiry(postingID string) {
	// The timer only triggers the threshold check; the registry's clock
	// stays authoritative, and lazy expiry covers the case where the
	// timer fires late or not at all.
	time.AfterFunc(s.deps.Expiration+100*time.Millisecond, func() {
		if s.deps.Registry.MarkExpiredIfDue(postingID) {
			s.deps.Metrics.AddPostingsExpired(1)
			s.deps.Hub.Publish(feed.Event{
				Type:      feed.EventPostingExpired,
				PostingID: postingID,
				At:        s.deps.Clock.Now(),
			})
		}
	})
}

func (s *Service) displayValue(item domain.Item) float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.deps.Engine.Display(item, s.rng)
}

func (s *Service) recordStats(ctx context.Context, class string, allowed bool) {
	if s.deps.Stats == nil {
		return
	}
	if err := s.deps.Stats.Record(ctx, stats.Event{Class: class, Allowed: allowed}); err != nil {
		logging.Allowlist(s.deps.Logger, map[string]string{
			"event": "stats_record_failure",
			"class": class,
			"error": "stats_error",
		})
	}
}
