// Package pending holds the bounded table of claimable postings. A
// posting is Active from registration until it is claimed, expires, or is
// purged. Expired postings stay lookupable for a retention horizon so a
// late claim still gets the more useful "expired" answer instead of
// "not found".
package pending

import (
	"errors"
	"sort"
	"sync"
	"time"

	"mangadrop/internal/clock"
)

var ErrDuplicatePosting = errors.New("posting id already registered")

type Posting struct {
	ID        string
	ItemID    int
	Title     string
	CreatedAt time.Time
	Expired   bool
}

type ClaimResult int

const (
	ClaimSuccess ClaimResult = iota
	ClaimNotFound
	ClaimExpired
)

type Options struct {
	// Expiration is how long a posting stays claimable.
	Expiration time.Duration
	// Retention is how long past CreatedAt an expired posting remains
	// lookupable before the sweep purges it. Must exceed Expiration.
	Retention time.Duration
	// HardCap bounds the table; when registration pushes the table past
	// it, the oldest postings are force-purged down to EvictTarget.
	HardCap     int
	EvictTarget int
}

type SweepResult struct {
	Expired int
	Purged  int
	Evicted int
}

type Registry struct {
	mu    sync.Mutex
	clock clock.Clock
	opts  Options
	table map[string]*Posting
}

func NewRegistry(clk clock.Clock, opts Options) *Registry {
	return &Registry{
		clock: clk,
		opts:  opts,
		table: map[string]*Posting{},
	}
}

// Register adds a new Active posting. The posting ID is an opaque handle
// minted by the caller; a collision is a caller bug, reported as
// ErrDuplicatePosting. Registration enforces the hard cap so the table
// never grows unbounded between sweeps; the count of force-purged
// postings is returned.
func (r *Registry) Register(postingID string, itemID int, title string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.table[postingID]; exists {
		return 0, ErrDuplicatePosting
	}
	r.table[postingID] = &Posting{
		ID:        postingID,
		ItemID:    itemID,
		Title:     title,
		CreatedAt: r.clock.Now(),
	}
	return r.evictOverCapLocked(), nil
}

// ResolveClaim is the claim critical section. At most one caller ever
// observes ClaimSuccess for a given posting: the winner removes the
// posting under the lock, so every later caller sees ClaimNotFound.
func (r *Registry) ResolveClaim(postingID string) (ClaimResult, Posting) {
	r.mu.Lock()
	defer r.mu.Unlock()

	posting, ok := r.table[postingID]
	if !ok {
		return ClaimNotFound, Posting{}
	}
	r.expireIfDueLocked(posting, r.clock.Now())
	if posting.Expired {
		return ClaimExpired, *posting
	}
	delete(r.table, postingID)
	return ClaimSuccess, *posting
}

// MarkExpiredIfDue transitions Active postings past the expiration
// threshold to Expired. Idempotent; reports whether this call performed
// the transition. Timer-driven and lazy expiry both funnel through the
// same threshold check.
func (r *Registry) MarkExpiredIfDue(postingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	posting, ok := r.table[postingID]
	if !ok || posting.Expired {
		return false
	}
	return r.expireIfDueLocked(posting, r.clock.Now())
}

// Get reports a posting's current display state, applying lazy expiry
// first so readers and claimers agree on the threshold.
func (r *Registry) Get(postingID string) (Posting, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	posting, ok := r.table[postingID]
	if !ok {
		return Posting{}, false
	}
	r.expireIfDueLocked(posting, r.clock.Now())
	return *posting, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// Sweep expires overdue Active postings, purges postings past the
// retention horizon, and applies the hard cap as a safety valve in case
// registration-time eviction was not enough.
func (r *Registry) Sweep(now time.Time) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result SweepResult
	for id, posting := range r.table {
		if r.expireIfDueLocked(posting, now) {
			result.Expired++
		}
		if now.Sub(posting.CreatedAt) >= r.opts.Retention {
			delete(r.table, id)
			result.Purged++
		}
	}
	result.Evicted = r.evictOverCapLocked()
	return result
}

func (r *Registry) expireIfDueLocked(posting *Posting, now time.Time) bool {
	if posting.Expired {
		return false
	}
	if now.Sub(posting.CreatedAt) >= r.opts.Expiration {
		posting.Expired = true
		return true
	}
	return false
}

// evictOverCapLocked force-purges the globally oldest postings, oldest
// first and regardless of state, until the table is back at EvictTarget.
func (r *Registry) evictOverCapLocked() int {
	if r.opts.HardCap <= 0 || len(r.table) <= r.opts.HardCap {
		return 0
	}
	target := r.opts.EvictTarget
	if target <= 0 || target > r.opts.HardCap {
		target = r.opts.HardCap
	}

	postings := make([]*Posting, 0, len(r.table))
	for _, posting := range r.table {
		postings = append(postings, posting)
	}
	sort.Slice(postings, func(i, j int) bool {
		return postings[i].CreatedAt.Before(postings[j].CreatedAt)
	})

	evicted := 0
	for _, posting := range postings {
		if len(r.table) <= target {
			break
		}
		delete(r.table, posting.ID)
		evicted++
	}
	return evicted
}
