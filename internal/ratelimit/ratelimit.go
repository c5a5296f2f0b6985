// Package ratelimit implements per-user sliding windows over two
// independent quota classes. Checking a quota and committing a
// consumption are separate operations: a guarded action that fails after
// the check must not charge the user, so callers Record only once the
// action has succeeded end to end.
package ratelimit

import (
	"sync"
	"time"

	"mangadrop/internal/clock"
)

type Class string

const (
	ClassRoll  Class = "roll"
	ClassClaim Class = "claim"
)

type Limit struct {
	Max    int
	Window time.Duration
}

type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the earliest window entry falls out,
	// i.e. the soonest a denied caller can try again. Zero when allowed.
	RetryAfter time.Duration
}

type key struct {
	userID string
	class  Class
}

type Limiter struct {
	mu      sync.Mutex
	limits  map[Class]Limit
	clock   clock.Clock
	entries map[key][]time.Time
}

func New(clk clock.Clock, limits map[Class]Limit) *Limiter {
	return &Limiter{
		limits:  limits,
		clock:   clk,
		entries: map[key][]time.Time{},
	}
}

// Check prunes the user's window for the class and decides whether one
// more consumption would be allowed. It never commits.
func (l *Limiter) Check(userID string, class Class) Decision {
	limit, ok := l.limits[class]
	if !ok || limit.Max <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := l.pruneLocked(key{userID: userID, class: class}, now, limit.Window)

	if len(recent) >= limit.Max {
		earliest := recent[0]
		return Decision{
			Allowed:    false,
			RetryAfter: earliest.Add(limit.Window).Sub(now),
		}
	}
	return Decision{Allowed: true, Remaining: limit.Max - len(recent)}
}

// Record commits one consumption. Call it only after the guarded action
// succeeded; Check alone never charges quota.
func (l *Limiter) Record(userID string, class Class) {
	if _, ok := l.limits[class]; !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{userID: userID, class: class}
	l.entries[k] = append(l.entries[k], l.clock.Now())
}

// Sweep re-prunes every known user and drops entries that emptied out,
// bounding memory to users active within their windows. Returns the
// number of removed keys.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k := range l.entries {
		limit, ok := l.limits[k.class]
		if !ok {
			delete(l.entries, k)
			removed++
			continue
		}
		if len(l.pruneLocked(k, now, limit.Window)) == 0 {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// TrackedUsers reports the number of live (user, class) windows.
func (l *Limiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pruneLocked drops timestamps older than now-window and stores the
// survivors back. Callers must hold l.mu.
func (l *Limiter) pruneLocked(k key, now time.Time, window time.Duration) []time.Time {
	stamps := l.entries[k]
	if len(stamps) == 0 {
		return nil
	}
	cutoff := now.Add(-window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.entries, k)
		return nil
	}
	l.entries[k] = kept
	return kept
}
