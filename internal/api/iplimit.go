package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ipLimiterIdleTTL  = 15 * time.Minute
	ipLimiterPruneMin = 256
)

// ipLimiter keeps a token bucket per client IP. Idle entries are pruned
// opportunistically once the map grows past a floor, so a churn of
// one-shot clients cannot grow it without bound.
type ipLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	entries map[string]*ipEntry
}

type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: map[string]*ipEntry{},
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	entry, ok := l.entries[ip]
	if !ok {
		if len(l.entries) >= ipLimiterPruneMin {
			l.pruneLocked(now)
		}
		entry = &ipEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.entries[ip] = entry
	}
	entry.lastSeen = now
	lim := entry.lim
	l.mu.Unlock()

	return lim.Allow()
}

func (l *ipLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-ipLimiterIdleTTL)
	for ip, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
		}
	}
}
