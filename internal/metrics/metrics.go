package metrics

import "sync/atomic"

type Counters struct {
	rollsIssuedTotal      atomic.Uint64
	rollsRateLimitedTotal atomic.Uint64
	claimsAwardedTotal    atomic.Uint64
	claimsTooSoonTotal    atomic.Uint64
	claimsExpiredTotal    atomic.Uint64
	claimsNotFoundTotal   atomic.Uint64
	upstreamErrorsTotal   atomic.Uint64
	cacheHitsTotal        atomic.Uint64
	cacheMissesTotal      atomic.Uint64
	postingsExpiredTotal  atomic.Uint64
	postingsEvictedTotal  atomic.Uint64
	sweeperRunsTotal      atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncRollsIssued()      { c.rollsIssuedTotal.Add(1) }
func (c *Counters) IncRollsRateLimited() { c.rollsRateLimitedTotal.Add(1) }
func (c *Counters) IncClaimsAwarded()    { c.claimsAwardedTotal.Add(1) }
func (c *Counters) IncClaimsTooSoon()    { c.claimsTooSoonTotal.Add(1) }
func (c *Counters) IncClaimsExpired()    { c.claimsExpiredTotal.Add(1) }
func (c *Counters) IncClaimsNotFound()   { c.claimsNotFoundTotal.Add(1) }
func (c *Counters) IncUpstreamErrors()   { c.upstreamErrorsTotal.Add(1) }
func (c *Counters) IncCacheHits()        { c.cacheHitsTotal.Add(1) }
func (c *Counters) IncCacheMisses()      { c.cacheMissesTotal.Add(1) }
func (c *Counters) IncSweeperRuns()      { c.sweeperRunsTotal.Add(1) }

func (c *Counters) AddPostingsExpired(count int) {
	if count <= 0 {
		return
	}
	c.postingsExpiredTotal.Add(uint64(count))
}

func (c *Counters) AddPostingsEvicted(count int) {
	if count <= 0 {
		return
	}
	c.postingsEvictedTotal.Add(uint64(count))
}

func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"rolls_issued_total":       c.rollsIssuedTotal.Load(),
		"rolls_rate_limited_total": c.rollsRateLimitedTotal.Load(),
		"claims_awarded_total":     c.claimsAwardedTotal.Load(),
		"claims_too_soon_total":    c.claimsTooSoonTotal.Load(),
		"claims_expired_total":     c.claimsExpiredTotal.Load(),
		"claims_not_found_total":   c.claimsNotFoundTotal.Load(),
		"upstream_errors_total":    c.upstreamErrorsTotal.Load(),
		"cache_hits_total":         c.cacheHitsTotal.Load(),
		"cache_misses_total":       c.cacheMissesTotal.Load(),
		"postings_expired_total":   c.postingsExpiredTotal.Load(),
		"postings_evicted_total":   c.postingsEvictedTotal.Load(),
		"sweeper_runs_total":       c.sweeperRunsTotal.Load(),
	}
}
