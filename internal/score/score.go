// Package score computes the display value ("criptogenes") of a catalog
// item from its popularity, community score and publication status.
package score

import (
	"math"
	"math/rand"
	"sort"

	"mangadrop/internal/domain"
)

// Tier maps a popularity rank range onto a multiplier. A tier applies to
// every rank up to and including MaxRank; ranks beyond the last tier and
// unranked items fall back to the engine's default multiplier.
type Tier struct {
	MaxRank    int
	Multiplier float64
}

// Params are tuning constants, not correctness contracts. Every value may
// be overridden through configuration.
type Params struct {
	// Floor is the base value for items without a community score.
	Floor float64
	// BaseMin/BaseMax bound the linear mapping of score 0-10 onto base points.
	BaseMin float64
	BaseMax float64

	Tiers             []Tier
	DefaultMultiplier float64

	// Each engagement bonus grows with log10 of the scaled count and is
	// clamped to its cap, so doubling a huge count barely moves it.
	MemberScale   float64
	MemberStep    float64
	MemberCap     float64
	FavoriteScale float64
	FavoriteStep  float64
	FavoriteCap   float64

	StatusPublishing   float64
	StatusFinished     float64
	StatusHiatus       float64
	StatusDiscontinued float64

	// Ceiling is approached asymptotically, never reached:
	// final = Ceiling * (1 - e^(-raw/Knee)).
	Ceiling float64
	Knee    float64

	// JitterSpread bounds the presentation-only random factor, e.g. 0.15
	// for a 0.85-1.15 range. The canonical Compute never jitters.
	JitterSpread float64
}

func DefaultParams() Params {
	return Params{
		Floor:   20,
		BaseMin: 40,
		BaseMax: 320,
		Tiers: []Tier{
			{MaxRank: 10, Multiplier: 3.0},
			{MaxRank: 100, Multiplier: 2.2},
			{MaxRank: 1000, Multiplier: 1.6},
			{MaxRank: 10000, Multiplier: 1.25},
			{MaxRank: 50000, Multiplier: 1.0},
		},
		DefaultMultiplier:  0.85,
		MemberScale:        1000,
		MemberStep:         45,
		MemberCap:          120,
		FavoriteScale:      100,
		FavoriteStep:       35,
		FavoriteCap:        90,
		StatusPublishing:   1.1,
		StatusFinished:     1.0,
		StatusHiatus:       0.85,
		StatusDiscontinued: 0.7,
		Ceiling:            1000,
		Knee:               400,
		JitterSpread:       0.15,
	}
}

type Engine struct {
	params Params
}

func NewEngine(params Params) *Engine {
	sort.Slice(params.Tiers, func(i, j int) bool {
		return params.Tiers[i].MaxRank < params.Tiers[j].MaxRank
	})
	return &Engine{params: params}
}

// Compute returns the canonical, deterministic display value in
// [1, Ceiling). Ranking and economy credits must use this form.
func (e *Engine) Compute(item domain.Item) float64 {
	return e.finish(e.raw(item))
}

// Display returns a presentation-only variant with bounded random jitter.
func (e *Engine) Display(item domain.Item, rng *rand.Rand) float64 {
	raw := e.raw(item)
	if e.params.JitterSpread > 0 && rng != nil {
		raw *= 1 + (rng.Float64()*2-1)*e.params.JitterSpread
	}
	return e.finish(raw)
}

func (e *Engine) raw(item domain.Item) float64 {
	p := e.params

	base := p.Floor
	if item.Score > 0 {
		score := math.Min(item.Score, 10)
		base = p.BaseMin + score/10*(p.BaseMax-p.BaseMin)
	}

	base *= e.popularityMultiplier(item.Popularity)
	base += clampedLogBonus(item.Members, p.MemberScale, p.MemberStep, p.MemberCap)
	base += clampedLogBonus(item.Favorites, p.FavoriteScale, p.FavoriteStep, p.FavoriteCap)

	switch item.Status {
	case domain.StatusPublishing:
		base *= p.StatusPublishing
	case domain.StatusFinished:
		base *= p.StatusFinished
	case domain.StatusHiatus:
		base *= p.StatusHiatus
	case domain.StatusDiscontinued:
		base *= p.StatusDiscontinued
	}
	return base
}

func (e *Engine) popularityMultiplier(rank int) float64 {
	if rank <= 0 {
		return e.params.DefaultMultiplier
	}
	for _, tier := range e.params.Tiers {
		if rank <= tier.MaxRank {
			return tier.Multiplier
		}
	}
	return e.params.DefaultMultiplier
}

func (e *Engine) finish(raw float64) float64 {
	p := e.params
	value := p.Ceiling * (1 - math.Exp(-raw/p.Knee))
	value = math.Round(value*100) / 100
	if value < 1 {
		return 1
	}
	if value > p.Ceiling-0.01 {
		return p.Ceiling - 0.01
	}
	return value
}

func clampedLogBonus(count int, scale, step, limit float64) float64 {
	if count <= 0 || scale <= 0 {
		return 0
	}
	bonus := step * math.Log10(1+float64(count)/scale)
	return math.Min(bonus, limit)
}
