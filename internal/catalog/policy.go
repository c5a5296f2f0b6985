package catalog

import (
	"strings"

	"mangadrop/internal/domain"
)

// ContentPolicy rejects items matching deny-listed genres, demographics
// or rating substrings before they are offered to the community.
type ContentPolicy struct {
	denyGenres       map[string]struct{}
	denyDemographics map[string]struct{}
	denyRatings      []string
}

func NewContentPolicy(genres, demographics, ratings []string) ContentPolicy {
	policy := ContentPolicy{
		denyGenres:       map[string]struct{}{},
		denyDemographics: map[string]struct{}{},
		denyRatings:      ratings,
	}
	for _, genre := range genres {
		policy.denyGenres[genre] = struct{}{}
	}
	for _, demographic := range demographics {
		policy.denyDemographics[demographic] = struct{}{}
	}
	return policy
}

func DefaultContentPolicy() ContentPolicy {
	return NewContentPolicy(
		[]string{"Hentai", "Ecchi", "Erotica", "Smut"},
		[]string{"Hentai"},
		[]string{"Rx"},
	)
}

// Allows reports whether the item may be offered. An empty item is never
// allowed.
func (p ContentPolicy) Allows(item domain.Item) bool {
	if item.ID == 0 {
		return false
	}
	for _, genre := range item.Genres {
		if _, denied := p.denyGenres[genre]; denied {
			return false
		}
	}
	for _, demographic := range item.Demographics {
		if _, denied := p.denyDemographics[demographic]; denied {
			return false
		}
	}
	for _, fragment := range p.denyRatings {
		if fragment != "" && strings.Contains(item.Rating, fragment) {
			return false
		}
	}
	return true
}
