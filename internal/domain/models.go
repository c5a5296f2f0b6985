package domain

type PublicationStatus string

const (
	StatusPublishing   PublicationStatus = "publishing"
	StatusFinished     PublicationStatus = "finished"
	StatusHiatus       PublicationStatus = "hiatus"
	StatusDiscontinued PublicationStatus = "discontinued"
	StatusUnknown      PublicationStatus = "unknown"
)

// ParseStatus maps the catalog's status strings onto the fixed enum.
// Anything unrecognized is StatusUnknown rather than an error.
func ParseStatus(raw string) PublicationStatus {
	switch raw {
	case "Publishing":
		return StatusPublishing
	case "Finished":
		return StatusFinished
	case "On Hiatus":
		return StatusHiatus
	case "Discontinued":
		return StatusDiscontinued
	default:
		return StatusUnknown
	}
}

// Item is a catalog entry. It is never mutated after decoding: absent
// fields carry their documented defaults (Popularity 0 = unranked,
// Score 0 = unscored, Status unknown).
type Item struct {
	ID           int               `json:"id"`
	Title        string            `json:"title"`
	URL          string            `json:"url,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	Synopsis     string            `json:"synopsis,omitempty"`
	Popularity   int               `json:"popularity"`
	Score        float64           `json:"score"`
	Members      int               `json:"members"`
	Favorites    int               `json:"favorites"`
	Status       PublicationStatus `json:"status"`
	Genres       []string          `json:"genres,omitempty"`
	Demographics []string          `json:"demographics,omitempty"`
	Rating       string            `json:"rating,omitempty"`
}
