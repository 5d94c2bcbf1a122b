package matching

import "math"

// CategoryScore is the similarity of one compared category, in [0,1].
type CategoryScore struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
}

// Compatibility is the result of scoring one pair of users.
type Compatibility struct {
	MatchPercentage int             `json:"matchPercentage"`
	IsLocationMatch bool            `json:"isLocationMatch"`
	Considered      int             `json:"considered"`
	Breakdown       []CategoryScore `json:"breakdown,omitempty"`
}

// Scorer compares preference sets over a catalog.
type Scorer struct {
	catalog *Catalog
}

// NewScorer returns a scorer over catalog (DefaultCatalog if nil).
func NewScorer(catalog *Catalog) *Scorer {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Scorer{catalog: catalog}
}

// Catalog returns the catalog the scorer uses.
func (s *Scorer) Catalog() *Catalog { return s.catalog }

// Score compares a and b. Categories that are unset on either side, or hold
// a value outside the catalog, are skipped rather than penalised.
func (s *Scorer) Score(a, b Preferences) Compatibility {
	var out Compatibility
	sum := 0.0
	for _, cat := range s.catalog.order {
		va, okA := a.Get(cat)
		vb, okB := b.Get(cat)
		if !okA || !okB {
			continue
		}
		oa, okA := s.catalog.OrdinalOf(cat, va)
		ob, okB := s.catalog.OrdinalOf(cat, vb)
		if !okA || !okB {
			continue
		}
		diff := oa - ob
		if diff < 0 {
			diff = -diff
		}
		cs := 1 - float64(diff)/float64(s.catalog.Span(cat))
		sum += cs
		out.Considered++
		out.Breakdown = append(out.Breakdown, CategoryScore{Category: cat, Score: cs})
	}
	if out.Considered > 0 {
		out.MatchPercentage = int(math.Round(100 * sum / float64(out.Considered)))
	}
	out.IsLocationMatch = IsLocationMatch(a, b)
	return out
}

// IsLocationMatch reports whether both location preferences are set and
// exactly equal. The comparison is case-sensitive.
func IsLocationMatch(a, b Preferences) bool {
	la, lb := a.LocationValue(), b.LocationValue()
	return la != "" && lb != "" && la == lb
}
