package matching

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the pool size from which candidates are scored on
// several goroutines.
const parallelThreshold = 256

// Ranker orders a candidate pool for one requester.
type Ranker struct {
	scorer   *Scorer
	resolver *Resolver
	workers  int
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithWorkers caps the goroutines used for large pools. n <= 1 disables
// the fan-out.
func WithWorkers(n int) RankerOption {
	return func(r *Ranker) { r.workers = n }
}

// NewRanker wires a scorer and a resolver; nil arguments fall back to the
// package defaults.
func NewRanker(scorer *Scorer, resolver *Resolver, opts ...RankerOption) *Ranker {
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	if resolver == nil {
		resolver = DefaultResolver
	}
	r := &Ranker{scorer: scorer, resolver: resolver, workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Scorer returns the ranker's scorer.
func (r *Ranker) Scorer() *Scorer { return r.scorer }

func (r *Ranker) coordinateOf(u User) (Coordinate, bool) {
	return r.resolver.Resolve(u.locationText())
}

// Rank scores every eligible candidate against requester. Location matches
// come first, then the rest; each group is sorted by descending percentage
// and keeps input order on ties. The requester and incomplete profiles are
// skipped if they appear in pool.
func (r *Ranker) Rank(requester User, pool []User) Ranking {
	eligible := make([]User, 0, len(pool))
	for _, c := range pool {
		if c.ID == requester.ID || !c.ProfileCompleted {
			continue
		}
		eligible = append(eligible, c)
	}

	origin, hasOrigin := r.coordinateOf(requester)
	results := make([]MatchResult, len(eligible))
	score := func(i int) {
		c := eligible[i]
		comp := r.scorer.Score(requester.Preferences, c.Preferences)
		res := MatchResult{
			ID:              c.ID,
			Username:        c.Username,
			Profile:         c.Profile,
			Preferences:     c.Preferences,
			MatchPercentage: comp.MatchPercentage,
			IsLocationMatch: comp.IsLocationMatch,
		}
		if hasOrigin {
			if dest, ok := r.coordinateOf(c); ok {
				d := DistanceKm(origin, dest)
				res.DistanceKm = &d
			}
		}
		results[i] = res
	}

	if r.workers > 1 && len(eligible) >= parallelThreshold {
		var g errgroup.Group
		g.SetLimit(r.workers)
		for i := range eligible {
			g.Go(func() error {
				score(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range eligible {
			score(i)
		}
	}

	local := make([]MatchResult, 0, len(results))
	other := make([]MatchResult, 0, len(results))
	for _, res := range results {
		if res.IsLocationMatch {
			local = append(local, res)
		} else {
			other = append(other, res)
		}
	}
	byScore := func(s []MatchResult) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].MatchPercentage > s[j].MatchPercentage })
	}
	byScore(local)
	byScore(other)

	return Ranking{
		Matches:            append(local, other...),
		LocationMatchCount: len(local),
		OtherMatchCount:    len(other),
	}
}
