package matching

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseline() Preferences {
	return Preferences{
		Location:    str("Mumbai"),
		Cleanliness: str("Very Clean"),
		Smoking:     str("No Smoking"),
		Pets:        str("No Pets"),
		SocialLevel: str("Extrovert"),
		Music:       str("Quiet"),
	}
}

func candidate(id int, mutate func(*Preferences)) User {
	p := baseline()
	if mutate != nil {
		mutate(&p)
	}
	return User{ID: id, Username: fmt.Sprintf("user%d", id), Preferences: p, ProfileCompleted: true}
}

func TestRanker(t *testing.T) {
	r := NewRanker(nil, nil)
	me := User{ID: 1, Username: "me", Preferences: baseline(), ProfileCompleted: true}

	t.Run("Location matches outrank higher scores", func(t *testing.T) {
		pool := []User{
			candidate(2, func(p *Preferences) { p.Location = str("Pune") }), // 100, other
			candidate(3, func(p *Preferences) { p.Cleanliness = str("Messy") }),
			candidate(4, func(p *Preferences) {
				p.Cleanliness = str("Messy")
				p.Smoking = str("Smoker")
			}),
		}
		got := r.Rank(me, pool)
		require.Len(t, got.Matches, 3)

		var ids, scores []int
		for _, m := range got.Matches {
			ids = append(ids, m.ID)
			scores = append(scores, m.MatchPercentage)
		}
		assert.Equal(t, []int{3, 4, 2}, ids)
		assert.Equal(t, []int{80, 60, 100}, scores)
		assert.Equal(t, 2, got.LocationMatchCount)
		assert.Equal(t, 1, got.OtherMatchCount)
	})

	t.Run("Partitions are ordered and stable", func(t *testing.T) {
		pool := []User{
			candidate(10, func(p *Preferences) { p.Location = str("Goa"); p.Music = str("Loud Music OK") }),
			candidate(11, nil),
			candidate(12, func(p *Preferences) { p.Location = nil }),
			candidate(13, nil),
			candidate(14, func(p *Preferences) { p.Location = str("Goa"); p.Music = str("Loud Music OK") }),
		}
		got := r.Rank(me, pool)
		var ids []int
		for _, m := range got.Matches {
			ids = append(ids, m.ID)
		}
		assert.Equal(t, []int{11, 13, 12, 10, 14}, ids)
		assertRankingInvariants(t, got)
	})

	t.Run("Empty pool", func(t *testing.T) {
		got := r.Rank(me, nil)
		assert.NotNil(t, got.Matches)
		assert.Empty(t, got.Matches)
		assert.Zero(t, got.LocationMatchCount)
		assert.Zero(t, got.OtherMatchCount)
	})

	t.Run("Requester and incomplete profiles are skipped", func(t *testing.T) {
		incomplete := candidate(5, nil)
		incomplete.ProfileCompleted = false
		got := r.Rank(me, []User{me, incomplete, candidate(6, nil)})
		require.Len(t, got.Matches, 1)
		assert.Equal(t, 6, got.Matches[0].ID)
	})

	t.Run("Distances", func(t *testing.T) {
		requester := me
		requester.Profile.Address = "Andheri West, Mumbai"

		fromPref := candidate(20, func(p *Preferences) { p.Location = str("Pune") })
		fromAddress := candidate(21, nil)
		fromAddress.Profile.Address = "Sector 18, Noida"
		nowhere := candidate(22, func(p *Preferences) { p.Location = nil })

		got := r.Rank(requester, []User{fromPref, fromAddress, nowhere})
		byID := map[int]MatchResult{}
		for _, m := range got.Matches {
			byID[m.ID] = m
		}
		mumbai, _ := DefaultResolver.Resolve("Mumbai")
		pune, _ := DefaultResolver.Resolve("Pune")
		noida, _ := DefaultResolver.Resolve("Noida")

		require.NotNil(t, byID[20].DistanceKm)
		assert.Equal(t, DistanceKm(mumbai, pune), *byID[20].DistanceKm)
		require.NotNil(t, byID[21].DistanceKm)
		assert.Equal(t, DistanceKm(mumbai, noida), *byID[21].DistanceKm)
		assert.Nil(t, byID[22].DistanceKm)
	})

	t.Run("No requester coordinate means no distances", func(t *testing.T) {
		requester := me
		requester.Preferences.Location = nil
		got := r.Rank(requester, []User{candidate(30, nil), candidate(31, nil)})
		for _, m := range got.Matches {
			assert.Nil(t, m.DistanceKm)
		}
	})

	t.Run("Unknown place still gets a distance via the default city", func(t *testing.T) {
		requester := me
		requester.Preferences.Location = str("Atlantis")
		got := r.Rank(requester, []User{candidate(40, func(p *Preferences) { p.Location = str("Delhi") })})
		require.NotNil(t, got.Matches[0].DistanceKm)
		assert.Equal(t, 0.0, *got.Matches[0].DistanceKm)
	})
}

func TestRankerParallelMatchesSequential(t *testing.T) {
	cities := []string{"Mumbai", "Pune", "Goa", "Delhi"}
	vals := DefaultCatalog.Definitions()
	pool := make([]User, 0, 600)
	for i := 0; i < 600; i++ {
		u := User{ID: i + 2, ProfileCompleted: true}
		for ci, c := range DefaultCatalog.Categories() {
			if (i+ci)%5 != 0 {
				u.Preferences.Set(c, vals[ci].Values[(i+ci)%len(vals[ci].Values)].Value)
			}
		}
		u.Preferences.Location = str(cities[i%len(cities)])
		pool = append(pool, u)
	}
	me := User{ID: 1, Preferences: baseline(), ProfileCompleted: true}

	seq := NewRanker(nil, nil, WithWorkers(1)).Rank(me, pool)
	par := NewRanker(nil, nil, WithWorkers(8)).Rank(me, pool)
	assert.Equal(t, seq, par)
	assertRankingInvariants(t, par)
}

func assertRankingInvariants(t *testing.T, got Ranking) {
	t.Helper()
	seenOther := false
	for i, m := range got.Matches {
		if !m.IsLocationMatch {
			seenOther = true
		} else {
			assert.False(t, seenOther, "location match at %d after a non-location match", i)
		}
		if i > 0 && got.Matches[i-1].IsLocationMatch == m.IsLocationMatch {
			assert.GreaterOrEqual(t, got.Matches[i-1].MatchPercentage, m.MatchPercentage)
		}
	}
	assert.Equal(t, len(got.Matches), got.LocationMatchCount+got.OtherMatchCount)
}
