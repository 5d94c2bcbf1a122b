package main

import (
	"log"
	"net/http"
	"time"
)

// GET /matches
// Ranks every other completed profile against the requester: same-location
// candidates first, each group by descending match percentage.
func (s *server) matchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := s.loadMe(w, r)
		if !ok {
			matchRequestsTotal.WithLabelValues("error").Inc()
			return
		}
		if !me.ProfileCompleted || !me.Preferences.HasAny(s.catalog) {
			matchRequestsTotal.WithLabelValues("incomplete_profile").Inc()
			writeError(w, http.StatusForbidden, "incomplete_profile")
			return
		}

		pool, err := s.users.FindCompletedProfiles(r.Context(), me.ID)
		if err != nil {
			matchRequestsTotal.WithLabelValues("error").Inc()
			log.Println("Error loading candidate pool:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		start := time.Now()
		ranking := s.ranker.Rank(*me, pool)
		rankingDuration.Observe(time.Since(start).Seconds())

		for _, m := range ranking.Matches {
			matchPercentages.Observe(float64(m.MatchPercentage))
		}
		matchRequestsTotal.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusOK, ranking)
	}
}
