package main

import (
	"context"
	"log"
	"net/http"
	"time"
)

// A user counts as online with a live chat session or any authenticated
// request within this window.
const onlineWindow = 90 * time.Second

func recentlySeen(last time.Time) bool {
	return !last.IsZero() && time.Since(last) < onlineWindow
}

func (s *server) isOnline(ctx context.Context, userID int) bool {
	if s.sessions.IsOnline(userID) {
		return true
	}
	last, err := s.users.LastOnline(ctx, userID)
	if err != nil {
		log.Println("last_online lookup failed:", err)
		return false
	}
	return recentlySeen(last)
}

// summaryOnline is isOnline for a summary that already carries last_online.
func (s *server) summaryOnline(sum UserSummary) bool {
	if s.sessions.IsOnline(sum.ID) {
		return true
	}
	return sum.LastOnline != nil && recentlySeen(*sum.LastOnline)
}

// POST /me/ping
// authenticate already refreshed last_online.
func (s *server) mePingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
