package main

import (
	"log"
	"net/http"
	"time"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/realtime"
)

// ChatPeerSummary is one sidebar entry.
type ChatPeerSummary struct {
	UserSummary
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	LastMessage    *string    `json:"lastMessage,omitempty"`
	UnreadMessages int        `json:"unreadMessages"`
	IsOnline       bool       `json:"isOnline"`
}

// GET /chats/summary
// Every friend with their latest activity, most recent first.
func (s *server) chatSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.chats.Summary(r.Context(), currentUserID(r))
		if err != nil {
			log.Println("[CHAT] summary failed:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		ids := make([]int, len(rows))
		for i, row := range rows {
			ids[i] = row.PeerID
		}
		sums, err := s.summaries(r.Context(), ids)
		if err != nil {
			log.Println("[CHAT] summary users failed:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		byID := make(map[int]UserSummary, len(sums))
		for _, sum := range sums {
			byID[sum.ID] = sum
		}

		out := make([]ChatPeerSummary, 0, len(rows))
		for _, row := range rows {
			sum, ok := byID[row.PeerID]
			if !ok {
				continue
			}
			out = append(out, ChatPeerSummary{
				UserSummary:    sum,
				LastMessageAt:  row.LastMessageAt,
				LastMessage:    row.LastMessage,
				UnreadMessages: row.UnreadCount,
				IsOnline:       s.summaryOnline(sum),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /chats/{peerId}/read
func (s *server) chatMarkReadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, ok := pathID(r, "peerId")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_peer")
			return
		}
		me := currentUserID(r)
		n, err := s.chats.MarkRead(r.Context(), me, peer)
		if err != nil {
			log.Println("[CHAT] mark read failed:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if n > 0 {
			s.sessions.SendToUser(peer, realtime.Event{Type: "read", From: me})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
