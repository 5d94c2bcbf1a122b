package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/realtime"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
)

const (
	maxMessageRunes = 2000
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	writeWait       = 10 * time.Second
)

// ChatMessage is a stored chat message.
type ChatMessage struct {
	ID     int64     `json:"id" db:"id"`
	ChatID int       `json:"chatId" db:"chat_id"`
	From   int       `json:"from" db:"sender_id"`
	To     int       `json:"to,omitempty" db:"-"`
	Body   string    `json:"body" db:"content"`
	IsRead bool      `json:"isRead" db:"is_read"`
	Ts     time.Time `json:"ts" db:"created_at"`
}

// clientFrame is what a browser sends over the socket.
type clientFrame struct {
	Type string `json:"type"` // "message" | "typing" | "read"
	To   int    `json:"to"`
	Body string `json:"body,omitempty"`
}

// chatSummaryRow is one accepted friend with chat activity.
type chatSummaryRow struct {
	PeerID        int        `db:"peer_id"`
	LastMessageAt *time.Time `db:"last_message_at"`
	LastMessage   *string    `db:"last_message"`
	UnreadCount   int        `db:"unread_count"`
}

// ChatStore persists chats and messages.
type ChatStore interface {
	// SaveMessage stores body from -> to. It fails with errNotFriends unless
	// the pair has an accepted friend request.
	SaveMessage(ctx context.Context, from, to int, body string) (ChatMessage, error)
	Messages(ctx context.Context, me, peer, limit int, before *time.Time) ([]ChatMessage, error)
	// MarkRead marks peer's messages to me as read and returns how many changed.
	MarkRead(ctx context.Context, me, peer int) (int, error)
	Summary(ctx context.Context, me int) ([]chatSummaryRow, error)
}

type pgChatStore struct {
	db *sqlx.DB
}

func newPGChatStore(db *sqlx.DB) *pgChatStore {
	return &pgChatStore{db: db}
}

func (s *pgChatStore) SaveMessage(ctx context.Context, from, to int, body string) (ChatMessage, error) {
	msg := ChatMessage{From: from, To: to, Body: body}
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var friends bool
		if err := tx.GetContext(ctx, &friends, `
			SELECT EXISTS (
				SELECT 1 FROM friend_requests
				WHERE status = 'accepted'
				  AND ((requester_id = $1 AND addressee_id = $2) OR (requester_id = $2 AND addressee_id = $1))
			)
		`, from, to); err != nil {
			return err
		}
		if !friends {
			return errNotFriends
		}

		// the no-op update makes RETURNING work for an existing row too
		if err := tx.GetContext(ctx, &msg.ChatID, `
			INSERT INTO chats (user1_id, user2_id)
			VALUES (LEAST($1::int, $2::int), GREATEST($1::int, $2::int))
			ON CONFLICT (user1_id, user2_id) DO UPDATE SET user1_id = EXCLUDED.user1_id
			RETURNING id
		`, from, to); err != nil {
			return err
		}

		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO messages (chat_id, sender_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, msg.ChatID, from, body).Scan(&msg.ID, &msg.Ts); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE chats c
			SET last_message_at = $3,
			    unread_for_user1 = CASE WHEN $2 = c.user2_id THEN TRUE ELSE unread_for_user1 END,
			    unread_for_user2 = CASE WHEN $2 = c.user1_id THEN TRUE ELSE unread_for_user2 END
			WHERE c.id = $1
		`, msg.ChatID, from, msg.Ts)
		return err
	})
	return msg, err
}

func (s *pgChatStore) chatID(ctx context.Context, a, b int) (int, error) {
	var id int
	err := s.db.GetContext(ctx, &id, `
		SELECT id FROM chats
		WHERE user1_id = LEAST($1::int, $2::int) AND user2_id = GREATEST($1::int, $2::int)
	`, a, b)
	return id, err
}

func (s *pgChatStore) Messages(ctx context.Context, me, peer, limit int, before *time.Time) ([]ChatMessage, error) {
	chatID, err := s.chatID(ctx, me, peer)
	if errors.Is(err, sql.ErrNoRows) {
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	msgs := make([]ChatMessage, 0, limit)
	err = s.db.SelectContext(ctx, &msgs, `
		SELECT id, chat_id, sender_id, content, is_read, created_at
		FROM messages
		WHERE chat_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, chatID, before, limit)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].From == me {
			msgs[i].To = peer
		} else {
			msgs[i].To = me
		}
	}
	return msgs, nil
}

func (s *pgChatStore) MarkRead(ctx context.Context, me, peer int) (int, error) {
	chatID, err := s.chatID(ctx, me, peer)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var n int64
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET is_read = TRUE
			WHERE chat_id = $1 AND sender_id = $2 AND is_read IS FALSE
		`, chatID, peer)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		_, err = tx.ExecContext(ctx, `
			UPDATE chats c
			SET unread_for_user1 = CASE WHEN $1 = c.user1_id THEN FALSE ELSE unread_for_user1 END,
			    unread_for_user2 = CASE WHEN $1 = c.user2_id THEN FALSE ELSE unread_for_user2 END
			WHERE c.id = $2
		`, me, chatID)
		return err
	})
	return int(n), err
}

func (s *pgChatStore) Summary(ctx context.Context, me int) ([]chatSummaryRow, error) {
	// 1) accepted: every friend id
	// 2) chat_pairs: the chat row for that friend, if any
	// 3) unreads: unread messages sent to me by that friend
	const q = `
WITH accepted AS (
  SELECT CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END AS peer_id
  FROM friend_requests f
  WHERE f.status = 'accepted' AND (f.requester_id = $1 OR f.addressee_id = $1)
),
chat_pairs AS (
  SELECT a.peer_id, ch.id AS chat_id, ch.last_message_at
  FROM accepted a
  LEFT JOIN chats ch
    ON ch.user1_id = LEAST($1::int, a.peer_id)
   AND ch.user2_id = GREATEST($1::int, a.peer_id)
),
unreads AS (
  SELECT cp.peer_id,
         COUNT(m.id) FILTER (WHERE m.is_read = FALSE AND m.sender_id = cp.peer_id) AS unread_count
  FROM chat_pairs cp
  LEFT JOIN messages m ON m.chat_id = cp.chat_id
  GROUP BY cp.peer_id
)
SELECT cp.peer_id,
       cp.last_message_at,
       (SELECT m.content FROM messages m WHERE m.chat_id = cp.chat_id
         ORDER BY m.created_at DESC, m.id DESC LIMIT 1) AS last_message,
       COALESCE(u.unread_count, 0) AS unread_count
FROM chat_pairs cp
LEFT JOIN unreads u ON u.peer_id = cp.peer_id
ORDER BY COALESCE(cp.last_message_at, to_timestamp(0)) DESC, cp.peer_id ASC`

	rows := make([]chatSummaryRow, 0, 32)
	if err := s.db.SelectContext(ctx, &rows, q, me); err != nil {
		return nil, err
	}
	return rows, nil
}

// client is one live WebSocket connection.
type client struct {
	srv     *server
	conn    *websocket.Conn
	session *realtime.Session
	userID  int
}

func (s *server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range s.cfg.AllowedOrigins {
				if o == origin || o == "*" {
					return true
				}
			}
			return false
		},
	}
}

// GET /ws/chat
func (s *server) wsChatHandler() http.HandlerFunc {
	up := s.upgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		userID := currentUserID(r)
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[CHAT] upgrade error for user %d: %v", userID, err)
			return
		}

		session, first := s.sessions.Register(userID)
		chatSessions.Inc()
		c := &client{srv: s, conn: conn, session: session, userID: userID}

		s.sessions.Send(session, realtime.Event{Type: "info", Data: "connected"})
		if first {
			s.broadcastPresence(userID, true)
		}

		go c.writePump()
		var last bool
		c.readPump(func() { last = s.sessions.Unregister(session) })
		chatSessions.Dec()
		if last {
			s.broadcastPresence(userID, false)
		}
	}
}

// broadcastPresence tells userID's friends that their first session opened
// or their last one closed.
func (s *server) broadcastPresence(userID int, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	friends, err := s.friends.Friends(ctx, userID)
	if err != nil {
		log.Printf("[CHAT] presence for %d: %v", userID, err)
		return
	}
	evt := realtime.Event{Type: "presence", From: userID, Data: map[string]bool{"online": online}}
	for _, id := range friends {
		s.sessions.SendToUser(id, evt)
	}
}

func (c *client) reply(evt realtime.Event) {
	c.srv.sessions.Send(c.session, evt)
}

func (c *client) readPump(done func()) {
	defer func() {
		done()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.reply(realtime.Event{Type: "error", Data: "invalid message format"})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *client) handleFrame(frame clientFrame) {
	s := c.srv
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if frame.To <= 0 || frame.To == c.userID {
		c.reply(realtime.Event{Type: "error", Data: "invalid recipient"})
		return
	}

	switch frame.Type {
	case "message":
		body := strings.TrimSpace(frame.Body)
		if body == "" || utf8.RuneCountInString(body) > maxMessageRunes {
			c.reply(realtime.Event{Type: "error", Data: "invalid message body"})
			return
		}
		msg, err := s.chats.SaveMessage(ctx, c.userID, frame.To, body)
		if errors.Is(err, errNotFriends) {
			c.reply(realtime.Event{Type: "error", Data: "not friends"})
			return
		}
		if err != nil {
			log.Printf("[CHAT] save message %d -> %d failed: %v", c.userID, frame.To, err)
			c.reply(realtime.Event{Type: "error", Data: "cannot send message"})
			return
		}
		chatMessagesTotal.Inc()

		out := realtime.Event{Type: "message", From: c.userID, Data: msg}
		s.sessions.SendToUser(frame.To, out)
		// echo to every session of the sender, this one included
		s.sessions.SendToUser(c.userID, out)

	case "typing":
		ok, err := s.friends.AreFriends(ctx, c.userID, frame.To)
		if err != nil || !ok {
			return
		}
		s.sessions.SendToUser(frame.To, realtime.Event{Type: "typing", From: c.userID})

	case "read":
		n, err := s.chats.MarkRead(ctx, c.userID, frame.To)
		if err != nil {
			log.Printf("[CHAT] mark read %d <- %d failed: %v", c.userID, frame.To, err)
			c.reply(realtime.Event{Type: "error", Data: "cannot mark read"})
			return
		}
		if n > 0 {
			s.sessions.SendToUser(frame.To, realtime.Event{Type: "read", From: c.userID})
		}

	default:
		c.reply(realtime.Event{Type: "error", Data: "unknown message type"})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.session.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GET /chats/{peerId}/messages?limit=50&before=2025-09-16T08:00:00Z
// Newest first.
func (s *server) chatHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, ok := pathID(r, "peerId")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_peer")
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 200 {
				writeError(w, http.StatusBadRequest, "invalid_limit")
				return
			}
			limit = n
		}
		var before *time.Time
		if v := r.URL.Query().Get("before"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_before")
				return
			}
			before = &t
		}

		msgs, err := s.chats.Messages(r.Context(), currentUserID(r), peer, limit, before)
		if err != nil {
			log.Println("[CHAT] history failed:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}
