package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/realtime"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Friend request states. A pair has at most one live row; a new request after
// declined, cancelled or removed starts a fresh row.
const (
	friendPending   = "pending"
	friendAccepted  = "accepted"
	friendDeclined  = "declined"
	friendCancelled = "cancelled"
	friendRemoved   = "removed"
)

type friendAction string

// TERMINOLOGY
// request: create pending, or accept when the other side already asked.
// accept:  pending (peer -> me) -> accepted.
// decline: pending (peer -> me) -> declined.
// cancel:  pending (me -> peer) -> cancelled.
// remove:  accepted -> removed, by either side.
const (
	actionRequest friendAction = "request"
	actionAccept  friendAction = "accept"
	actionDecline friendAction = "decline"
	actionCancel  friendAction = "cancel"
	actionRemove  friendAction = "remove"
)

var (
	errNoFriendRequest = errors.New("no matching friend request")
	errInvalidState    = errors.New("invalid friend request state")
	errNotFriends      = errors.New("users are not friends")
)

type friendRow struct {
	ID          int       `db:"id"`
	RequesterID int       `db:"requester_id"`
	AddresseeID int       `db:"addressee_id"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// friendChange is the write decideFriendAction asks for.
type friendChange struct {
	insert bool // new pending row me -> peer
	update bool // set the existing row to status
	status string
}

// decideFriendAction applies action by me against the latest row between me
// and peer (nil when none exists).
func decideFriendAction(action friendAction, row *friendRow, me int) (friendChange, error) {
	fromPeer := row != nil && row.AddresseeID == me
	status := ""
	if row != nil {
		status = row.Status
	}

	switch action {
	case actionRequest:
		switch {
		case row == nil, status == friendDeclined, status == friendCancelled, status == friendRemoved:
			return friendChange{insert: true, status: friendPending}, nil
		case status == friendPending && fromPeer:
			return friendChange{update: true, status: friendAccepted}, nil
		case status == friendPending, status == friendAccepted:
			return friendChange{status: status}, nil
		}

	case actionAccept:
		switch {
		case status == friendPending && fromPeer:
			return friendChange{update: true, status: friendAccepted}, nil
		case status == friendAccepted:
			return friendChange{status: friendAccepted}, nil
		case row == nil, status == friendPending:
			return friendChange{}, errNoFriendRequest
		}

	case actionDecline:
		switch {
		case status == friendPending && fromPeer:
			return friendChange{update: true, status: friendDeclined}, nil
		case status == friendDeclined && fromPeer:
			return friendChange{status: friendDeclined}, nil
		case row == nil, status == friendPending:
			return friendChange{}, errNoFriendRequest
		}

	case actionCancel:
		switch {
		case status == friendPending && !fromPeer:
			return friendChange{update: true, status: friendCancelled}, nil
		case status == friendCancelled && !fromPeer:
			return friendChange{status: friendCancelled}, nil
		case row == nil, status == friendPending:
			return friendChange{}, errNoFriendRequest
		}

	case actionRemove:
		switch {
		case status == friendAccepted:
			return friendChange{update: true, status: friendRemoved}, nil
		case status == friendRemoved:
			return friendChange{status: friendRemoved}, nil
		case row == nil:
			return friendChange{}, errNoFriendRequest
		}
	}
	return friendChange{}, errInvalidState
}

// FriendResult is the state of a pair after an action.
type FriendResult struct {
	State     string `json:"state"`
	RequestID int    `json:"requestId,omitempty"`
	Changed   bool   `json:"changed"`
}

// FriendStore persists friend requests.
type FriendStore interface {
	Apply(ctx context.Context, me, peer int, action friendAction) (FriendResult, error)
	Friends(ctx context.Context, me int) ([]int, error)
	Incoming(ctx context.Context, me int) ([]int, error)
	Outgoing(ctx context.Context, me int) ([]int, error)
	AreFriends(ctx context.Context, a, b int) (bool, error)
}

type pgFriendStore struct {
	db *sqlx.DB
}

func newPGFriendStore(db *sqlx.DB) *pgFriendStore {
	return &pgFriendStore{db: db}
}

// loadPairForUpdate serializes transactions on the pair (a, b) and returns
// its latest row in either direction, locked until the transaction ends.
// (nil, nil) if none. The advisory lock covers pairs with no row yet.
func loadPairForUpdate(ctx context.Context, tx *sqlx.Tx, a, b int) (*friendRow, error) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lo, hi); err != nil {
		return nil, err
	}

	var row friendRow
	err := tx.GetContext(ctx, &row, `
		SELECT id, requester_id, addressee_id, status, created_at, updated_at
		FROM friend_requests
		WHERE (requester_id = $1 AND addressee_id = $2)
		   OR (requester_id = $2 AND addressee_id = $1)
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *pgFriendStore) Apply(ctx context.Context, me, peer int, action friendAction) (FriendResult, error) {
	var res FriendResult
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		row, err := loadPairForUpdate(ctx, tx, me, peer)
		if err != nil {
			return err
		}
		change, err := decideFriendAction(action, row, me)
		if err != nil {
			return err
		}

		res.State = change.status
		switch {
		case change.insert:
			res.Changed = true
			err := tx.QueryRowxContext(ctx, `
				INSERT INTO friend_requests (requester_id, addressee_id, status)
				VALUES ($1, $2, 'pending')
				RETURNING id
			`, me, peer).Scan(&res.RequestID)
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return errInvalidState
			}
			return err
		case change.update:
			res.Changed = true
			res.RequestID = row.ID
			_, err := tx.ExecContext(ctx, `
				UPDATE friend_requests SET status = $2, updated_at = NOW() WHERE id = $1
			`, row.ID, change.status)
			return err
		default:
			res.RequestID = row.ID
			return nil
		}
	})
	return res, err
}

func (s *pgFriendStore) Friends(ctx context.Context, me int) ([]int, error) {
	var ids []int
	err := s.db.SelectContext(ctx, &ids, `
		SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
		FROM friend_requests
		WHERE status = 'accepted' AND (requester_id = $1 OR addressee_id = $1)
		ORDER BY updated_at DESC, id DESC
	`, me)
	return ids, err
}

func (s *pgFriendStore) Incoming(ctx context.Context, me int) ([]int, error) {
	var ids []int
	err := s.db.SelectContext(ctx, &ids, `
		SELECT requester_id FROM friend_requests
		WHERE addressee_id = $1 AND status = 'pending'
		ORDER BY created_at DESC, id DESC
	`, me)
	return ids, err
}

func (s *pgFriendStore) Outgoing(ctx context.Context, me int) ([]int, error) {
	var ids []int
	err := s.db.SelectContext(ctx, &ids, `
		SELECT addressee_id FROM friend_requests
		WHERE requester_id = $1 AND status = 'pending'
		ORDER BY created_at DESC, id DESC
	`, me)
	return ids, err
}

func (s *pgFriendStore) AreFriends(ctx context.Context, a, b int) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1 FROM friend_requests
			WHERE status = 'accepted'
			  AND ((requester_id = $1 AND addressee_id = $2) OR (requester_id = $2 AND addressee_id = $1))
		)
	`, a, b)
	return ok, err
}

type friendEntry struct {
	UserSummary
	Online bool `json:"online"`
}

// POST /friends/{id}/request|accept|decline|cancel, DELETE /friends/{id}
func (s *server) friendActionHandler(action friendAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := currentUserID(r)
		if peer == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}

		target, err := s.users.FindByID(r.Context(), peer)
		if errors.Is(err, errUserNotFound) || (err == nil && action == actionRequest && !target.ProfileCompleted) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			log.Println("Error loading friend target:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		res, err := s.friends.Apply(r.Context(), me, peer, action)
		switch {
		case errors.Is(err, errNoFriendRequest):
			writeError(w, http.StatusNotFound, "not_found")
			return
		case errors.Is(err, errInvalidState):
			writeError(w, http.StatusConflict, "invalid_state")
			return
		case err != nil:
			log.Printf("friend %s tx error: %v", action, err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		friendActionsTotal.WithLabelValues(string(action), res.State).Inc()
		if res.Changed {
			s.sessions.SendToUser(peer, realtime.Event{
				Type: "friend",
				From: me,
				Data: map[string]any{"action": action, "state": res.State},
			})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// listFriendsHandler serves GET /friends and the request lists. list picks
// the peer ids; key names the response field.
func (s *server) listFriendsHandler(key string, list func(ctx context.Context, me int) ([]int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := list(r.Context(), currentUserID(r))
		if err != nil {
			log.Printf("Error listing %s: %v", key, err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		sums, err := s.summaries(r.Context(), ids)
		if err != nil {
			log.Printf("Error loading %s summaries: %v", key, err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		entries := make([]friendEntry, len(sums))
		for i, sum := range sums {
			entries[i] = friendEntry{UserSummary: sum, Online: s.summaryOnline(sum)}
		}
		writeJSON(w, http.StatusOK, map[string]any{key: entries})
	}
}
