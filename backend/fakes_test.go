package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/matching"
	"gitea.kood.tech/petrkubec/roommate-finder/backend/realtime"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

type fakeAccount struct {
	user          matching.User
	email         string
	phone         string
	hash          string
	emailVerified bool
	phoneVerified bool
	lastOnline    time.Time
}

type fakeUserStore struct {
	mu            sync.Mutex
	nextID        int
	accounts      map[int]*fakeAccount
	summaryCalls  int
	lastSeenCalls int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{accounts: make(map[int]*fakeAccount)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, acc NewAccount) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if strings.EqualFold(a.email, acc.Email) {
			return 0, errEmailTaken
		}
		if a.user.Username == acc.Username {
			return 0, errUsernameTaken
		}
	}
	f.nextID++
	f.accounts[f.nextID] = &fakeAccount{
		user:  matching.User{ID: f.nextID, Username: acc.Username},
		email: acc.Email,
		phone: acc.Phone,
		hash:  acc.PasswordHash,
	}
	return f.nextID, nil
}

func (f *fakeUserStore) FindCredentials(_ context.Context, email string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.accounts {
		if strings.EqualFold(a.email, email) {
			return Credentials{ID: id, PasswordHash: a.hash}, nil
		}
	}
	return Credentials{}, errUserNotFound
}

func (f *fakeUserStore) FindByID(_ context.Context, id int) (*matching.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, errUserNotFound
	}
	u := a.user
	return &u, nil
}

func (f *fakeUserStore) FindCompletedProfiles(_ context.Context, excludeID int) ([]matching.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []matching.User
	for id, a := range f.accounts {
		if id != excludeID && a.user.ProfileCompleted {
			out = append(out, a.user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUserStore) FindSummaries(_ context.Context, ids []int) ([]UserSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	var out []UserSummary
	for _, id := range ids {
		if a, ok := f.accounts[id]; ok {
			sum := UserSummary{
				ID:       id,
				Username: a.user.Username,
				FullName: a.user.Profile.FullName,
				PhotoURL: a.user.Profile.PhotoURL,
			}
			if !a.lastOnline.IsZero() {
				last := a.lastOnline
				sum.LastOnline = &last
			}
			out = append(out, sum)
		}
	}
	return out, nil
}

func (f *fakeUserStore) withAccount(id int, fn func(a *fakeAccount)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return errUserNotFound
	}
	fn(a)
	return nil
}

func (f *fakeUserStore) UpdateProfile(_ context.Context, id int, p matching.Profile) error {
	return f.withAccount(id, func(a *fakeAccount) {
		photo := a.user.Profile.PhotoURL
		a.user.Profile = p
		a.user.Profile.PhotoURL = photo
	})
}

func (f *fakeUserStore) UpdatePreferences(_ context.Context, id int, p matching.Preferences) error {
	return f.withAccount(id, func(a *fakeAccount) { a.user.Preferences = p })
}

func (f *fakeUserStore) SetProfileCompleted(_ context.Context, id int, completed bool) error {
	return f.withAccount(id, func(a *fakeAccount) { a.user.ProfileCompleted = completed })
}

func (f *fakeUserStore) SetPhotoURL(_ context.Context, id int, url string) (string, error) {
	var previous string
	err := f.withAccount(id, func(a *fakeAccount) {
		previous = a.user.Profile.PhotoURL
		a.user.Profile.PhotoURL = url
	})
	return previous, err
}

func (f *fakeUserStore) Contact(_ context.Context, id int) (Contact, error) {
	var c Contact
	err := f.withAccount(id, func(a *fakeAccount) {
		c = Contact{Email: a.email, Phone: a.phone, EmailVerified: a.emailVerified, PhoneVerified: a.phoneVerified}
	})
	return c, err
}

func (f *fakeUserStore) MarkVerified(_ context.Context, id int, channel string) error {
	return f.withAccount(id, func(a *fakeAccount) {
		if channel == channelEmail {
			a.emailVerified = true
		} else {
			a.phoneVerified = true
		}
	})
}

func (f *fakeUserStore) Touch(_ context.Context, id int) error {
	return f.withAccount(id, func(a *fakeAccount) { a.lastOnline = time.Now() })
}

func (f *fakeUserStore) LastOnline(_ context.Context, id int) (time.Time, error) {
	f.mu.Lock()
	f.lastSeenCalls++
	f.mu.Unlock()
	var t time.Time
	err := f.withAccount(id, func(a *fakeAccount) { t = a.lastOnline })
	return t, err
}

func (f *fakeUserStore) account(t *testing.T, id int) fakeAccount {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	require.True(t, ok, "account %d", id)
	return *a
}

// fakeFriendStore keeps rows in insertion order; the last row of a pair is
// its latest.
type fakeFriendStore struct {
	mu   sync.Mutex
	rows []friendRow
}

func (f *fakeFriendStore) latest(a, b int) int {
	for i := len(f.rows) - 1; i >= 0; i-- {
		r := f.rows[i]
		if (r.RequesterID == a && r.AddresseeID == b) || (r.RequesterID == b && r.AddresseeID == a) {
			return i
		}
	}
	return -1
}

func (f *fakeFriendStore) Apply(_ context.Context, me, peer int, action friendAction) (FriendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.latest(me, peer)
	var row *friendRow
	if idx >= 0 {
		row = &f.rows[idx]
	}
	change, err := decideFriendAction(action, row, me)
	if err != nil {
		return FriendResult{}, err
	}
	res := FriendResult{State: change.status}
	switch {
	case change.insert:
		f.rows = append(f.rows, friendRow{
			ID: len(f.rows) + 1, RequesterID: me, AddresseeID: peer, Status: friendPending,
		})
		res.RequestID = len(f.rows)
		res.Changed = true
	case change.update:
		row.Status = change.status
		res.RequestID = row.ID
		res.Changed = true
	default:
		res.RequestID = row.ID
	}
	return res, nil
}

func (f *fakeFriendStore) collect(keep func(r friendRow) (int, bool)) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for i := len(f.rows) - 1; i >= 0; i-- {
		if id, ok := keep(f.rows[i]); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *fakeFriendStore) Friends(_ context.Context, me int) ([]int, error) {
	return f.collect(func(r friendRow) (int, bool) {
		if r.Status != friendAccepted {
			return 0, false
		}
		switch me {
		case r.RequesterID:
			return r.AddresseeID, true
		case r.AddresseeID:
			return r.RequesterID, true
		}
		return 0, false
	}), nil
}

func (f *fakeFriendStore) Incoming(_ context.Context, me int) ([]int, error) {
	return f.collect(func(r friendRow) (int, bool) {
		return r.RequesterID, r.Status == friendPending && r.AddresseeID == me
	}), nil
}

func (f *fakeFriendStore) Outgoing(_ context.Context, me int) ([]int, error) {
	return f.collect(func(r friendRow) (int, bool) {
		return r.AddresseeID, r.Status == friendPending && r.RequesterID == me
	}), nil
}

func (f *fakeFriendStore) AreFriends(_ context.Context, a, b int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.latest(a, b)
	return idx >= 0 && f.rows[idx].Status == friendAccepted, nil
}

// befriend stores an accepted request between a and b.
func (f *fakeFriendStore) befriend(a, b int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, friendRow{ID: len(f.rows) + 1, RequesterID: a, AddresseeID: b, Status: friendAccepted})
}

type fakeChatStore struct {
	mu       sync.Mutex
	friends  FriendStore
	messages []ChatMessage
	chatIDs  map[[2]int]int
}

func newFakeChatStore(friends FriendStore) *fakeChatStore {
	return &fakeChatStore{friends: friends, chatIDs: make(map[[2]int]int)}
}

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func (f *fakeChatStore) SaveMessage(ctx context.Context, from, to int, body string) (ChatMessage, error) {
	ok, err := f.friends.AreFriends(ctx, from, to)
	if err != nil {
		return ChatMessage{}, err
	}
	if !ok {
		return ChatMessage{}, errNotFriends
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(from, to)
	chatID, ok := f.chatIDs[key]
	if !ok {
		chatID = len(f.chatIDs) + 1
		f.chatIDs[key] = chatID
	}
	msg := ChatMessage{
		ID:     int64(len(f.messages) + 1),
		ChatID: chatID,
		From:   from,
		To:     to,
		Body:   body,
		// strictly increasing so ordering by time is stable
		Ts: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(len(f.messages)) * time.Minute),
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeChatStore) Messages(_ context.Context, me, peer, limit int, before *time.Time) ([]ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []ChatMessage{}
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if pairKey(m.From, m.To) != pairKey(me, peer) {
			continue
		}
		if before != nil && !m.Ts.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeChatStore) MarkRead(_ context.Context, me, peer int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := range f.messages {
		m := &f.messages[i]
		if m.From == peer && m.To == me && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (f *fakeChatStore) Summary(ctx context.Context, me int) ([]chatSummaryRow, error) {
	friends, err := f.friends.Friends(ctx, me)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]chatSummaryRow, 0, len(friends))
	for _, peer := range friends {
		row := chatSummaryRow{PeerID: peer}
		for i := range f.messages {
			m := f.messages[i]
			if pairKey(m.From, m.To) != pairKey(me, peer) {
				continue
			}
			ts, body := m.Ts, m.Body
			row.LastMessageAt, row.LastMessage = &ts, &body
			if m.From == peer && !m.IsRead {
				row.UnreadCount++
			}
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].LastMessageAt, rows[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return rows, nil
}

type fakePhotos struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakePhotos() *fakePhotos {
	return &fakePhotos{objects: make(map[string][]byte)}
}

func (f *fakePhotos) Save(_ context.Context, key, _ string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "mem://" + key
	f.objects[url] = body
	return url, nil
}

func (f *fakePhotos) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, url)
	f.deleted = append(f.deleted, url)
	return nil
}

type sentMessage struct {
	to, subject, body string
}

// recordingSender captures OTP deliveries; err makes every delivery fail.
type recordingSender struct {
	mu     sync.Mutex
	emails []sentMessage
	sms    []sentMessage
	last   string
	err    error
}

func (r *recordingSender) SendEmail(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.emails = append(r.emails, sentMessage{to: to, subject: subject, body: body})
	r.last = body
	return nil
}

func (r *recordingSender) SendSMS(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sms = append(r.sms, sentMessage{to: to, body: body})
	r.last = body
	return nil
}

var codePattern = regexp.MustCompile(`code is (\d+)`)

// lastCode pulls the code out of the most recent delivery.
func (r *recordingSender) lastCode(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	m := codePattern.FindStringSubmatch(r.last)
	require.Len(t, m, 2, "no code in %q", r.last)
	return m[1]
}

// ============================================================================
// TEST SERVER
// ============================================================================

type testServer struct {
	srv     *server
	users   *fakeUserStore
	friends *fakeFriendStore
	chats   *fakeChatStore
	photos  *fakePhotos
	sender  *recordingSender
	kv      *memoryKV
	handler http.Handler
}

func testConfig() *Config {
	return &Config{
		Port:                "0",
		Environment:         "test",
		AllowedOrigins:      []string{"http://localhost:5173"},
		DatabaseURL:         "postgres://localhost/roommate_test?sslmode=disable",
		JWTSecret:           "test-secret-key-for-testing",
		TokenTTL:            time.Hour,
		LoginAttemptsMax:    3,
		LoginAttemptsWindow: time.Minute,
		OTPLength:           6,
		OTPExpiry:           10 * time.Minute,
		MaxOTPAttempts:      3,
		EmailProvider:       "log",
		SMSProvider:         "log",
		UploadDir:           "unused",
		DefaultCity:         matching.DefaultCity,
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()
	users := newFakeUserStore()
	friends := &fakeFriendStore{}
	kv := newMemoryKV()
	ts := &testServer{
		users:   users,
		friends: friends,
		chats:   newFakeChatStore(friends),
		photos:  newFakePhotos(),
		sender:  &recordingSender{},
		kv:      kv,
	}
	catalog := matching.DefaultCatalog
	ts.srv = &server{
		cfg:      cfg,
		users:    users,
		friends:  friends,
		chats:    ts.chats,
		catalog:  catalog,
		ranker:   matching.NewRanker(matching.NewScorer(catalog), matching.DefaultResolver),
		sessions: realtime.NewRegistry(32),
		tokens:   newTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		limiter:  newLoginLimiter(kv, cfg.LoginAttemptsMax, cfg.LoginAttemptsWindow),
		photos:   ts.photos,
		validate: newValidator(catalog),
	}
	ts.srv.otp = &otpService{
		kv:          kv,
		users:       users,
		email:       ts.sender,
		sms:         ts.sender,
		length:      cfg.OTPLength,
		expiry:      cfg.OTPExpiry,
		maxAttempts: cfg.MaxOTPAttempts,
	}
	ts.handler = ts.srv.routes()
	t.Cleanup(ts.srv.sessions.Close)
	return ts
}

// addUser creates an account with password "password123" and the given
// preferences.
func (ts *testServer) addUser(t *testing.T, username string, completed bool, prefs matching.Preferences) int {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	ctx := context.Background()
	id, err := ts.users.CreateUser(ctx, NewAccount{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
	})
	require.NoError(t, err)
	require.NoError(t, ts.users.UpdateProfile(ctx, id, matching.Profile{FullName: strings.ToUpper(username[:1]) + username[1:]}))
	require.NoError(t, ts.users.UpdatePreferences(ctx, id, prefs))
	require.NoError(t, ts.users.SetProfileCompleted(ctx, id, completed))
	return id
}

func (ts *testServer) token(t *testing.T, userID int) string {
	t.Helper()
	tok, err := ts.srv.tokens.Issue(userID)
	require.NoError(t, err)
	return tok
}

// do sends a JSON request, authenticated as userID when it is positive.
func (ts *testServer) do(t *testing.T, method, path string, body any, userID int) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]any](t, rec)["error"].(string)
}

func prefs(values map[matching.Category]string, location string) matching.Preferences {
	var p matching.Preferences
	for c, v := range values {
		p.Set(c, v)
	}
	if location != "" {
		p.Location = &location
	}
	return p
}

func itoa(i int) string { return strconv.Itoa(i) }
