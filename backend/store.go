package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/matching"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	errUserNotFound  = errors.New("user not found")
	errEmailTaken    = errors.New("email already registered")
	errUsernameTaken = errors.New("username already taken")
)

// NewAccount is what registration stores.
type NewAccount struct {
	Username     string
	Email        string
	Phone        string
	PasswordHash string
}

// Credentials is the login lookup result.
type Credentials struct {
	ID           int    `db:"id"`
	PasswordHash string `db:"password_hash"`
}

// Contact holds the addresses OTP codes are delivered to.
type Contact struct {
	Email         string `db:"email"`
	Phone         string `db:"phone"`
	EmailVerified bool   `db:"email_verified"`
	PhoneVerified bool   `db:"phone_verified"`
}

// UserSummary is the small card shown in friend lists and chat sidebars.
type UserSummary struct {
	ID       int    `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	FullName string `json:"fullName" db:"full_name"`
	PhotoURL string `json:"photoUrl,omitempty" db:"photo_url"`

	LastOnline *time.Time `json:"-" db:"last_online"`
}

// UserStore is the persistence boundary for accounts, profiles and
// preferences.
type UserStore interface {
	CreateUser(ctx context.Context, acc NewAccount) (int, error)
	FindCredentials(ctx context.Context, email string) (Credentials, error)
	FindByID(ctx context.Context, id int) (*matching.User, error)
	// FindCompletedProfiles returns every user with a completed profile
	// except excludeID.
	FindCompletedProfiles(ctx context.Context, excludeID int) ([]matching.User, error)
	FindSummaries(ctx context.Context, ids []int) ([]UserSummary, error)
	UpdateProfile(ctx context.Context, id int, p matching.Profile) error
	UpdatePreferences(ctx context.Context, id int, p matching.Preferences) error
	SetProfileCompleted(ctx context.Context, id int, completed bool) error
	// SetPhotoURL stores url and returns the one it replaced.
	SetPhotoURL(ctx context.Context, id int, url string) (string, error)
	Contact(ctx context.Context, id int) (Contact, error)
	MarkVerified(ctx context.Context, id int, channel string) error
	Touch(ctx context.Context, id int) error
	LastOnline(ctx context.Context, id int) (time.Time, error)
}

// prefsColumn maps Preferences onto the JSONB preferences column.
type prefsColumn matching.Preferences

func (p prefsColumn) Value() (driver.Value, error) {
	b, err := json.Marshal(matching.Preferences(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *prefsColumn) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = prefsColumn{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("preferences: unsupported type %T", src)
	}
	var out matching.Preferences
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*p = prefsColumn(out)
	return nil
}

type userRow struct {
	ID               int           `db:"id"`
	Username         string        `db:"username"`
	FullName         string        `db:"full_name"`
	Age              sql.NullInt64 `db:"age"`
	Gender           string        `db:"gender"`
	Occupation       string        `db:"occupation"`
	Bio              string        `db:"bio"`
	Address          string        `db:"address"`
	PhotoURL         string        `db:"photo_url"`
	Preferences      prefsColumn   `db:"preferences"`
	ProfileCompleted bool          `db:"profile_completed"`
}

func (r userRow) toUser() matching.User {
	u := matching.User{
		ID:       r.ID,
		Username: r.Username,
		Profile: matching.Profile{
			FullName:   r.FullName,
			Gender:     r.Gender,
			Occupation: r.Occupation,
			Bio:        r.Bio,
			Address:    r.Address,
			PhotoURL:   r.PhotoURL,
		},
		Preferences:      matching.Preferences(r.Preferences),
		ProfileCompleted: r.ProfileCompleted,
	}
	if r.Age.Valid {
		age := int(r.Age.Int64)
		u.Profile.Age = &age
	}
	return u
}

const selectUser = `
	SELECT u.id, u.username,
	       COALESCE(p.full_name, '')          AS full_name,
	       p.age,
	       COALESCE(p.gender, '')             AS gender,
	       COALESCE(p.occupation, '')         AS occupation,
	       COALESCE(p.bio, '')                AS bio,
	       COALESCE(p.address, '')            AS address,
	       COALESCE(p.photo_url, '')          AS photo_url,
	       COALESCE(p.preferences, '{}')      AS preferences,
	       COALESCE(p.profile_completed, FALSE) AS profile_completed
	FROM users u
	LEFT JOIN profiles p ON p.user_id = u.id`

type pgUserStore struct {
	db *sqlx.DB
}

func newPGUserStore(db *sqlx.DB) *pgUserStore {
	return &pgUserStore{db: db}
}

func (s *pgUserStore) CreateUser(ctx context.Context, acc NewAccount) (int, error) {
	var id int
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var phone *string
		if acc.Phone != "" {
			phone = &acc.Phone
		}
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO users (username, email, phone, password_hash, last_online)
			VALUES ($1, $2, $3, $4, NOW())
			RETURNING id
		`, acc.Username, acc.Email, phone, acc.PasswordHash).Scan(&id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO profiles (user_id) VALUES ($1)`, id)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "username") {
				return 0, errUsernameTaken
			}
			return 0, errEmailTaken
		}
		return 0, err
	}
	return id, nil
}

func (s *pgUserStore) FindCredentials(ctx context.Context, email string) (Credentials, error) {
	var c Credentials
	err := s.db.GetContext(ctx, &c, `SELECT id, password_hash FROM users WHERE lower(email) = lower($1)`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return c, errUserNotFound
	}
	return c, err
}

func (s *pgUserStore) FindByID(ctx context.Context, id int) (*matching.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, selectUser+` WHERE u.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u := row.toUser()
	return &u, nil
}

func (s *pgUserStore) FindCompletedProfiles(ctx context.Context, excludeID int) ([]matching.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, selectUser+`
		WHERE p.profile_completed AND u.id <> $1
		ORDER BY u.id`, excludeID); err != nil {
		return nil, err
	}
	users := make([]matching.User, len(rows))
	for i, r := range rows {
		users[i] = r.toUser()
	}
	return users, nil
}

func (s *pgUserStore) FindSummaries(ctx context.Context, ids []int) ([]UserSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []UserSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT u.id, u.username,
		       COALESCE(p.full_name, '') AS full_name,
		       COALESCE(p.photo_url, '') AS photo_url,
		       u.last_online
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = ANY($1)
	`, pq.Array(ids))
	return out, err
}

func (s *pgUserStore) UpdateProfile(ctx context.Context, id int, p matching.Profile) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles (user_id, full_name, age, gender, occupation, bio, address)
		VALUES (:user_id, :full_name, :age, :gender, :occupation, :bio, :address)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name  = EXCLUDED.full_name,
			age        = EXCLUDED.age,
			gender     = EXCLUDED.gender,
			occupation = EXCLUDED.occupation,
			bio        = EXCLUDED.bio,
			address    = EXCLUDED.address,
			updated_at = NOW()
	`, map[string]any{
		"user_id":    id,
		"full_name":  p.FullName,
		"age":        p.Age,
		"gender":     p.Gender,
		"occupation": p.Occupation,
		"bio":        p.Bio,
		"address":    p.Address,
	})
	return err
}

func (s *pgUserStore) UpdatePreferences(ctx context.Context, id int, p matching.Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, preferences) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET preferences = EXCLUDED.preferences, updated_at = NOW()
	`, id, prefsColumn(p))
	return err
}

func (s *pgUserStore) SetProfileCompleted(ctx context.Context, id int, completed bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET profile_completed = $2, updated_at = NOW() WHERE user_id = $1
	`, id, completed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errUserNotFound
	}
	return nil
}

func (s *pgUserStore) SetPhotoURL(ctx context.Context, id int, url string) (string, error) {
	var previous string
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &previous, `SELECT photo_url FROM profiles WHERE user_id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return errUserNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE profiles SET photo_url = $2, updated_at = NOW() WHERE user_id = $1`, id, url)
		return err
	})
	return previous, err
}

func (s *pgUserStore) Contact(ctx context.Context, id int) (Contact, error) {
	var c Contact
	err := s.db.GetContext(ctx, &c, `
		SELECT email, COALESCE(phone, '') AS phone, email_verified, phone_verified
		FROM users WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, errUserNotFound
	}
	return c, err
}

func (s *pgUserStore) MarkVerified(ctx context.Context, id int, channel string) error {
	var q string
	switch channel {
	case channelEmail:
		q = `UPDATE users SET email_verified = TRUE WHERE id = $1`
	case channelSMS:
		q = `UPDATE users SET phone_verified = TRUE WHERE id = $1`
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *pgUserStore) Touch(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_online = NOW() WHERE id = $1`, id)
	return err
}

func (s *pgUserStore) LastOnline(ctx context.Context, id int) (time.Time, error) {
	var t sql.NullTime
	err := s.db.GetContext(ctx, &t, `SELECT last_online FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errUserNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}
