package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// tokenIssuer signs and verifies HS256 session tokens carrying a user_id
// claim.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *tokenIssuer) Issue(userID int) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(t.ttl).Unix(),
	})
	return token.SignedString(t.secret)
}

// Parse returns the user id of a valid, unexpired token.
func (t *tokenIssuer) Parse(tokenStr string) (int, bool) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return 0, false
	}

	// jwt.MapClaims stores numbers as float64
	fv, ok := claims["user_id"].(float64)
	if !ok || fv <= 0 {
		return 0, false
	}
	return int(fv), true
}

// userIDFromRequest reads the bearer token, falling back to the token query
// parameter for WebSocket clients that cannot set headers.
func (t *tokenIssuer) userIDFromRequest(r *http.Request) (int, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return t.Parse(strings.TrimPrefix(auth, "Bearer "))
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return t.Parse(q)
	}
	return 0, false
}

// authenticate rejects requests without a valid token and stores the user id
// in the request context.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.tokens.userIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.users.Touch(r.Context(), userID); err != nil {
			log.Println("Failed to update last_online:", err)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /register
func (s *server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Phone = strings.TrimSpace(req.Phone)
		if !s.validateRequest(w, req) {
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "hash_error")
			log.Println("Error hashing password:", err)
			return
		}

		id, err := s.users.CreateUser(r.Context(), NewAccount{
			Username:     req.Username,
			Email:        req.Email,
			Phone:        req.Phone,
			PasswordHash: string(hash),
		})
		switch {
		case errors.Is(err, errEmailTaken):
			writeError(w, http.StatusConflict, "email_exists")
			return
		case errors.Is(err, errUsernameTaken):
			writeError(w, http.StatusConflict, "username_exists")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "register_error")
			log.Println("Error saving user to database:", err)
			return
		}

		token, err := s.tokens.Issue(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			log.Println("Error generating token for new user:", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"token": token, "id": id})
	}
}

// POST /login
func (s *server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if !s.validateRequest(w, req) {
			return
		}

		ctx := r.Context()
		if err := s.limiter.Check(ctx, req.Email); errors.Is(err, errRateLimited) {
			writeError(w, http.StatusTooManyRequests, "too_many_attempts")
			return
		}

		creds, err := s.users.FindCredentials(ctx, req.Email)
		if errors.Is(err, errUserNotFound) {
			s.limiter.Fail(ctx, req.Email)
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			log.Println("Error querying user:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password)); err != nil {
			s.limiter.Fail(ctx, req.Email)
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.limiter.Reset(ctx, req.Email)

		if err := s.users.Touch(ctx, creds.ID); err != nil {
			log.Println("Failed to update last_online:", err)
		}

		token, err := s.tokens.Issue(creds.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			log.Println("Error generating token:", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "id": creds.ID})
	}
}

// validateRequest writes a 400 and returns false when v fails validation.
func (s *server) validateRequest(w http.ResponseWriter, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	if details, ok := validationDetails(err); ok {
		writeValidationError(w, details)
		return false
	}
	log.Println("validator error:", err)
	writeError(w, http.StatusBadRequest, "invalid_request")
	return false
}
