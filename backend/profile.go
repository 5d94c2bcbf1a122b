package main

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/matching"
)

type profileRequest struct {
	FullName   string `json:"fullName" validate:"max=100"`
	Age        *int   `json:"age" validate:"omitempty,min=18,max=120"`
	Gender     string `json:"gender" validate:"max=32"`
	Occupation string `json:"occupation" validate:"max=100"`
	Bio        string `json:"bio" validate:"max=1000"`
	Address    string `json:"address" validate:"max=200"`
}

type meResponse struct {
	ID               int    `json:"id"`
	Username         string `json:"username"`
	FullName         string `json:"fullName"`
	PhotoURL         string `json:"photoUrl,omitempty"`
	ProfileCompleted bool   `json:"profileCompleted"`
}

type publicUser struct {
	matching.User
	Online bool `json:"online"`
}

// missingForCompletion lists what u still lacks before the profile can be
// marked complete.
func missingForCompletion(u *matching.User, catalog *matching.Catalog) []string {
	var missing []string
	if strings.TrimSpace(u.Profile.FullName) == "" {
		missing = append(missing, "fullName")
	}
	if strings.TrimSpace(u.Profile.Address) == "" && strings.TrimSpace(u.Preferences.LocationValue()) == "" {
		missing = append(missing, "addressOrLocation")
	}
	if !u.Preferences.HasAny(catalog) {
		missing = append(missing, "preferences")
	}
	return missing
}

// loadMe fetches the authenticated user, writing the error response itself.
func (s *server) loadMe(w http.ResponseWriter, r *http.Request) (*matching.User, bool) {
	u, err := s.users.FindByID(r.Context(), currentUserID(r))
	if errors.Is(err, errUserNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if err != nil {
		log.Println("Error loading user:", err)
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return u, true
}

// demoteIfIncomplete clears profileCompleted when an edit removed something
// completion requires.
func (s *server) demoteIfIncomplete(r *http.Request, u *matching.User) {
	if !u.ProfileCompleted || len(missingForCompletion(u, s.catalog)) == 0 {
		return
	}
	if err := s.users.SetProfileCompleted(r.Context(), u.ID, false); err != nil {
		log.Println("Error clearing profile_completed:", err)
		return
	}
	u.ProfileCompleted = false
}

// GET /me
func (s *server) meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.loadMe(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, meResponse{
			ID:               u.ID,
			Username:         u.Username,
			FullName:         u.Profile.FullName,
			PhotoURL:         u.Profile.PhotoURL,
			ProfileCompleted: u.ProfileCompleted,
		})
	}
}

// GET /me/profile
func (s *server) getMyProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.loadMe(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// PUT /me/profile
func (s *server) updateMyProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.FullName = strings.TrimSpace(req.FullName)
		req.Address = strings.TrimSpace(req.Address)
		if !s.validateRequest(w, req) {
			return
		}

		u, ok := s.loadMe(w, r)
		if !ok {
			return
		}
		u.Profile = matching.Profile{
			FullName:   req.FullName,
			Age:        req.Age,
			Gender:     strings.TrimSpace(req.Gender),
			Occupation: strings.TrimSpace(req.Occupation),
			Bio:        strings.TrimSpace(req.Bio),
			Address:    req.Address,
			PhotoURL:   u.Profile.PhotoURL,
		}
		if err := s.users.UpdateProfile(r.Context(), u.ID, u.Profile); err != nil {
			log.Println("Error updating profile:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		s.demoteIfIncomplete(r, u)
		writeJSON(w, http.StatusOK, u)
	}
}

// GET /me/preferences
func (s *server) getMyPreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.loadMe(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, u.Preferences)
	}
}

// PUT /me/preferences
// The body replaces the stored preferences; omitted categories become unset.
func (s *server) updateMyPreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var prefs matching.Preferences
		if err := decodeJSON(w, r, &prefs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if prefs.Location != nil {
			loc := strings.TrimSpace(*prefs.Location)
			prefs.Location = &loc
			if loc == "" {
				prefs.Location = nil
			}
		}
		if !s.validateRequest(w, prefs) {
			return
		}

		u, ok := s.loadMe(w, r)
		if !ok {
			return
		}
		if err := s.users.UpdatePreferences(r.Context(), u.ID, prefs); err != nil {
			log.Println("Error updating preferences:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		u.Preferences = prefs
		s.demoteIfIncomplete(r, u)
		writeJSON(w, http.StatusOK, prefs)
	}
}

// POST /me/profile/complete
func (s *server) completeProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.loadMe(w, r)
		if !ok {
			return
		}
		if missing := missingForCompletion(u, s.catalog); len(missing) > 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "profile_incomplete",
				"missing": missing,
			})
			return
		}
		if !u.ProfileCompleted {
			if err := s.users.SetProfileCompleted(r.Context(), u.ID, true); err != nil {
				log.Println("Error completing profile:", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"profileCompleted": true})
	}
}

// GET /users/{id}
// Other users are visible once their profile is complete.
func (s *server) getUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		u, err := s.users.FindByID(r.Context(), id)
		if errors.Is(err, errUserNotFound) || (err == nil && !u.ProfileCompleted && id != currentUserID(r)) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			log.Println("Error loading user:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, publicUser{User: *u, Online: s.isOnline(r.Context(), id)})
	}
}

// GET /preferences/catalog
func (s *server) catalogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"categories": s.catalog.Definitions()})
	}
}
