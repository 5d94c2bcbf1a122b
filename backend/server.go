package main

import (
	"net/http"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/matching"
	"gitea.kood.tech/petrkubec/roommate-finder/backend/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// server carries the dependencies every handler needs.
type server struct {
	cfg      *Config
	users    UserStore
	friends  FriendStore
	chats    ChatStore
	catalog  *matching.Catalog
	ranker   *matching.Ranker
	sessions *realtime.Registry
	tokens   *tokenIssuer
	limiter  *loginLimiter
	otp      *otpService
	photos   PhotoStorage
	validate *validator.Validate

	// photoFiles serves locally stored photos; nil when photos live in S3.
	photoFiles http.Handler
}

// routes builds the HTTP surface.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(accessLog(nil))
	r.Use(httpMetrics)
	r.Use(middleware.Recoverer)
	r.Use(withCORS(s.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/register", s.registerHandler())
	r.Post("/login", s.loginHandler())
	r.Get("/preferences/catalog", s.catalogHandler())
	if s.photoFiles != nil {
		r.Handle(photoURLPath+"*", s.photoFiles)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(loadersMiddleware(s.users))

		r.Post("/auth/otp/send", s.otpSendHandler())
		r.Post("/auth/otp/verify", s.otpVerifyHandler())

		r.Get("/me", s.meHandler())
		r.Post("/me/ping", s.mePingHandler())
		r.Get("/me/profile", s.getMyProfileHandler())
		r.Put("/me/profile", s.updateMyProfileHandler())
		r.Post("/me/profile/complete", s.completeProfileHandler())
		r.Get("/me/preferences", s.getMyPreferencesHandler())
		r.Put("/me/preferences", s.updateMyPreferencesHandler())
		r.Post("/me/photo", s.uploadPhotoHandler())
		r.Delete("/me/photo", s.deletePhotoHandler())
		r.Get("/users/{id}", s.getUserHandler())

		r.Get("/matches", s.matchesHandler())

		r.Get("/friends", s.listFriendsHandler("friends", s.friends.Friends))
		r.Get("/friends/requests", s.listFriendsHandler("requests", s.friends.Incoming))
		r.Get("/friends/requests/sent", s.listFriendsHandler("requests", s.friends.Outgoing))
		r.Post("/friends/{id}/request", s.friendActionHandler(actionRequest))
		r.Post("/friends/{id}/accept", s.friendActionHandler(actionAccept))
		r.Post("/friends/{id}/decline", s.friendActionHandler(actionDecline))
		r.Post("/friends/{id}/cancel", s.friendActionHandler(actionCancel))
		r.Delete("/friends/{id}", s.friendActionHandler(actionRemove))

		r.Get("/ws/chat", s.wsChatHandler())
		r.Get("/chats/summary", s.chatSummaryHandler())
		r.Get("/chats/{peerId}/messages", s.chatHistoryHandler())
		r.Post("/chats/{peerId}/read", s.chatMarkReadHandler())
	})

	return r
}
