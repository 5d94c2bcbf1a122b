package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitea.kood.tech/petrkubec/roommate-finder/backend/matching"
	"gitea.kood.tech/petrkubec/roommate-finder/backend/realtime"
)

func main() {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Database unavailable: ", err)
	}
	defer db.Close()

	var kv kvStore
	if rkv, err := newRedisKV(ctx, cfg.RedisURL); err != nil {
		log.Printf("[Cache] Redis unavailable, using in-process store: %v", err)
		kv = newMemoryKV()
	} else {
		defer rkv.Close()
		kv = rkv
	}

	resolver, err := matching.NewResolver(matching.IndianCities, cfg.DefaultCity)
	if err != nil {
		log.Fatal("Invalid DEFAULT_CITY: ", err)
	}
	catalog := matching.DefaultCatalog
	var rankerOpts []matching.RankerOption
	if cfg.MatchWorkers > 0 {
		rankerOpts = append(rankerOpts, matching.WithWorkers(cfg.MatchWorkers))
	}

	users := newPGUserStore(db)
	srv := &server{
		cfg:      cfg,
		users:    users,
		friends:  newPGFriendStore(db),
		chats:    newPGChatStore(db),
		catalog:  catalog,
		ranker:   matching.NewRanker(matching.NewScorer(catalog), resolver, rankerOpts...),
		sessions: realtime.NewRegistry(32),
		tokens:   newTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		limiter:  newLoginLimiter(kv, cfg.LoginAttemptsMax, cfg.LoginAttemptsWindow),
		validate: newValidator(catalog),
	}
	srv.otp = &otpService{
		kv:          kv,
		users:       users,
		email:       newEmailSender(cfg),
		sms:         newSMSSender(cfg),
		length:      cfg.OTPLength,
		expiry:      cfg.OTPExpiry,
		maxAttempts: cfg.MaxOTPAttempts,
	}

	if cfg.UseS3 {
		photos, err := newS3Photos(cfg.AWSRegion, cfg.S3Bucket)
		if err != nil {
			log.Fatal("S3 storage unavailable: ", err)
		}
		srv.photos = photos
	} else {
		photos, err := newLocalPhotos(cfg.UploadDir)
		if err != nil {
			log.Fatal("Upload directory unavailable: ", err)
		}
		srv.photos = photos
		srv.photoFiles = photos.Handler()
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting Roommate Finder backend on port %s (%s)...", cfg.Port, cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error: ", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// closing sessions ends the WebSocket pumps, which Shutdown does not wait for
	srv.sessions.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Println("Graceful shutdown failed:", err)
	}
}
