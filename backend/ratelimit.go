package main

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"
)

var errRateLimited = errors.New("too many attempts")

// loginLimiter counts failed logins per email inside a fixed window.
type loginLimiter struct {
	kv     kvStore
	max    int
	window time.Duration
}

func newLoginLimiter(kv kvStore, max int, window time.Duration) *loginLimiter {
	return &loginLimiter{kv: kv, max: max, window: window}
}

func loginKey(email string) string {
	return "login:fail:" + strings.ToLower(strings.TrimSpace(email))
}

// Check returns errRateLimited once the email used up its failures. Store
// errors let the attempt through.
func (l *loginLimiter) Check(ctx context.Context, email string) error {
	v, ok, err := l.kv.Get(ctx, loginKey(email))
	if err != nil {
		log.Println("[RATE] limiter lookup failed:", err)
		return nil
	}
	if !ok {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil && n >= l.max {
		return errRateLimited
	}
	return nil
}

// Fail records a failed attempt.
func (l *loginLimiter) Fail(ctx context.Context, email string) {
	if _, err := l.kv.Incr(ctx, loginKey(email), l.window); err != nil {
		log.Println("[RATE] limiter increment failed:", err)
	}
}

// Reset clears the counter after a successful login.
func (l *loginLimiter) Reset(ctx context.Context, email string) {
	if err := l.kv.Del(ctx, loginKey(email)); err != nil {
		log.Println("[RATE] limiter reset failed:", err)
	}
}
