package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// accessLog writes one line per request and makes sure every request carries
// an X-Request-ID.
func accessLog(logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rid := r.Header.Get("X-Request-ID")
			if rid == "" {
				rid = uuid.NewString()
				r.Header.Set("X-Request-ID", rid)
			}
			w.Header().Set("X-Request-ID", rid)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Printf(
				"HTTP access | rid=%s ip=%s method=%s path=%s status=%d latency=%s resp_bytes=%d ua=%q",
				rid, r.RemoteAddr, r.Method, r.URL.Path, status, time.Since(start), ww.BytesWritten(), r.UserAgent(),
			)
		})
	}
}
