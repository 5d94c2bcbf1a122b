package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roommate_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roommate_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	matchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roommate_match_requests_total",
			Help: "Total number of match list requests",
		},
		[]string{"outcome"},
	)

	rankingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roommate_ranking_duration_seconds",
			Help:    "Time spent scoring and ranking a candidate pool",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	matchPercentages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roommate_match_percentage",
			Help:    "Distribution of match percentages returned to users",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	friendActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roommate_friend_actions_total",
			Help: "Friend request actions by resulting state",
		},
		[]string{"action", "state"},
	)

	chatMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roommate_chat_messages_total",
			Help: "Total number of chat messages stored",
		},
	)

	chatSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roommate_chat_sessions",
			Help: "Live chat WebSocket sessions",
		},
	)

	otpSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roommate_otp_sent_total",
			Help: "Verification codes sent by channel",
		},
		[]string{"channel"},
	)
)

// httpMetrics records every request under its chi route pattern, so path
// ids do not explode the label set. Unmatched paths count as "unmatched".
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
