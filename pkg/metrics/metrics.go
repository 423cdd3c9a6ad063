// Package metrics registers the service's Prometheus collectors.
package metrics

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
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Live websocket connections",
	})

	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_realtime_events_total",
		Help: "Inbound realtime events by name",
	}, []string{"event"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages persisted by type",
	}, []string{"type"})

	AutoEnrollments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_auto_enrollments_total",
		Help: "Users enrolled into a public channel by sending to it",
	})

	ReactionToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_reaction_toggles_total",
		Help: "Reaction toggles applied",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_dropped_total",
		Help: "Frames dropped because a client send buffer was full",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_domain_events_published_total",
		Help: "Domain events handed to the event bus, by outcome",
	}, []string{"outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	CircuitBreakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_circuit_breaker_requests_total",
		Help: "Requests through a circuit breaker by result",
	}, []string{"name", "result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records HTTP latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}
