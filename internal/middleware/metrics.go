package middleware

import "github.com/prometheus/client_golang/prometheus"

var (
	rateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_requests_total",
			Help: "Total requests seen by the rate limiter",
		},
		[]string{"route"},
	)
	rateLimitBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_blocked_total",
			Help: "Total requests blocked by the rate limiter",
		},
		[]string{"route"},
	)
	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_replays_total",
			Help: "Responses served from the idempotency cache",
		},
	)
)

func init() {
	prometheus.MustRegister(rateLimitRequests, rateLimitBlocked, idempotentReplays)
}
