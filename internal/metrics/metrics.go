package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshes counts refresh cycles by outcome (success, failure).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepair_token_refreshes_total",
			Help: "The total number of access token refresh cycles.",
		},
		[]string{"outcome"},
	)

	// TokenRefreshDuration is a histogram of refresh call latency.
	TokenRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homepair_token_refresh_duration_seconds",
			Help:    "A histogram of the refresh endpoint call duration.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RequestsQueued counts requests parked while a refresh was in flight.
	RequestsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homepair_requests_queued_total",
			Help: "The total number of requests queued behind an in-flight token refresh.",
		},
	)

	// RequestsReplayed counts requests re-sent with a refreshed token.
	RequestsReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homepair_requests_replayed_total",
			Help: "The total number of requests replayed after a token refresh.",
		},
	)

	// SignOuts counts forced and voluntary sign-outs by reason.
	SignOuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepair_sign_outs_total",
			Help: "The total number of session sign-outs.",
		},
		[]string{"reason"},
	)

	// APIRequestDuration is a histogram of API call latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homepair_api_request_duration_seconds",
			Help:    "A histogram of household API request duration.",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 10), // 10 buckets, 50ms width
		},
		[]string{"method", "status"},
	)
)
