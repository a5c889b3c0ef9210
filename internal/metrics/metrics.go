package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path and status code",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OTPChallengesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_challenges_issued_total",
			Help: "OTP challenges issued by delivery provider",
		},
		[]string{"provider"},
	)

	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verifications_total",
			Help: "OTP verification outcomes",
		},
		[]string{"result"},
	)

	OTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otp_rate_limited_total",
			Help: "OTP requests denied by the sliding-window rate limiter",
		},
	)
)
