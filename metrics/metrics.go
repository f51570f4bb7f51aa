// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reward_relay"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	walletBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "balance",
			Help:      "Custodial wallet balance in whole units.",
		},
		[]string{"asset"},
	)

	tokenDecimals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "token_decimals",
			Help:      "Decimal precision reported by the token.",
		},
	)

	disbursements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "disbursements",
			Name:      "total",
			Help:      "Disbursement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	disbursementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "disbursements",
			Name:      "duration_seconds",
			Help:      "Time from dequeue to confirmation or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"method", "path"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		},
	)
)

func init() {
	Registry.MustRegister(
		walletBalance,
		tokenDecimals,
		disbursements,
		disbursementDuration,
		httpRequests,
		httpDuration,
		rateLimited,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveWallet records the latest wallet snapshot.
func ObserveWallet(native, token float64, decimals uint8) {
	walletBalance.WithLabelValues("native").Set(native)
	walletBalance.WithLabelValues("token").Set(token)
	tokenDecimals.Set(float64(decimals))
}

// RecordDisbursement counts one processed disbursement.
func RecordDisbursement(outcome string, duration time.Duration) {
	disbursements.WithLabelValues(outcome).Inc()
	disbursementDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest counts one served request. path should be the route
// template, not the raw URL.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimited counts one rejected request.
func RecordRateLimited() {
	rateLimited.Inc()
}
