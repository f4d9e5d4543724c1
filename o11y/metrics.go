package o11y

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login flow counters. Labels stay low-cardinality: outcome is one of
// the wallet-callback error codes or "ok".
var (
	LoginsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "identity_broker",
		Name:      "logins_started_total",
		Help:      "Authorization requests that created an interaction session.",
	})

	WalletCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity_broker",
		Name:      "wallet_callbacks_total",
		Help:      "Wallet callback submissions by outcome.",
	}, []string{"outcome"})

	WalletCallbackDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "identity_broker",
		Name:      "wallet_callback_duration_seconds",
		Help:      "Wall time of wallet callback handling, verification included.",
		Buckets:   prometheus.DefBuckets,
	})

	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "identity_broker",
		Name:      "tokens_issued_total",
		Help:      "Successful authorization-code exchanges.",
	})
)

// MetricsHandler serves the prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
