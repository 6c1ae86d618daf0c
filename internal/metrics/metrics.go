// Package metrics registers the Prometheus collectors exposed by the AS and
// RS services, following the teacher's pattern of a package-level
// InitPromMetrics(router) call wired in from main.
package metrics

import (
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TokensIssuedTotal counts access tokens minted by the AS's /token
	// endpoint.
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aceoauth_tokens_issued_total",
		Help: "Total number of access tokens issued by the AS.",
	})

	// EdhocHandshakesTotal counts completed EDHOC handshakes, partitioned
	// by outcome (established, failed).
	EdhocHandshakesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aceoauth_edhoc_handshakes_total",
		Help: "Total number of EDHOC handshakes by outcome.",
	}, []string{"outcome"})

	// EdhocHandshakeDuration observes the wall-clock time the RS spends
	// processing MSG3 of a handshake that reaches Established. Failed
	// handshakes and the time before MSG3 arrives are not observed.
	EdhocHandshakeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aceoauth_edhoc_handshake_duration_seconds",
		Help:    "Time spent processing MSG3 of EDHOC handshakes that reach Established.",
		Buckets: prometheus.DefBuckets,
	})

	// OscoreMessagesTotal counts OSCORE-protected requests/responses
	// processed by the RS, partitioned by direction.
	OscoreMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aceoauth_oscore_messages_total",
		Help: "Total number of OSCORE-protected messages processed.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(TokensIssuedTotal, EdhocHandshakesTotal, EdhocHandshakeDuration, OscoreMessagesTotal)
}

// InitPromMetrics mounts the Prometheus /metrics scrape endpoint on router.
func InitPromMetrics(router chi.Router) {
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
}
