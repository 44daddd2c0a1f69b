package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream gateway.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	tokensIssuedTotal    prometheus.Counter
	tokensRejectedTotal  *prometheus.CounterVec
	playlistsServedTotal prometheus.Counter
	segmentsServedTotal  prometheus.Counter
	upstreamErrorsTotal  prometheus.Counter
	replayGuardEntries   prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_requests_total",
		Help: "Total number of HTTP requests received",
	})
	tokensIssuedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_tokens_issued_total",
		Help: "Total number of access tokens minted",
	})
	tokensRejectedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_tokens_rejected_total",
		Help: "Total number of token validations rejected, by reason",
	}, []string{"reason"})
	playlistsServedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_playlists_served_total",
		Help: "Total number of rewritten playlists served",
	})
	segmentsServedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_segments_served_total",
		Help: "Total number of media segments proxied",
	})
	upstreamErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_upstream_errors_total",
		Help: "Total number of upstream fetch failures (unreachable or non-2xx)",
	})
	replayGuardEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_replay_guard_entries",
		Help: "Number of live nonces held by the replay guard",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		tokensIssuedTotal,
		tokensRejectedTotal,
		playlistsServedTotal,
		segmentsServedTotal,
		upstreamErrorsTotal,
		replayGuardEntries,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		tokensIssuedTotal:    tokensIssuedTotal,
		tokensRejectedTotal:  tokensRejectedTotal,
		playlistsServedTotal: playlistsServedTotal,
		segmentsServedTotal:  segmentsServedTotal,
		upstreamErrorsTotal:  upstreamErrorsTotal,
		replayGuardEntries:   replayGuardEntries,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncTokensIssued increments the tokens issued counter.
func (m *Metrics) IncTokensIssued() {
	m.tokensIssuedTotal.Inc()
}

// IncTokensRejected increments the rejection counter for the given reason
// ("malformed", "bad_signature", "expired", "replay").
func (m *Metrics) IncTokensRejected(reason string) {
	m.tokensRejectedTotal.WithLabelValues(reason).Inc()
}

// IncPlaylistsServed increments the playlists served counter.
func (m *Metrics) IncPlaylistsServed() {
	m.playlistsServedTotal.Inc()
}

// IncSegmentsServed increments the segments served counter.
func (m *Metrics) IncSegmentsServed() {
	m.segmentsServedTotal.Inc()
}

// IncUpstreamErrors increments the upstream failure counter.
func (m *Metrics) IncUpstreamErrors() {
	m.upstreamErrorsTotal.Inc()
}

// SetReplayGuardEntries sets the replay guard size gauge.
func (m *Metrics) SetReplayGuardEntries(n int) {
	m.replayGuardEntries.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. the replay guard size).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
