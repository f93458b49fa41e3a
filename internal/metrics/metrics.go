// Package metrics exposes the arena's Prometheus collectors. Every method
// is safe on a nil *Metrics so components can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "goban_arena"

type Metrics struct {
	sessionsCreated  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	actions          *prometheus.CounterVec
	aiRequests       *prometheus.CounterVec
	aiLatency        *prometheus.HistogramVec
	matches          *prometheus.CounterVec
	negotiations     *prometheus.CounterVec
	storageWrites    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total", Help: "Sessions created, by variant.",
		}, []string{"variant"}),
		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_finished_total", Help: "Sessions reaching terminal, by variant and result.",
		}, []string{"variant", "result", "reason"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions", Help: "Sessions held in memory.",
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "actions_total", Help: "Applied or rejected actions, by kind and error code.",
		}, []string{"kind", "code"}),
		aiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ai_requests_total", Help: "AI move requests, by engine and outcome.",
		}, []string{"engine", "outcome"}),
		aiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ai_request_seconds", Help: "AI move request latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"engine"}),
		matches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "matchmaking_total", Help: "Matchmaking attempts, by outcome.",
		}, []string{"outcome"}),
		negotiations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "negotiations_total", Help: "Negotiation dispositions.",
		}, []string{"status"}),
		storageWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_writes_total", Help: "Persistence writes, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SessionCreated(variant string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(variant).Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionFinished(variant, result, reason string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(variant, result, reason).Inc()
}

func (m *Metrics) SessionReleased() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Action counts one Apply; code is "" for success.
func (m *Metrics) Action(kind, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.actions.WithLabelValues(kind, code).Inc()
}

func (m *Metrics) AIRequest(engine string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "unavailable"
	}
	m.aiRequests.WithLabelValues(engine, outcome).Inc()
	m.aiLatency.WithLabelValues(engine).Observe(elapsed.Seconds())
}

// Match records a matchmaking outcome: matched, waiting, failed.
func (m *Metrics) Match(outcome string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Negotiation(status string) {
	if m == nil {
		return
	}
	m.negotiations.WithLabelValues(status).Inc()
}

// StorageWrite records ok, retry, failed or dropped.
func (m *Metrics) StorageWrite(outcome string) {
	if m == nil {
		return
	}
	m.storageWrites.WithLabelValues(outcome).Inc()
}
