// Package metrics exposes Prometheus counters and gauges for the
// switcher client's connection and tally activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors for one
// switcher handle. Labels carry the backend type so a single process
// driving multiple handles (future use) stays distinguishable.
type Metrics struct {
	Connected      *prometheus.GaugeVec
	Initialized    *prometheus.GaugeVec
	TallyChanges   *prometheus.CounterVec
	ReconnectCount *prometheus.CounterVec
	ProgramInput   *prometheus.GaugeVec
	PreviewInput   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New builds a fresh registry and registers all collectors, the way
// the pack's scrape-target agents each own a private registry instead
// of the global default one.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switcherctl",
			Name:      "connected",
			Help:      "1 if the switcher backend is connected, 0 otherwise.",
		}, []string{"backend"}),
		Initialized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switcherctl",
			Name:      "initialized",
			Help:      "1 if the switcher backend has completed its initial state sync.",
		}, []string{"backend"}),
		TallyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switcherctl",
			Name:      "tally_changes_total",
			Help:      "Count of deduplicated tally-state transitions observed.",
		}, []string{"backend"}),
		ReconnectCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switcherctl",
			Name:      "reconnects_total",
			Help:      "Count of failed connect attempts, each followed by a backoff delay.",
		}, []string{"backend"}),
		ProgramInput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switcherctl",
			Name:      "program_input",
			Help:      "Current program input/scene number (1-based).",
		}, []string{"backend"}),
		PreviewInput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switcherctl",
			Name:      "preview_input",
			Help:      "Current preview input/scene number (1-based).",
		}, []string{"backend"}),
	}

	reg.MustRegister(m.Connected, m.Initialized, m.TallyChanges, m.ReconnectCount, m.ProgramInput, m.PreviewInput)
	return m
}

// Handler returns the HTTP handler serving this registry's metrics,
// for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
