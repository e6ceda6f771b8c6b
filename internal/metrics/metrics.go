// Package metrics exposes routing, probe, and run counters to Prometheus.
//
// Recorder owns a private registry so tests and multiple daemons in one
// process never collide on the global default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comfyforge"

// Recorder implements the router, monitor, and runs observer interfaces.
type Recorder struct {
	registry *prometheus.Registry

	selections *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	disabled   *prometheus.CounterVec
	probes     *prometheus.CounterVec
	runs       *prometheus.CounterVec
	runSeconds *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_selections_total",
			Help:      "Key selections by provider, strategy, and whether a key was found.",
		}, []string{"provider", "strategy", "found"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Provider call outcomes recorded against routed keys.",
		}, []string{"provider", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Latency of successful provider calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		disabled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_disabled_total",
			Help:      "Keys automatically disabled after repeated failures.",
		}, []string{"provider"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_probes_total",
			Help:      "Health probe results by provider.",
		}, []string{"provider", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Finished pipeline runs by status.",
		}, []string{"status"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of finished pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"status"}),
	}
	r.registry.MustRegister(
		r.selections, r.outcomes, r.latency, r.disabled, r.probes, r.runs, r.runSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveSelection(provider string, strategy string, found bool) {
	r.selections.WithLabelValues(provider, strategy, strconv.FormatBool(found)).Inc()
}

func (r *Recorder) ObserveOutcome(provider string, success bool, latencyMs float64) {
	result := "failure"
	if success {
		result = "success"
		r.latency.WithLabelValues(provider).Observe(latencyMs / 1000)
	}
	r.outcomes.WithLabelValues(provider, result).Inc()
}

func (r *Recorder) ObserveDisabled(provider string) {
	r.disabled.WithLabelValues(provider).Inc()
}

func (r *Recorder) ObserveProbe(provider string, result string) {
	r.probes.WithLabelValues(provider, result).Inc()
}

func (r *Recorder) ObserveRun(status string, duration time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	r.runSeconds.WithLabelValues(status).Observe(duration.Seconds())
}
