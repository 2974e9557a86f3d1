// Package metrics exposes Prometheus collectors for the engine's turn
// lifecycle and provider calls, grounded on AltairaLabs-PromptKit's
// runtime/metrics/prometheus package: a package-level registry, one
// collector per concern, and record helpers rather than scattering
// prometheus calls through the engine itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxrelay"

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns completed, by outcome",
		},
		[]string{"status"}, // completed, error, barge_in
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of a conversation turn from dispatch to turn_complete",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"engine"},
	)

	bargeInsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of barge-in interruptions, by detector",
		},
		[]string{"detector"}, // local_vad, stt_text, stt_utterance_end
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of a provider stage call (STT connect, LLM stream, TTS synthesize)",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage", "provider"}, // stage: stt, llm, tts
	)

	providerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total provider errors, by stage, provider, and error kind",
		},
		[]string{"stage", "provider", "kind"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently connected client sessions",
		},
	)

	allCollectors = []prometheus.Collector{
		turnsTotal,
		turnDuration,
		bargeInsTotal,
		providerRequestDuration,
		providerErrorsTotal,
		activeSessions,
	}
)

// Registry builds a fresh Prometheus registry with every engine collector
// plus the standard Go runtime/process collectors.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allCollectors {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns the /metrics HTTP handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func RecordTurn(status, engine string, durationSeconds float64) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.WithLabelValues(engine).Observe(durationSeconds)
}

func RecordBargeIn(detector string) {
	bargeInsTotal.WithLabelValues(detector).Inc()
}

func RecordProviderRequest(stage, provider string, durationSeconds float64) {
	providerRequestDuration.WithLabelValues(stage, provider).Observe(durationSeconds)
}

func RecordProviderError(stage, provider, kind string) {
	providerErrorsTotal.WithLabelValues(stage, provider, kind).Inc()
}

func SessionStarted() { activeSessions.Inc() }
func SessionEnded()   { activeSessions.Dec() }
