package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by a pipeline service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	Frames          *prometheus.CounterVec
	RelayResults    *prometheus.CounterVec
	ReaperEvictions *prometheus.CounterVec
	CallErrors      *prometheus.CounterVec
	ExternalLatency *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg instead of the default
// registry. Tests use it to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	return newMetrics(reg, namespace)
}

func newMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently tracked by the service.",
		}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Stream frames by direction and kind.",
		}, []string{"direction", "kind"}),
		RelayResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_results_total",
			Help:      "Downstream forward attempts by outcome.",
		}, []string{"result"}),
		ReaperEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_evictions_total",
			Help:      "Sessions evicted by the reaper, by reason.",
		}, []string{"reason"}),
		CallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "Stream calls terminated with an error, by status code.",
		}, []string{"code"}),
		ExternalLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_latency_ms",
			Help:      "Latency of external collaborator calls in milliseconds.",
			Buckets:   []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"dependency"}),
	}
}

func (m *Metrics) ObserveExternalLatency(dependency string, d time.Duration) {
	m.ExternalLatency.WithLabelValues(dependency).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
