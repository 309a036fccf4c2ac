package session

import (
	"net/http"
	"time"

	"scribe/internal/job"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts lifecycle activity on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	recordings   *prometheus.CounterVec
	submissions  *prometheus.CounterVec
	queries      *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	pollDuration prometheus.Histogram
	inFlight     prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		recordings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_recordings_total",
			Help: "Recordings started, by result.",
		}, []string{"result"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_submissions_total",
			Help: "Upload and transcribe-start sequences, by result.",
		}, []string{"result"}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_status_queries_total",
			Help: "Status queries issued, by reported state.",
		}, []string{"state"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_outcomes_total",
			Help: "Job outcomes, by kind.",
		}, []string{"kind"}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_poll_duration_seconds",
			Help:    "Time from the first wait to the outcome.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 90, 120},
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_jobs_in_flight",
			Help: "1 while a run is active.",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) recording(ok bool) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) submitted(ok bool) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) queried(state job.State) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) finished(o job.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o.Kind)).Inc()
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) active(on bool) {
	if m == nil {
		return
	}
	if on {
		m.inFlight.Set(1)
		return
	}
	m.inFlight.Set(0)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
