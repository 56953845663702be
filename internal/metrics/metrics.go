package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes Prometheus metrics for the protection engine. A nil
// Recorder is valid and records nothing.
type Recorder struct {
	ingested         *prometheus.CounterVec
	violations       *prometheus.CounterVec
	dispatched       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	activeDetectors  *prometheus.GaugeVec
	detectorPanics   *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	swept            prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Guild events submitted to the engine grouped by kind",
		}, []string{"kind"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_violations_total",
			Help: "Violations emitted grouped by detector",
		}, []string{"detector"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_dispatch_total",
			Help: "Punishment dispatch outcomes grouped by detector and outcome",
		}, []string{"detector", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_dispatch_duration_seconds",
			Help:    "Latency of punishment dispatch",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeDetectors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_active_detectors",
			Help: "Active detectors grouped by type",
		}, []string{"detector"}),
		detectorPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_detector_panics_total",
			Help: "Recovered detector evaluation panics grouped by detector",
		}, []string{"detector"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_breaker_state",
			Help: "Executor circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_sweeps_total",
			Help: "Completed state sweeps",
		}),
	}

	reg.MustRegister(
		r.ingested,
		r.violations,
		r.dispatched,
		r.dispatchDuration,
		r.activeDetectors,
		r.detectorPanics,
		r.breakerState,
		r.swept,
	)
	return r
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (r *Recorder) ObserveIngest(kind string) {
	if r == nil {
		return
	}
	r.ingested.WithLabelValues(kind).Inc()
}

func (r *Recorder) ObserveViolation(detector string) {
	if r == nil {
		return
	}
	r.violations.WithLabelValues(detector).Inc()
}

func (r *Recorder) ObserveDispatch(detector, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.dispatched.WithLabelValues(detector, outcome).Inc()
	r.dispatchDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

func (r *Recorder) DetectorStarted(detector string) {
	if r == nil {
		return
	}
	r.activeDetectors.WithLabelValues(detector).Inc()
}

func (r *Recorder) DetectorStopped(detector string) {
	if r == nil {
		return
	}
	r.activeDetectors.WithLabelValues(detector).Dec()
}

func (r *Recorder) ObservePanic(detector string) {
	if r == nil {
		return
	}
	r.detectorPanics.WithLabelValues(detector).Inc()
}

func (r *Recorder) SetBreakerState(name string, state float64) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(state)
}

func (r *Recorder) DeleteBreakerState(name string) {
	if r == nil {
		return
	}
	r.breakerState.DeleteLabelValues(name)
}

func (r *Recorder) ObserveSweep() {
	if r == nil {
		return
	}
	r.swept.Inc()
}
