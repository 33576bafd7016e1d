package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts ledger job runs. A job run covers many businesses, so business-level
// failures are tracked apart from the run outcome.
type Metrics struct {
	runs             *prometheus.CounterVec
	businessFailures *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	inFlight         *prometheus.GaugeVec
	closed           prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = register(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return register(registerer)
}

// Run instruments one execution of a job.
type Run struct {
	metrics *Metrics
	job     string
	started time.Time
}

// Track marks job as in flight until End is called.
func (m *Metrics) Track(job string) *Run {
	run := &Run{metrics: m, job: job, started: time.Now()}
	if m != nil {
		m.inFlight.WithLabelValues(job).Inc()
	}
	return run
}

// BusinessFailed counts one business the run could not process.
func (r *Run) BusinessFailed() {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.businessFailures.WithLabelValues(r.job).Inc()
}

// End records the outcome and duration and hands err back unchanged.
func (r *Run) End(err error) error {
	if r == nil || r.metrics == nil {
		return err
	}
	r.metrics.inFlight.WithLabelValues(r.job).Dec()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.runs.WithLabelValues(r.job, outcome).Inc()
	r.metrics.duration.WithLabelValues(r.job).Observe(time.Since(r.started).Seconds())
	return err
}

// AddClosedMonths counts months locked by the month-end close.
func (m *Metrics) AddClosedMonths(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.closed.Add(float64(count))
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_job_runs_total",
			Help: "Ledger job runs by task type and outcome.",
		}, []string{"job", "outcome"}),
		businessFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_jobs_failures_total",
			Help: "Businesses a ledger job run failed to process.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_job_duration_seconds",
			Help:    "Wall time of one ledger job run across every business in scope.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_jobs_in_flight",
			Help: "Ledger job runs currently executing.",
		}, []string{"job"}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_months_closed_total",
			Help: "Months locked by the scheduled month-end close.",
		}),
	}
	registerer.MustRegister(m.runs, m.businessFailures, m.duration, m.inFlight, m.closed)
	return m
}
