package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics menghitung sinyal kualitas data ledger: penolakan tulis pada bulan terkunci,
// eksekusi rantai kas, celah bulan, dan drift.
type LedgerMetrics struct {
	lockRejections  *prometheus.CounterVec
	recomputes      prometheus.Counter
	monthsRewritten prometheus.Counter
	gaps            prometheus.Counter
	drift           prometheus.Counter
}

// NewLedgerMetrics mendaftarkan metrik ledger pada registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		lockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_lock_rejections_total",
			Help: "Mutasi yang ditolak karena bulan sudah dikunci.",
		}, []string{"entity"}),
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_recomputes_total",
			Help: "Jumlah eksekusi perhitungan ulang rantai kas.",
		}),
		monthsRewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_months_rewritten_total",
			Help: "Bulan terbuka yang saldo akhirnya berubah karena perhitungan ulang.",
		}),
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_month_gaps_total",
			Help: "Bulan hilang yang terdeteksi di antara bulan tercatat.",
		}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_drift_flagged_total",
			Help: "Bulan terkunci dengan drift melebihi ambang.",
		}),
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(m.lockRejections, m.recomputes, m.monthsRewritten, m.gaps, m.drift)
	return m
}

func (m *LedgerMetrics) LockRejected(entity string) {
	if m == nil {
		return
	}
	m.lockRejections.WithLabelValues(entity).Inc()
}

func (m *LedgerMetrics) Recomputed(updated int) {
	if m == nil {
		return
	}
	m.recomputes.Inc()
	if updated > 0 {
		m.monthsRewritten.Add(float64(updated))
	}
}

func (m *LedgerMetrics) GapsDetected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.gaps.Add(float64(n))
}

func (m *LedgerMetrics) DriftFlagged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drift.Add(float64(n))
}
