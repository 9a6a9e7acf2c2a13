package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 同步服务的指标；nil 接收者上的方法都是空操作
type Metrics struct {
	PagesFetched    *prometheus.CounterVec
	RecordsFetched  *prometheus.CounterVec
	Reauths         prometheus.Counter
	Upserts         *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	QueueDepth      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skin_sync_pages_fetched_total",
				Help: "List API pages requested, by result.",
			},
			[]string{"status"}, // ok, retry, failed, auth_expired
		),
		RecordsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skin_sync_records_fetched_total",
				Help: "Raw rows seen by the fetch engine.",
			},
			[]string{"kind"}, // unique, duplicate
		),
		Reauths: f.NewCounter(prometheus.CounterOpts{
			Name: "skin_sync_reauth_total",
			Help: "Re-authentications performed during scrapes.",
		}),
		Upserts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skin_sync_upserts_total",
				Help: "Ingestion results, by outcome.",
			},
			[]string{"outcome"}, // new, updated, unchanged, failed
		),
		Sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skin_sync_sessions_total",
				Help: "Scrape sessions, by trigger and status.",
			},
			[]string{"reason", "status"},
		),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "skin_sync_session_duration_seconds",
			Help:    "Duration of scrape sessions.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "skin_sync_queue_depth",
			Help: "Jobs waiting in the sync queue.",
		}),
	}
}

func (m *Metrics) Page(status string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(status).Inc()
}

func (m *Metrics) Records(unique, duplicate int) {
	if m == nil {
		return
	}
	m.RecordsFetched.WithLabelValues("unique").Add(float64(unique))
	m.RecordsFetched.WithLabelValues("duplicate").Add(float64(duplicate))
}

func (m *Metrics) Reauth() {
	if m == nil {
		return
	}
	m.Reauths.Inc()
}

func (m *Metrics) Upsert(outcome string) {
	if m == nil {
		return
	}
	m.Upserts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Session(reason, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(reason, status).Inc()
	m.SessionDuration.Observe(took.Seconds())
}

func (m *Metrics) Queue(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
