package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 审计会话的 Prometheus 指标
type Metrics struct {
	Opened    *prometheus.CounterVec
	Closed    *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	TimeTaken *prometheus.HistogramVec
	OpenDepth prometheus.Gauge
}

// NewMetrics 创建并注册指标；reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Opened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audittrail_sessions_opened_total",
			Help: "Total number of audit sessions pushed",
		}, []string{"action"}),
		Closed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audittrail_sessions_closed_total",
			Help: "Total number of audit sessions pulled and persisted",
		}, []string{"action"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audittrail_sessions_failed_total",
			Help: "Total number of audit sessions closed because the mutation failed",
		}, []string{"action"}),
		TimeTaken: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audittrail_session_duration_seconds",
			Help:    "Time between push and pull of an audit session",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		OpenDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audittrail_sessions_open",
			Help: "Number of audit sessions currently open",
		}),
	}
}

func (m *Metrics) opened(action string) {
	if m == nil {
		return
	}
	m.Opened.WithLabelValues(action).Inc()
	m.OpenDepth.Inc()
}

func (m *Metrics) pulled(action string, taken *time.Duration) {
	if m == nil {
		return
	}
	m.OpenDepth.Dec()
	if taken != nil {
		m.TimeTaken.WithLabelValues(action).Observe(taken.Seconds())
	}
}

func (m *Metrics) closed(action string) {
	if m == nil {
		return
	}
	m.Closed.WithLabelValues(action).Inc()
}

func (m *Metrics) failed(action string) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(action).Inc()
}
