package scheduler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/issuestream/internal/poller"
)

const (
	metricsNamespace = "issuestream"
	metricsSubsystem = "sync"
)

// Metrics are the scheduler's Prometheus collectors.
type Metrics struct {
	execTotal    *prometheus.CounterVec
	execDuration *prometheus.HistogramVec
	itemsTotal   *prometheus.CounterVec
	interval     prometheus.Gauge
	queueLength  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	defaultMetricsInst *Metrics
)

func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetricsInst = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetricsInst
}

// NewMetrics builds the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		execTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "execs_total",
			Help:      "Total number of poller execs by outcome.",
		}, []string{"outcome"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "exec_duration_seconds",
			Help:      "Poller exec latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "items_total",
			Help:      "Items touched by merges, by kind.",
		}, []string{"kind"}),
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "interval_seconds",
			Help:      "Current pause between poller execs.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_length",
			Help:      "Pollers waiting in the scheduler queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.execTotal, m.execDuration, m.itemsTotal, m.interval, m.queueLength)
	}
	return m
}

func (m *Metrics) observe(res poller.ExecResult, elapsed time.Duration) {
	outcome := execOutcome(res)
	m.execTotal.WithLabelValues(outcome).Inc()
	m.execDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.itemsTotal.WithLabelValues("fetched").Add(float64(res.Fetched))
	m.itemsTotal.WithLabelValues("updated").Add(float64(len(res.Merge.UpdatedIDs)))
	m.itemsTotal.WithLabelValues("pruned").Add(float64(res.Merge.Pruned))
	m.itemsTotal.WithLabelValues("evicted").Add(float64(len(res.Merge.Evicted)))
}

func execOutcome(res poller.ExecResult) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.Errored:
		return "errored"
	case res.RateLimited:
		return "rate_limited"
	case res.Err != nil:
		return "failed"
	case res.CycleCompleted:
		return "cycle_completed"
	default:
		return "ok"
	}
}
