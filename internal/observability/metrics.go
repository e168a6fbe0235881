package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the save cache.
type Metrics struct {
	CacheHitTotal        *prometheus.CounterVec
	CacheMissTotal       *prometheus.CounterVec
	CacheWriteTotal      *prometheus.CounterVec
	CacheEnabled         prometheus.Gauge
	PendingEntries       *prometheus.GaugeVec
	FlushPersistedTotal  *prometheus.CounterVec
	FlushFailedTotal     *prometheus.CounterVec
	FlushDurationSeconds *prometheus.HistogramVec
	RequestsTotal        *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hit_total",
				Help:      "Total number of reads served with a cached overlay",
			},
			[]string{"kind"},
		),
		CacheMissTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_miss_total",
				Help:      "Total number of reads with no cached entry",
			},
			[]string{"kind"},
		),
		CacheWriteTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_write_total",
				Help:      "Total number of partial updates merged into the cache",
			},
			[]string{"kind"},
		),
		CacheEnabled: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_enabled",
				Help:      "Whether the write-back cache is enabled (1) or disabled (0)",
			},
		),
		PendingEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_pending_entries",
				Help:      "Entries waiting to be drained, sampled after each flush",
			},
			[]string{"kind"},
		),
		FlushPersistedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flush_persisted_total",
				Help:      "Total number of cached entries written to the repository",
			},
			[]string{"kind"},
		),
		FlushFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flush_failed_total",
				Help:      "Total number of cached entries that failed to persist",
			},
			[]string{"kind"},
		),
		FlushDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_duration_seconds",
				Help:      "Duration of one drain pass per kind",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of operator requests",
			},
			[]string{"method", "endpoint", "status"},
		),
	}
}

// SetEnabled records the cache flag.
func (m *Metrics) SetEnabled(enabled bool) {
	if enabled {
		m.CacheEnabled.Set(1)
		return
	}
	m.CacheEnabled.Set(0)
}
