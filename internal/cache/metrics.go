package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for one named cache.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
	Size      prometheus.Gauge
}

// NewMetrics creates and registers metrics for a cache. The name label
// distinguishes caches ("normalizer", "faultcode", ...).
//
// Metrics:
//   - boilerd_cache_hits_total{cache}
//   - boilerd_cache_misses_total{cache}
//   - boilerd_cache_evictions_total{cache}
//   - boilerd_cache_size{cache}
func NewMetrics(name string) *Metrics {
	labels := prometheus.Labels{"cache": name}
	return &Metrics{
		Hits: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "boilerd_cache_hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		}),
		Misses: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "boilerd_cache_misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "boilerd_cache_evictions_total",
			Help:        "Total number of entries evicted at capacity",
			ConstLabels: labels,
		}),
		Size: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "boilerd_cache_size",
			Help:        "Current number of cached entries",
			ConstLabels: labels,
		}),
	}
}
