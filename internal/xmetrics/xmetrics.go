// Package xmetrics holds the prometheus collectors shared by the chunk
// I/O engine, the tile service and the RGB tile service. Each Metrics
// carries the "component" label passed to New, so several sets can be
// registered in one process without collector registration conflicts.
// The serve command registers one set and passes it to both the chunk
// engine and the tile service.
package xmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters, histograms and gauges one chunk-fetching
// component needs. A zero-value Metrics has nil collectors and panics on
// use; NewNoop returns a set of unregistered collectors instead, so callers
// that don't care about metrics need no nil checks.
type Metrics struct {
	ChunksFetched   prometheus.Counter
	ChunksCacheHit  prometheus.Counter
	BytesFetched    prometheus.Counter
	RangeRequests   prometheus.Counter
	FetchLatency    prometheus.Histogram
	InflightFetches prometheus.Gauge
	CacheEntries    prometheus.Gauge
	Concurrency     prometheus.Gauge
}

// New registers a Metrics set under the given component label on reg.
// Pass prometheus.DefaultRegisterer for process-global metrics.
func New(reg prometheus.Registerer, component string) *Metrics {
	labels := prometheus.Labels{"component": component}

	m := &Metrics{
		ChunksFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nisarstream",
			Name:        "chunks_fetched_total",
			Help:        "Chunks fetched from the byte source (cache misses).",
			ConstLabels: labels,
		}),
		ChunksCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nisarstream",
			Name:        "chunks_cache_hit_total",
			Help:        "Chunk requests served from the in-memory cache.",
			ConstLabels: labels,
		}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nisarstream",
			Name:        "bytes_fetched_total",
			Help:        "Raw bytes pulled over the wire across all range requests.",
			ConstLabels: labels,
		}),
		RangeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nisarstream",
			Name:        "range_requests_total",
			Help:        "Coalesced HTTP/S3 range requests issued.",
			ConstLabels: labels,
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "nisarstream",
			Name:        "fetch_latency_seconds",
			Help:        "Latency of a single coalesced range fetch.",
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 14),
			ConstLabels: labels,
		}),
		InflightFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nisarstream",
			Name:        "inflight_fetches",
			Help:        "Range fetches currently in flight.",
			ConstLabels: labels,
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nisarstream",
			Name:        "cache_entries",
			Help:        "Entries currently held in the chunk/tile cache.",
			ConstLabels: labels,
		}),
		Concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nisarstream",
			Name:        "concurrency_target",
			Help:        "Current adaptive concurrency target.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChunksFetched, m.ChunksCacheHit, m.BytesFetched, m.RangeRequests,
			m.FetchLatency, m.InflightFetches, m.CacheEntries, m.Concurrency,
		)
	}
	return m
}

// NewNoop returns a Metrics backed by unregistered collectors, so library
// callers who don't pass a registry still get safe no-op observations.
func NewNoop() *Metrics {
	return New(nil, "noop")
}
