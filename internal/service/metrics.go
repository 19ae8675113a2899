package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the per-store counters and gauges of the cache engine. Every series is
// labelled by store.
type Metrics struct {
	Fetches        *prometheus.CounterVec
	FetchAccepted  *prometheus.CounterVec
	FetchRefused   *prometheus.CounterVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	Restores       *prometheus.CounterVec
	RestoredBytes  *prometheus.CounterVec
	OrdersFailed   *prometheus.CounterVec
	QueuePending   *prometheus.GaugeVec
	QueueRunning   *prometheus.GaugeVec
	ActiveDownload *prometheus.GaugeVec
	ReconcileTime  *prometheus.HistogramVec
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	labels := []string{"store"}
	return &Metrics{
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_fetch_total",
			Help: "Fetch requests received",
		}, labels),
		FetchAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_fetch_accepted_total",
			Help: "Fetch requests that created or re-admitted an order",
		}, labels),
		FetchRefused: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_fetch_refused_total",
			Help: "Fetch requests refused by the pending quota",
		}, labels),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_cache_hit_total",
			Help: "Product lookups served from the local cache",
		}, labels),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_cache_miss_total",
			Help: "Product lookups not served from the local cache",
		}, labels),
		Restores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_restore_total",
			Help: "Products written into the cache from a remote",
		}, labels),
		RestoredBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_restore_bytes_total",
			Help: "Bytes written into the cache from a remote",
		}, labels),
		OrdersFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_order_failed_total",
			Help: "Orders that ended in the failed state",
		}, labels),
		QueuePending: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiercache_queue_pending",
			Help: "Orders waiting to be submitted",
		}, labels),
		QueueRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiercache_queue_running",
			Help: "Orders with an outstanding remote job",
		}, labels),
		ActiveDownload: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiercache_downloads_active",
			Help: "Transfers in flight",
		}, labels),
		ReconcileTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiercache_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, labels),
	}
}
