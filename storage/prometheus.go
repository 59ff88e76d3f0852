package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	// Register the metrics.
	prometheus.MustRegister(
		PromGCDurationMilliseconds,
		PromPeersPruned,
		PromPeersCount,
	)
}

var (
	// PromGCDurationMilliseconds is a histogram used to record the duration
	// of removing peers that stopped announcing.
	PromGCDurationMilliseconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pttracker_storage_gc_duration_milliseconds",
		Help:    "The time it takes to perform storage garbage collection",
		Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
	})

	// PromPeersPruned is a counter of the peers removed by garbage
	// collection.
	PromPeersPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pttracker_storage_peers_pruned_total",
		Help: "The number of stale peers removed by garbage collection",
	})

	// PromPeersCount is a gauge used to hold the current total amount of
	// peer records kept by a store.
	PromPeersCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pttracker_storage_peers_count",
		Help: "The number of peers tracked",
	})
)

// RecordGCDuration records the duration of a GC sweep.
func RecordGCDuration(duration time.Duration) {
	PromGCDurationMilliseconds.Observe(float64(duration.Nanoseconds()) / float64(time.Millisecond))
}
