package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// batchesTotal counts generated batches by status ("ok" or "failed").
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataquality_generation_batches_total",
		Help: "Total generation batches by status",
	}, []string{"status"})

	rowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataquality_generation_rows_total",
		Help: "Total generated rows",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataquality_generation_batch_duration_seconds",
		Help:    "Duration of the external Generate call per batch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})
)
