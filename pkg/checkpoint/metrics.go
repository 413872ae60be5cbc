package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks pages served from a checkpoint.
	Hits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetview_checkpoint_hits_total",
			Help: "Total number of pages served from a checkpoint",
		},
	)

	// Misses tracks lookups that found nothing.
	Misses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetview_checkpoint_misses_total",
			Help: "Total number of checkpoint misses",
		},
	)

	// Size tracks bytes written to the checkpoint store.
	Size = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetview_checkpoint_size_bytes",
			Help: "Total bytes written to the checkpoint store",
		},
	)

	// Errors tracks Redis operation errors.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetview_checkpoint_errors_total",
			Help: "Total number of checkpoint operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)
)
