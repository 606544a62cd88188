package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doneth",
		Name:      "blocks_indexed_total",
		Help:      "Blocks committed by the indexer.",
	})

	syncLag = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "doneth",
		Name:      "sync_lag_blocks",
		Help:      "Blocks between the confirmed head and the checkpoint.",
	})

	currentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "doneth",
		Name:      "current_block",
		Help:      "Last committed block.",
	})

	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doneth",
		Name:      "events_processed_total",
		Help:      "Events committed, by event id.",
	}, []string{"event"})

	batchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doneth",
		Name:      "batch_failures_total",
		Help:      "Batches rolled back after an error.",
	})

	campaignsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doneth",
		Name:      "campaigns_discovered_total",
		Help:      "Campaign addresses discovered from factory events.",
	})
)
