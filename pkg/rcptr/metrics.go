package rcptr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAllocatedObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rcptr",
		Name:      "allocated_objects",
		Help:      "Number of counted objects currently allocated.",
	})

	metricHandlesInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rcptr",
		Name:      "handles_in_use",
		Help:      "Number of registered handles.",
	})

	metricRetiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcptr",
		Name:      "retires_total",
		Help:      "Total number of pointers submitted for deferred decrement.",
	})

	metricScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcptr",
		Name:      "scans_total",
		Help:      "Total number of announcement array scans.",
	})

	metricReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcptr",
		Name:      "reclaimed_total",
		Help:      "Total number of deferred decrements applied.",
	})

	metricSlotPromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcptr",
		Name:      "snapshot_slot_promotions_total",
		Help:      "Total number of snapshots promoted to counted references on slot exhaustion.",
	})

	metricEpochAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcptr",
		Name:      "epoch_advances_total",
		Help:      "Total number of global epoch advances.",
	})
)
