// Package metrics centralizes the prometheus collectors shared across the
// event bus, task queue, and indexing worker (SPEC_FULL.md §11 domain
// stack: github.com/prometheus/client_golang, grounded on
// r3e-network-service_layer/go.mod and cuemby-warren/go.mod both carrying
// it as a direct dependency).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusPublishTotal counts every publish call, labeled by topic.
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_bus_publish_total",
		Help: "Total number of publish calls per topic.",
	}, []string{"topic"})

	// BusDropTotal counts dropped deliveries (full subscriber buffer),
	// per §4.1: "the bus drops the oldest pending delivery... marks the
	// drop in a counter."
	BusDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_bus_drop_total",
		Help: "Total number of dropped deliveries due to a full subscriber buffer.",
	}, []string{"topic"})

	// TaskClaimTotal counts successful task claims, per agent.
	TaskClaimTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_task_claim_total",
		Help: "Total number of tasks claimed, per agent.",
	}, []string{"agent_id"})

	// TaskCompletedTotal counts task completions by terminal status.
	TaskCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_task_completed_total",
		Help: "Total number of tasks reaching a terminal state, per agent and status.",
	}, []string{"agent_id", "status"})

	// IndexingJobsProcessedTotal counts indexing jobs processed by type and
	// terminal status.
	IndexingJobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_indexing_jobs_total",
		Help: "Total number of indexing jobs processed, per type and terminal status.",
	}, []string{"type", "status"})

	// IndexingQueueDepth reports the last-observed pending indexing job
	// count.
	IndexingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchd_indexing_queue_depth",
		Help: "Number of indexing jobs currently pending.",
	})
)
