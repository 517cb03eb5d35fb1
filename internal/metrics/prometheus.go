// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts data transfers by operation (upload|download) and status.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_transfers_total",
			Help: "Total number of data transfers",
		},
		[]string{"op", "status"},
	)

	// TransferDuration tracks transfer wall time in seconds.
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobsync_transfer_duration_seconds",
			Help:    "Duration of data transfers in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"op"},
	)

	// TransferWorkersActive tracks workers currently running a transfer.
	TransferWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsync_transfer_workers_active",
			Help: "Number of transfer workers currently busy",
		},
	)

	// TransferQueueDepth tracks transfers waiting for a worker.
	TransferQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsync_transfer_queue_depth",
			Help: "Number of queued transfers waiting for a worker",
		},
	)

	// AwaitedJobs tracks the registry size per session.
	AwaitedJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobsync_awaited_jobs",
			Help: "Number of jobs tracked in the awaited-job registry",
		},
		[]string{"session"},
	)

	// ListenerEvictions counts listeners dropped after a failed delivery.
	ListenerEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsync_listener_evictions_total",
			Help: "Total number of event listeners evicted after a delivery error",
		},
	)

	// ReconcileJobs counts per-job reconciliation outcomes.
	ReconcileJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_reconcile_jobs_total",
			Help: "Per-job reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	// HTTPRequests counts status-server requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_http_requests_total",
			Help: "Total number of status server requests",
		},
		[]string{"method", "route", "code"},
	)

	// HTTPDuration tracks status-server latency in seconds.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobsync_http_request_duration_seconds",
			Help:    "Status server request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
