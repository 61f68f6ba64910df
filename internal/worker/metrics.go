package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modpipe_events_processed_total",
		Help: "Ingress events processed, labeled by decision status.",
	}, []string{"status"})

	decisionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modpipe_decisions_applied_total",
		Help: "Actionable decisions applied to cases, labeled by action.",
	}, []string{"action"})

	processErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modpipe_worker_errors_total",
		Help: "Message processing failures left unacked for redelivery.",
	}, []string{"worker"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modpipe_worker_batch_seconds",
		Help:    "Wall time spent processing one fetched batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
)
