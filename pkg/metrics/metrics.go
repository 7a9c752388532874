package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job/execution metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steelpipe_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steelpipe_executions_total",
			Help: "Total number of executions by status",
		},
		[]string{"status"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steelpipe_execution_duration_seconds",
			Help:    "Time from execution start to terminal status in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker/pool metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steelpipe_workers_total",
			Help: "Total number of registered workers by pool and status",
		},
		[]string{"pool", "status"},
	)

	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steelpipe_pools_total",
			Help: "Total number of resource pools",
		},
	)

	PoolCPUUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steelpipe_pool_cpu_utilization_ratio",
			Help: "Fraction of pool CPU capacity in use",
		},
		[]string{"pool"},
	)

	PoolMemoryUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steelpipe_pool_memory_utilization_ratio",
			Help: "Fraction of pool memory capacity in use",
		},
		[]string{"pool"},
	)

	WorkerHeartbeatsMissed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steelpipe_worker_heartbeats_missed_total",
			Help: "Total number of missed worker heartbeats by pool",
		},
		[]string{"pool"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steelpipe_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steelpipe_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steelpipe_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steelpipe_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steelpipe_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steelpipe_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler / placement metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steelpipe_scheduling_latency_seconds",
			Help:    "Time taken to place a job onto a worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steelpipe_placement_decisions_total",
			Help: "Total number of placement decisions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steelpipe_admission_rejections_total",
			Help: "Total number of jobs rejected by quota admission control by reason",
		},
		[]string{"reason"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steelpipe_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steelpipe_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Fanout metrics
	FanoutSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steelpipe_fanout_subscribers_total",
			Help: "Total number of active fanout subscribers",
		},
	)

	FanoutUpdatesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steelpipe_fanout_updates_dropped_total",
			Help: "Total number of fanout updates dropped due to a full subscriber buffer",
		},
		[]string{"subscriber"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steelpipe_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(PoolCPUUtilization)
	prometheus.MustRegister(PoolMemoryUtilization)
	prometheus.MustRegister(WorkerHeartbeatsMissed)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(PlacementDecisionsTotal)
	prometheus.MustRegister(AdmissionRejectionsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(FanoutSubscribersTotal)
	prometheus.MustRegister(FanoutUpdatesDroppedTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
