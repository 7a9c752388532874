/*
Package metrics provides Prometheus metrics collection and exposition for Steelpipe.

The metrics package defines and registers all Steelpipe metrics using the Prometheus
client library, providing observability into cluster health, scheduling and
placement behavior, worker/pool utilization, and raft state. Metrics are exposed
via HTTP endpoint for scraping by Prometheus servers.

# Architecture

steelpipe's metrics system follows Prometheus best practices with comprehensive
instrumentation across all components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (worker count)       │          │
	│  │  Counter: Monotonic increases (placements)  │          │
	│  │  Histogram: Distributions (latency)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Jobs/Executions: counts by status, duration │          │
	│  │  Workers/Pools: registration, utilization    │          │
	│  │  Raft: leader status, applied index, commit  │          │
	│  │  API: request count, duration                │          │
	│  │  Scheduler: latency, placement decisions     │          │
	│  │  Reconciler: cycle duration, count           │          │
	│  │  Fanout/Webhook: subscribers, deliveries     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Component Health Registry (health.go):
  - Separate from the Prometheus registry
  - Tracks named components (raft, storage, ...) with a healthy/unhealthy flag
  - Backs /health, /health/live and /health/ready, consumed by pkg/opsserver
  - "raft" and "storage" are the critical components for readiness

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Job/Execution Metrics:

steelpipe_jobs_total{status}:
  - Type: Gauge
  - Description: Total number of jobs by status (pending/queued/running/completed/failed/cancelled)

steelpipe_executions_total{status}:
  - Type: Gauge
  - Description: Total number of executions by status

steelpipe_execution_duration_seconds:
  - Type: Histogram
  - Description: Time from execution start to terminal status

Worker/Pool Metrics:

steelpipe_workers_total{pool, status}:
  - Type: Gauge
  - Description: Total registered workers by pool and status (idle/busy/offline/...)

steelpipe_pools_total:
  - Type: Gauge
  - Description: Total number of resource pools

steelpipe_pool_cpu_utilization_ratio{pool}:
  - Type: Gauge
  - Description: Fraction of pool CPU capacity in use

steelpipe_pool_memory_utilization_ratio{pool}:
  - Type: Gauge
  - Description: Fraction of pool memory capacity in use

steelpipe_worker_heartbeats_missed_total{pool}:
  - Type: Counter
  - Description: Total missed worker heartbeats by pool

Raft Metrics:

steelpipe_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is Raft leader (1=leader, 0=follower)

steelpipe_raft_peers_total:
  - Type: Gauge
  - Description: Total Raft peers in cluster

steelpipe_raft_applied_index:
  - Type: Gauge
  - Description: Last applied Raft log index

steelpipe_raft_commit_duration_seconds:
  - Type: Histogram
  - Description: Time taken to commit a Raft log entry

API Metrics:

steelpipe_api_requests_total{method, status}:
  - Type: Counter
  - Description: Total API requests by method and status

steelpipe_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds
  - Buckets: Default Prometheus buckets

Scheduler/Placement Metrics:

steelpipe_scheduling_latency_seconds:
  - Type: Histogram
  - Description: Time taken to place a job onto a worker

steelpipe_placement_decisions_total{strategy, outcome}:
  - Type: Counter
  - Description: Total placement decisions by strategy and outcome

steelpipe_admission_rejections_total{reason}:
  - Type: Counter
  - Description: Total jobs rejected by quota admission control, by reason

Reconciler Metrics:

steelpipe_reconciliation_duration_seconds:
  - Type: Histogram
  - Description: Reconciliation cycle duration

steelpipe_reconciliation_cycles_total:
  - Type: Counter
  - Description: Total reconciliation cycles completed

Fanout/Webhook Metrics:

steelpipe_fanout_subscribers_total:
  - Type: Gauge
  - Description: Total active fanout subscribers

steelpipe_fanout_updates_dropped_total{subscriber}:
  - Type: Counter
  - Description: Total fanout updates dropped due to a full subscriber buffer

steelpipe_webhook_deliveries_total{endpoint, outcome}:
  - Type: Counter
  - Description: Total webhook delivery attempts by endpoint and outcome

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/steelpipe/pkg/metrics"

	metrics.WorkersTotal.WithLabelValues("default", "idle").Set(5)
	metrics.PoolsTotal.Inc()
	metrics.PoolsTotal.Dec()

Updating Counter Metrics:

	metrics.PlacementDecisionsTotal.WithLabelValues("leastloaded", "success").Inc()
	metrics.APIRequestsTotal.WithLabelValues("SubmitJob", "200").Add(1)

Recording Histogram Observations:

	metrics.SchedulingLatency.Observe(0.125) // 125ms

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ExecutionDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "SubmitJob")

Complete Example:

	package main

	import (
		"net/http"
		"github.com/cuemby/steelpipe/pkg/metrics"
	)

	func main() {
		metrics.WorkersTotal.WithLabelValues("default", "idle").Set(5)
		metrics.PoolsTotal.Set(2)

		timer := metrics.NewTimer()
		schedule()
		timer.ObserveDuration(metrics.SchedulingLatency)

		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

	func schedule() {
		// placement logic
	}

# Integration Points

This package integrates with:

  - cmd/orchestrator: runs the RaftCollector (leader/peer gauges) and sets the version
  - pkg/reconciler: tracks reconciliation cycles and duration
  - pkg/workerregistry: counts missed heartbeats in the reaper
  - pkg/fanout: tracks subscriber counts, dropped updates and webhook deliveries
  - pkg/opsserver: mounts the component-health handlers and updates component health
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (job/execution IDs, timestamps)
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any Steelpipe package
  - Thread-safe concurrent updates

# Monitoring

Prometheus Queries (PromQL):

Job/Execution Health:
  - Pending jobs: steelpipe_jobs_total{status="pending"}
  - Running executions: steelpipe_executions_total{status="running"}
  - p95 execution duration: histogram_quantile(0.95, steelpipe_execution_duration_seconds_bucket)

Worker/Pool Health:
  - Idle workers: steelpipe_workers_total{status="idle"}
  - Pool CPU pressure: steelpipe_pool_cpu_utilization_ratio
  - Missed heartbeats: rate(steelpipe_worker_heartbeats_missed_total[5m])

Raft Health:
  - Has leader: max(steelpipe_raft_is_leader) > 0
  - Leader changes: changes(steelpipe_raft_is_leader[10m])

Scheduler Performance:
  - Placement rate: rate(steelpipe_placement_decisions_total[1m])
  - Admission rejections: rate(steelpipe_admission_rejections_total[5m])
  - p95 scheduling latency: histogram_quantile(0.95, steelpipe_scheduling_latency_seconds_bucket)

# Alerting Rules

No Raft Leader:
  - Alert: max(steelpipe_raft_is_leader) == 0
  - Action: check cluster connectivity, quorum status

High Admission Rejection Rate:
  - Alert: rate(steelpipe_admission_rejections_total[5m]) > 0.1
  - Action: check pool quota headroom, worker capacity

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
*/
package metrics
