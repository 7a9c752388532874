/*
Package types defines the core data structures used throughout Steelpipe.

This package contains all fundamental types that represent steelpipe's domain
model: jobs, executions, workers and resource pools. These types are used by
all other packages for state management, wire communication, and
orchestration logic.

# Architecture

The types package is the foundation of steelpipe's data model. It defines:

  - Job lifecycle (submission through terminal status)
  - Execution: one attempt to run a job on a worker
  - Worker identity, capabilities and connection state
  - Resource pools and their quotas
  - Resource usage and utilization snapshots used for placement

All types are designed to be:
  - Serializable (JSON over gRPC messages in pkg/wire)
  - Self-documenting (clear field names and comments)
  - Validated at the boundary (CLI/wire layer), not by the types themselves

# Core Types

The main types in this package are:

Jobs:
  - Job: a user-submitted unit of work to be scheduled onto a pool
  - JobStatus: pending, queued, running, completed, failed, cancelled
  - Priority: scheduling priority, higher sorts first

Executions:
  - Execution: one attempt to run one Job on one Worker in one Pool
  - ExecutionStatus: pending, running, success, failed, cancelled

Workers:
  - Worker: a managed execution host with one active execution at a time
  - WorkerStatus: provisioning, idle, busy, offline, terminating, failed
  - WorkerCapabilities: resource capacity and labels a worker offers

Resource Pools:
  - ResourcePool: a named set of capacity governed by Quotas
  - PoolStatus: active, draining, terminating, suspended
  - Quotas: CPU/memory/storage limits plus worker/job caps
  - ResourceUsage: live reservation ledger for a pool
  - ResourcePoolUtilization: point-in-time snapshot used by placement strategies

# Usage

Creating a Job:

	job := &types.Job{
		ID:       uuid.New().String(),
		Name:     "nightly-etl",
		Priority: types.PriorityNormal,
		Spec:     map[string]interface{}{"steps": []string{"extract", "load"}},
		ResourceRequirements: map[string]string{
			"cpu":    "2",
			"memory": "4Gi",
		},
		Status:     types.JobPending,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}

Creating an Execution:

	exec := &types.Execution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		PoolID:    pool.ID,
		Status:    types.ExecPending,
		StartedAt: time.Now(),
	}

Registering a Worker:

	worker := &types.Worker{
		ID:     uuid.New().String(),
		PoolID: pool.ID,
		Capabilities: types.WorkerCapabilities{
			CPUMillis:   2000,
			MemoryBytes: 4 << 30,
			Labels:      map[string]string{"zone": "us-east-1a"},
		},
		Status:    types.WorkerIdle,
		CreatedAt: time.Now(),
	}

Creating a Resource Pool:

	pool := &types.ResourcePool{
		ID:     uuid.New().String(),
		Name:   "default",
		Type:   "kubernetes",
		Status: types.PoolActive,
		Quotas: types.Quotas{
			CPU:        types.ResourceLimits{Requests: 4000, Limits: 8000},
			Memory:     types.ResourceLimits{Requests: 8 << 30, Limits: 16 << 30},
			MaxWorkers: 10,
		},
	}

# State Machines

Job status transitions (enforced by pkg/execution, not by this package):

	Pending → Queued → Running → Completed
	                      ↓
	                    Failed → Pending (retry, while RetryCount < MaxRetries)
	                      ↓
	                  Cancelled

Execution status mirrors the worker-side lifecycle:

	Pending → Running → Success
	            ↓
	          Failed
	            ↓
	        Cancelled

JobStatus.Terminal reports whether a status has no outgoing transitions
(Completed, Failed, Cancelled).

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for clarity and safety across the
	wire encoding:
	  type JobStatus string
	  const (
	      JobPending JobStatus = "pending"
	      JobRunning JobStatus = "running"
	  )

Resource Pattern:

	Quotas follow a requests/limits pair per resource dimension
	(types.ResourceLimits), matching how pkg/quota enforces admission and
	pkg/placement scores candidate pools.

Opaque Spec:

	Job.Spec is a map[string]interface{}; its contents (the pipeline DSL) are
	opaque to the orchestrator. Only TemplateID/Spec presence is validated
	(Job.HasSpec), never the DSL shape itself.

# Integration Points

This package integrates with:

  - pkg/storage: persists Job, Execution and ResourcePool to BoltDB
  - pkg/wire: converts to/from gRPC messages for worker streaming
  - pkg/execution: drives Job/Execution state transitions
  - pkg/scheduler, pkg/placement: use ResourcePoolUtilization for placement
  - pkg/quota: enforces Quotas against ResourceUsage
  - pkg/workerregistry: tracks Worker and WorkerCapabilities

# Validation

Key validation rules (enforced by callers, not by the types themselves):

Jobs:
  - Either TemplateID or Spec must be set (Job.HasSpec)
  - Priority should be one of the declared constants
  - MaxRetries >= 0

Workers:
  - PoolID must reference an existing ResourcePool
  - Capabilities must be non-zero for a worker to receive placements

Resource Pools:
  - Name should be unique within the cluster (DNS-label form)
  - Quotas.MaxWorkers >= 0

# Thread Safety

All types in this package are plain data structures:
  - Read-safe: can be read concurrently from multiple goroutines
  - Write-unsafe: mutations must be synchronized by callers
  - The storage layer (pkg/storage) serializes all persisted writes;
    in-memory registries (pkg/workerregistry, pkg/poolregistry) hold their
    own locks around these types

# See Also

  - pkg/storage for persistence layer
  - pkg/wire for the gRPC wire encoding
  - pkg/execution for the job/execution state machine
  - pkg/quota for quota enforcement
*/
package types
