// Package types holds the core data model shared across the orchestrator:
// jobs, executions, workers, resource pools and their quotas.
package types

import "time"

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Priority is the scheduling priority of a Job. Higher sorts first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

// Job is a user-submitted unit of work to be scheduled onto a pool and
// executed by a worker. Either TemplateID or Spec must be set.
type Job struct {
	ID         string
	Name       string
	Priority   Priority
	TemplateID string
	Version    string // semver, or "latest"

	// Spec is the inline pipeline definition. Its contents are opaque to the
	// orchestrator (the DSL and its compiler are out of scope).
	Spec map[string]interface{}

	ResourceRequirements map[string]string // e.g. "cpu" -> "2", "memory" -> "4Gi"

	Status     JobStatus
	RetryCount int
	MaxRetries int

	LatestExecutionID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// HasSpec reports whether the job carries enough information to be run.
func (j *Job) HasSpec() bool {
	return j.TemplateID != "" || len(j.Spec) > 0
}

// ExecutionStatus is the outward-facing status of an Execution, as
// projected from the internal state machine (see pkg/execution).
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecSuccess   ExecutionStatus = "success"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// Execution is one attempt to run one Job on one Worker in one Pool.
type Execution struct {
	ID       string
	JobID    string
	PoolID   string
	WorkerID string

	Status ExecutionStatus

	StartedAt     time.Time
	CompletedAt   time.Time
	ResourceUsage map[string]string
	ExitCode      int
	ErrorMessage  string
}

// WorkerStatus is the connection/assignment state of a Worker.
type WorkerStatus string

const (
	WorkerProvisioning WorkerStatus = "provisioning"
	WorkerIdle         WorkerStatus = "idle"
	WorkerBusy         WorkerStatus = "busy"
	WorkerOffline      WorkerStatus = "offline"
	WorkerTerminating  WorkerStatus = "terminating"
	WorkerFailed       WorkerStatus = "failed"
)

// WorkerCapabilities describes what a worker offers, used by placement and
// by Worker Registry's findAvailable matching.
type WorkerCapabilities struct {
	CPUMillis    int64
	MemoryBytes  int64
	StorageBytes int64
	Labels       map[string]string
	Tools        []string
}

// Satisfies reports whether these capabilities meet the given resource
// requirement amounts (parsed with pkg/quantity).
func (c WorkerCapabilities) Satisfies(requiredCPUMillis, requiredMemoryBytes int64) bool {
	return c.CPUMillis >= requiredCPUMillis && c.MemoryBytes >= requiredMemoryBytes
}

// Worker is a managed execution host with exactly one bidirectional stream
// to the orchestrator, running at most one Execution at a time.
type Worker struct {
	ID     string
	PoolID string

	Capabilities WorkerCapabilities
	Status       WorkerStatus

	LastHeartbeat     time.Time
	ActiveExecutionID string
	SessionToken      string

	CreatedAt time.Time
}

// PoolStatus is the lifecycle state of a ResourcePool.
type PoolStatus string

const (
	PoolActive      PoolStatus = "active"
	PoolDraining    PoolStatus = "draining"
	PoolTerminating PoolStatus = "terminating"
	PoolSuspended   PoolStatus = "suspended"
)

// ResourceLimits is a requests/limits pair for one resource dimension.
type ResourceLimits struct {
	Requests int64
	Limits   int64
}

// Quotas bounds placement and admission for a ResourcePool.
type Quotas struct {
	CPU     ResourceLimits // millicores
	Memory  ResourceLimits // bytes
	Storage ResourceLimits // bytes

	MaxWorkers        int
	MaxJobs           int
	MaxConcurrentJobs int

	CustomLimits map[string]int64
}

// ResourcePool is a named set of capacity governed by Quotas.
type ResourcePool struct {
	ID     string
	Name   string // DNS-label form: lowercase alphanumeric + hyphen
	Type   string // resource-monitor key, e.g. "kubernetes", "docker"
	Status PoolStatus

	Quotas Quotas

	Labels      map[string]string
	Annotations map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResourceUsage is the live reservation ledger for one pool (C2).
type ResourceUsage struct {
	CPUUsed     int64 // millicores
	MemoryUsed  int64 // bytes
	StorageUsed int64 // bytes
	PodsUsed    int
	WorkersUsed int
}

// ResourcePoolUtilization is a live snapshot used by placement strategies.
type ResourcePoolUtilization struct {
	PoolID string

	TotalCPUMillis int64
	UsedCPUMillis  int64

	TotalMemoryBytes int64
	UsedMemoryBytes  int64

	TotalDiskBytes int64
	UsedDiskBytes  int64

	RunningJobs int
	QueuedJobs  int

	Timestamp time.Time
}

// CPUUtil returns used/total CPU, 0 if total is 0.
func (u ResourcePoolUtilization) CPUUtil() float64 {
	if u.TotalCPUMillis == 0 {
		return 0
	}
	return float64(u.UsedCPUMillis) / float64(u.TotalCPUMillis)
}

// MemUtil returns used/total memory, 0 if total is 0.
func (u ResourcePoolUtilization) MemUtil() float64 {
	if u.TotalMemoryBytes == 0 {
		return 0
	}
	return float64(u.UsedMemoryBytes) / float64(u.TotalMemoryBytes)
}
