// Package storage persists the orchestrator's durable aggregates: Jobs,
// Executions and ResourcePools. Workers are intentionally absent here —
// the Worker Registry (C3) is connection-scoped, rebuilt from live
// re-registration on every process restart, and never replicated (spec
// §1, §7).
package storage

import (
	"github.com/cuemby/steelpipe/pkg/types"
)

// Store is the durable state interface backing the orchestrator's
// control plane. It is implemented by BoltStore directly, and is also
// the interface orchfsm.FSM applies committed raft log entries against.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// Executions
	CreateExecution(exec *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutions() ([]*types.Execution, error)
	ListExecutionsByJob(jobID string) ([]*types.Execution, error)
	UpdateExecution(exec *types.Execution) error
	DeleteExecution(id string) error

	// Resource pools
	CreatePool(pool *types.ResourcePool) error
	GetPool(id string) (*types.ResourcePool, error)
	GetPoolByName(name string) (*types.ResourcePool, error)
	ListPools() ([]*types.ResourcePool, error)
	UpdatePool(pool *types.ResourcePool) error
	DeletePool(id string) error

	// Cluster CA (pkg/security): a single opaque blob, the serialized
	// and encrypted root certificate authority.
	GetCA() ([]byte, error)
	SaveCA(data []byte) error

	// Utility
	Close() error
}
