// Package orchfsm is the raft finite state machine applying committed
// Job/Execution/ResourcePool mutations to the local BoltStore (spec §1,
// §7). It replicates current-state, not an event-sourced log: Apply
// always upserts or deletes the named record, never replays history.
//
// The Worker Registry (C3) is deliberately not represented here — it is
// connection-scoped per process and rebuilt from live re-registration,
// never part of the replicated log (see SPEC_FULL.md §2, §7).
package orchfsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is one entry in the raft log: an operation name plus its
// JSON-encoded payload.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	OpCreateJob  = "create_job"
	OpUpdateJob  = "update_job"
	OpDeleteJob  = "delete_job"
	OpCreateExec = "create_execution"
	OpUpdateExec = "transition_execution"
	OpDeleteExec = "delete_execution"
	OpCreatePool = "create_pool"
	OpUpdatePool = "update_pool"
	OpDeletePool = "delete_pool"
)

// FSM implements raft.FSM over a storage.Store.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// New constructs an FSM backed by store.
func New(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Apply applies one committed raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateJob:
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.CreateJob(&job)

	case OpUpdateJob:
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.UpdateJob(&job)

	case OpDeleteJob:
		var jobID string
		if err := json.Unmarshal(cmd.Data, &jobID); err != nil {
			return err
		}
		return f.store.DeleteJob(jobID)

	case OpCreateExec:
		var exec types.Execution
		if err := json.Unmarshal(cmd.Data, &exec); err != nil {
			return err
		}
		return f.store.CreateExecution(&exec)

	case OpUpdateExec:
		var exec types.Execution
		if err := json.Unmarshal(cmd.Data, &exec); err != nil {
			return err
		}
		return f.store.UpdateExecution(&exec)

	case OpDeleteExec:
		var execID string
		if err := json.Unmarshal(cmd.Data, &execID); err != nil {
			return err
		}
		return f.store.DeleteExecution(execID)

	case OpCreatePool:
		var pool types.ResourcePool
		if err := json.Unmarshal(cmd.Data, &pool); err != nil {
			return err
		}
		return f.store.CreatePool(&pool)

	case OpUpdatePool:
		var pool types.ResourcePool
		if err := json.Unmarshal(cmd.Data, &pool); err != nil {
			return err
		}
		return f.store.UpdatePool(&pool)

	case OpDeletePool:
		var poolID string
		if err := json.Unmarshal(cmd.Data, &poolID); err != nil {
			return err
		}
		return f.store.DeletePool(poolID)

	default:
		return fmt.Errorf("unknown fsm command: %s", cmd.Op)
	}
}

// Snapshot captures the full current state for raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	jobs, err := f.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	execs, err := f.store.ListExecutions()
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	pools, err := f.store.ListPools()
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	return &Snapshot{Jobs: jobs, Executions: execs, Pools: pools}, nil
}

// Restore replaces local state from a decoded snapshot, called on
// process start or when a follower falls behind the raft log.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, job := range snap.Jobs {
		if err := f.store.CreateJob(job); err != nil {
			return fmt.Errorf("restore job %s: %w", job.ID, err)
		}
	}
	for _, exec := range snap.Executions {
		if err := f.store.CreateExecution(exec); err != nil {
			return fmt.Errorf("restore execution %s: %w", exec.ID, err)
		}
	}
	for _, pool := range snap.Pools {
		if err := f.store.CreatePool(pool); err != nil {
			return fmt.Errorf("restore pool %s: %w", pool.ID, err)
		}
	}

	return nil
}

// Snapshot is the point-in-time replica of all three replicated
// aggregates.
type Snapshot struct {
	Jobs       []*types.Job
	Executions []*types.Execution
	Pools      []*types.ResourcePool
}

func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *Snapshot) Release() {}
