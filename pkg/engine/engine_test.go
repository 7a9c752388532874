package engine

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/execution"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/quota"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directApplier applies commands straight to an in-memory store's FSM,
// standing in for a real raft.Raft-backed execution.Applier in tests.
type directApplier struct {
	fsm *orchfsm.FSM
}

func (a *directApplier) Apply(cmd orchfsm.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	result := a.fsm.Apply(&raft.Log{Data: data})
	if err, ok := result.(error); ok && err != nil {
		return err
	}
	return nil
}

func newRealMachine(t *testing.T, store storage.Store) *execution.Machine {
	t.Helper()
	fsm := orchfsm.New(store)
	return execution.New(store, &directApplier{fsm: fsm})
}

type fakeScheduler struct {
	pool *types.ResourcePool
	err  error
}

func (f *fakeScheduler) FindPlacement(job *types.Job, strategyName string) (*types.ResourcePool, error) {
	return f.pool, f.err
}

type fakeLedger struct {
	mu         sync.Mutex
	reserveErr error
	released   []string
}

func (f *fakeLedger) Reserve(poolID, key string, req quota.Requirements) error {
	return f.reserveErr
}
func (f *fakeLedger) Release(poolID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, key)
	return nil
}

type fakeWorkers struct {
	mu        sync.Mutex
	worker    *types.Worker
	assigned  bool
	released  []string
}

func (f *fakeWorkers) FindAvailable(poolID string, cpuMillis, memoryBytes int64) *types.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.worker
}
func (f *fakeWorkers) Assign(workerID, executionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = true
	return true
}
func (f *fakeWorkers) Release(workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, workerID)
	return nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	sent []*wire.OrchestratorMessage
}

func (f *fakeEnqueuer) Enqueue(workerID string, msg *wire.OrchestratorMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

type fakeFanout struct {
	mu      sync.Mutex
	updates []*types.ExecutionUpdate
}

func (f *fakeFanout) Publish(update *types.ExecutionUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func newTestDeps(t *testing.T) (*execution.Machine, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newRealMachine(t, store), store
}

func TestSubmitFailsExecutionOnPlacementFailure(t *testing.T) {
	machine, store := newTestDeps(t)
	require.NoError(t, store.CreateJob(&types.Job{ID: "job-1", Status: types.JobQueued, ResourceRequirements: map[string]string{"cpu": "1", "memory": "1Gi"}}))

	sched := &fakeScheduler{err: orcherr.BusinessRulef("no active resource pools")}
	fanout := &fakeFanout{}
	e := New(sched, &fakeLedger{}, &fakeWorkers{}, machine, &fakeEnqueuer{}, fanout, DefaultTimeouts())

	execID, err := e.Submit(&types.Job{ID: "job-1", ResourceRequirements: map[string]string{"cpu": "1", "memory": "1Gi"}}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := store.GetJob("job-1")
		return err == nil && job.Status == types.JobFailed
	}, time.Second, 10*time.Millisecond)

	exec, err := store.GetExecution(execID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecFailed, exec.Status)
	assert.Equal(t, "placementFailed", exec.ErrorMessage)
}

func TestSubmitDispatchesToAvailableWorkerAndCompletes(t *testing.T) {
	machine, store := newTestDeps(t)
	require.NoError(t, store.CreateJob(&types.Job{ID: "job-1", Status: types.JobQueued}))

	pool := &types.ResourcePool{ID: "pool-1", Name: "pool-1"}
	worker := &types.Worker{ID: "worker-1", PoolID: "pool-1"}
	enqueuer := &fakeEnqueuer{}
	ledger := &fakeLedger{}
	workers := &fakeWorkers{worker: worker}
	fanout := &fakeFanout{}

	e := New(&fakeScheduler{pool: pool}, ledger, workers, machine, enqueuer, fanout, DefaultTimeouts())

	execID, err := e.Submit(&types.Job{ID: "job-1", ResourceRequirements: map[string]string{"cpu": "1", "memory": "1Gi"}}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		enqueuer.mu.Lock()
		defer enqueuer.mu.Unlock()
		return len(enqueuer.sent) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, machine.HandleStatusUpdate("worker-1", execID, string(types.EventExecutionStarted), "", time.Now()))
	require.NoError(t, machine.HandleExecutionResult("worker-1", &wire.ExecutionResult{ExecutionID: execID, Success: true}))

	require.Eventually(t, func() bool {
		job, err := store.GetJob("job-1")
		return err == nil && job.Status == types.JobCompleted
	}, time.Second, 10*time.Millisecond)

	ledger.mu.Lock()
	assert.Contains(t, ledger.released, execID)
	ledger.mu.Unlock()

	workers.mu.Lock()
	assert.Contains(t, workers.released, "worker-1")
	workers.mu.Unlock()
}

func TestCancelReportsNotFoundForUnknownExecution(t *testing.T) {
	machine, _ := newTestDeps(t)
	e := New(&fakeScheduler{}, &fakeLedger{}, &fakeWorkers{}, machine, &fakeEnqueuer{}, &fakeFanout{}, DefaultTimeouts())
	assert.Equal(t, "notFound", e.Cancel("unknown", "because"))
}
