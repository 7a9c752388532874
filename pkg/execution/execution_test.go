package execution

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directApplier applies commands straight to an in-memory store's FSM,
// standing in for a real raft.Raft-backed Applier in tests.
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

func newTestMachine(t *testing.T) (*Machine, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fsm := orchfsm.New(store)
	return New(store, &directApplier{fsm: fsm}), store
}

func seedExecution(t *testing.T, store storage.Store, m *Machine, jobID, execID string) {
	t.Helper()
	require.NoError(t, store.CreateJob(&types.Job{ID: jobID, Status: types.JobQueued}))
	require.NoError(t, m.CreateExecution(&types.Execution{ID: execID, JobID: jobID}))
}

func TestAssignThenStartThenComplete(t *testing.T) {
	m, store := newTestMachine(t)
	seedExecution(t, store, m, "job-1", "exec-1")

	require.NoError(t, m.Assign("exec-1", "worker-1", "pool-1"))
	assert.Equal(t, StateAssigned, m.CurrentState("exec-1"))

	require.NoError(t, m.HandleStatusUpdate("worker-1", "exec-1", string(types.EventExecutionStarted), "", time.Now()))
	assert.Equal(t, StateStarted, m.CurrentState("exec-1"))

	require.NoError(t, m.HandleExecutionResult("worker-1", &wire.ExecutionResult{ExecutionID: "exec-1", Success: true}))

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.Status)

	exec, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecSuccess, exec.Status)
}

func TestInvalidTransitionIsRefused(t *testing.T) {
	m, store := newTestMachine(t)
	seedExecution(t, store, m, "job-1", "exec-1")

	// STARTED can't happen before ASSIGNED.
	err := m.HandleStatusUpdate("worker-1", "exec-1", string(types.EventExecutionStarted), "", time.Now())
	assert.Error(t, err)
}

func TestCancelIsIdempotentAfterTerminal(t *testing.T) {
	m, store := newTestMachine(t)
	seedExecution(t, store, m, "job-1", "exec-1")
	require.NoError(t, m.Assign("exec-1", "worker-1", "pool-1"))
	require.NoError(t, m.Cancel("exec-1", "user requested"))

	// Second cancel after terminal is a no-op, not an error.
	assert.NoError(t, m.Cancel("exec-1", "user requested again"))
}

func TestFailWorkerLostMarksExecutionAndJobFailed(t *testing.T) {
	m, store := newTestMachine(t)
	seedExecution(t, store, m, "job-1", "exec-1")
	require.NoError(t, m.Assign("exec-1", "worker-1", "pool-1"))

	require.NoError(t, m.FailWorkerLost("exec-1"))

	exec, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecFailed, exec.Status)
	assert.Equal(t, "WORKER_LOST", exec.ErrorMessage)

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)
}
