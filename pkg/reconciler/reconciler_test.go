package reconciler

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

type fakeEngine struct {
	mu        sync.Mutex
	submitted []*types.Job
}

func (f *fakeEngine) Submit(job *types.Job, strategyName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, job)
	return "exec-retry", nil
}

func newTestReconciler(t *testing.T) (*Reconciler, storage.Store, *fakeEngine) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fsm := orchfsm.New(store)
	engine := &fakeEngine{}
	r := New(store, &directApplier{fsm: fsm}, engine)
	return r, store, engine
}

func TestReconcileRequeuesTransientFailureUnderRetryLimit(t *testing.T) {
	r, store, engine := newTestReconciler(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "exec-1", JobID: "job-1", Status: types.ExecFailed, ErrorMessage: "WORKER_LOST"}))
	require.NoError(t, store.CreateJob(&types.Job{
		ID: "job-1", Status: types.JobFailed, RetryCount: 0, MaxRetries: 3, LatestExecutionID: "exec-1",
	}))

	require.NoError(t, r.Reconcile())

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.submitted, 1)
	assert.Equal(t, "job-1", engine.submitted[0].ID)
}

func TestReconcileSkipsJobAtRetryLimit(t *testing.T) {
	r, store, engine := newTestReconciler(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "exec-1", JobID: "job-1", Status: types.ExecFailed, ErrorMessage: "NO_WORKER"}))
	require.NoError(t, store.CreateJob(&types.Job{
		ID: "job-1", Status: types.JobFailed, RetryCount: 3, MaxRetries: 3, LatestExecutionID: "exec-1",
	}))

	require.NoError(t, r.Reconcile())

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.submitted)
}

func TestReconcileSkipsNonTransientFailure(t *testing.T) {
	r, store, engine := newTestReconciler(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "exec-1", JobID: "job-1", Status: types.ExecFailed, ErrorMessage: "exit code 1: assertion failed"}))
	require.NoError(t, store.CreateJob(&types.Job{
		ID: "job-1", Status: types.JobFailed, RetryCount: 0, MaxRetries: 3, LatestExecutionID: "exec-1",
	}))

	require.NoError(t, r.Reconcile())

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.submitted)
}

func TestReconcileSkipsNonFailedJobs(t *testing.T) {
	r, store, engine := newTestReconciler(t)

	require.NoError(t, store.CreateJob(&types.Job{ID: "job-1", Status: types.JobRunning, MaxRetries: 3}))

	require.NoError(t, r.Reconcile())

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, job.Status)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.submitted)
}
