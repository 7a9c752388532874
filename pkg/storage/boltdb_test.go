package storage

import (
	"testing"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobCreateGetUpdateDelete(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{ID: "job-1", Name: "nightly-build", Status: types.JobPending}
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "nightly-build", got.Name)

	job.Status = types.JobRunning
	require.NoError(t, store.UpdateJob(job))
	got, err = store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, got.Status)

	require.NoError(t, store.DeleteJob("job-1"))
	_, err = store.GetJob("job-1")
	assert.Error(t, err)
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob("missing")
	assert.Error(t, err)
}

func TestListExecutionsByJob(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "e1", JobID: "job-1"}))
	require.NoError(t, store.CreateExecution(&types.Execution{ID: "e2", JobID: "job-1"}))
	require.NoError(t, store.CreateExecution(&types.Execution{ID: "e3", JobID: "job-2"}))

	execs, err := store.ListExecutionsByJob("job-1")
	require.NoError(t, err)
	assert.Len(t, execs, 2)

	execs, err = store.ListExecutionsByJob("job-2")
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	execs, err = store.ListExecutionsByJob("job-absent")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestPoolByName(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreatePool(&types.ResourcePool{ID: "p1", Name: "gpu-pool"}))

	pool, err := store.GetPoolByName("gpu-pool")
	require.NoError(t, err)
	assert.Equal(t, "p1", pool.ID)

	_, err = store.GetPoolByName("no-such-pool")
	assert.Error(t, err)
}

func TestListJobsEmpty(t *testing.T) {
	store := newTestStore(t)
	jobs, err := store.ListJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCARoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCA()
	assert.Error(t, err)

	require.NoError(t, store.SaveCA([]byte("opaque-ca-blob")))
	data, err := store.GetCA()
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque-ca-blob"), data)
}
