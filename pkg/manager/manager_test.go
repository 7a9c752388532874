package manager

import (
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	// raft.NewTCPTransport needs a concrete bindable address; 127.0.0.1:0
	// lets the OS pick a free port, which the transport then binds to.
	return "127.0.0.1:0"
}

func newTestManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := New(Config{NodeID: "node-1", BindAddr: freePort(t), DataDir: t.TempDir()}, store)
	return m, store
}

func TestBootstrapBecomesLeader(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Bootstrap())
	t.Cleanup(func() { m.Shutdown() })

	require.Eventually(t, m.IsLeader, 5*time.Second, 20*time.Millisecond)
}

func TestApplyCommitsToLocalStore(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, m.Bootstrap())
	t.Cleanup(func() { m.Shutdown() })

	require.Eventually(t, m.IsLeader, 5*time.Second, 20*time.Millisecond)

	cmd, err := orchfsm.NewCommand(orchfsm.OpCreateJob, &types.Job{ID: "job-1", Name: "nightly"})
	require.NoError(t, err)
	require.NoError(t, m.Apply(cmd))

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "nightly", job.Name)
}

func TestApplyFailsWhenNotLeader(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.JoinLocal())
	t.Cleanup(func() { m.Shutdown() })

	cmd, err := orchfsm.NewCommand(orchfsm.OpCreateJob, &types.Job{ID: "job-1"})
	require.NoError(t, err)
	assert.Error(t, m.Apply(cmd))
}
