package workerregistry

import (
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := New()
	w1 := r.Register("worker-1", "pool-a", types.WorkerCapabilities{CPUMillis: 1000})
	w2 := r.Register("worker-1", "pool-a", types.WorkerCapabilities{CPUMillis: 2000})
	assert.Equal(t, w1.ID, w2.ID)
	assert.EqualValues(t, 2000, w2.Capabilities.CPUMillis)
}

func TestAssignOnlySucceedsWhenIdle(t *testing.T) {
	r := New()
	r.Register("worker-1", "pool-a", types.WorkerCapabilities{})

	assert.True(t, r.Assign("worker-1", "exec-1"))
	assert.False(t, r.Assign("worker-1", "exec-2"))

	require.NoError(t, r.Release("worker-1"))
	assert.True(t, r.Assign("worker-1", "exec-3"))
}

func TestFindAvailableFiltersCapabilitiesAndTieBreaksByAge(t *testing.T) {
	r := New()
	older := r.Register("worker-old", "pool-a", types.WorkerCapabilities{CPUMillis: 4000, MemoryBytes: 8 << 30})
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := r.Register("worker-new", "pool-a", types.WorkerCapabilities{CPUMillis: 4000, MemoryBytes: 8 << 30})
	newer.CreatedAt = time.Now()

	found := r.FindAvailable("pool-a", 1000, 1<<30)
	require.NotNil(t, found)
	assert.Equal(t, "worker-old", found.ID)
}

func TestFindAvailableRejectsInsufficientCapabilities(t *testing.T) {
	r := New()
	r.Register("worker-1", "pool-a", types.WorkerCapabilities{CPUMillis: 500})
	assert.Nil(t, r.FindAvailable("pool-a", 1000, 0))
}

func TestWaitForRegistrationTimesOut(t *testing.T) {
	r := New()
	w := r.WaitForRegistration("never-registers", 20*time.Millisecond)
	assert.Nil(t, w)
}

func TestWaitForRegistrationUnblocksOnRegister(t *testing.T) {
	r := New()
	done := make(chan *types.Worker, 1)
	go func() {
		done <- r.WaitForRegistration("worker-1", time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	r.Register("worker-1", "pool-a", types.WorkerCapabilities{})

	select {
	case w := <-done:
		require.NotNil(t, w)
		assert.Equal(t, "worker-1", w.ID)
	case <-time.After(time.Second):
		t.Fatal("waitForRegistration did not unblock")
	}
}

func TestHeartbeatRevivesOfflineWorker(t *testing.T) {
	r := New()
	r.Register("worker-1", "pool-a", types.WorkerCapabilities{})
	r.MarkOffline("worker-1")

	require.NoError(t, r.Heartbeat("worker-1"))
	w, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerIdle, w.Status)
}

func TestCountByPool(t *testing.T) {
	r := New()
	r.Register("worker-1", "pool-a", types.WorkerCapabilities{})
	r.Register("worker-2", "pool-a", types.WorkerCapabilities{})
	r.Register("worker-3", "pool-b", types.WorkerCapabilities{})

	assert.Equal(t, 2, r.CountByPool("pool-a"))
	assert.Equal(t, 1, r.CountByPool("pool-b"))
}
