package workerregistry

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFailer struct {
	mu     sync.Mutex
	failed []string
}

func (f *fakeFailer) FailWorkerLost(executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, executionID)
	return nil
}

func TestSweepMarksStaleWorkerOfflineAndFailsBusyExecution(t *testing.T) {
	r := New()
	w := r.Register("worker-1", "pool-a", types.WorkerCapabilities{CPUMillis: 1000})
	require.True(t, r.Assign("worker-1", "exec-1"))
	w.LastHeartbeat = time.Now().Add(-time.Minute)

	failer := &fakeFailer{}
	reaper := NewReaper(r, failer, time.Second, time.Hour)
	reaper.sweep()

	got, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerOffline, got.Status)

	failer.mu.Lock()
	defer failer.mu.Unlock()
	assert.Equal(t, []string{"exec-1"}, failer.failed)
}

func TestSweepEvictsAfterGracePeriod(t *testing.T) {
	r := New()
	w := r.Register("worker-1", "pool-a", types.WorkerCapabilities{})
	r.MarkOffline("worker-1")
	w.LastHeartbeat = time.Now().Add(-time.Hour)

	reaper := NewReaper(r, nil, time.Second, time.Minute)
	reaper.sweep()

	_, err := r.Get("worker-1")
	assert.Error(t, err)
}
