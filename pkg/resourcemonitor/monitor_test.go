package resourcemonitor

import (
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePools struct {
	pools map[string]*types.ResourcePool
}

func (f *fakePools) Get(id string) (*types.ResourcePool, error) {
	p, ok := f.pools[id]
	if !ok {
		return nil, assert.AnError
	}
	return p, nil
}

type fakeUsage struct {
	usage   types.ResourceUsage
	running int
}

func (f *fakeUsage) Usage(poolID string) (types.ResourceUsage, error) { return f.usage, nil }
func (f *fakeUsage) RunningJobs(poolID string) (int, error)           { return f.running, nil }

func TestLedgerMonitorReportsUtilization(t *testing.T) {
	pools := &fakePools{pools: map[string]*types.ResourcePool{
		"p1": {ID: "p1", Quotas: types.Quotas{CPU: types.ResourceLimits{Limits: 10000}, Memory: types.ResourceLimits{Limits: 8 << 30}}},
	}}
	usage := &fakeUsage{usage: types.ResourceUsage{CPUUsed: 2000, MemoryUsed: 1 << 30}, running: 3}

	m := NewKubernetesMonitor(pools, usage, nil)
	u, err := m.GetUtilization("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), u.TotalCPUMillis)
	assert.Equal(t, int64(2000), u.UsedCPUMillis)
	assert.Equal(t, 3, u.RunningJobs)
	assert.Equal(t, 0, u.QueuedJobs)
}

func TestRegistryResolvesByPoolType(t *testing.T) {
	r := NewRegistry()
	pools := &fakePools{pools: map[string]*types.ResourcePool{"p1": {ID: "p1"}}}
	r.Register("kubernetes", NewKubernetesMonitor(pools, &fakeUsage{}, nil))

	m, err := r.Get("kubernetes")
	require.NoError(t, err)
	_, err = m.GetUtilization("p1")
	require.NoError(t, err)

	_, err = r.Get("unknown")
	assert.Error(t, err)
}

func TestSubscribeToResourceUpdatesDeliversAfterPublish(t *testing.T) {
	pools := &fakePools{pools: map[string]*types.ResourcePool{"p1": {ID: "p1"}}}
	lm := newLedgerMonitor(pools, &fakeUsage{}, nil)

	ch, unsubscribe := lm.SubscribeToResourceUpdates("p1")
	defer unsubscribe()

	lm.publish("p1")

	select {
	case snap := <-ch:
		assert.Equal(t, "p1", snap.PoolID)
	case <-time.After(time.Second):
		t.Fatal("expected a published snapshot")
	}
}
