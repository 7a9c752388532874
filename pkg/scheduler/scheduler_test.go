package scheduler

import (
	"testing"

	"github.com/cuemby/steelpipe/pkg/placement"
	"github.com/cuemby/steelpipe/pkg/quota"
	"github.com/cuemby/steelpipe/pkg/resourcemonitor"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoolLister struct {
	pools []*types.ResourcePool
}

func (f *fakePoolLister) ListActive() []*types.ResourcePool { return f.pools }

type fakeAdmission struct {
	reject map[string]bool
}

func (f *fakeAdmission) Check(poolID string, req quota.Requirements) (*quota.CheckResult, error) {
	if f.reject[poolID] {
		return &quota.CheckResult{Outcome: quota.Unavailable, LimitingFactors: []string{"cpu"}}, nil
	}
	return &quota.CheckResult{Outcome: quota.Available}, nil
}

func newTestSetup(t *testing.T, pools []*types.ResourcePool) (*Scheduler, *fakeAdmission) {
	monitors := resourcemonitor.NewRegistry()
	usage := &fakeUsageReader{}
	for _, p := range pools {
		lookup := &staticPoolLookup{pool: p}
		monitors.Register(p.Type, resourcemonitor.NewKubernetesMonitor(lookup, usage, nil))
	}
	admission := &fakeAdmission{reject: make(map[string]bool)}
	s := New(&fakePoolLister{pools: pools}, monitors, admission, placement.NewRegistry())
	return s, admission
}

type staticPoolLookup struct{ pool *types.ResourcePool }

func (s *staticPoolLookup) Get(id string) (*types.ResourcePool, error) { return s.pool, nil }

type fakeUsageReader struct{}

func (fakeUsageReader) Usage(poolID string) (types.ResourceUsage, error) {
	return types.ResourceUsage{}, nil
}
func (fakeUsageReader) RunningJobs(poolID string) (int, error) { return 0, nil }

func samplePool(id, poolType string, cpuLimit, memLimit int64) *types.ResourcePool {
	return &types.ResourcePool{
		ID: id, Name: id, Type: poolType, Status: types.PoolActive,
		Quotas: types.Quotas{
			CPU:    types.ResourceLimits{Limits: cpuLimit},
			Memory: types.ResourceLimits{Limits: memLimit},
		},
	}
}

func TestFindPlacementReturnsErrorWhenNoActivePools(t *testing.T) {
	s, _ := newTestSetup(t, nil)
	_, err := s.FindPlacement(&types.Job{ID: "j1", ResourceRequirements: map[string]string{"cpu": "1", "memory": "1Gi"}}, "")
	require.Error(t, err)
}

func TestFindPlacementSkipsPoolsWithNoMonitor(t *testing.T) {
	pools := []*types.ResourcePool{samplePool("p1", "unknown-type", 10000, 8<<30)}
	s := New(&fakePoolLister{pools: pools}, resourcemonitor.NewRegistry(), &fakeAdmission{reject: map[string]bool{}}, placement.NewRegistry())

	_, err := s.FindPlacement(&types.Job{ID: "j1", ResourceRequirements: map[string]string{"cpu": "1", "memory": "1Gi"}}, "")
	require.Error(t, err)
}

func TestFindPlacementFiltersRejectedPools(t *testing.T) {
	pools := []*types.ResourcePool{
		samplePool("p1", "kubernetes", 10000, 8<<30),
		samplePool("p2", "kubernetes", 10000, 8<<30),
	}
	s, admission := newTestSetup(t, pools)
	admission.reject["p1"] = true

	pool, err := s.FindPlacement(&types.Job{ID: "j1", ResourceRequirements: map[string]string{"cpu": "1", "memory": "1Gi"}}, "roundrobin")
	require.NoError(t, err)
	assert.Equal(t, "p2", pool.ID)
}

func TestFindPlacementRejectsInvalidResourceRequirements(t *testing.T) {
	pools := []*types.ResourcePool{samplePool("p1", "kubernetes", 10000, 8<<30)}
	s, _ := newTestSetup(t, pools)

	_, err := s.FindPlacement(&types.Job{ID: "j1", ResourceRequirements: map[string]string{"cpu": "not-a-number", "memory": "1Gi"}}, "")
	require.Error(t, err)
}
