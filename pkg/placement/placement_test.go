package placement

import (
	"testing"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pool(id string) *types.ResourcePool {
	return &types.ResourcePool{ID: id, Name: id}
}

func TestRoundRobinDistributesEvenly(t *testing.T) {
	candidates := []Candidate{
		{Pool: pool("p1"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 10000, UsedCPUMillis: 5000, TotalMemoryBytes: 8 << 30, UsedMemoryBytes: 4 << 30}},
		{Pool: pool("p2"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 10000, UsedCPUMillis: 5000, TotalMemoryBytes: 8 << 30, UsedMemoryBytes: 4 << 30}},
		{Pool: pool("p3"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 10000, UsedCPUMillis: 5000, TotalMemoryBytes: 8 << 30, UsedMemoryBytes: 4 << 30}},
	}
	s := NewRoundRobin()
	job := &types.Job{ID: "j"}

	var sequence []string
	for i := 0; i < 12; i++ {
		p, err := s.Select(job, Requested{}, candidates)
		require.NoError(t, err)
		sequence = append(sequence, p.ID)
	}

	counts := map[string]int{}
	for _, id := range sequence {
		counts[id]++
	}
	assert.Equal(t, 4, counts["p1"])
	assert.Equal(t, 4, counts["p2"])
	assert.Equal(t, 4, counts["p3"])
	assert.Equal(t, []string{"p1", "p2", "p3", "p1", "p2", "p3", "p1", "p2", "p3", "p1", "p2", "p3"}, sequence)
}

func TestRoundRobinSinglePoolAlwaysSelectsIt(t *testing.T) {
	candidates := []Candidate{{Pool: pool("only"), Utilization: &types.ResourcePoolUtilization{}}}
	s := NewRoundRobin()
	for i := 0; i < 5; i++ {
		p, err := s.Select(&types.Job{}, Requested{}, candidates)
		require.NoError(t, err)
		assert.Equal(t, "only", p.ID)
	}
}

func TestGreedyBestFitPicksLowestUtilization(t *testing.T) {
	candidates := []Candidate{
		{Pool: pool("small"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 5000, UsedCPUMillis: 900}},
		{Pool: pool("medium"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 10000, UsedCPUMillis: 2000}},
		{Pool: pool("large"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 20000, UsedCPUMillis: 10000}},
	}
	s := NewGreedyBestFit()
	p, err := s.Select(&types.Job{}, Requested{}, candidates)
	require.NoError(t, err)
	// cpuUtil: small=0.18, medium=0.2, large=0.5 — small scores lowest.
	assert.Equal(t, "small", p.ID)
}

func TestBinPackingAvoidsExtremes(t *testing.T) {
	candidates := []Candidate{
		{Pool: pool("empty"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 100, UsedCPUMillis: 5, TotalMemoryBytes: 100, UsedMemoryBytes: 5}},
		{Pool: pool("mid"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 100, UsedCPUMillis: 50, TotalMemoryBytes: 100, UsedMemoryBytes: 50}},
		{Pool: pool("full"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 100, UsedCPUMillis: 93, TotalMemoryBytes: 100, UsedMemoryBytes: 93}},
	}
	s := NewBinPackingFirstFit()
	p, err := s.Select(&types.Job{}, Requested{}, candidates)
	require.NoError(t, err)
	assert.Equal(t, "mid", p.ID)
}

func TestLeastLoadedDiscardsPoolsThatDontFit(t *testing.T) {
	candidates := []Candidate{
		{Pool: pool("tight"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 1000, UsedCPUMillis: 900, TotalMemoryBytes: 1 << 30, UsedMemoryBytes: 1 << 29}},
		{Pool: pool("roomy"), Utilization: &types.ResourcePoolUtilization{TotalCPUMillis: 10000, UsedCPUMillis: 1000, TotalMemoryBytes: 8 << 30, UsedMemoryBytes: 1 << 30}},
	}
	s := NewLeastLoaded()
	p, err := s.Select(&types.Job{}, Requested{CPUMillis: 500, MemoryBytes: 1 << 29}, candidates)
	require.NoError(t, err)
	assert.Equal(t, "roomy", p.ID)
}

func TestAllStrategiesReturnNoCandidatesOnEmptyInput(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"roundrobin", "greedybestfit", "leastloaded", "binpackingfirstfit"} {
		s, err := registry.Get(name)
		require.NoError(t, err)
		_, err = s.Select(&types.Job{}, Requested{}, nil)
		assert.Error(t, err)
	}
}

func TestRegistryDefaultsToLeastLoaded(t *testing.T) {
	registry := NewRegistry()
	s, err := registry.Get("")
	require.NoError(t, err)
	assert.Equal(t, "leastloaded", s.Name())
}

func TestRegistryMatchesCaseInsensitively(t *testing.T) {
	registry := NewRegistry()
	s, err := registry.Get("RoundRobin")
	require.NoError(t, err)
	assert.Equal(t, "roundrobin", s.Name())
}

func TestRegistryResolvesShortAliases(t *testing.T) {
	registry := NewRegistry()

	s, err := registry.Get("greedy")
	require.NoError(t, err)
	assert.Equal(t, "greedybestfit", s.Name())

	s, err = registry.Get("binpacking")
	require.NoError(t, err)
	assert.Equal(t, "binpackingfirstfit", s.Name())

	// Case-insensitive like any other registered name.
	s, err = registry.Get("Greedy")
	require.NoError(t, err)
	assert.Equal(t, "greedybestfit", s.Name())
}
