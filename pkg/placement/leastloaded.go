package placement

import "github.com/cuemby/steelpipe/pkg/types"

// LeastLoaded is the default strategy: a weighted composite of CPU,
// memory, job-count, and queue-depth utilization, with candidates that
// can't fit the request discarded outright.
type LeastLoaded struct{}

// NewLeastLoaded constructs a LeastLoaded strategy.
func NewLeastLoaded() *LeastLoaded { return &LeastLoaded{} }

func (s *LeastLoaded) Name() string { return "leastloaded" }

func (s *LeastLoaded) jobUtil(pool *types.ResourcePool, u *types.ResourcePoolUtilization) float64 {
	if pool.Quotas.MaxJobs > 0 {
		return float64(u.RunningJobs) / float64(pool.Quotas.MaxJobs)
	}
	// Diminishing returns when no explicit MaxJobs bound is configured.
	return float64(u.RunningJobs) / float64(u.RunningJobs+10)
}

func (s *LeastLoaded) queueUtil(u *types.ResourcePoolUtilization) float64 {
	q := float64(u.QueuedJobs) / 10
	if q > 1.0 {
		q = 1.0
	}
	return q
}

func (s *LeastLoaded) fits(requested Requested, u *types.ResourcePoolUtilization) bool {
	availableCPU := u.TotalCPUMillis - u.UsedCPUMillis
	availableMemory := u.TotalMemoryBytes - u.UsedMemoryBytes
	return requested.CPUMillis <= availableCPU && requested.MemoryBytes <= availableMemory
}

func (s *LeastLoaded) score(pool *types.ResourcePool, u *types.ResourcePoolUtilization) float64 {
	return 0.3*u.CPUUtil() + 0.3*u.MemUtil() + 0.2*s.jobUtil(pool, u) + 0.2*s.queueUtil(u)
}

func (s *LeastLoaded) Select(job *types.Job, requested Requested, candidates []Candidate) (*types.ResourcePool, error) {
	var fitting []Candidate
	for _, c := range candidates {
		if s.fits(requested, c.Utilization) {
			fitting = append(fitting, c)
		}
	}
	if len(fitting) == 0 {
		return nil, errNoCandidates
	}
	sorted := sortedByPoolID(fitting)

	best := sorted[0]
	bestScore := s.score(best.Pool, best.Utilization)
	for _, c := range sorted[1:] {
		if sc := s.score(c.Pool, c.Utilization); sc < bestScore {
			best, bestScore = c, sc
		}
	}
	return best.Pool, nil
}
