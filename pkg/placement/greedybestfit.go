package placement

import "github.com/cuemby/steelpipe/pkg/types"

// GreedyBestFit picks the candidate with the lowest combined CPU+memory
// utilization score, tie-broken by pool.id ascending.
type GreedyBestFit struct{}

// NewGreedyBestFit constructs a GreedyBestFit strategy. It carries no
// state, so one shared instance is safe across Registries.
func NewGreedyBestFit() *GreedyBestFit { return &GreedyBestFit{} }

func (s *GreedyBestFit) Name() string { return "greedybestfit" }

func (s *GreedyBestFit) score(u *types.ResourcePoolUtilization) float64 {
	return (u.CPUUtil() + u.MemUtil()) / 2
}

func (s *GreedyBestFit) Select(job *types.Job, requested Requested, candidates []Candidate) (*types.ResourcePool, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	sorted := sortedByPoolID(candidates)

	best := sorted[0]
	bestScore := s.score(best.Utilization)
	for _, c := range sorted[1:] {
		if sc := s.score(c.Utilization); sc < bestScore {
			best, bestScore = c, sc
		}
	}
	return best.Pool, nil
}
