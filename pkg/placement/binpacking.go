package placement

import "github.com/cuemby/steelpipe/pkg/types"

// BinPackingFirstFit favors mid-utilization pools over near-empty ones
// (to consolidate load) while discarding pools close to full.
type BinPackingFirstFit struct{}

// NewBinPackingFirstFit constructs a BinPackingFirstFit strategy.
func NewBinPackingFirstFit() *BinPackingFirstFit { return &BinPackingFirstFit{} }

func (s *BinPackingFirstFit) Name() string { return "binpackingfirstfit" }

// score returns (value, ok); ok is false when the pool is too full to
// consider (u >= 0.85).
func (s *BinPackingFirstFit) score(u *types.ResourcePoolUtilization) (float64, bool) {
	util := (u.CPUUtil() + u.MemUtil()) / 2
	switch {
	case util >= 0.85:
		return 0, false
	case util < 0.1:
		return 0.0, true
	case util < 0.4:
		return 2 * util, true
	case util < 0.7:
		return 1.0, true
	default: // 0.7 <= util < 0.85
		return 1.0 - 2*(util-0.7), true
	}
}

func (s *BinPackingFirstFit) Select(job *types.Job, requested Requested, candidates []Candidate) (*types.ResourcePool, error) {
	sorted := sortedByPoolID(candidates)

	var best *types.ResourcePool
	var bestScore float64
	for _, c := range sorted {
		sc, ok := s.score(c.Utilization)
		if !ok {
			continue
		}
		if best == nil || sc > bestScore {
			best, bestScore = c.Pool, sc
		}
	}
	if best == nil {
		return nil, errNoCandidates
	}
	return best, nil
}
