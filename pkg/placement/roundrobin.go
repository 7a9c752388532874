package placement

import (
	"sync/atomic"

	"github.com/cuemby/steelpipe/pkg/types"
)

// RoundRobin selects candidates[counter mod N] after sorting
// candidates by pool.id lexicographically. The counter lives on the
// strategy instance, not a package global, so independently
// constructed Registries (e.g. in tests) never share state.
type RoundRobin struct {
	counter uint64
}

// NewRoundRobin constructs a fresh, zero-counter RoundRobin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (s *RoundRobin) Name() string { return "roundrobin" }

func (s *RoundRobin) Select(job *types.Job, requested Requested, candidates []Candidate) (*types.ResourcePool, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	sorted := sortedByPoolID(candidates)
	n := atomic.AddUint64(&s.counter, 1) - 1
	return sorted[n%uint64(len(sorted))].Pool, nil
}
