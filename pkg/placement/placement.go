// Package placement implements C5, the set of pluggable placement
// strategies the Scheduler Service (C6) runs over a filtered candidate
// pool list. Grounded on the teacher's scheduler.go, which favors one
// small pure helper function per concern (filterSchedulableNodes,
// selectNode) over an interface hierarchy; here each strategy is
// likewise a small value implementing the same Strategy interface,
// registered by name into a Registry built with NewRegistry.
package placement

import (
	"sort"
	"strings"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
)

// Candidate pairs a schedulable pool with its live utilization
// snapshot, already filtered for admission by the caller (C6).
type Candidate struct {
	Pool        *types.ResourcePool
	Utilization *types.ResourcePoolUtilization
}

// Requested is the resource ask a Job carries into placement, parsed
// from types.Job.ResourceRequirements via pkg/quantity by the caller.
type Requested struct {
	CPUMillis   int64
	MemoryBytes int64
}

// Strategy selects one candidate pool for a job, or reports that none
// qualifies.
type Strategy interface {
	// Name is the case-insensitive key strategies are registered and
	// looked up under.
	Name() string
	Select(job *types.Job, requested Requested, candidates []Candidate) (*types.ResourcePool, error)
}

func sortedByPoolID(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Pool.ID < sorted[j].Pool.ID
	})
	return sorted
}

var errNoCandidates = orcherr.BusinessRulef("no candidates")

// DefaultStrategyName is used by the Scheduler when a job names none.
const DefaultStrategyName = "leastloaded"

// Registry is a name-keyed set of Strategy instances, mirroring
// pkg/resourcemonitor's type-keyed Registry. Names are matched
// lower-cased (spec §4.5: "matched case-insensitively").
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a Registry pre-populated with the four required
// strategies, each its own instance so RoundRobin's counter is never
// shared across Registry instances (spec §4.5: "process-wide and
// strategy-instance-scoped").
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(NewRoundRobin())
	greedy := NewGreedyBestFit()
	r.Register(greedy)
	r.RegisterAlias("greedy", greedy)
	r.Register(NewLeastLoaded())
	binpacking := NewBinPackingFirstFit()
	r.Register(binpacking)
	r.RegisterAlias("binpacking", binpacking)
	return r
}

// Register adds or replaces a strategy under its lower-cased name.
func (r *Registry) Register(s Strategy) {
	r.strategies[strings.ToLower(s.Name())] = s
}

// RegisterAlias makes s additionally resolvable under name, lower-cased.
// Used for short forms (spec §8 scenarios pass "greedy"/"binpacking"
// rather than the strategies' full registered names).
func (r *Registry) RegisterAlias(name string, s Strategy) {
	r.strategies[strings.ToLower(name)] = s
}

// Get resolves name (case-insensitively) to a strategy, falling back
// to DefaultStrategyName when name is empty.
func (r *Registry) Get(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategyName
	}
	s, ok := r.strategies[strings.ToLower(name)]
	if !ok {
		return nil, orcherr.Validationf("unknown placement strategy %q", name)
	}
	return s, nil
}
