// Package scheduler implements C6, the Scheduler Service:
// findPlacement resolves a Job to a ResourcePool by combining the
// active pool list (C1), live utilization (resourcemonitor, keyed by
// pool.Type), admission filtering (C2), and a named placement
// strategy (C5). Directly modeled on the teacher's scheduler.Scheduler
// shape (a logger and a single entry point called by an outer
// dispatch loop) rather than its container-reconciliation content.
package scheduler

import (
	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/placement"
	"github.com/cuemby/steelpipe/pkg/quantity"
	"github.com/cuemby/steelpipe/pkg/quota"
	"github.com/cuemby/steelpipe/pkg/resourcemonitor"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/rs/zerolog"
)

// PoolLister is the subset of poolregistry.Registry the Scheduler
// needs.
type PoolLister interface {
	ListActive() []*types.ResourcePool
}

// AdmissionChecker is the subset of quota.Ledger the Scheduler needs.
type AdmissionChecker interface {
	Check(poolID string, req quota.Requirements) (*quota.CheckResult, error)
}

// Scheduler resolves placements for submitted jobs.
type Scheduler struct {
	pools      PoolLister
	monitors   *resourcemonitor.Registry
	admission  AdmissionChecker
	strategies *placement.Registry
	logger     zerolog.Logger
}

// New constructs a Scheduler wired to its collaborators.
func New(pools PoolLister, monitors *resourcemonitor.Registry, admission AdmissionChecker, strategies *placement.Registry) *Scheduler {
	return &Scheduler{
		pools:      pools,
		monitors:   monitors,
		admission:  admission,
		strategies: strategies,
		logger:     log.WithComponent("scheduler"),
	}
}

// requestedResources parses a Job's ResourceRequirements into the
// amounts both the admission check and the placement strategies need.
func requestedResources(job *types.Job) (quota.Requirements, placement.Requested, error) {
	cpuMillis, err := quantity.ParseCPUMillis(job.ResourceRequirements["cpu"])
	if err != nil {
		return quota.Requirements{}, placement.Requested{}, orcherr.Validationf("job %s: invalid cpu requirement: %v", job.ID, err)
	}
	memBytes, err := quantity.ParseMemoryBytes(job.ResourceRequirements["memory"])
	if err != nil {
		return quota.Requirements{}, placement.Requested{}, orcherr.Validationf("job %s: invalid memory requirement: %v", job.ID, err)
	}

	req := quota.Requirements{CPUMillis: cpuMillis, MemoryBytes: memBytes}
	requested := placement.Requested{CPUMillis: cpuMillis, MemoryBytes: memBytes}
	return req, requested, nil
}

// FindPlacement runs the five-step placement algorithm of spec §4.6.
func (s *Scheduler) FindPlacement(job *types.Job, strategyName string) (*types.ResourcePool, error) {
	req, requested, err := requestedResources(job)
	if err != nil {
		return nil, err
	}

	activePools := s.pools.ListActive()
	if len(activePools) == 0 {
		return nil, orcherr.BusinessRulef("No active resource pools")
	}

	var candidates []placement.Candidate
	for _, pool := range activePools {
		monitor, err := s.monitors.Get(pool.Type)
		if err != nil {
			s.logger.Warn().Err(err).Str("pool_id", pool.ID).Str("pool_type", pool.Type).Msg("no resource monitor for pool type, skipping")
			continue
		}

		utilization, err := monitor.GetUtilization(pool.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("pool_id", pool.ID).Msg("resource monitor failed, skipping pool")
			continue
		}

		result, err := s.admission.Check(pool.ID, req)
		if err != nil {
			s.logger.Warn().Err(err).Str("pool_id", pool.ID).Msg("admission check failed, skipping pool")
			continue
		}
		if result.Outcome == quota.Unavailable {
			continue
		}

		candidates = append(candidates, placement.Candidate{Pool: pool, Utilization: utilization})
	}

	strategy, err := s.strategies.Get(strategyName)
	if err != nil {
		return nil, err
	}

	return strategy.Select(job, requested, candidates)
}
