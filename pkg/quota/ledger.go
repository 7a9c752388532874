// Package quota implements C2, the Quota/Usage Ledger: live per-pool
// resource accounting and admission control. Grounded on the teacher's
// node-level Allocated/Total resource split (types.NodeResources),
// generalized one level up from a single node to a pool aggregate.
package quota

import (
	"sync"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
)

// Requirements is the resource ask for a single placement, already
// parsed out of a Job's ResourceRequirements map.
type Requirements struct {
	CPUMillis   int64
	MemoryBytes int64
	StorageBytes int64
}

// Admission is the outcome of a check call.
type Admission string

const (
	Available          Admission = "available"
	PartiallyAvailable Admission = "partially_available"
	Unavailable        Admission = "unavailable"
)

// CheckResult reports whether a placement would be admitted and, when
// not fully available, which limits are constraining it.
type CheckResult struct {
	Outcome          Admission
	LimitingFactors []string
}

type poolLedger struct {
	mu     sync.Mutex
	usage  types.ResourceUsage
	quotas types.Quotas
	// reservations tracks per-worker holds so release is idempotent and
	// doesn't need the caller to resend the original requirements.
	reservations map[string]Requirements
	runningJobs  int
}

// Ledger tracks usage for every registered pool.
type Ledger struct {
	mu     sync.RWMutex
	pools  map[string]*poolLedger
}

// New constructs an empty Ledger.
func New() *Ledger {
	return &Ledger{pools: make(map[string]*poolLedger)}
}

// RegisterPool seeds (or replaces) the quota definition for a pool. Safe
// to call again after a pool's quotas change.
func (l *Ledger) RegisterPool(poolID string, quotas types.Quotas) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pl, ok := l.pools[poolID]
	if !ok {
		pl = &poolLedger{reservations: make(map[string]Requirements)}
		l.pools[poolID] = pl
	}
	pl.mu.Lock()
	pl.quotas = quotas
	pl.mu.Unlock()
}

// RemovePool drops bookkeeping for a deleted pool.
func (l *Ledger) RemovePool(poolID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pools, poolID)
}

func (l *Ledger) get(poolID string) (*poolLedger, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pl, ok := l.pools[poolID]
	if !ok {
		return nil, orcherr.NotFoundf("pool %s not in ledger", poolID)
	}
	return pl, nil
}

// Check reports whether requirements can be admitted against poolID's
// current usage and quotas, per the admission rule: for every resource
// key, (usage + request) <= limit, workersUsed+1 <= maxWorkers, and
// runningJobs+1 <= maxConcurrentJobs.
func (l *Ledger) Check(poolID string, req Requirements) (*CheckResult, error) {
	pl, err := l.get(poolID)
	if err != nil {
		return nil, err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	var limiting []string

	if pl.quotas.CPU.Limits > 0 && pl.usage.CPUUsed+req.CPUMillis > pl.quotas.CPU.Limits {
		limiting = append(limiting, "cpu")
	}
	if pl.quotas.Memory.Limits > 0 && pl.usage.MemoryUsed+req.MemoryBytes > pl.quotas.Memory.Limits {
		limiting = append(limiting, "memory")
	}
	if pl.quotas.Storage.Limits > 0 && pl.usage.StorageUsed+req.StorageBytes > pl.quotas.Storage.Limits {
		limiting = append(limiting, "storage")
	}
	if pl.quotas.MaxWorkers > 0 && pl.usage.WorkersUsed+1 > pl.quotas.MaxWorkers {
		limiting = append(limiting, "max_workers")
	}
	if pl.quotas.MaxConcurrentJobs > 0 && pl.runningJobs+1 > pl.quotas.MaxConcurrentJobs {
		limiting = append(limiting, "max_concurrent_jobs")
	}

	switch {
	case len(limiting) == 0:
		return &CheckResult{Outcome: Available}, nil
	case len(limiting) < 3:
		return &CheckResult{Outcome: PartiallyAvailable, LimitingFactors: limiting}, nil
	default:
		return &CheckResult{Outcome: Unavailable, LimitingFactors: limiting}, nil
	}
}

// Reserve atomically records usage for workerID against poolID. Returns
// InsufficientResources if the admission rule would be violated.
func (l *Ledger) Reserve(poolID, workerID string, req Requirements) error {
	pl, err := l.get(poolID)
	if err != nil {
		return err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.quotas.CPU.Limits > 0 && pl.usage.CPUUsed+req.CPUMillis > pl.quotas.CPU.Limits {
		return orcherr.InsufficientResourcesf("pool %s: cpu quota exhausted", poolID)
	}
	if pl.quotas.Memory.Limits > 0 && pl.usage.MemoryUsed+req.MemoryBytes > pl.quotas.Memory.Limits {
		return orcherr.InsufficientResourcesf("pool %s: memory quota exhausted", poolID)
	}
	if pl.quotas.Storage.Limits > 0 && pl.usage.StorageUsed+req.StorageBytes > pl.quotas.Storage.Limits {
		return orcherr.InsufficientResourcesf("pool %s: storage quota exhausted", poolID)
	}
	if pl.quotas.MaxWorkers > 0 && pl.usage.WorkersUsed+1 > pl.quotas.MaxWorkers {
		return orcherr.InsufficientResourcesf("pool %s: max workers reached", poolID)
	}
	if pl.quotas.MaxConcurrentJobs > 0 && pl.runningJobs+1 > pl.quotas.MaxConcurrentJobs {
		return orcherr.InsufficientResourcesf("pool %s: max concurrent jobs reached", poolID)
	}

	pl.usage.CPUUsed += req.CPUMillis
	pl.usage.MemoryUsed += req.MemoryBytes
	pl.usage.StorageUsed += req.StorageBytes
	pl.usage.WorkersUsed++
	pl.runningJobs++
	pl.reservations[workerID] = req
	return nil
}

// Release gives back whatever was reserved for workerID in poolID. A
// release for an unknown reservation is a no-op, so callers never need
// to guard against double-release on a retry path.
func (l *Ledger) Release(poolID, workerID string) error {
	pl, err := l.get(poolID)
	if err != nil {
		return err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	req, ok := pl.reservations[workerID]
	if !ok {
		return nil
	}

	pl.usage.CPUUsed -= req.CPUMillis
	pl.usage.MemoryUsed -= req.MemoryBytes
	pl.usage.StorageUsed -= req.StorageBytes
	pl.usage.WorkersUsed--
	pl.runningJobs--
	delete(pl.reservations, workerID)
	return nil
}

// Usage returns a copy of the current usage snapshot for poolID.
func (l *Ledger) Usage(poolID string) (types.ResourceUsage, error) {
	pl, err := l.get(poolID)
	if err != nil {
		return types.ResourceUsage{}, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.usage, nil
}

// RunningJobs returns the number of active reservations (≈ running
// jobs) currently held against poolID.
func (l *Ledger) RunningJobs(poolID string) (int, error) {
	pl, err := l.get(poolID)
	if err != nil {
		return 0, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.runningJobs, nil
}

// Violations reports human-readable descriptions of any quota the pool
// is currently exceeding (used for status reporting, not enforcement —
// enforcement always happens at Reserve time).
func (l *Ledger) Violations(poolID string) ([]string, error) {
	pl, err := l.get(poolID)
	if err != nil {
		return nil, err
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	var out []string
	if pl.quotas.CPU.Limits > 0 && pl.usage.CPUUsed > pl.quotas.CPU.Limits {
		out = append(out, "cpu usage exceeds limit")
	}
	if pl.quotas.Memory.Limits > 0 && pl.usage.MemoryUsed > pl.quotas.Memory.Limits {
		out = append(out, "memory usage exceeds limit")
	}
	if pl.quotas.MaxWorkers > 0 && pl.usage.WorkersUsed > pl.quotas.MaxWorkers {
		out = append(out, "worker count exceeds max workers")
	}
	return out, nil
}
