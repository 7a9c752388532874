// Package resourcemonitor implements the pool-utilization readers the
// Scheduler Service (C6) consults for each candidate pool, keyed by
// pool.Type (spec §4.6 step 2). Grounded on the teacher's pkg/health
// Checker interface: a small "is-it-up"-shaped contract with several
// interchangeable implementations registered by a string key, here
// generalized from a pass/fail health check to a utilization snapshot.
package resourcemonitor

import (
	"sync"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
)

// Monitor reports live utilization for pools of one type and lets
// callers subscribe to updates.
type Monitor interface {
	GetUtilization(poolID string) (*types.ResourcePoolUtilization, error)
	// SubscribeToResourceUpdates returns a channel of snapshots for
	// poolID and an unsubscribe func. The channel is closed once
	// unsubscribe is called.
	SubscribeToResourceUpdates(poolID string) (<-chan *types.ResourcePoolUtilization, func())
}

// Registry is a pool-Type-keyed set of Monitor implementations,
// mirroring pkg/placement.Registry's name-keyed strategy map.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]Monitor
}

// NewRegistry builds an empty Registry. Callers wire in built-ins with
// Register — this package ships the "kubernetes" and "docker" readers
// in builtin.go but does not auto-register them, so tests can swap in
// fakes freely.
func NewRegistry() *Registry {
	return &Registry{monitors: make(map[string]Monitor)}
}

// Register associates poolType with a Monitor implementation.
func (r *Registry) Register(poolType string, m Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors[poolType] = m
}

// Get resolves poolType to its Monitor.
func (r *Registry) Get(poolType string) (Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[poolType]
	if !ok {
		return nil, orcherr.NotFoundf("no resource monitor registered for pool type %q", poolType)
	}
	return m, nil
}
