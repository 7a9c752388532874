// Package poolregistry implements C1, the Resource Pool Registry: CRUD
// over ResourcePools with name uniqueness and two-phase deletion.
package poolregistry

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/rs/zerolog"
)

// WorkerCounter reports how many workers currently belong to a pool, used
// to refuse deleting a busy pool. Implemented by pkg/workerregistry;
// declared here to avoid an import cycle (registry <- workerregistry
// would otherwise need registry -> workerregistry too).
type WorkerCounter interface {
	CountByPool(poolID string) int
}

// Registry is the in-memory, storage-backed view of all resource pools.
// Create and Update persist to the store first and update the in-memory
// map only once that write succeeds (teacher precedent: BoltStore's UpdateX is CreateX, i.e. "update is
// create" — here the in-memory map plays that same role one layer up).
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*types.ResourcePool
	store  storage.Store
	logger zerolog.Logger
}

// New loads existing pools from store into memory.
func New(store storage.Store) (*Registry, error) {
	r := &Registry{
		pools:  make(map[string]*types.ResourcePool),
		store:  store,
		logger: log.WithComponent("poolregistry"),
	}

	existing, err := store.ListPools()
	if err != nil {
		return nil, orcherr.RepositoryErrorf(err, "load pools")
	}
	for _, p := range existing {
		r.pools[p.ID] = p
	}
	return r, nil
}

// Create adds a new pool. Returns Conflict if the name is already taken.
func (r *Registry) Create(pool *types.ResourcePool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.pools {
		if existing.Name == pool.Name {
			return orcherr.Conflictf("pool name %q already exists", pool.Name)
		}
	}

	now := time.Now()
	pool.CreatedAt = now
	pool.UpdatedAt = now
	if pool.Status == "" {
		pool.Status = types.PoolActive
	}

	if err := r.store.CreatePool(pool); err != nil {
		return orcherr.RepositoryErrorf(err, "create pool %s", pool.ID)
	}
	r.pools[pool.ID] = pool
	r.logger.Info().Str("pool_id", pool.ID).Str("name", pool.Name).Msg("pool created")
	return nil
}

// Get returns the pool with the given id.
func (r *Registry) Get(id string) (*types.ResourcePool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, ok := r.pools[id]
	if !ok {
		return nil, orcherr.NotFoundf("pool %s not found", id)
	}
	return pool, nil
}

// GetByName returns the pool with the given name.
func (r *Registry) GetByName(name string) (*types.ResourcePool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.pools {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, orcherr.NotFoundf("pool %q not found", name)
}

// List returns every known pool, in no particular order.
func (r *Registry) List() []*types.ResourcePool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.ResourcePool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}

// ListActive returns only pools in PoolActive status.
func (r *Registry) ListActive() []*types.ResourcePool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.ResourcePool, 0, len(r.pools))
	for _, p := range r.pools {
		if p.Status == types.PoolActive {
			out = append(out, p)
		}
	}
	return out
}

// Update persists changes to an existing pool.
func (r *Registry) Update(pool *types.ResourcePool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[pool.ID]; !ok {
		return orcherr.NotFoundf("pool %s not found", pool.ID)
	}
	pool.UpdatedAt = time.Now()

	if err := r.store.UpdatePool(pool); err != nil {
		return orcherr.RepositoryErrorf(err, "update pool %s", pool.ID)
	}
	r.pools[pool.ID] = pool
	return nil
}

// Delete removes a pool in two phases: mark TERMINATING, then physically
// remove once no worker still belongs to it. Returns a BusinessRule
// error if workers remain, reported via workerCount rather than a live WorkerCounter call
// so this package has no import-time dependency on workerregistry.
func (r *Registry) Delete(id string, workerCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[id]
	if !ok {
		return orcherr.NotFoundf("pool %s not found", id)
	}

	if workerCount > 0 {
		if pool.Status != types.PoolTerminating {
			pool.Status = types.PoolTerminating
			pool.UpdatedAt = time.Now()
			if err := r.store.UpdatePool(pool); err != nil {
				return orcherr.RepositoryErrorf(err, "mark pool %s terminating", id)
			}
		}
		return orcherr.BusinessRulef("pool %s busy: %d worker(s) still assigned", id, workerCount)
	}

	if err := r.store.DeletePool(id); err != nil {
		return orcherr.RepositoryErrorf(err, "delete pool %s", id)
	}
	delete(r.pools, id)
	r.logger.Info().Str("pool_id", id).Msg("pool deleted")
	return nil
}
