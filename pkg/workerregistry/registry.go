// Package workerregistry implements C3, the Worker Registry: a
// concurrent, in-memory, per-process map of connected workers. Unlike
// pkg/poolregistry and pkg/quota this is intentionally NOT persisted or
// replicated through raft — a worker's registration is scoped to its
// live gRPC stream and is rebuilt from scratch by re-registration after
// any process restart (see SPEC_FULL.md §2, §7).
package workerregistry

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry is the concurrent workerId -> *Worker map, exactly the shape
// of the teacher's BoltStore map-of-struct access pattern but in-memory
// and per-process rather than persisted.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*types.Worker

	// waiters holds per-worker-id channels fed by register, backing
	// waitForRegistration.
	waiters map[string][]chan *types.Worker

	logger zerolog.Logger
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		workers: make(map[string]*types.Worker),
		waiters: make(map[string][]chan *types.Worker),
		logger:  log.WithComponent("workerregistry"),
	}
}

// Register is idempotent on re-registration of a known id in a
// non-terminal state: re-registering refreshes capabilities and
// heartbeat rather than erroring. Workers with no id are assigned one.
func (r *Registry) Register(workerID, poolID string, capabilities types.WorkerCapabilities) *types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if workerID == "" {
		workerID = uuid.New().String()
	}

	now := time.Now()
	if existing, ok := r.workers[workerID]; ok && existing.Status != types.WorkerFailed {
		existing.Capabilities = capabilities
		existing.PoolID = poolID
		existing.Status = types.WorkerIdle
		existing.LastHeartbeat = now
		r.notifyWaiters(workerID, existing)
		return existing
	}

	worker := &types.Worker{
		ID:            workerID,
		PoolID:        poolID,
		Capabilities:  capabilities,
		Status:        types.WorkerIdle,
		LastHeartbeat: now,
		SessionToken:  uuid.New().String(),
		CreatedAt:     now,
	}
	r.workers[workerID] = worker
	r.logger.Info().Str("worker_id", workerID).Str("pool_id", poolID).Msg("worker registered")
	r.notifyWaiters(workerID, worker)
	return worker
}

// notifyWaiters must be called with mu held.
func (r *Registry) notifyWaiters(workerID string, worker *types.Worker) {
	for _, ch := range r.waiters[workerID] {
		ch <- worker
		close(ch)
	}
	delete(r.waiters, workerID)
}

// Heartbeat updates lastHeartbeat; an OFFLINE worker transitions back
// to IDLE on a fresh heartbeat.
func (r *Registry) Heartbeat(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return orcherr.NotFoundf("worker %s not found", workerID)
	}
	w.LastHeartbeat = time.Now()
	if w.Status == types.WorkerOffline {
		w.Status = types.WorkerIdle
	}
	return nil
}

// Assign flips a worker IDLE->BUSY atomically, succeeding only if the
// worker is currently IDLE.
func (r *Registry) Assign(workerID, executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok || w.Status != types.WorkerIdle {
		return false
	}
	w.Status = types.WorkerBusy
	w.ActiveExecutionID = executionID
	return true
}

// Release flips a worker BUSY->IDLE, clearing its active execution.
func (r *Registry) Release(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return orcherr.NotFoundf("worker %s not found", workerID)
	}
	w.Status = types.WorkerIdle
	w.ActiveExecutionID = ""
	return nil
}

// WaitForRegistration blocks until workerID registers or timeout
// elapses, returning nil on timeout. If the worker is already
// registered it returns immediately.
func (r *Registry) WaitForRegistration(workerID string, timeout time.Duration) *types.Worker {
	r.mu.Lock()
	if w, ok := r.workers[workerID]; ok {
		r.mu.Unlock()
		return w
	}
	ch := make(chan *types.Worker, 1)
	r.waiters[workerID] = append(r.waiters[workerID], ch)
	r.mu.Unlock()

	select {
	case w := <-ch:
		return w
	case <-time.After(timeout):
		return nil
	}
}

// FindAvailable returns the first IDLE worker (optionally scoped to
// poolID, empty meaning any pool) whose capabilities satisfy the
// requested amounts, tie-broken by earliest CreatedAt.
func (r *Registry) FindAvailable(poolID string, requiredCPUMillis, requiredMemoryBytes int64) *types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *types.Worker
	for _, w := range r.workers {
		if w.Status != types.WorkerIdle {
			continue
		}
		if poolID != "" && w.PoolID != poolID {
			continue
		}
		if !w.Capabilities.Satisfies(requiredCPUMillis, requiredMemoryBytes) {
			continue
		}
		if best == nil || w.CreatedAt.Before(best.CreatedAt) {
			best = w
		}
	}
	return best
}

// Get returns the worker with the given id.
func (r *Registry) Get(workerID string) (*types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return nil, orcherr.NotFoundf("worker %s not found", workerID)
	}
	return w, nil
}

// CountByPool reports how many workers currently belong to poolID,
// satisfying poolregistry.WorkerCounter.
func (r *Registry) CountByPool(poolID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, w := range r.workers {
		if w.PoolID == poolID {
			count++
		}
	}
	return count
}

// Evict removes a worker entirely, used once an OFFLINE worker exceeds
// its eviction grace period.
func (r *Registry) Evict(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
}

// MarkOffline transitions a worker to OFFLINE, used on stream
// termination and by the heartbeat reaper.
func (r *Registry) MarkOffline(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Status = types.WorkerOffline
	}
}

// ListStale returns workers whose last heartbeat is older than
// heartbeatTimeout and are not already OFFLINE — candidates for the
// reaper to mark offline.
func (r *Registry) ListStale(heartbeatTimeout time.Duration) []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var stale []*types.Worker
	for _, w := range r.workers {
		if w.Status != types.WorkerOffline && now.Sub(w.LastHeartbeat) > heartbeatTimeout {
			stale = append(stale, w)
		}
	}
	return stale
}

// ListEvictable returns OFFLINE workers that have been offline longer
// than graceTimeout — candidates for physical eviction.
func (r *Registry) ListEvictable(graceTimeout time.Duration) []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var evictable []*types.Worker
	for _, w := range r.workers {
		if w.Status == types.WorkerOffline && now.Sub(w.LastHeartbeat) > graceTimeout {
			evictable = append(evictable, w)
		}
	}
	return evictable
}
