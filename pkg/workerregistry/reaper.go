package workerregistry

import (
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/metrics"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/rs/zerolog"
)

// ExecutionFailer fails an in-flight execution with a given reason,
// implemented by pkg/execution. Declared here rather than imported to
// avoid a registry <-> execution import cycle.
type ExecutionFailer interface {
	FailWorkerLost(executionID string) error
}

// Reaper is a ticker-driven background loop that marks workers with a
// stale heartbeat OFFLINE, failing the execution of any worker that was
// BUSY when marked, and evicts workers that have been OFFLINE beyond a
// grace period — a Start()/Stop()+stopCh ticker loop.
type Reaper struct {
	registry *Registry
	failer   ExecutionFailer

	heartbeatTimeout time.Duration
	graceTimeout     time.Duration
	tickInterval     time.Duration

	stopCh chan struct{}
	logger zerolog.Logger
}

// NewReaper constructs a Reaper with the spec's default timeouts
// (heartbeatTimeout=30s, graceTimeout=5m) unless overridden.
func NewReaper(registry *Registry, failer ExecutionFailer, heartbeatTimeout, graceTimeout time.Duration) *Reaper {
	if heartbeatTimeout == 0 {
		heartbeatTimeout = 30 * time.Second
	}
	if graceTimeout == 0 {
		graceTimeout = 5 * time.Minute
	}
	return &Reaper{
		registry:         registry,
		failer:           failer,
		heartbeatTimeout: heartbeatTimeout,
		graceTimeout:     graceTimeout,
		tickInterval:     5 * time.Second,
		stopCh:           make(chan struct{}),
		logger:           log.WithComponent("worker_reaper"),
	}
}

// Start begins the reaper loop in its own goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop halts the reaper loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reaper) sweep() {
	for _, w := range r.registry.ListStale(r.heartbeatTimeout) {
		wasBusy := w.Status == types.WorkerBusy
		activeExecutionID := w.ActiveExecutionID

		r.registry.MarkOffline(w.ID)
		metrics.WorkerHeartbeatsMissed.WithLabelValues(w.PoolID).Inc()
		r.logger.Warn().Str("worker_id", w.ID).Msg("worker heartbeat stale, marked offline")

		if wasBusy && activeExecutionID != "" && r.failer != nil {
			if err := r.failer.FailWorkerLost(activeExecutionID); err != nil {
				r.logger.Error().Err(err).Str("execution_id", activeExecutionID).Msg("failed to fail execution for lost worker")
			}
		}
	}

	for _, w := range r.registry.ListEvictable(r.graceTimeout) {
		r.registry.Evict(w.ID)
		r.logger.Info().Str("worker_id", w.ID).Msg("worker evicted after grace period")
	}
}
