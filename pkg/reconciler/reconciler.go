// Package reconciler requeues Jobs that terminated in FAILED for a
// transient reason and still have retries remaining (spec §7): only
// InsufficientResources, WorkerLost, and Timeout-category failures are
// retried, never a worker-reported task failure, validation error, or
// protocol violation. Adapted from the teacher's reconciler.Reconciler
// — same ticker-driven loop and metrics, generalized from node/task
// health reconciliation to job-retry reconciliation.
package reconciler

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/metrics"
	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/rs/zerolog"
)

// retryableReasons are the Execution.ErrorMessage values the Engine
// (pkg/engine) and state machine (pkg/execution) record for the three
// transient failure categories of spec §7. Anything else — a worker-
// reported task error from HandleExecutionResult, a validation
// failure, CANCEL_GRACE_EXPIRED (which only ever accompanies a
// CANCELLED job, never FAILED) — is left alone.
var retryableReasons = map[string]bool{
	// InsufficientResources: placement or admission failed before a
	// worker was ever assigned.
	"placementFailed": true,
	// WorkerLost / WorkerDisconnected: a connected worker died or its
	// stream dropped mid-execution.
	"WORKER_LOST":         true,
	"WORKER_DISCONNECTED": true,
	// Timeout: no worker became available, or the worker never
	// acknowledged the assignment in time.
	"NO_WORKER":                   true,
	"start grace period exceeded": true,
	"START_TIMEOUT":               true,
}

// Store is the subset of storage.Store the reconciler scans and
// mutates.
type Store interface {
	ListJobs() ([]*types.Job, error)
	GetExecution(id string) (*types.Execution, error)
}

// Applier commits a requeued Job's new status to the replicated log.
type Applier interface {
	Apply(cmd orchfsm.Command) error
}

// Resubmitter hands a requeued Job back to the Execution Engine (C8).
type Resubmitter interface {
	Submit(job *types.Job, strategyName string) (string, error)
}

// Reconciler is the background retry loop of spec §5.11.
type Reconciler struct {
	store   Store
	applier Applier
	engine  Resubmitter
	logger  zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// New constructs a Reconciler. Call Start to begin its loop.
func New(store Store, applier Applier, engine Resubmitter) *Reconciler {
	return &Reconciler{
		store:   store,
		applier: applier,
		engine:  engine,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop in its own goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop ends the loop. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Reconcile runs one cycle synchronously: list every Job, requeue the
// ones eligible for retry. Exported so tests and an ops-triggered
// manual reconciliation don't have to wait on the ticker.
func (r *Reconciler) Reconcile() error {
	return r.reconcile()
}

func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	jobs, err := r.store.ListJobs()
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.Status != types.JobFailed {
			continue
		}
		if job.RetryCount >= job.MaxRetries {
			continue
		}
		if !r.eligibleForRetry(job) {
			continue
		}
		r.requeue(job)
	}
	return nil
}

func (r *Reconciler) eligibleForRetry(job *types.Job) bool {
	if job.LatestExecutionID == "" {
		return false
	}
	exec, err := r.store.GetExecution(job.LatestExecutionID)
	if err != nil {
		r.logger.Debug().Err(err).Str("job_id", job.ID).Msg("could not load latest execution for retry check")
		return false
	}
	return retryableReasons[exec.ErrorMessage]
}

func (r *Reconciler) requeue(job *types.Job) {
	job.Status = types.JobQueued
	job.RetryCount++
	job.UpdatedAt = time.Now()

	cmd, err := orchfsm.NewCommand(orchfsm.OpUpdateJob, job)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to encode requeue command")
		return
	}
	if err := r.applier.Apply(cmd); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist requeue")
		return
	}

	r.logger.Info().
		Str("job_id", job.ID).
		Int("retry_count", job.RetryCount).
		Int("max_retries", job.MaxRetries).
		Msg("requeued failed job for retry")

	if _, err := r.engine.Submit(job, ""); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to resubmit requeued job")
	}
}
