// Package engine implements C8, the Execution Engine: the dispatch
// loop that turns an accepted Job into a running Execution by driving
// the Scheduler (C6), the Quota Ledger (C2), the Worker Registry (C3),
// the worker connection (C4), and the Execution State Machine (C7), one
// goroutine per in-flight execution (teacher precedent:
// containerExecutorLoop, one goroutine per worker; here one per
// execution, per spec §5's "isolated task" per execution).
package engine

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/execution"
	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/quantity"
	"github.com/cuemby/steelpipe/pkg/quota"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler is the subset of scheduler.Scheduler the Engine needs.
type Scheduler interface {
	FindPlacement(job *types.Job, strategyName string) (*types.ResourcePool, error)
}

// Ledger is the subset of quota.Ledger the Engine needs.
type Ledger interface {
	Reserve(poolID, key string, req quota.Requirements) error
	Release(poolID, key string) error
}

// Workers is the subset of workerregistry.Registry the Engine needs.
type Workers interface {
	FindAvailable(poolID string, cpuMillis, memoryBytes int64) *types.Worker
	Assign(workerID, executionID string) bool
	Release(workerID string) error
}

// Machine is the subset of execution.Machine the Engine drives.
type Machine interface {
	CreateExecution(exec *types.Execution) error
	Assign(executionID, workerID, poolID string) error
	FailPlacement(executionID, reason string) error
	Timeout(executionID, reason string) error
	Cancel(executionID, reason string) error
	Subscribe(executionID string) (<-chan execution.State, func())
}

// Enqueuer is the subset of streaming.Handler the Engine needs to push
// messages onto a worker's outbound queue.
type Enqueuer interface {
	Enqueue(workerID string, msg *wire.OrchestratorMessage)
}

// Fanout publishes the final ExecutionUpdate on terminal (step 8).
type Fanout interface {
	Publish(update *types.ExecutionUpdate)
}

// Timeouts collects the named, tunable durations of spec §5.
type Timeouts struct {
	WorkerWait      time.Duration
	StartGrace      time.Duration
	CancelGrace     time.Duration
	RetryBackoffCap time.Duration
}

// DefaultTimeouts returns spec §5's stated defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		WorkerWait:      120 * time.Second,
		StartGrace:      60 * time.Second,
		CancelGrace:     30 * time.Second,
		RetryBackoffCap: 60 * time.Second,
	}
}

// ExecutionContext is the public shape returned by ActiveExecutions:
// event/log streams are not embedded here — a caller subscribes to
// them separately through C9 (pkg/fanout) keyed by ExecutionID.
type ExecutionContext struct {
	Execution *types.Execution
	Job       *types.Job
	WorkerID  string
}

type activeExecution struct {
	mu        sync.Mutex
	execution *types.Execution
	job       *types.Job
	workerID  string
}

// Engine is the C8 dispatch loop owner.
type Engine struct {
	scheduler Scheduler
	ledger    Ledger
	workers   Workers
	machine   Machine
	enqueue   Enqueuer
	fanout    Fanout

	timeouts Timeouts

	mu         sync.Mutex
	active     map[string]*activeExecution
	cancelCh   map[string]chan string
	terminated map[string]bool

	logger zerolog.Logger
}

// New constructs an Engine wired to its collaborators.
func New(scheduler Scheduler, ledger Ledger, workers Workers, machine Machine, enqueue Enqueuer, fanout Fanout, timeouts Timeouts) *Engine {
	return &Engine{
		scheduler:  scheduler,
		ledger:     ledger,
		workers:    workers,
		machine:    machine,
		enqueue:    enqueue,
		fanout:     fanout,
		timeouts:   timeouts,
		active:     make(map[string]*activeExecution),
		cancelCh:   make(map[string]chan string),
		terminated: make(map[string]bool),
		logger:     log.WithComponent("engine"),
	}
}

// Submit persists a new Execution for job and starts its dispatch loop
// in its own goroutine, returning the new execution id.
func (e *Engine) Submit(job *types.Job, strategyName string) (string, error) {
	exec := &types.Execution{ID: uuid.New().String(), JobID: job.ID}
	if err := e.machine.CreateExecution(exec); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.active[exec.ID] = &activeExecution{execution: exec, job: job}
	e.cancelCh[exec.ID] = make(chan string, 1)
	e.mu.Unlock()

	go e.dispatch(job, exec, strategyName)
	return exec.ID, nil
}

// Cancel requests cancellation of executionID. Idempotent: repeated
// calls against an active execution just redeliver the intent, and
// calls against an already-finished execution report alreadyTerminal
// rather than erroring (spec §8 property 6).
func (e *Engine) Cancel(executionID, reason string) string {
	e.mu.Lock()
	ch, ok := e.cancelCh[executionID]
	if !ok {
		terminal := e.terminated[executionID]
		e.mu.Unlock()
		if terminal {
			return "alreadyTerminal"
		}
		return "notFound"
	}
	e.mu.Unlock()

	select {
	case ch <- reason:
	default:
	}
	return "ok"
}

// ActiveExecutions returns a snapshot of every execution the Engine is
// currently dispatching.
func (e *Engine) ActiveExecutions() []ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ExecutionContext, 0, len(e.active))
	for _, a := range e.active {
		a.mu.Lock()
		out = append(out, ExecutionContext{Execution: a.execution, Job: a.job, WorkerID: a.workerID})
		a.mu.Unlock()
	}
	return out
}

func (e *Engine) cancelChannel(executionID string) chan string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelCh[executionID]
}

func (e *Engine) track(executionID, workerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.active[executionID]; ok {
		a.mu.Lock()
		a.workerID = workerID
		a.mu.Unlock()
	}
}

func (e *Engine) cleanup(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, executionID)
	delete(e.cancelCh, executionID)
	e.terminated[executionID] = true
}

// requestedResources parses a Job's ResourceRequirements, duplicating
// scheduler.requestedResources' parsing (unexported there, and small
// enough not to be worth exporting cross-package for one reuse).
func requestedResources(job *types.Job) (quota.Requirements, error) {
	cpuMillis, err := quantity.ParseCPUMillis(job.ResourceRequirements["cpu"])
	if err != nil {
		return quota.Requirements{}, orcherr.Validationf("job %s: invalid cpu requirement: %v", job.ID, err)
	}
	memBytes, err := quantity.ParseMemoryBytes(job.ResourceRequirements["memory"])
	if err != nil {
		return quota.Requirements{}, orcherr.Validationf("job %s: invalid memory requirement: %v", job.ID, err)
	}
	return quota.Requirements{CPUMillis: cpuMillis, MemoryBytes: memBytes}, nil
}

// dispatch runs the eight-step pipeline of spec §4.8 for one accepted
// job/execution pair, end to end.
func (e *Engine) dispatch(job *types.Job, exec *types.Execution, strategyName string) {
	defer e.cleanup(exec.ID)
	cancelCh := e.cancelChannel(exec.ID)

	// Step 1: placement.
	pool, err := e.scheduler.FindPlacement(job, strategyName)
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("placement failed")
		e.fail(exec.ID, "placementFailed")
		return
	}

	req, err := requestedResources(job)
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("invalid resource requirements")
		e.fail(exec.ID, "placementFailed")
		return
	}

	// Step 2: reserve, retrying with capped exponential backoff on
	// InsufficientResources.
	if !e.reserveWithRetry(pool.ID, exec.ID, req, cancelCh) {
		return
	}

	// Step 3: find a worker, waiting up to workerWaitTimeout.
	worker := e.findWorkerWithWait(pool.ID, req, cancelCh)
	if worker == nil {
		e.ledger.Release(pool.ID, exec.ID)
		e.fail(exec.ID, "NO_WORKER")
		return
	}

	// Step 4: assign.
	if !e.workers.Assign(worker.ID, exec.ID) {
		e.ledger.Release(pool.ID, exec.ID)
		e.fail(exec.ID, "NO_WORKER")
		return
	}
	if err := e.machine.Assign(exec.ID, worker.ID, pool.ID); err != nil {
		e.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("assign transition rejected")
		e.workers.Release(worker.ID)
		e.ledger.Release(pool.ID, exec.ID)
		return
	}
	e.track(exec.ID, worker.ID)

	// Subscribe before enqueuing so no transition the worker triggers in
	// response can race the registration of this channel.
	states, unsubscribe := e.machine.Subscribe(exec.ID)
	defer unsubscribe()

	// Step 5: enqueue the assignment.
	e.enqueue.Enqueue(worker.ID, &wire.OrchestratorMessage{
		Kind: wire.KindExecutionAssignment,
		ExecutionAssignment: &wire.ExecutionAssignment{
			ExecutionID: exec.ID,
			Definition:  job.Spec,
		},
	})

	// Step 6: expect STARTED within startGraceTimeout.
	if !e.awaitStart(states, cancelCh, exec.ID, worker.ID) {
		e.release(pool.ID, worker.ID, exec.ID)
		return
	}

	// Step 7: stream until a terminal result or admin cancel.
	e.awaitTerminal(states, cancelCh, exec.ID, worker.ID)

	// Step 8: release resources and publish the final update.
	e.release(pool.ID, worker.ID, exec.ID)
}

func (e *Engine) fail(executionID, reason string) {
	if err := e.machine.FailPlacement(executionID, reason); err != nil {
		e.logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to record placement failure")
	}
	e.publishFinal(executionID, reason)
}

func (e *Engine) reserveWithRetry(poolID, executionID string, req quota.Requirements, cancelCh <-chan string) bool {
	backoff := time.Second
	for {
		err := e.ledger.Reserve(poolID, executionID, req)
		if err == nil {
			return true
		}
		if !orcherr.Is(err, orcherr.InsufficientResources) {
			e.fail(executionID, "placementFailed")
			return false
		}

		select {
		case reason := <-cancelCh:
			e.machine.Cancel(executionID, reason)
			e.publishFinal(executionID, reason)
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.timeouts.RetryBackoffCap {
			backoff = e.timeouts.RetryBackoffCap
		}
	}
}

func (e *Engine) findWorkerWithWait(poolID string, req quota.Requirements, cancelCh <-chan string) *types.Worker {
	if w := e.workers.FindAvailable(poolID, req.CPUMillis, req.MemoryBytes); w != nil {
		return w
	}

	deadline := time.After(e.timeouts.WorkerWait)
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-poll.C:
			if w := e.workers.FindAvailable(poolID, req.CPUMillis, req.MemoryBytes); w != nil {
				return w
			}
		case <-cancelCh:
			return nil
		case <-deadline:
			return nil
		}
	}
}

// awaitStart blocks until the Execution reaches STARTED, a terminal
// state, or startGraceTimeout elapses, returning whether it reached
// STARTED. On timeout it transitions the Execution to TIMEOUT and
// signals the worker to stop.
func (e *Engine) awaitStart(states <-chan execution.State, cancelCh <-chan string, executionID, workerID string) bool {
	timer := time.NewTimer(e.timeouts.StartGrace)
	defer timer.Stop()

	for {
		select {
		case s := <-states:
			if s == execution.StateStarted {
				return true
			}
			if s.Terminal() {
				e.publishFinal(executionID, string(s))
				return false
			}
		case reason := <-cancelCh:
			e.cancelInFlight(states, executionID, workerID, reason)
			return false
		case <-timer.C:
			e.machine.Timeout(executionID, "start grace period exceeded")
			e.enqueue.Enqueue(workerID, &wire.OrchestratorMessage{
				Kind:         wire.KindCancelSignal,
				CancelSignal: &wire.CancelSignal{Reason: "START_TIMEOUT"},
			})
			e.publishFinal(executionID, "START_TIMEOUT")
			return false
		}
	}
}

// awaitTerminal blocks until the Execution reaches a terminal state or
// an admin cancel arrives, in which case it drives the cancel-grace
// protocol of spec §5.
func (e *Engine) awaitTerminal(states <-chan execution.State, cancelCh <-chan string, executionID, workerID string) {
	for {
		select {
		case s := <-states:
			if s.Terminal() {
				e.publishFinal(executionID, string(s))
				return
			}
		case reason := <-cancelCh:
			e.cancelInFlight(states, executionID, workerID, reason)
			return
		}
	}
}

// cancelInFlight implements spec §5's cancellation semantics: enqueue
// CancelSignal, wait up to cancelGracePeriod for a terminal result,
// else force CANCELLED and release the worker back to IDLE in the
// registry; the worker's stream is not closed and the worker is not
// evicted. states is the caller's
// already-open Subscribe channel for executionID, reused rather than
// opening a second subscription.
func (e *Engine) cancelInFlight(states <-chan execution.State, executionID, workerID, reason string) {
	e.enqueue.Enqueue(workerID, &wire.OrchestratorMessage{
		Kind:         wire.KindCancelSignal,
		CancelSignal: &wire.CancelSignal{Reason: reason},
	})

	timer := time.NewTimer(e.timeouts.CancelGrace)
	defer timer.Stop()

	for {
		select {
		case s := <-states:
			if s.Terminal() {
				e.publishFinal(executionID, string(s))
				return
			}
		case <-timer.C:
			e.machine.Cancel(executionID, reason)
			e.workers.Release(workerID)
			e.publishFinal(executionID, "CANCEL_GRACE_EXPIRED")
			return
		}
	}
}

func (e *Engine) release(poolID, workerID, executionID string) {
	if err := e.ledger.Release(poolID, executionID); err != nil {
		e.logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to release reservation")
	}
	if err := e.workers.Release(workerID); err != nil {
		e.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to release worker")
	}
}

func (e *Engine) publishFinal(executionID, statusText string) {
	if e.fanout == nil {
		return
	}
	e.fanout.Publish(&types.ExecutionUpdate{
		Kind:        types.UpdateKindStatus,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		StatusText:  statusText,
	})
}
