// Package execution implements C7, the Execution State Machine:
// per-execution state, serialized by a per-execution lock (spec §5),
// replicated to the raft log via pkg/orchfsm, and projected onto the
// owning Job's outward status. It implements the
// streaming.ExecutionEffects and workerregistry.ExecutionFailer
// interfaces so C4 and the worker reaper can drive it without a direct
// import.
package execution

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/rs/zerolog"
)

// Applier commits one command to the replicated log, mirroring the
// teacher's Manager.Apply — the concrete implementation (pkg/manager)
// wraps a *raft.Raft.
type Applier interface {
	Apply(cmd orchfsm.Command) error
}

// Store is the subset of storage.Store the state machine needs to load
// an aggregate before mutating and persisting it.
type Store interface {
	GetExecution(id string) (*types.Execution, error)
	GetJob(id string) (*types.Job, error)
}

// entry is the live, in-memory tracking record for one in-flight
// execution: its current State plus any message ids awaiting
// acknowledgment. An execution is dropped from the map by the
// transition that takes it into a terminal state; the durable record
// lives in storage.
type entry struct {
	mu          sync.Mutex
	state       State
	startedAt   time.Time
	pendingAcks map[string]bool
	// waiters backs Subscribe: every transition is pushed to each
	// registered channel so a caller (the Engine, C8) can block until a
	// target state is reached instead of polling CurrentState.
	waiters []chan State
}

// Machine tracks every in-flight execution's internal state.
type Machine struct {
	mu      sync.Mutex
	entries map[string]*entry

	store   Store
	applier Applier
	logger  zerolog.Logger
}

// New constructs a Machine backed by store and applier.
func New(store Store, applier Applier) *Machine {
	return &Machine{
		entries: make(map[string]*entry),
		store:   store,
		applier: applier,
		logger:  log.WithComponent("execution"),
	}
}

func (m *Machine) entryFor(executionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[executionID]
	if !ok {
		e = &entry{state: StateCreated, pendingAcks: make(map[string]bool)}
		m.entries[executionID] = e
	}
	return e
}

func (m *Machine) forget(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, executionID)
}

// CreateExecution persists a new Execution in CREATED state and begins
// tracking it.
func (m *Machine) CreateExecution(exec *types.Execution) error {
	exec.Status = ProjectExecutionStatus(StateCreated)
	cmd, err := orchfsm.NewCommand(orchfsm.OpCreateExec, exec)
	if err != nil {
		return err
	}
	if err := m.applier.Apply(cmd); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[exec.ID] = &entry{state: StateCreated, pendingAcks: make(map[string]bool)}
	m.mu.Unlock()
	return nil
}

// transition validates and applies a state change, persisting both the
// Execution and its owning Job's projected status. ackMessageID, if
// non-empty, is recorded as pending until Acknowledge is called (spec
// §4.7's requiresAck discipline).
func (m *Machine) transition(executionID string, to State, mutate func(*types.Execution), ackMessageID string) error {
	e := m.entryFor(executionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !canTransition(e.state, to) {
		return orcherr.BusinessRulef("execution %s: invalid transition %s -> %s", executionID, e.state, to)
	}

	exec, err := m.store.GetExecution(executionID)
	if err != nil {
		return err
	}

	exec.Status = ProjectExecutionStatus(to)
	if mutate != nil {
		mutate(exec)
	}

	cmd, err := orchfsm.NewCommand(orchfsm.OpUpdateExec, exec)
	if err != nil {
		return err
	}
	if err := m.applier.Apply(cmd); err != nil {
		return err
	}

	if err := m.projectJob(exec.JobID, to); err != nil {
		m.logger.Error().Err(err).Str("job_id", exec.JobID).Msg("failed to project job status")
	}

	e.state = to
	if to == StateStarted {
		e.startedAt = time.Now()
	}
	if ackMessageID != "" {
		e.pendingAcks[ackMessageID] = true
	}
	for _, ch := range e.waiters {
		select {
		case ch <- to:
		default:
		}
	}
	if to.Terminal() {
		defer m.forget(executionID)
	}

	m.logger.Info().Str("execution_id", executionID).Str("to", string(to)).Msg("execution transitioned")
	return nil
}

func (m *Machine) projectJob(jobID string, execState State) error {
	job, err := m.store.GetJob(jobID)
	if err != nil {
		return err
	}
	job.Status = ProjectJobStatus(execState)
	if job.Status.Terminal() {
		job.CompletedAt = time.Now()
	}
	cmd, err := orchfsm.NewCommand(orchfsm.OpUpdateJob, job)
	if err != nil {
		return err
	}
	return m.applier.Apply(cmd)
}

// Assign transitions CREATED->ASSIGNED and records the assigned worker.
func (m *Machine) Assign(executionID, workerID, poolID string) error {
	return m.transition(executionID, StateAssigned, func(e *types.Execution) {
		e.WorkerID = workerID
		e.PoolID = poolID
	}, "")
}

// HandleStatusUpdate applies the state effect of a worker-reported
// StatusUpdate. Only EXECUTION_STARTED carries a state-machine
// transition (ASSIGNED->STARTED); every other event type is fanout-only
// and is a no-op here.
func (m *Machine) HandleStatusUpdate(workerID, executionID, eventType, message string, ts time.Time) error {
	if types.EventType(eventType) != types.EventExecutionStarted {
		return nil
	}
	return m.transition(executionID, StateStarted, func(e *types.Execution) {
		e.StartedAt = ts
	}, "")
}

// HandleExecutionResult applies the terminal transition reported by a
// worker.
func (m *Machine) HandleExecutionResult(workerID string, result *wire.ExecutionResult) error {
	to := StateCompleted
	if !result.Success {
		to = StateFailed
	}
	return m.transition(result.ExecutionID, to, func(e *types.Execution) {
		e.CompletedAt = time.Now()
		e.ExitCode = result.ExitCode
		e.ErrorMessage = result.ErrorMessage
		e.ResourceUsage = result.ResourceUsage
	}, "")
}

// FailWorkerLost fails a non-terminal execution with WORKER_LOST,
// called by the worker reaper (workerregistry.ExecutionFailer) when a
// BUSY worker's heartbeat goes stale.
func (m *Machine) FailWorkerLost(executionID string) error {
	return m.failWith(executionID, "WORKER_LOST")
}

// FailWorkerDisconnected fails a non-terminal execution with
// WORKER_DISCONNECTED, called by C4 (streaming.ExecutionEffects) on
// ungraceful stream termination.
func (m *Machine) FailWorkerDisconnected(executionID string) error {
	return m.failWith(executionID, "WORKER_DISCONNECTED")
}

// FailPlacement fails a not-yet-assigned Execution still in CREATED,
// called by the Engine on scheduler failure or worker-wait timeout
// (spec §4.8 steps 1 and 3, reasons "placementFailed"/"NO_WORKER").
func (m *Machine) FailPlacement(executionID, reason string) error {
	return m.failWith(executionID, reason)
}

// failWith fails executionID with reason, choosing the nearest allowed
// terminal state for its current state: STARTED and CREATED both have
// a direct FAILED transition, but ASSIGNED does not (spec §4.7's table
// only allows ASSIGNED->TIMEOUT among terminal states) — TIMEOUT
// projects to the same outward FAILED status on both Execution and
// Job, so it stands in for "failed before starting" from ASSIGNED.
func (m *Machine) failWith(executionID, reason string) error {
	e := m.entryFor(executionID)
	e.mu.Lock()
	from := e.state
	e.mu.Unlock()

	to := StateFailed
	if from == StateAssigned {
		to = StateTimeout
	}

	return m.transition(executionID, to, func(exec *types.Execution) {
		exec.CompletedAt = time.Now()
		exec.ErrorMessage = reason
	}, "")
}

// Timeout fails a non-terminal execution with TIMEOUT (spec §4.8 steps
// 6/7: assignment ack or result never arrived within grace period).
func (m *Machine) Timeout(executionID, reason string) error {
	return m.transition(executionID, StateTimeout, func(e *types.Execution) {
		e.CompletedAt = time.Now()
		e.ErrorMessage = reason
	}, "")
}

// Cancel transitions a non-terminal execution to CANCELLED. Idempotent:
// calling it again once the execution is already terminal is a no-op
// that reports success (spec §8 property 6).
func (m *Machine) Cancel(executionID, reason string) error {
	// Terminal executions are forgotten from memory, so an untracked id is
	// checked against its stored status before a fresh entry is created.
	m.mu.Lock()
	_, tracked := m.entries[executionID]
	m.mu.Unlock()
	if !tracked {
		exec, err := m.store.GetExecution(executionID)
		if err != nil {
			return err
		}
		switch exec.Status {
		case types.ExecSuccess, types.ExecFailed, types.ExecCancelled:
			return nil
		}
	}

	e := m.entryFor(executionID)
	e.mu.Lock()
	alreadyTerminal := e.state.Terminal()
	e.mu.Unlock()
	if alreadyTerminal {
		return nil
	}

	return m.transition(executionID, StateCancelled, func(exec *types.Execution) {
		exec.CompletedAt = time.Now()
		exec.ErrorMessage = reason
	}, "")
}

// Subscribe registers for every subsequent state transition of
// executionID. The returned cancel func must be called once the caller
// stops reading, to unregister the channel; it is safe to call after
// the execution has already gone terminal and been forgotten.
func (m *Machine) Subscribe(executionID string) (<-chan State, func()) {
	e := m.entryFor(executionID)
	e.mu.Lock()
	ch := make(chan State, 8)
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, w := range e.waiters {
			if w == ch {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// Acknowledge removes messageID from the set of pending acknowledgments
// for executionID.
func (m *Machine) Acknowledge(executionID, messageID string) {
	e := m.entryFor(executionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pendingAcks, messageID)
}

// CurrentState returns the live in-memory state for an in-flight
// executionID. Once an execution reaches a terminal state its entry is
// dropped from memory; callers needing the final state of a finished
// execution should read storage.Store directly instead.
func (m *Machine) CurrentState(executionID string) State {
	e := m.entryFor(executionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
