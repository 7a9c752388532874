// Package streaming implements C4, the Worker Connection Handler: one
// gRPC bidirectional stream per connected worker, demultiplexing
// inbound messages to the execution state machine (C7) and the event
// fanout (C9), and draining a per-worker outbound queue fed by the
// scheduler/engine.
package streaming

import (
	"crypto/x509"
	"io"
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// WorkerRegistry is the subset of workerregistry.Registry the handler
// needs, declared locally to avoid a streaming<->workerregistry import
// cycle (workerregistry has no reason to import streaming, but keeping
// the dependency one-directional via a small interface costs nothing).
type WorkerRegistry interface {
	Register(workerID, poolID string, capabilities types.WorkerCapabilities) *types.Worker
	Heartbeat(workerID string) error
	MarkOffline(workerID string)
	Get(workerID string) (*types.Worker, error)
}

// ExecutionEffects applies worker-reported state transitions, owned by
// pkg/execution (C7). LogChunk never reaches this interface — it goes
// straight to Fanout.
type ExecutionEffects interface {
	HandleStatusUpdate(workerID, executionID, eventType, message string, ts time.Time) error
	HandleExecutionResult(workerID string, result *wire.ExecutionResult) error
	FailWorkerDisconnected(executionID string) error
}

// Fanout publishes ExecutionUpdates to C9 subscribers.
type Fanout interface {
	Publish(update *types.ExecutionUpdate)
}

// TokenValidator checks a RegisterRequest's bearer token against the
// pool it claims to join. Satisfied by *security.WorkerTokenManager.
// Optional: a Handler constructed with a nil validator skips the
// check, relying on mTLS client-certificate verification alone (see
// newWorkerGRPCServer in cmd/orchestrator).
type TokenValidator interface {
	Validate(token, poolID string) error
}

// CertValidator checks a connecting worker's mTLS client certificate
// against the pool it is registering into, on top of (not instead of)
// the token check. Satisfied by *security.CertAuthority. Optional: a
// Handler constructed with a nil validator skips the check, relying on
// the registration token alone.
type CertValidator interface {
	VerifyWorkerCertificate(cert *x509.Certificate, poolID string) error
}

// Handler implements wire.WorkerServiceServer.
type Handler struct {
	registry  WorkerRegistry
	execution ExecutionEffects
	fanout    Fanout
	tokens    TokenValidator
	certs     CertValidator

	mu      sync.Mutex
	queues  map[string]*outboundQueue
	// terminalReceived tracks, per worker, whether a terminal
	// ExecutionResult was already received for its active execution —
	// used to suppress the WORKER_DISCONNECTED failure on graceful
	// stream close (spec §4.4).
	terminalReceived map[string]bool

	logger zerolog.Logger
}

// NewHandler constructs a Handler wired to the given registry and
// downstream consumers.
func NewHandler(registry WorkerRegistry, execution ExecutionEffects, fanout Fanout) *Handler {
	return &Handler{
		registry:         registry,
		execution:        execution,
		fanout:           fanout,
		queues:           make(map[string]*outboundQueue),
		terminalReceived: make(map[string]bool),
		logger:           log.WithComponent("streaming"),
	}
}

// WithTokenValidator attaches a TokenValidator, enabling the
// registration-token check on every new stream.
func (h *Handler) WithTokenValidator(v TokenValidator) *Handler {
	h.tokens = v
	return h
}

// WithCertValidator attaches a CertValidator, enabling the mTLS
// client-certificate pool check on every new stream.
func (h *Handler) WithCertValidator(v CertValidator) *Handler {
	h.certs = v
	return h
}

// Enqueue hands msg to workerID's outbound queue. Called by the engine
// (C8) to push ExecutionAssignment/CancelSignal.
func (h *Handler) Enqueue(workerID string, msg *wire.OrchestratorMessage) {
	h.mu.Lock()
	q, ok := h.queues[workerID]
	h.mu.Unlock()
	if !ok {
		h.logger.Warn().Str("worker_id", workerID).Msg("enqueue for unconnected worker dropped")
		return
	}
	q.push(msg)
}

// ExecutionChannel is the single bidirectional streaming RPC each
// worker holds open for its lifetime.
func (h *Handler) ExecutionChannel(stream wire.WorkerService_ExecutionChannelServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Kind != wire.KindRegisterRequest || first.Register == nil {
		return orcherr.ToStatus(orcherr.ProtocolViolationf("first message must be RegisterRequest"))
	}

	reg := first.Register
	if h.tokens != nil {
		if err := h.tokens.Validate(reg.Token, reg.PoolID); err != nil {
			return orcherr.ToStatus(orcherr.PermissionDeniedf("registration token rejected: %v", err))
		}
	}
	if h.certs != nil {
		p, ok := peer.FromContext(stream.Context())
		if !ok {
			return orcherr.ToStatus(orcherr.PermissionDeniedf("no peer info on worker stream"))
		}
		tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
		if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
			return orcherr.ToStatus(orcherr.PermissionDeniedf("worker did not present a client certificate"))
		}
		if err := h.certs.VerifyWorkerCertificate(tlsInfo.State.PeerCertificates[0], reg.PoolID); err != nil {
			return orcherr.ToStatus(orcherr.PermissionDeniedf("worker certificate rejected: %v", err))
		}
	}

	worker := h.registry.Register(reg.WorkerID, reg.PoolID, types.WorkerCapabilities{
		CPUMillis:    reg.CPUMillis,
		MemoryBytes:  reg.MemoryBytes,
		StorageBytes: reg.StorageBytes,
		Labels:       reg.Labels,
		Tools:        reg.Tools,
	})
	workerID := worker.ID

	q := newOutboundQueue()
	h.mu.Lock()
	h.queues[workerID] = q
	h.terminalReceived[workerID] = false
	h.mu.Unlock()

	h.logger.Info().Str("worker_id", workerID).Msg("worker connected")

	sendDone := make(chan struct{})
	go h.sendLoop(stream, q, workerID, sendDone)

	recvErr := h.recvLoop(stream, workerID)

	q.close()
	<-sendDone

	h.mu.Lock()
	gotTerminal := h.terminalReceived[workerID]
	delete(h.queues, workerID)
	delete(h.terminalReceived, workerID)
	h.mu.Unlock()

	h.registry.MarkOffline(workerID)

	if !gotTerminal {
		if w, err := h.registry.Get(workerID); err == nil && w.ActiveExecutionID != "" {
			if ferr := h.execution.FailWorkerDisconnected(w.ActiveExecutionID); ferr != nil {
				h.logger.Error().Err(ferr).Str("worker_id", workerID).Msg("failed to fail execution on disconnect")
			}
		}
	}

	h.logger.Info().Str("worker_id", workerID).Msg("worker disconnected")
	return recvErr
}

func (h *Handler) sendLoop(stream wire.WorkerService_ExecutionChannelServer, q *outboundQueue, workerID string, done chan<- struct{}) {
	defer close(done)
	for range q.notify {
		for {
			msg := q.pop()
			if msg == nil {
				break
			}
			if err := stream.Send(msg); err != nil {
				h.logger.Warn().Err(err).Str("worker_id", workerID).Msg("send to worker failed")
				return
			}
		}
	}
}

func (h *Handler) recvLoop(stream wire.WorkerService_ExecutionChannelServer, workerID string) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		h.dispatch(workerID, msg)
	}
}

func (h *Handler) dispatch(workerID string, msg *wire.WorkerMessage) {
	switch msg.Kind {
	case wire.KindHeartbeat:
		if err := h.registry.Heartbeat(workerID); err != nil {
			h.logger.Warn().Err(err).Str("worker_id", workerID).Msg("heartbeat for unknown worker")
		}

	case wire.KindStatusUpdate:
		su := msg.StatusUpdate
		if su == nil {
			return
		}
		if err := h.execution.HandleStatusUpdate(workerID, su.ExecutionID, su.EventType, su.Message, su.Timestamp); err != nil {
			h.logger.Warn().Err(err).Str("execution_id", su.ExecutionID).Msg("status update transition refused")
		}
		h.fanout.Publish(&types.ExecutionUpdate{
			Kind:        types.UpdateKindEvent,
			ExecutionID: su.ExecutionID,
			Timestamp:   su.Timestamp,
			EventType:   types.EventType(su.EventType),
			Message:     su.Message,
		})

	case wire.KindLogChunk:
		lc := msg.LogChunk
		if lc == nil {
			return
		}
		// Log chunks bypass the execution state machine entirely (spec §4.4).
		h.fanout.Publish(&types.ExecutionUpdate{
			Kind:        types.UpdateKindLog,
			ExecutionID: lc.ExecutionID,
			Timestamp:   lc.Timestamp,
			LogStream:   types.LogStream(lc.Stream),
			LogContent:  lc.Content,
		})

	case wire.KindExecutionResult:
		res := msg.ExecutionResult
		if res == nil {
			return
		}
		h.mu.Lock()
		h.terminalReceived[workerID] = true
		h.mu.Unlock()

		if err := h.execution.HandleExecutionResult(workerID, res); err != nil {
			h.logger.Warn().Err(err).Str("execution_id", res.ExecutionID).Msg("execution result transition refused")
		}

		eventType := types.EventExecutionCompleted
		if !res.Success {
			eventType = types.EventExecutionFailed
		}
		h.fanout.Publish(&types.ExecutionUpdate{
			Kind:        types.UpdateKindEvent,
			ExecutionID: res.ExecutionID,
			Timestamp:   time.Now(),
			EventType:   eventType,
			Message:     res.ErrorMessage,
		})

	default:
		h.logger.Warn().Str("worker_id", workerID).Str("kind", string(msg.Kind)).Msg("unknown worker message kind")
	}
}
