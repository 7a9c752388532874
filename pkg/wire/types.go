// Package wire defines the C4 worker<->orchestrator protocol messages
// and the codec/transport plumbing that carries them over a single
// bidirectional gRPC stream per worker (spec §4.4).
//
// There is no generated protobuf code anywhere in the retrieval pack
// for this protocol (no .proto or .pb.go file exists in any example
// repo), so these messages are hand-written Go structs rather than
// protoc-gen-go output — see codec.go and service.go for how they
// still travel over real google.golang.org/grpc transport.
package wire

import "time"

// WorkerMessageKind discriminates the worker->orchestrator envelope.
type WorkerMessageKind string

const (
	KindRegisterRequest WorkerMessageKind = "REGISTER_REQUEST"
	KindStatusUpdate    WorkerMessageKind = "STATUS_UPDATE"
	KindLogChunk        WorkerMessageKind = "LOG_CHUNK"
	KindExecutionResult WorkerMessageKind = "EXECUTION_RESULT"
	KindHeartbeat       WorkerMessageKind = "HEARTBEAT"
)

// WorkerMessage is the single envelope type sent from worker to
// orchestrator; exactly one payload field is populated, selected by
// Kind.
type WorkerMessage struct {
	Kind WorkerMessageKind

	Register        *RegisterRequest `json:",omitempty"`
	StatusUpdate    *StatusUpdate    `json:",omitempty"`
	LogChunk        *LogChunk        `json:",omitempty"`
	ExecutionResult *ExecutionResult `json:",omitempty"`
	Heartbeat       *Heartbeat       `json:",omitempty"`
}

// RegisterRequest must be the first message sent on a new stream.
type RegisterRequest struct {
	WorkerID     string
	PoolID       string
	CPUMillis    int64
	MemoryBytes  int64
	StorageBytes int64
	Labels       map[string]string
	Tools        []string

	// Token is the worker registration token issued out-of-band (see
	// pkg/security.WorkerTokenManager); transport-level identity comes
	// from the stream's mTLS client certificate, this is a second,
	// coarser-grained check that the worker was handed a credential
	// scoped to PoolID.
	Token string
}

// StatusUpdate reports a state-machine-relevant event for one execution.
type StatusUpdate struct {
	ExecutionID string
	EventType   string // mirrors types.EventType values
	Message     string
	Timestamp   time.Time
}

// LogChunk carries raw process output. It bypasses the execution state
// machine entirely and is only ever handed to the fanout (C9).
type LogChunk struct {
	ExecutionID string
	Stream      string // STDOUT | STDERR | SYSTEM
	Content     []byte
	Timestamp   time.Time
}

// ExecutionResult is the terminal message for one execution.
type ExecutionResult struct {
	ExecutionID   string
	Success       bool
	ExitCode      int
	ErrorMessage  string
	ResourceUsage map[string]string
}

// Heartbeat is a bare liveness ping, distinct from StatusUpdate so the
// reaper can use it without touching execution state.
type Heartbeat struct {
	Timestamp time.Time
}

// OrchestratorMessageKind discriminates the orchestrator->worker
// envelope.
type OrchestratorMessageKind string

const (
	KindExecutionAssignment OrchestratorMessageKind = "EXECUTION_ASSIGNMENT"
	KindCancelSignal        OrchestratorMessageKind = "CANCEL_SIGNAL"
	KindHealthProbe         OrchestratorMessageKind = "HEALTH_PROBE"
)

// OrchestratorMessage is the single envelope type sent from
// orchestrator to worker.
type OrchestratorMessage struct {
	Kind OrchestratorMessageKind

	ExecutionAssignment *ExecutionAssignment `json:",omitempty"`
	CancelSignal        *CancelSignal        `json:",omitempty"`
	HealthProbe         *HealthProbe         `json:",omitempty"`
}

// ExecutionAssignment hands a worker a job to run.
type ExecutionAssignment struct {
	ExecutionID string
	Definition  map[string]interface{} // opaque pipeline definition, see types.Job.Spec
}

// CancelSignal asks a worker to stop its active execution.
type CancelSignal struct {
	Reason string
}

// HealthProbe is an orchestrator-initiated liveness check.
type HealthProbe struct {
	Timestamp time.Time
}
