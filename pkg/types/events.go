package types

import "time"

// EventType enumerates the kinds of StatusUpdate worth surfacing to
// subscribers (spec §6).
type EventType string

const (
	EventStatusUpdate       EventType = "STATUS_UPDATE"
	EventStageStarted       EventType = "STAGE_STARTED"
	EventStageCompleted     EventType = "STAGE_COMPLETED"
	EventStepStarted        EventType = "STEP_STARTED"
	EventStepCompleted      EventType = "STEP_COMPLETED"
	EventExecutionStarted   EventType = "EXECUTION_STARTED"
	EventExecutionCompleted EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed    EventType = "EXECUTION_FAILED"
	EventExecutionCancelled EventType = "EXECUTION_CANCELLED"
)

// LogStream identifies which output stream a LogChunk came from.
type LogStream string

const (
	LogStreamStdout LogStream = "STDOUT"
	LogStreamStderr LogStream = "STDERR"
	LogStreamSystem LogStream = "SYSTEM"
)

// UpdateKind discriminates the three ExecutionUpdate variants.
type UpdateKind string

const (
	UpdateKindEvent  UpdateKind = "event"
	UpdateKindLog    UpdateKind = "log"
	UpdateKindStatus UpdateKind = "status"
)

// ExecutionUpdate is the fanout message published by C4 and delivered to
// C9 subscribers. Exactly one of Event/Log/StatusText is populated,
// selected by Kind.
type ExecutionUpdate struct {
	Kind        UpdateKind
	ExecutionID string
	Timestamp   time.Time // monotonically increasing per execution

	// Kind == UpdateKindEvent
	EventType EventType
	Message   string

	// Kind == UpdateKindLog
	LogStream  LogStream
	LogContent []byte

	// Kind == UpdateKindStatus
	StatusText string
}
