package streaming

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

// fakeStream is a minimal wire.WorkerService_ExecutionChannelServer
// backed by Go channels, enough to drive Handler.ExecutionChannel
// without a real gRPC connection.
type fakeStream struct {
	inbound  chan *wire.WorkerMessage
	outbound chan *wire.OrchestratorMessage
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound:  make(chan *wire.WorkerMessage, 16),
		outbound: make(chan *wire.OrchestratorMessage, 16),
	}
}

func (f *fakeStream) Send(m *wire.OrchestratorMessage) error {
	f.outbound <- m
	return nil
}

func (f *fakeStream) Recv() (*wire.WorkerMessage, error) {
	m, ok := <-f.inbound
	if !ok {
		return nil, io.EOF
	}
	return m, nil
}

func (f *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeStream) SetTrailer(metadata.MD)       {}
func (f *fakeStream) Context() context.Context     { return context.Background() }
func (f *fakeStream) SendMsg(m interface{}) error  { return nil }
func (f *fakeStream) RecvMsg(m interface{}) error  { return nil }

type fakeRegistry struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{workers: make(map[string]*types.Worker)}
}

func (r *fakeRegistry) Register(workerID, poolID string, caps types.WorkerCapabilities) *types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &types.Worker{ID: workerID, PoolID: poolID, Capabilities: caps, Status: types.WorkerIdle}
	r.workers[workerID] = w
	return w
}

func (r *fakeRegistry) Heartbeat(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[workerID]; !ok {
		return errors.New("not found")
	}
	return nil
}

func (r *fakeRegistry) MarkOffline(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Status = types.WorkerOffline
	}
}

func (r *fakeRegistry) Get(workerID string) (*types.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return nil, errors.New("not found")
	}
	return w, nil
}

func (r *fakeRegistry) setActiveExecution(workerID, executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[workerID].ActiveExecutionID = executionID
}

type fakeExecution struct {
	mu              sync.Mutex
	disconnectCalls []string
	resultCalls     []string
}

func (f *fakeExecution) HandleStatusUpdate(workerID, executionID, eventType, message string, ts time.Time) error {
	return nil
}

func (f *fakeExecution) HandleExecutionResult(workerID string, result *wire.ExecutionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls = append(f.resultCalls, result.ExecutionID)
	return nil
}

func (f *fakeExecution) FailWorkerDisconnected(executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls = append(f.disconnectCalls, executionID)
	return nil
}

type fakeFanout struct {
	mu      sync.Mutex
	updates []*types.ExecutionUpdate
}

func (f *fakeFanout) Publish(update *types.ExecutionUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func TestExecutionChannelRejectsNonRegisterFirstMessage(t *testing.T) {
	h := NewHandler(newFakeRegistry(), &fakeExecution{}, &fakeFanout{})
	stream := newFakeStream()
	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindHeartbeat}

	err := h.ExecutionChannel(stream)
	require.Error(t, err)
}

func TestExecutionChannelDispatchesLogChunkToFanoutOnly(t *testing.T) {
	registry := newFakeRegistry()
	execution := &fakeExecution{}
	fanout := &fakeFanout{}
	h := NewHandler(registry, execution, fanout)
	stream := newFakeStream()

	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindRegisterRequest, Register: &wire.RegisterRequest{WorkerID: "w1", PoolID: "p1"}}
	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindLogChunk, LogChunk: &wire.LogChunk{ExecutionID: "e1", Stream: "STDOUT", Content: []byte("hi")}}
	close(stream.inbound)

	err := h.ExecutionChannel(stream)
	require.NoError(t, err)

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	require.Len(t, fanout.updates, 1)
	assert.Equal(t, types.UpdateKindLog, fanout.updates[0].Kind)
}

func TestExecutionChannelFailsWorkerDisconnectedWithoutTerminalResult(t *testing.T) {
	registry := newFakeRegistry()
	execution := &fakeExecution{}
	fanout := &fakeFanout{}
	h := NewHandler(registry, execution, fanout)
	stream := newFakeStream()

	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindRegisterRequest, Register: &wire.RegisterRequest{WorkerID: "w1", PoolID: "p1"}}

	done := make(chan error, 1)
	go func() { done <- h.ExecutionChannel(stream) }()

	// Give the worker an active execution after registration, then close
	// the stream without any terminal ExecutionResult.
	time.Sleep(10 * time.Millisecond)
	registry.setActiveExecution("w1", "e1")
	close(stream.inbound)
	<-done

	execution.mu.Lock()
	defer execution.mu.Unlock()
	assert.Equal(t, []string{"e1"}, execution.disconnectCalls)
}

func TestExecutionChannelSuppressesDisconnectAfterTerminalResult(t *testing.T) {
	registry := newFakeRegistry()
	execution := &fakeExecution{}
	fanout := &fakeFanout{}
	h := NewHandler(registry, execution, fanout)
	stream := newFakeStream()

	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindRegisterRequest, Register: &wire.RegisterRequest{WorkerID: "w1", PoolID: "p1"}}
	registry.setActiveExecution("w1", "e1")
	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindExecutionResult, ExecutionResult: &wire.ExecutionResult{ExecutionID: "e1", Success: true}}
	close(stream.inbound)

	err := h.ExecutionChannel(stream)
	require.NoError(t, err)

	execution.mu.Lock()
	defer execution.mu.Unlock()
	assert.Empty(t, execution.disconnectCalls)
	assert.Equal(t, []string{"e1"}, execution.resultCalls)
}

func TestEnqueueDeliversToConnectedWorker(t *testing.T) {
	registry := newFakeRegistry()
	h := NewHandler(registry, &fakeExecution{}, &fakeFanout{})
	stream := newFakeStream()

	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindRegisterRequest, Register: &wire.RegisterRequest{WorkerID: "w1", PoolID: "p1"}}

	done := make(chan error, 1)
	go func() { done <- h.ExecutionChannel(stream) }()

	// Give the handler a moment to register the worker and its queue.
	time.Sleep(10 * time.Millisecond)
	h.Enqueue("w1", &wire.OrchestratorMessage{Kind: wire.KindHealthProbe, HealthProbe: &wire.HealthProbe{}})

	select {
	case msg := <-stream.outbound:
		assert.Equal(t, wire.KindHealthProbe, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("enqueued message was never sent")
	}

	close(stream.inbound)
	<-done
}

type fakeTokenValidator struct {
	valid map[string]string // token -> poolID
}

func (f *fakeTokenValidator) Validate(token, poolID string) error {
	want, ok := f.valid[token]
	if !ok || want != poolID {
		return errors.New("rejected")
	}
	return nil
}

func TestExecutionChannelRejectsInvalidRegistrationToken(t *testing.T) {
	registry := newFakeRegistry()
	h := NewHandler(registry, &fakeExecution{}, &fakeFanout{}).
		WithTokenValidator(&fakeTokenValidator{valid: map[string]string{"good-token": "p1"}})
	stream := newFakeStream()

	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindRegisterRequest, Register: &wire.RegisterRequest{WorkerID: "w1", PoolID: "p1", Token: "bad-token"}}

	err := h.ExecutionChannel(stream)
	require.Error(t, err)

	_, getErr := registry.Get("w1")
	assert.Error(t, getErr, "worker must not be registered when its token is rejected")
}

func TestExecutionChannelAcceptsValidRegistrationToken(t *testing.T) {
	registry := newFakeRegistry()
	h := NewHandler(registry, &fakeExecution{}, &fakeFanout{}).
		WithTokenValidator(&fakeTokenValidator{valid: map[string]string{"good-token": "p1"}})
	stream := newFakeStream()

	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindRegisterRequest, Register: &wire.RegisterRequest{WorkerID: "w1", PoolID: "p1", Token: "good-token"}}
	stream.inbound <- &wire.WorkerMessage{Kind: wire.KindHeartbeat, Heartbeat: &wire.Heartbeat{}}
	close(stream.inbound)

	err := h.ExecutionChannel(stream)
	require.NoError(t, err)

	_, getErr := registry.Get("w1")
	assert.NoError(t, getErr)
}
