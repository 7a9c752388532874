package streaming

import (
	"container/list"
	"sync"

	"github.com/cuemby/steelpipe/pkg/wire"
)

// outboundQueue is an unbounded FIFO of messages waiting to be sent to
// one worker, preserving enqueue order (spec §4.4: "send order
// preserves enqueue order"). Grounded on the teacher's events.Broker,
// which feeds a single buffered channel into one fan-out goroutine;
// here the queue is unbounded (a slow worker must never cause the
// orchestrator to drop an ExecutionAssignment or CancelSignal) so a
// list instead of a fixed-size channel backs it, with a small channel
// used purely to wake the drain goroutine.
type outboundQueue struct {
	mu     sync.Mutex
	items  *list.List
	notify chan struct{}
	closed bool
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{
		items:  list.New(),
		notify: make(chan struct{}, 1),
	}
}

func (q *outboundQueue) push(msg *wire.OrchestratorMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items.PushBack(msg)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest message, or nil if empty.
func (q *outboundQueue) pop() *wire.OrchestratorMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil
	}
	q.items.Remove(front)
	return front.Value.(*wire.OrchestratorMessage)
}

func (q *outboundQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	close(q.notify)
}
