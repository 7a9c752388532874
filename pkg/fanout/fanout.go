// Package fanout implements C9, the Event & Log Fanout: durable,
// per-subscriber delivery of ExecutionUpdates published by C4 (worker-
// sourced StatusUpdate/LogChunk) and C8 (final terminal update),
// generalizing the teacher's events.Broker from a single shared
// broadcast channel to per-subscriber filtering, SSE/WS/WEBHOOK
// delivery modes, and overflow-closes-with-drop-count backpressure
// (spec §4.9).
package fanout

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/metrics"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// defaultBufferSize is spec §4.9's default bounded per-subscription
// buffer.
const defaultBufferSize = 1024

// Filter selects which ExecutionUpdate kinds a subscription receives.
type Filter string

const (
	FilterEventsOnly Filter = "EVENTS_ONLY"
	FilterLogsOnly   Filter = "LOGS_ONLY"
	FilterAll        Filter = "ALL"
)

// Delivery selects how a subscription's updates leave the process.
type Delivery string

const (
	DeliverySSE     Delivery = "SSE"
	DeliveryWS      Delivery = "WS"
	DeliveryWebhook Delivery = "WEBHOOK"
)

// SubscriptionOptions identifies and configures one subscription, per
// spec §4.9's {subscriberId, executionId, type, delivery, webhookUrl}.
type SubscriptionOptions struct {
	SubscriberID string
	ExecutionID  string // empty subscribes to every execution
	Filter       Filter
	Delivery     Delivery
	WebhookURL   string
}

// Subscription is a lazy, infinite, non-restartable sequence of
// ExecutionUpdate items, delivered strictly in publish order, backed by
// a bounded buffer. SSE/WS consumers read Updates() directly; WEBHOOK
// subscriptions are drained by the Broker itself.
type Subscription struct {
	opts SubscriptionOptions
	ch   chan *types.ExecutionUpdate

	mu        sync.Mutex
	closed    bool
	dropCount int

	limiter *rate.Limiter
}

// ID returns the subscriber id this subscription was registered under.
func (s *Subscription) ID() string { return s.opts.SubscriberID }

// Updates returns the channel of delivered updates. It is closed when
// the subscription overflows or is explicitly unsubscribed.
func (s *Subscription) Updates() <-chan *types.ExecutionUpdate { return s.ch }

func (s *Subscription) matches(u *types.ExecutionUpdate) bool {
	if s.opts.ExecutionID != "" && s.opts.ExecutionID != u.ExecutionID {
		return false
	}
	switch s.opts.Filter {
	case FilterEventsOnly:
		return u.Kind == types.UpdateKindEvent || u.Kind == types.UpdateKindStatus
	case FilterLogsOnly:
		return u.Kind == types.UpdateKindLog
	default:
		return true
	}
}

// deliver pushes u onto the subscription's buffer. The last slot of the
// buffer is kept free for the overflow marker, so at most cap-1 updates
// are buffered. It returns true the moment the buffer overflows,
// signaling the caller (Broker.Publish) to drop this subscription: the
// channel is closed after a final SUBSCRIBER_OVERFLOW status update.
// The drop count is kept on the Subscription and is not carried in that
// final update.
func (s *Subscription) deliver(u *types.ExecutionUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	// Only deliver sends on s.ch, under s.mu, so the length check cannot
	// race another sender.
	if len(s.ch) < cap(s.ch)-1 {
		s.ch <- u
		return false
	}

	s.dropCount++
	final := &types.ExecutionUpdate{
		Kind:        types.UpdateKindStatus,
		ExecutionID: u.ExecutionID,
		Timestamp:   time.Now(),
		StatusText:  "SUBSCRIBER_OVERFLOW",
	}
	s.ch <- final
	close(s.ch)
	s.closed = true
	return true
}

// close unregisters the subscription outside of an overflow, used by
// Broker.Unsubscribe.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Broker is the C9 fanout hub. It implements both streaming.Fanout and
// engine.Fanout's identical Publish(update) signature, so a single
// Broker instance serves both C4's worker-sourced updates and C8's
// final terminal update.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	logger zerolog.Logger
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[string]*Subscription),
		logger: log.WithComponent("fanout"),
	}
}

// Subscribe registers a new subscription. A WEBHOOK subscription is
// drained by a dedicated goroutine that rate-limits outbound POSTs;
// SSE/WS subscriptions are drained by their own HTTP handler via
// Updates().
func (b *Broker) Subscribe(opts SubscriptionOptions) *Subscription {
	if opts.SubscriberID == "" {
		opts.SubscriberID = uuid.New().String()
	}

	sub := &Subscription{
		opts: opts,
		ch:   make(chan *types.ExecutionUpdate, defaultBufferSize),
	}
	if opts.Delivery == DeliveryWebhook {
		// 5 req/s per subscriber: generous enough for a single
		// execution's update volume, conservative enough that a
		// misbehaving webhook endpoint can't be hammered.
		sub.limiter = rate.NewLimiter(rate.Limit(5), 5)
		go b.drainWebhook(sub)
	}

	b.mu.Lock()
	b.subs[opts.SubscriberID] = sub
	b.mu.Unlock()
	metrics.FanoutSubscribersTotal.Set(float64(b.SubscriberCount()))
	return sub
}

// Unsubscribe removes and closes subscriberID's subscription, a no-op
// if it is already gone.
func (b *Broker) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	sub, ok := b.subs[subscriberID]
	delete(b.subs, subscriberID)
	b.mu.Unlock()

	if ok {
		sub.close()
		metrics.FanoutSubscribersTotal.Set(float64(b.SubscriberCount()))
	}
}

// Publish delivers update to every matching subscription, in the order
// called — the caller (C4's dispatch, C8's final update) is itself
// serialized per execution, so this preserves spec §4.9's ordering
// guarantee. Subscriptions that overflow during this call are dropped
// once the read lock is released, never while holding it.
func (b *Broker) Publish(update *types.ExecutionUpdate) {
	b.mu.RLock()
	var overflowed []string
	for id, sub := range b.subs {
		if !sub.matches(update) {
			continue
		}
		if sub.deliver(update) {
			overflowed = append(overflowed, id)
		}
	}
	b.mu.RUnlock()

	if len(overflowed) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range overflowed {
		delete(b.subs, id)
	}
	count := len(b.subs)
	b.mu.Unlock()

	metrics.FanoutSubscribersTotal.Set(float64(count))
	for _, id := range overflowed {
		metrics.FanoutUpdatesDroppedTotal.WithLabelValues(id).Inc()
		b.logger.Warn().Str("subscriber_id", id).Msg("subscriber overflowed, dropped")
	}
}

// SubscriberCount reports how many subscriptions are currently live.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
