package fanout

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversOnlyToMatchingSubscriptions(t *testing.T) {
	b := NewBroker()
	all := b.Subscribe(SubscriptionOptions{ExecutionID: "exec-1", Filter: FilterAll, Delivery: DeliverySSE})
	other := b.Subscribe(SubscriptionOptions{ExecutionID: "exec-2", Filter: FilterAll, Delivery: DeliverySSE})
	logsOnly := b.Subscribe(SubscriptionOptions{ExecutionID: "exec-1", Filter: FilterLogsOnly, Delivery: DeliverySSE})

	b.Publish(&types.ExecutionUpdate{Kind: types.UpdateKindLog, ExecutionID: "exec-1", LogContent: []byte("hello")})

	select {
	case u := <-all.Updates():
		assert.Equal(t, types.UpdateKindLog, u.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected delivery to matching subscription")
	}

	select {
	case u := <-logsOnly.Updates():
		assert.Equal(t, types.UpdateKindLog, u.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected delivery to logs-only subscription")
	}

	select {
	case <-other.Updates():
		t.Fatal("subscription for a different execution should not receive this update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventsOnlyFilterExcludesLogs(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(SubscriptionOptions{ExecutionID: "exec-1", Filter: FilterEventsOnly, Delivery: DeliverySSE})

	b.Publish(&types.ExecutionUpdate{Kind: types.UpdateKindLog, ExecutionID: "exec-1"})
	b.Publish(&types.ExecutionUpdate{Kind: types.UpdateKindStatus, ExecutionID: "exec-1", StatusText: "RUNNING"})

	select {
	case u := <-sub.Updates():
		assert.Equal(t, types.UpdateKindStatus, u.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the status update to be delivered")
	}

	select {
	case u := <-sub.Updates():
		t.Fatalf("did not expect a log update on an events-only subscription, got %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionClosesWithOverflowMarkerWhenBufferFills(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(SubscriptionOptions{ExecutionID: "exec-1", Filter: FilterAll, Delivery: DeliverySSE})

	for i := 0; i < defaultBufferSize+5; i++ {
		b.Publish(&types.ExecutionUpdate{Kind: types.UpdateKindLog, ExecutionID: "exec-1"})
	}

	var last *types.ExecutionUpdate
	for u := range sub.Updates() {
		last = u
	}
	require.NotNil(t, last)
	assert.Equal(t, "SUBSCRIBER_OVERFLOW", last.StatusText)

	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(SubscriptionOptions{ExecutionID: "exec-1", Filter: FilterAll, Delivery: DeliverySSE})
	b.Unsubscribe(sub.ID())

	_, ok := <-sub.Updates()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Unsubscribe(sub.ID())
}

func TestWebhookSubscriptionPostsUpdates(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBroker()
	b.Subscribe(SubscriptionOptions{
		ExecutionID: "exec-1",
		Filter:      FilterAll,
		Delivery:    DeliveryWebhook,
		WebhookURL:  srv.URL,
	})

	b.Publish(&types.ExecutionUpdate{Kind: types.UpdateKindLog, ExecutionID: "exec-1"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, time.Second, 10*time.Millisecond)
}
