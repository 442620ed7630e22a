package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/pathways/metrics"
)

func TestLocalBroker_PublishSubscribe(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress)
	defer sub.Unsubscribe()

	ev := Event{RequestID: "req-1", Progress: 0.5}
	require.NoError(t, b.Publish(context.Background(), TopicRequestProgress, ev))

	select {
	case got := <-sub.C:
		assert.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestLocalBroker_RequestIDFilter(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress, "wanted")
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, TopicRequestProgress, Event{RequestID: "other"}))
	require.NoError(t, b.Publish(ctx, TopicRequestProgress, Event{RequestID: "wanted"}))

	got := <-sub.C
	assert.Equal(t, "wanted", got.RequestID)

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBroker_TopicIsolation(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicClientToolCallbacks)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), TopicRequestProgress, Event{RequestID: "r"}))

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBroker_FIFOPerProducer(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress, "req-1")
	defer sub.Unsubscribe()

	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		require.NoError(t, b.Publish(ctx, TopicRequestProgress,
			Event{RequestID: "req-1", Progress: float64(i) / 10}))
	}

	for i := 1; i <= 10; i++ {
		got := <-sub.C
		assert.InDelta(t, float64(i)/10, got.Progress, 1e-9)
	}
}

func TestLocalBroker_DropsOnBackpressure(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress)
	defer sub.Unsubscribe()

	// Overflow the subscriber buffer without draining; publishes must not block.
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = b.Publish(ctx, TopicRequestProgress, Event{RequestID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestSubscription_UnsubscribeIdempotent(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress)
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic

	// Channel is closed after unsubscribe.
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestLocalBroker_PublishAfterUnsubscribe(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress)
	sub.Unsubscribe()

	assert.NoError(t, b.Publish(context.Background(), TopicRequestProgress, Event{RequestID: "r"}))
}

func TestLocalBroker_SlowSubscriberDropIsCounted(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	sub := b.Subscribe(TopicRequestProgress)
	defer sub.Unsubscribe()

	// Nothing drains sub, so publishes past the buffer depth are dropped.
	for i := 0; i < subscriberBuffer+3; i++ {
		require.NoError(t, b.Publish(context.Background(), TopicRequestProgress,
			Event{RequestID: "req-slow"}))
	}

	rec := httptest.NewRecorder()
	metrics.NewExporter(":0").Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/metrics", nil))
	// The per-topic child only exists once a drop has been counted.
	assert.Contains(t, rec.Body.String(),
		`pathways_bus_events_dropped_total{topic="REQUEST_PROGRESS"}`)
}
