// Package bus provides the progress pub/sub fabric: an in-process broker plus
// an optional Redis mirror that fans events out across gateway instances.
//
// Delivery is best-effort. Events to a slow subscriber are dropped and logged
// rather than blocking the producer; ordering is FIFO per producer. There is
// no durability: a subscriber attaching late misses earlier events.
package bus

import (
	"context"
	"sync"

	"github.com/archon-ai/pathways/logger"
	"github.com/archon-ai/pathways/metrics"
)

// Topics used by the core.
const (
	// TopicRequestProgress carries per-request progress events.
	TopicRequestProgress = "REQUEST_PROGRESS"

	// TopicClientToolCallbacks carries client-tool callback resolutions.
	TopicClientToolCallbacks = "CLIENT_TOOL_CALLBACKS"
)

// DoneData marks the terminal event of a streamed request.
const DoneData = "[DONE]"

// Event is the progress payload published on TopicRequestProgress. For
// TopicClientToolCallbacks the same shape is reused with RequestID holding the
// callback id and Data the serialized result.
type Event struct {
	RequestID string  `json:"requestId"`
	Progress  float64 `json:"progress"`
	Data      string  `json:"data,omitempty"`
	Status    string  `json:"status,omitempty"`
	Info      string  `json:"info,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Broker distributes events to topic subscribers.
type Broker interface {
	// Publish delivers ev to all current subscribers of topic.
	Publish(ctx context.Context, topic string, ev Event) error

	// Subscribe attaches to topic. When requestIDs are given, only events whose
	// RequestID is in the set are delivered.
	Subscribe(topic string, requestIDs ...string) *Subscription

	// Close releases broker resources.
	Close() error
}

// Subscription is a live attachment to a topic.
type Subscription struct {
	// C receives matching events until Unsubscribe.
	C <-chan Event

	cancel func()
	once   sync.Once
}

// Unsubscribe detaches and closes C. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// subscriberBuffer is the per-subscriber channel depth before drops begin.
const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	filter map[string]struct{}
}

func (s *subscriber) wants(ev Event) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[ev.RequestID]
	return ok
}

// LocalBroker is the in-process broker used in single-instance mode and as the
// delivery layer underneath the Redis mirror.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*subscriber
	closed bool
}

// NewLocalBroker creates an in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		subs: make(map[string]map[int]*subscriber),
	}
}

// Publish delivers ev to every matching subscriber of topic. Slow subscribers
// have the event dropped; the drop is logged per the delivery contract.
func (b *LocalBroker) Publish(_ context.Context, topic string, ev Event) error {
	// Sends stay under the read lock: they are non-blocking, and the lock
	// excludes a concurrent Unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[topic] {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.RecordBusEventDropped(topic)
			logger.Warn("dropping event for slow subscriber",
				"topic", topic, "request_id", ev.RequestID)
		}
	}
	return nil
}

// Subscribe attaches to topic with an optional request-id filter.
func (b *LocalBroker) Subscribe(topic string, requestIDs ...string) *Subscription {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(requestIDs) > 0 {
		sub.filter = make(map[string]struct{}, len(requestIDs))
		for _, id := range requestIDs {
			sub.filter[id] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*subscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = sub
	b.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			b.mu.Lock()
			if _, ok := b.subs[topic][id]; ok {
				delete(b.subs[topic], id)
				close(sub.ch)
			}
			b.mu.Unlock()
		},
	}
}

// Close drops all subscribers.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, topicSubs := range b.subs {
		for id, sub := range topicSubs {
			delete(topicSubs, id)
			close(sub.ch)
		}
	}
	return nil
}
