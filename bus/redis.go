package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/archon-ai/pathways/logger"
)

// envelope is the wire form of a mirrored event. Origin carries the publishing
// instance id so an instance can skip its own mirrored messages; its local
// subscribers were already served by the direct local publish.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBroker mirrors every local publish onto a shared Redis channel and
// re-publishes inbound messages from other instances into the local broker.
// Every local subscriber therefore sees every event produced by any instance,
// unordered between instances but FIFO per producer.
type RedisBroker struct {
	local    *LocalBroker
	client   *redis.Client
	instance string
	pubsub   *redis.PubSub

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisBroker creates a cross-instance broker mirroring the given topics.
func NewRedisBroker(ctx context.Context, client *redis.Client, topics ...string) *RedisBroker {
	if len(topics) == 0 {
		topics = []string{TopicRequestProgress, TopicClientToolCallbacks}
	}

	b := &RedisBroker{
		local:    NewLocalBroker(),
		client:   client,
		instance: uuid.NewString(),
		pubsub:   client.Subscribe(ctx, topics...),
		done:     make(chan struct{}),
	}
	go b.mirrorInbound()
	return b
}

// Publish delivers locally, then mirrors onto the shared channel. Mirror
// failures are logged, never surfaced: bus errors must not fail a request.
func (b *RedisBroker) Publish(ctx context.Context, topic string, ev Event) error {
	if err := b.local.Publish(ctx, topic, ev); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Origin: b.instance, Event: ev})
	if err != nil {
		logger.Warn("failed to marshal bus event", "topic", topic, "error", err)
		return nil
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		logger.Warn("failed to mirror event to redis",
			"topic", topic, "request_id", ev.RequestID, "error", err)
	}
	return nil
}

// Subscribe attaches to the local delivery layer.
func (b *RedisBroker) Subscribe(topic string, requestIDs ...string) *Subscription {
	return b.local.Subscribe(topic, requestIDs...)
}

// Close detaches from Redis and drops local subscribers.
func (b *RedisBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.pubsub.Close()
		_ = b.local.Close()
	})
	return err
}

// mirrorInbound republishes messages from other instances into the local
// broker.
func (b *RedisBroker) mirrorInbound() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("discarding malformed bus message",
					"channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			_ = b.local.Publish(context.Background(), msg.Channel, env.Event)
		}
	}
}
