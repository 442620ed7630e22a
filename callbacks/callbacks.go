// Package callbacks suspends pathway resolutions on out-of-band client tool
// results.
//
// A pathway can ask the caller to run a tool client-side and submit the result
// through a second call, possibly to a different gateway instance. Each pending
// wait is stored locally keyed by callback id; resolutions fan out over the
// shared bus so every instance attempts local resolution. Only the instance
// holding the live waiter succeeds, the rest silently no-op. A periodic sweep
// rejects callbacks older than the watchdog threshold.
package callbacks

import (
	"context"
	goerrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/archon-ai/pathways/bus"
	"github.com/archon-ai/pathways/logger"
)

// ErrTimeout is returned when a wait exceeds its timeout.
var ErrTimeout = goerrors.New("client tool callback timed out")

// ErrExpired is returned when the watchdog sweep rejects a stale wait.
var ErrExpired = goerrors.New("client tool callback expired")

// ErrDuplicate is returned when a callback id is already pending locally.
var ErrDuplicate = goerrors.New("callback id already pending")

// sweepInterval is how often the watchdog scans pending waits.
const sweepInterval = 30 * time.Second

type waiter struct {
	resultCh  chan string
	requestID string
	createdAt time.Time
}

// Registry tracks pending client-tool waits on this instance.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*waiter

	broker bus.Broker
	sub    *bus.Subscription
	maxAge time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry resolving callbacks through broker. maxAge is
// the watchdog threshold for abandoned waits. Stop must be called to release
// the background goroutines.
func NewRegistry(broker bus.Broker, maxAge time.Duration) *Registry {
	r := &Registry{
		waiters: make(map[string]*waiter),
		broker:  broker,
		sub:     broker.Subscribe(bus.TopicClientToolCallbacks),
		maxAge:  maxAge,
		done:    make(chan struct{}),
	}
	go r.consume()
	go r.watchdog()
	return r
}

// Stop terminates the background goroutines. Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.sub.Unsubscribe()
	})
}

// Await blocks until the callback is resolved, the timeout elapses, or ctx is
// done. It returns the raw result submitted by the client.
func (r *Registry) Await(ctx context.Context, callbackID, requestID string, timeout time.Duration) (string, error) {
	w := &waiter{
		resultCh:  make(chan string, 1),
		requestID: requestID,
		createdAt: time.Now(),
	}

	r.mu.Lock()
	if _, exists := r.waiters[callbackID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicate, callbackID)
	}
	r.waiters[callbackID] = w
	r.mu.Unlock()

	defer r.remove(callbackID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result, ok := <-w.resultCh:
		if !ok {
			return "", ErrExpired
		}
		return result, nil
	case <-timer.C:
		return "", fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, callbackID)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve submits a client tool result. The resolution is fanned out over the
// shared bus; whichever instance holds the live waiter completes it.
func (r *Registry) Resolve(ctx context.Context, callbackID, result string) error {
	return r.broker.Publish(ctx, bus.TopicClientToolCallbacks, bus.Event{
		RequestID: callbackID,
		Data:      result,
	})
}

// Pending returns the number of live waits on this instance.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// consume attempts local resolution for every fanned-out callback event.
func (r *Registry) consume() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.sub.C:
			if !ok {
				return
			}
			r.resolveLocal(ev.RequestID, ev.Data)
		}
	}
}

// resolveLocal completes the waiter for callbackID if this instance holds it.
func (r *Registry) resolveLocal(callbackID, result string) {
	r.mu.Lock()
	w, ok := r.waiters[callbackID]
	if ok {
		delete(r.waiters, callbackID)
	}
	r.mu.Unlock()

	if !ok {
		// Another instance holds the waiter.
		return
	}
	w.resultCh <- result
	logger.Debug("resolved client tool callback",
		"callback_id", callbackID, "request_id", w.requestID)
}

func (r *Registry) remove(callbackID string) {
	r.mu.Lock()
	delete(r.waiters, callbackID)
	r.mu.Unlock()
}

// watchdog rejects waits older than maxAge.
func (r *Registry) watchdog() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.rejectExpired(time.Now())
		}
	}
}

func (r *Registry) rejectExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.waiters {
		if now.Sub(w.createdAt) > r.maxAge {
			delete(r.waiters, id)
			close(w.resultCh)
			logger.Warn("rejected expired client tool callback",
				"callback_id", id, "request_id", w.requestID, "age", now.Sub(w.createdAt))
		}
	}
}
