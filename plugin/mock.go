package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Call records one Execute invocation against a Mock plugin.
type Call struct {
	Prompt      string
	Temperature *float64
	Streamed    bool
	At          time.Time
}

// Mock is a plugin for tests and development. It replays scripted responses
// in order, optionally delaying each dispatch, and records every call.
type Mock struct {
	name      string
	ratio     float64
	maxTokens int
	fromFront bool
	delay     time.Duration

	mu        sync.Mutex
	responses []string
	next      int
	err       error
	calls     []Call
	onExecute func(callIndex int)
	responder func(req Request) (string, error)
}

// MockOption configures a Mock plugin.
type MockOption func(*Mock)

// WithResponses scripts the responses replayed in order. After the script is
// exhausted the last response repeats.
func WithResponses(responses ...string) MockOption {
	return func(m *Mock) { m.responses = responses }
}

// WithDelay makes each dispatch sleep before responding.
func WithDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.delay = d }
}

// WithError makes every dispatch fail with err.
func WithError(err error) MockOption {
	return func(m *Mock) { m.err = err }
}

// WithResponder computes responses from the request instead of replaying a
// script. Takes precedence over WithResponses.
func WithResponder(fn func(req Request) (string, error)) MockOption {
	return func(m *Mock) { m.responder = fn }
}

// WithOnExecute installs a hook invoked at the start of every dispatch with
// the zero-based call index. Tests use it to trigger cancellation at an exact
// point in the dispatch plan.
func WithOnExecute(fn func(callIndex int)) MockOption {
	return func(m *Mock) { m.onExecute = fn }
}

// WithGeometry overrides the default token geometry.
func WithGeometry(ratio float64, maxTokens int, fromFront bool) MockOption {
	return func(m *Mock) {
		m.ratio = ratio
		m.maxTokens = maxTokens
		m.fromFront = fromFront
	}
}

// NewMock creates a mock plugin registered under name. Without options it
// echoes a canned response and advertises a 4096-token window at ratio 0.6.
func NewMock(name string, opts ...MockOption) *Mock {
	m := &Mock{
		name:      name,
		ratio:     0.6,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the model name.
func (m *Mock) Name() string { return m.name }

// PromptTokenRatio returns the configured prompt ratio.
func (m *Mock) PromptTokenRatio() float64 { return m.ratio }

// ModelMaxTokens returns the configured context window.
func (m *Mock) ModelMaxTokens() int { return m.maxTokens }

// TruncateFromFront returns the configured truncation direction.
func (m *Mock) TruncateFromFront() bool { return m.fromFront }

// Execute replays the next scripted response.
func (m *Mock) Execute(ctx context.Context, req Request) (string, error) {
	return m.execute(ctx, req, false)
}

// ExecuteStream replays the next scripted response word by word.
func (m *Mock) ExecuteStream(ctx context.Context, req Request, emit func(delta string)) (string, error) {
	response, err := m.execute(ctx, req, true)
	if err != nil {
		return "", err
	}
	for i, word := range strings.Fields(response) {
		if i > 0 {
			emit(" ")
		}
		emit(word)
	}
	return response, nil
}

func (m *Mock) execute(ctx context.Context, req Request, streamed bool) (string, error) {
	if m.onExecute != nil {
		m.mu.Lock()
		index := len(m.calls)
		m.mu.Unlock()
		m.onExecute(index)
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{
		Prompt:      promptText(req),
		Temperature: req.Temperature,
		Streamed:    streamed,
		At:          time.Now(),
	})

	if m.err != nil {
		return "", m.err
	}
	if m.responder != nil {
		return m.responder(req)
	}
	if len(m.responses) == 0 {
		return fmt.Sprintf("mock response from %s", m.name), nil
	}
	response := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return response, nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]Call, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Reset clears the recorded calls and rewinds the response script.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.next = 0
	m.mu.Unlock()
}

func promptText(req Request) string {
	if req.Prompt == nil {
		return ""
	}
	parts := make([]string, 0, len(req.Prompt.Messages))
	for _, msg := range req.Prompt.Messages {
		parts = append(parts, msg.Content)
	}
	return strings.Join(parts, "\n")
}
