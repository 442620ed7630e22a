// Package engine orchestrates pathway resolutions: input preparation,
// chunked dispatch to model plugins, progress publication, cancellation and
// timeout supervision, and response parsing.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-ai/pathways/bus"
	"github.com/archon-ai/pathways/callbacks"
	"github.com/archon-ai/pathways/chunker"
	"github.com/archon-ai/pathways/config"
	"github.com/archon-ai/pathways/contextstore"
	"github.com/archon-ai/pathways/errors"
	"github.com/archon-ai/pathways/logger"
	"github.com/archon-ai/pathways/metrics"
	"github.com/archon-ai/pathways/pathway"
	"github.com/archon-ai/pathways/plugin"
	"github.com/archon-ai/pathways/requests"
	"github.com/archon-ai/pathways/tokenizer"
)

// Terminal event statuses.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusTimedOut = "timed_out"
)

// summaryPathway is the pathway invoked recursively for input summarization.
const summaryPathway = "summary"

// Source supplies pathways beyond the statically registered set, such as the
// dynamic pathway store. Lookup returns nil, nil for unknown names.
type Source interface {
	Lookup(ctx context.Context, name string) (*pathway.Pathway, error)
}

// Engine drives pathways to completion. It implements pathway.Invoker so
// custom resolvers can run nested invocations.
type Engine struct {
	cfg       *config.Config
	codec     tokenizer.Codec
	estimator *tokenizer.HeuristicTokenCounter
	chunk     *chunker.Chunker
	compiler  *pathway.Compiler
	plugins   *plugin.Registry
	requests  *requests.Registry
	broker    bus.Broker
	contexts  contextstore.Store
	callbacks *callbacks.Registry
	tracer    trace.Tracer

	mu       sync.RWMutex
	pathways map[string]*pathway.Pathway
	sources  []Source
}

// Option configures an Engine.
type Option func(*Engine)

// WithBroker sets the progress bus. Default is an in-process broker.
func WithBroker(b bus.Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// WithContextStore sets the context blob store. Default is in-memory.
func WithContextStore(s contextstore.Store) Option {
	return func(e *Engine) { e.contexts = s }
}

// WithRequestRegistry sets the request registry. Default retention follows the
// configured request idle timeout.
func WithRequestRegistry(r *requests.Registry) Option {
	return func(e *Engine) { e.requests = r }
}

// WithCallbacks wires the client-tool callback registry.
func WithCallbacks(c *callbacks.Registry) Option {
	return func(e *Engine) { e.callbacks = c }
}

// WithSource adds a pathway source consulted after the registered set.
func WithSource(s Source) Option {
	return func(e *Engine) { e.sources = append(e.sources, s) }
}

// New creates an Engine dispatching to plugins, with token accounting through
// codec. Close must be called to release background resources.
func New(cfg *config.Config, codec tokenizer.Codec, plugins *plugin.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		codec:     codec,
		estimator: tokenizer.NewHeuristicTokenCounter(0),
		chunk:     chunker.New(codec),
		compiler:  pathway.NewCompiler(codec),
		plugins:   plugins,
		pathways:  make(map[string]*pathway.Pathway),
		tracer:    otel.Tracer("github.com/archon-ai/pathways/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.broker == nil {
		e.broker = bus.NewLocalBroker()
	}
	if e.contexts == nil {
		e.contexts = contextstore.NewMemoryStore()
	}
	if e.requests == nil {
		e.requests = requests.NewRegistry(cfg.RequestIdleTimeout())
	}
	return e
}

// Close releases the request registry sweeper and the broker.
func (e *Engine) Close() error {
	e.requests.Stop()
	return e.broker.Close()
}

// Register adds pw to the engine's static pathway set.
func (e *Engine) Register(pw *pathway.Pathway) error {
	if err := pw.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.pathways[pw.Name] = pw
	e.mu.Unlock()
	return nil
}

// lookup resolves a pathway name against the registered set, then each source
// in order.
func (e *Engine) lookup(ctx context.Context, name string) (*pathway.Pathway, error) {
	e.mu.RLock()
	pw, ok := e.pathways[name]
	e.mu.RUnlock()
	if ok {
		return pw, nil
	}

	for _, src := range e.sources {
		pw, err := src.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if pw != nil {
			return pw, nil
		}
	}
	return nil, errors.New("engine", "lookup",
		fmt.Errorf("unknown pathway %q", name)).WithKind(errors.KindInput)
}

// ResolveName resolves the named pathway with args.
func (e *Engine) ResolveName(ctx context.Context, name string, args map[string]any) (any, error) {
	pw, err := e.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.Resolve(ctx, pw, args)
}

// Resolve runs pw with args. When args carries async=true or stream=true, a
// request record is created and its id returned immediately; work begins on
// StartRequest. Otherwise the resolution runs synchronously and the parsed
// value is returned.
func (e *Engine) Resolve(ctx context.Context, pw *pathway.Pathway, args map[string]any) (any, error) {
	if err := pw.Validate(); err != nil {
		return nil, err
	}
	if pw.Disabled {
		return nil, errors.New("engine", "Resolve",
			fmt.Errorf("pathway %q is disabled", pw.Name)).WithKind(errors.KindInput)
	}
	args = applyInputDefaults(pw, args)

	id := uuid.NewString()
	streamed := boolArg(args, "stream")

	if boolArg(args, "async") || streamed {
		e.requests.Create(id, args, func(runCtx context.Context) (any, error) {
			return e.run(runCtx, id, pw, args, streamed)
		})
		return id, nil
	}

	e.requests.Create(id, args, nil)
	e.requests.MarkStarted(id)
	return e.run(ctx, id, pw, args, false)
}

// StartRequest begins the deferred work of an async or streamed request. The
// first caller wins; later calls are no-ops so a request runs at most once.
func (e *Engine) StartRequest(ctx context.Context, id string) error {
	rec, err := e.requests.Get(id)
	if err != nil {
		return errors.New("engine", "StartRequest", err).WithKind(errors.KindInput)
	}
	if rec.Resolver == nil {
		return errors.New("engine", "StartRequest",
			fmt.Errorf("request %s is not deferred", id)).WithKind(errors.KindInput)
	}
	if !e.requests.MarkStarted(id) {
		return nil
	}

	// Detach from the caller: an unsubscribing client must not abort the work.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		_, _ = rec.Resolver(runCtx)
	}()
	return nil
}

// Cancel flags the request for cancellation. The engine observes the flag
// between dispatches.
func (e *Engine) Cancel(id string) {
	e.requests.Cancel(id)
}

// Request returns a snapshot of the request record.
func (e *Engine) Request(id string) (*requests.Record, error) {
	return e.requests.Get(id)
}

// Subscribe attaches to the progress stream, optionally filtered by request id.
func (e *Engine) Subscribe(requestIDs ...string) *bus.Subscription {
	return e.broker.Subscribe(bus.TopicRequestProgress, requestIDs...)
}

// AwaitClientToolResult suspends until the client submits the tool result for
// callbackID, bounded by the configured client-tool timeout.
func (e *Engine) AwaitClientToolResult(ctx context.Context, callbackID, requestID string) (string, error) {
	if e.callbacks == nil {
		return "", errors.New("engine", "AwaitClientToolResult",
			fmt.Errorf("client tool callbacks not configured")).WithKind(errors.KindInput)
	}
	start := time.Now()
	result, err := e.callbacks.Await(ctx, callbackID, requestID, e.cfg.ClientToolTimeout())
	metrics.RecordCallbackWait(err, time.Since(start))
	return result, err
}

// ResolveClientToolCallback submits a client tool result, fanning it out to
// whichever instance holds the pending wait.
func (e *Engine) ResolveClientToolCallback(ctx context.Context, callbackID, result string) error {
	if e.callbacks == nil {
		return errors.New("engine", "ResolveClientToolCallback",
			fmt.Errorf("client tool callbacks not configured")).WithKind(errors.KindInput)
	}
	return e.callbacks.Resolve(ctx, callbackID, result)
}

// run executes one resolution under the timeout supervisor and publishes the
// terminal event.
func (e *Engine) run(ctx context.Context, id string, pw *pathway.Pathway, args map[string]any, streamed bool) (any, error) {
	timeout := e.cfg.DefaultTimeout()
	if pw.HasTimeout() {
		timeout = time.Duration(pw.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runCtx, span := e.tracer.Start(runCtx, "pathway.resolve",
		trace.WithAttributes(
			attribute.String("pathway.name", pw.Name),
			attribute.String("pathway.model", pw.Model),
			attribute.String("request.id", id),
		))
	defer span.End()

	metrics.RecordResolutionStart()
	start := time.Now()

	result, err := e.resolvePathway(runCtx, id, pw, args, streamed)

	switch {
	case err == nil:
		e.requests.SetResult(id, result)
		ev := bus.Event{RequestID: id, Progress: 1, Status: StatusDone}
		if streamed {
			ev.Data = bus.DoneData
		}
		e.publish(runCtx, ev)
		metrics.RecordResolutionEnd(pw.Name, metrics.StatusSuccess, time.Since(start))
		return result, nil

	case errors.IsCanceled(err) || ctx.Err() == context.Canceled:
		e.requests.SetResult(id, nil)
		e.publish(context.WithoutCancel(runCtx),
			bus.Event{RequestID: id, Progress: 1, Status: StatusCanceled})
		metrics.RecordResolutionEnd(pw.Name, metrics.StatusCanceled, time.Since(start))
		return nil, err

	case errors.IsTimeout(err) || runCtx.Err() == context.DeadlineExceeded:
		msg := fmt.Sprintf("pathway %s timed out after %s", pw.Name, timeout)
		e.requests.SetError(id, msg)
		e.publish(context.WithoutCancel(runCtx),
			bus.Event{RequestID: id, Progress: 1, Status: StatusTimedOut, Error: msg})
		metrics.RecordResolutionEnd(pw.Name, metrics.StatusTimedOut, time.Since(start))
		return nil, errors.New("engine", "run", err).WithKind(errors.KindTimeout)

	default:
		e.requests.SetError(id, err.Error())
		e.publish(context.WithoutCancel(runCtx),
			bus.Event{RequestID: id, Progress: 1, Status: StatusFailed, Error: err.Error()})
		logger.PluginError(pw.Model, pw.Name, err, "request_id", id)
		metrics.RecordResolutionEnd(pw.Name, metrics.StatusError, time.Since(start))
		return nil, err
	}
}

// resolvePathway routes to the custom resolver or the prompt sequencer.
func (e *Engine) resolvePathway(ctx context.Context, id string, pw *pathway.Pathway, args map[string]any, streamed bool) (any, error) {
	if pw.Resolver != nil {
		return pw.Resolver(ctx, e, pw, args)
	}
	return e.runPrompts(ctx, id, pw, args, streamed)
}

// publish sends a progress event; bus failures never fail the request.
func (e *Engine) publish(ctx context.Context, ev bus.Event) {
	if err := e.broker.Publish(ctx, bus.TopicRequestProgress, ev); err != nil {
		logger.Warn("failed to publish progress event",
			"request_id", ev.RequestID, "error", err)
	}
}

// applyInputDefaults fills declared input parameters the caller omitted with
// their schema defaults. The caller's map is left unmodified.
func applyInputDefaults(pw *pathway.Pathway, args map[string]any) map[string]any {
	if len(pw.Inputs) == 0 {
		return args
	}
	out := make(map[string]any, len(args)+len(pw.Inputs))
	for k, v := range args {
		out[k] = v
	}
	for name, param := range pw.Inputs {
		if param.Default == nil {
			continue
		}
		if _, ok := out[name]; !ok {
			out[name] = param.Default
		}
	}
	return out
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key].(string)
	if !ok {
		return ""
	}
	return v
}
