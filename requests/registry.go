// Package requests tracks per-request lifecycle state.
//
// The Registry is the process-wide map from request id to Record. The engine
// mutates records as a resolution progresses; the cancel resolver flips the
// canceled flag, which the engine re-reads between dispatches. Terminal records
// are purged by a background sweeper after a configurable retention window.
package requests

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/archon-ai/pathways/logger"
)

// ErrNotFound is returned when a request id is not in the registry.
var ErrNotFound = goerrors.New("request not found")

// Resolver is the bound closure that starts a deferred request's work.
type Resolver func(ctx context.Context) (any, error)

// Record is the mutable per-request lifecycle structure.
type Record struct {
	ID   string
	Args map[string]any

	// Resolver starts the deferred work; set only for async/stream requests.
	Resolver Resolver

	TotalCount     int
	CompletedCount int
	Canceled       bool
	Started        bool
	Terminal       bool

	Result   any
	Err      string
	Warnings []string

	CreatedAt  time.Time
	TerminalAt time.Time
}

// snapshot returns a copy safe for callers to read without holding the lock.
func (r *Record) snapshot() *Record {
	cp := *r
	cp.Warnings = append([]string(nil), r.Warnings...)
	return &cp
}

// Registry is a concurrent map of request records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// sweepInterval is how often the sweeper scans for expired terminal records.
const sweepInterval = 30 * time.Second

// NewRegistry creates a registry whose sweeper purges terminal records after
// the given retention window. Stop must be called to release the sweeper.
func NewRegistry(retention time.Duration) *Registry {
	r := &Registry{
		records:   make(map[string]*Record),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Stop terminates the background sweeper. Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Create registers a new record for the given request id.
func (r *Registry) Create(id string, args map[string]any, resolver Resolver) *Record {
	rec := &Record{
		ID:        id,
		Args:      args,
		Resolver:  resolver,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return rec
}

// Get returns a consistent snapshot of the record, or ErrNotFound.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.snapshot(), nil
}

// MarkStarted flips the started flag. Returns false if the record is missing
// or work had already started, so deferred work runs at most once.
func (r *Registry) MarkStarted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Started {
		return false
	}
	rec.Started = true
	return true
}

// SetTotal records the dispatch plan size.
func (r *Registry) SetTotal(id string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.TotalCount = total
	}
}

// IncrementCompleted bumps the completed counter and returns the new
// completed and total counts.
func (r *Registry) IncrementCompleted(id string) (completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return 0, 0
	}
	rec.CompletedCount++
	return rec.CompletedCount, rec.TotalCount
}

// Cancel sets the canceled flag. Unknown ids are a no-op: the request may
// already have completed and been purged.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Canceled = true
	}
}

// IsCanceled reads the canceled flag. This is the engine's hot-path check
// between dispatches.
func (r *Registry) IsCanceled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return ok && rec.Canceled
}

// AddWarning appends a non-fatal warning to the record.
func (r *Registry) AddWarning(id, warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Warnings = append(rec.Warnings, warning)
	}
}

// SetResult stores the final value and marks the record terminal.
func (r *Registry) SetResult(id string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Result = result
		rec.Terminal = true
		rec.TerminalAt = time.Now()
	}
}

// SetError stores the error message and marks the record terminal.
func (r *Registry) SetError(id, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Err = msg
		rec.Terminal = true
		rec.TerminalAt = time.Now()
	}
}

// Delete removes the record.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// List returns snapshots of all live records, for diagnostics.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.snapshot())
	}
	return out
}

// sweep purges terminal records older than the retention window, plus any
// record idle past twice the window regardless of state.
func (r *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.purgeExpired(time.Now())
		}
	}
}

func (r *Registry) purgeExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.records {
		expired := rec.Terminal && now.Sub(rec.TerminalAt) > r.retention
		abandoned := !rec.Terminal && now.Sub(rec.CreatedAt) > 2*r.retention
		if expired || abandoned {
			delete(r.records, id)
			logger.Debug("purged request record", "request_id", id, "terminal", rec.Terminal)
		}
	}
}
