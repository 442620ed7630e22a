package requests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(5 * time.Minute)
	t.Cleanup(r.Stop)
	return r
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	r.Create("req-1", map[string]any{"text": "hello"}, nil)

	rec, err := r.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", rec.ID)
	assert.Equal(t, "hello", rec.Args["text"])
	assert.False(t, rec.Started)
	assert.False(t, rec.Canceled)
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_MarkStartedOnce(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("req-1", nil, nil)

	assert.True(t, r.MarkStarted("req-1"))
	assert.False(t, r.MarkStarted("req-1"), "second start must be rejected")
	assert.False(t, r.MarkStarted("missing"))
}

func TestRegistry_Counters(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("req-1", nil, nil)
	r.SetTotal("req-1", 4)

	completed, total := r.IncrementCompleted("req-1")
	assert.Equal(t, 1, completed)
	assert.Equal(t, 4, total)

	completed, _ = r.IncrementCompleted("req-1")
	assert.Equal(t, 2, completed)
}

func TestRegistry_Cancel(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("req-1", nil, nil)

	assert.False(t, r.IsCanceled("req-1"))
	r.Cancel("req-1")
	assert.True(t, r.IsCanceled("req-1"))

	// Unknown ids are a silent no-op.
	r.Cancel("missing")
	assert.False(t, r.IsCanceled("missing"))
}

func TestRegistry_TerminalStates(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("ok", nil, nil)
	r.Create("bad", nil, nil)

	r.SetResult("ok", "final value")
	r.SetError("bad", "plugin exploded")

	ok, err := r.Get("ok")
	require.NoError(t, err)
	assert.True(t, ok.Terminal)
	assert.Equal(t, "final value", ok.Result)

	bad, err := r.Get("bad")
	require.NoError(t, err)
	assert.True(t, bad.Terminal)
	assert.Equal(t, "plugin exploded", bad.Err)
}

func TestRegistry_Warnings(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("req-1", nil, nil)

	r.AddWarning("req-1", "input truncated")
	rec, err := r.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"input truncated"}, rec.Warnings)
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("req-1", nil, nil)
	r.AddWarning("req-1", "w1")

	rec, err := r.Get("req-1")
	require.NoError(t, err)
	rec.Warnings[0] = "mutated"
	rec.CompletedCount = 99

	fresh, err := r.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, "w1", fresh.Warnings[0])
	assert.Equal(t, 0, fresh.CompletedCount)
}

func TestRegistry_PurgeExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Stop()

	r.Create("done", nil, nil)
	r.SetResult("done", "x")
	r.Create("live", nil, nil)

	r.purgeExpired(time.Now().Add(2 * time.Minute))

	_, err := r.Get("done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("live")
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry(t)
	r.Create("req-1", nil, nil)
	r.SetTotal("req-1", 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementCompleted("req-1")
			r.IsCanceled("req-1")
		}()
	}
	wg.Wait()

	rec, err := r.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.CompletedCount)
}
