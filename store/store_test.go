package store

import (
	"context"
	goerrors "errors"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/pathways/config"
	"github.com/archon-ai/pathways/engine"
	"github.com/archon-ai/pathways/pathway"
	"github.com/archon-ai/pathways/plugin"
)

const testPublishKey = "publish-key"

func newLocalStore(t *testing.T, opts ...StoreOption) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pathways.json")
	return New(NewLocalBackend(path), testPublishKey, opts...), path
}

func greetPathway(secret string) *StoredPathway {
	return &StoredPathway{
		Secret: secret,
		Model:  "mock",
		Prompt: []PromptEntry{{Name: "hi", Prompt: "Say hi in {{lang}}"}},
	}
}

func TestPut_RoundTripsRecord(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	sp := &StoredPathway{
		Secret:       "s1",
		DisplayName:  "Greeter",
		SystemPrompt: "You are terse.",
		Model:        "mock",
		List:         true,
		Prompt: []PromptEntry{
			{Name: "hi", Prompt: "Say hi in {{lang}}", Files: []string{"hash-a"}},
		},
	}
	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", sp))

	got, err := s.GetStored(ctx, "alice", "greet")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Secret)
	assert.Equal(t, "Greeter", got.DisplayName)
	assert.Equal(t, "You are terse.", got.SystemPrompt)
	assert.True(t, got.List)
	require.Len(t, got.Prompt, 1)
	assert.Equal(t, "hi", got.Prompt[0].Name)
	assert.Equal(t, []string{"hash-a"}, got.Prompt[0].Files)
}

func TestPut_DocumentIsHumanReadable(t *testing.T) {
	s, path := newLocalStore(t)
	require.NoError(t, s.Put(context.Background(), testPublishKey, "alice", "greet", greetPathway("s1")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "s1", doc["alice"]["greet"]["secret"])
	assert.Contains(t, string(data), "\n  ", "document is not indented")
}

func TestPut_GateChecks(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "wrong-key", "alice", "greet", greetPathway("s1"))
	assert.ErrorIs(t, err, ErrBadPublishKey)

	err = s.Put(ctx, testPublishKey, "alice", "greet", greetPathway(""))
	assert.ErrorIs(t, err, ErrSecretRequired)

	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", greetPathway("s1")))
	err = s.Put(ctx, testPublishKey, "alice", "greet", greetPathway("not-s1"))
	assert.ErrorIs(t, err, ErrBadSecret)
}

func TestPut_SchemaValidation(t *testing.T) {
	s, _ := newLocalStore(t)

	err := s.Put(context.Background(), testPublishKey, "alice", "bad", &StoredPathway{
		Secret: "s1",
		Prompt: []PromptEntry{{Name: "", Prompt: "no name"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pathway")
}

func TestDelete_RemovesNamespaceWithLastPathway(t *testing.T) {
	s, path := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", greetPathway("s1")))

	assert.ErrorIs(t, s.Delete(ctx, testPublishKey, "alice", "greet", "wrong"), ErrBadSecret)
	require.NoError(t, s.Delete(ctx, testPublishKey, "alice", "greet", "s1"))

	_, err := s.GetStored(ctx, "alice", "greet")
	assert.ErrorIs(t, err, ErrNotFound)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	_, ok := doc["alice"]
	assert.False(t, ok, "empty user namespace was not removed")

	assert.ErrorIs(t, s.Delete(ctx, testPublishKey, "alice", "greet", "s1"), ErrNotFound)
}

func TestListPathways(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", greetPathway("s1")))
	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "bye", greetPathway("s2")))
	require.NoError(t, s.Put(ctx, testPublishKey, "bob", "greet", greetPathway("s3")))

	all, err := s.ListPathways(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"alice": {"bye", "greet"},
		"bob":   {"greet"},
	}, all)
}

func TestMaterialize_MessageShape(t *testing.T) {
	sp := &StoredPathway{
		Secret:         "s1",
		SystemPrompt:   "Be brief.",
		UseChatHistory: true,
		Prompt: []PromptEntry{
			{Name: "hi", Prompt: "Say hi", Files: []string{"h1", "h2"}},
			{Name: "bye", Prompt: "Say bye", Files: []string{"h2", "h3"}},
		},
	}

	pw := sp.Materialize("greet")
	require.Len(t, pw.Prompts, 2)

	msgs := pw.Prompts[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, pathway.Message{Role: "system", Content: "Be brief."}, msgs[0])
	assert.Equal(t, pathway.PlaceholderChatHistory, msgs[1].Content)
	assert.Equal(t, "{{text}}\n\nSay hi", msgs[2].Content)

	// File hashes bubble up de-duplicated.
	assert.Equal(t, []string{"h1", "h2", "h3"}, pw.FileHashes)
	require.NoError(t, pw.Validate())
}

func TestLegacyDocument_LoadsAndRejectsPromptNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways.json")
	legacy := `{"alice": {"greet": {"secret": "s1", "prompt": ["Say hi", "Say bye"]}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s := New(NewLocalBackend(path), testPublishKey)
	ctx := context.Background()

	got, err := s.GetStored(ctx, "alice", "greet")
	require.NoError(t, err)
	assert.True(t, got.IsLegacy())

	pw, err := s.GetPathway(ctx, "alice", "greet")
	require.NoError(t, err)
	require.Len(t, pw.Prompts, 2)
	assert.Equal(t, "greet-1", pw.Prompts[0].Name)

	err = s.Put(ctx, testPublishKey, "alice", "greet", greetPathway("s1"), WithPromptNames("hi"))
	assert.ErrorIs(t, err, ErrLegacyPromptNames)
	assert.Contains(t, err.Error(), "republish")
}

func TestPut_PromptNamesFilterReplacesOnlyNamed(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", &StoredPathway{
		Secret: "s1",
		Prompt: []PromptEntry{
			{Name: "hi", Prompt: "Say hi"},
			{Name: "bye", Prompt: "Say bye"},
		},
	}))

	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", &StoredPathway{
		Secret: "s1",
		Prompt: []PromptEntry{{Name: "hi", Prompt: "Say hi warmly"}},
	}, WithPromptNames("hi")))

	got, err := s.GetStored(ctx, "alice", "greet")
	require.NoError(t, err)
	require.Len(t, got.Prompt, 2)
	assert.Equal(t, "Say hi warmly", got.Prompt[0].Prompt)
	assert.Equal(t, "Say bye", got.Prompt[1].Prompt)
}

func TestStore_SeesWritesFromOtherInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways.json")
	writer := New(NewLocalBackend(path), testPublishKey)
	reader := New(NewLocalBackend(path), testPublishKey, WithPollInterval(0))
	ctx := context.Background()

	require.NoError(t, writer.Put(ctx, testPublishKey, "alice", "greet", greetPathway("s1")))
	_, err := reader.GetStored(ctx, "alice", "greet")
	require.NoError(t, err)

	// Ensure the file mtime moves past the reader's cached timestamp.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, writer.Put(ctx, testPublishKey, "alice", "bye", greetPathway("s2")))

	_, err = reader.GetStored(ctx, "alice", "bye")
	require.NoError(t, err)
}

// failingBackend serves one successful load, then fails, exercising the
// cached-document fallback.
type failingBackend struct {
	inner  Backend
	loaded bool
}

func (f *failingBackend) Load(ctx context.Context) ([]byte, error) {
	if f.loaded {
		return nil, goerrors.New("backend unavailable")
	}
	f.loaded = true
	return f.inner.Load(ctx)
}

func (f *failingBackend) Save(ctx context.Context, data []byte) error {
	return f.inner.Save(ctx, data)
}

func (f *failingBackend) LastModified(context.Context) (time.Time, error) {
	// Always newer, forcing a reload attempt.
	return time.Now(), nil
}

func TestStore_ServesCachedDocumentOnStorageFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways.json")
	doc := `{"alice": {"greet": {"secret": "s1", "prompt": [{"name": "hi", "prompt": "Say hi"}]}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s := New(&failingBackend{inner: NewLocalBackend(path)}, testPublishKey, WithPollInterval(0))
	ctx := context.Background()

	_, err := s.GetStored(ctx, "alice", "greet")
	require.NoError(t, err)

	// The backend now fails; the cached document still serves reads.
	got, err := s.GetStored(ctx, "alice", "greet")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Secret)
}

// runeCodec keeps engine token budgets deterministic without tokenizer data.
type runeCodec struct{}

func (runeCodec) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids, nil
}

func (runeCodec) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		b.WriteRune(rune(id))
	}
	return b.String(), nil
}

func (runeCodec) Count(text string) (int, error) {
	return len([]rune(text)), nil
}

func TestPublishThenExecute(t *testing.T) {
	s, path := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testPublishKey, "alice", "greet", greetPathway("s1")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"s1"`)

	mock := plugin.NewMock("mock", plugin.WithResponder(func(req plugin.Request) (string, error) {
		return "Bonjour!", nil
	}))
	plugins := plugin.NewRegistry()
	plugins.Register(mock)

	e := engine.New(config.Default(), runeCodec{}, plugins, engine.WithSource(s.Source("alice")))
	t.Cleanup(func() { _ = e.Close() })

	result, err := e.ResolveName(ctx, "greet", map[string]any{"lang": "fr"})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour!", result)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Say hi in fr")
	assert.NotContains(t, calls[0].Prompt, "{{lang}}")
}
