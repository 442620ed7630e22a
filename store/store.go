// Package store is the dynamic pathway store: CRUD over user-authored
// pathways persisted as one JSON document on a pluggable backend.
//
// Mutations are gated twice: a per-record secret proves ownership, and a
// global publish key gates publishing at all. The document is cached in
// memory and invalidated through the backend's LastModified, so writers on
// other instances become visible within one polling interval.
package store

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/archon-ai/pathways/config"
	"github.com/archon-ai/pathways/errors"
	"github.com/archon-ai/pathways/logger"
	"github.com/archon-ai/pathways/metrics"
	"github.com/archon-ai/pathways/pathway"
)

// Mutation and lookup failures.
var (
	// ErrNotFound is returned when a user or pathway name is unknown.
	ErrNotFound = goerrors.New("pathway not found")

	// ErrBadPublishKey is returned when the global publish key does not match.
	ErrBadPublishKey = goerrors.New("invalid publish key")

	// ErrBadSecret is returned when the per-record secret does not match.
	ErrBadSecret = goerrors.New("invalid pathway secret")

	// ErrSecretRequired is returned when a mutation carries no secret.
	ErrSecretRequired = goerrors.New("pathway secret is required")

	// ErrLegacyPromptNames is returned when a promptNames-filtered mutation
	// targets a legacy pathway; legacy entries have no names to match.
	ErrLegacyPromptNames = goerrors.New(
		"pathway uses the legacy prompt format and cannot be updated by prompt name; republish the full pathway first")
)

// storedPathwaySchema validates the stored shape on every put.
const storedPathwaySchema = `{
  "type": "object",
  "required": ["secret", "prompt"],
  "additionalProperties": false,
  "properties": {
    "secret": {"type": "string", "minLength": 1},
    "displayName": {"type": "string"},
    "systemPrompt": {"type": "string"},
    "model": {"type": "string"},
    "useChatHistory": {"type": "boolean"},
    "list": {"type": "boolean"},
    "json": {"type": "boolean"},
    "useInputChunking": {"type": "boolean"},
    "inputFormat": {"enum": ["text", "html"]},
    "prompt": {
      "type": "array",
      "minItems": 1,
      "items": {
        "oneOf": [
          {"type": "string", "minLength": 1},
          {
            "type": "object",
            "required": ["name", "prompt"],
            "additionalProperties": false,
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "prompt": {"type": "string", "minLength": 1},
              "files": {"type": "array", "items": {"type": "string"}},
              "cortexPathwayName": {"type": "string"}
            }
          }
        ]
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(storedPathwaySchema)

// Store is the dynamic pathway store.
type Store struct {
	backend    Backend
	publishKey string
	poll       time.Duration

	mu          sync.Mutex
	doc         Document
	docModified time.Time
	checkedAt   time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPollInterval sets the minimum interval between LastModified checks.
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.poll = d }
}

// New creates a Store over backend. publishKey gates every mutation.
func New(backend Backend, publishKey string, opts ...StoreOption) *Store {
	s := &Store{
		backend:    backend,
		publishKey: publishKey,
		poll:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds the Store with the backend the configuration selects.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Store, error) {
	var backend Backend
	switch cfg.StorageType {
	case config.StorageLocal:
		backend = NewLocalBackend(cfg.StoragePath)
	case config.StorageBlob:
		b, err := NewBlobBackend(cfg.StorageConnection, "pathways", cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		backend = b
	case config.StorageObjectStore:
		b, err := NewS3Backend(ctx, cfg.StorageConnection, cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
	return New(backend, cfg.PublishKey, WithPollInterval(cfg.StorePollInterval())), nil
}

// MutateOption modifies a Put.
type MutateOption func(*mutation)

type mutation struct {
	promptNames []string
}

// WithPromptNames restricts a Put to replacing only the named prompts of an
// existing structured pathway.
func WithPromptNames(names ...string) MutateOption {
	return func(m *mutation) { m.promptNames = names }
}

// Put creates or replaces the pathway under (userID, name). The stored
// secret proves ownership on later mutations; publishKey is the global gate.
func (s *Store) Put(ctx context.Context, publishKey, userID, name string, sp *StoredPathway, opts ...MutateOption) error {
	var mut mutation
	for _, opt := range opts {
		opt(&mut)
	}

	if err := s.checkPublishKey(publishKey); err != nil {
		return err
	}
	if sp.Secret == "" {
		return errors.New("store", "Put", ErrSecretRequired).WithKind(errors.KindInput)
	}
	if err := validateStoredPathway(sp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(ctx, true)
	if err != nil {
		return err
	}

	existing := doc[userID][name]
	if existing != nil && existing.Secret != sp.Secret {
		return errors.New("store", "Put", ErrBadSecret).WithKind(errors.KindInput)
	}

	record := sp.clone()
	if len(mut.promptNames) > 0 {
		record, err = mergePrompts(existing, sp, mut.promptNames)
		if err != nil {
			return err
		}
	}

	if doc[userID] == nil {
		doc[userID] = make(map[string]*StoredPathway)
	}
	doc[userID][name] = record

	return s.saveLocked(ctx, doc)
}

// Delete removes the pathway under (userID, name). Removing the last pathway
// of a user removes the user namespace.
func (s *Store) Delete(ctx context.Context, publishKey, userID, name, secret string) error {
	if err := s.checkPublishKey(publishKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(ctx, true)
	if err != nil {
		return err
	}

	existing := doc[userID][name]
	if existing == nil {
		return errors.New("store", "Delete", ErrNotFound).WithKind(errors.KindInput)
	}
	if existing.Secret != secret {
		return errors.New("store", "Delete", ErrBadSecret).WithKind(errors.KindInput)
	}

	delete(doc[userID], name)
	if len(doc[userID]) == 0 {
		delete(doc, userID)
	}
	return s.saveLocked(ctx, doc)
}

// GetPathway returns the materialized, executable pathway under
// (userID, name).
func (s *Store) GetPathway(ctx context.Context, userID, name string) (*pathway.Pathway, error) {
	sp, err := s.GetStored(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	return sp.Materialize(name), nil
}

// GetStored returns a copy of the raw stored record under (userID, name).
func (s *Store) GetStored(ctx context.Context, userID, name string) (*StoredPathway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(ctx, false)
	if err != nil {
		return nil, err
	}
	sp := doc[userID][name]
	if sp == nil {
		return nil, errors.New("store", "GetStored",
			fmt.Errorf("%w: %s/%s", ErrNotFound, userID, name)).WithKind(errors.KindInput)
	}
	return sp.clone(), nil
}

// ListPathways returns every pathway name by user id, names sorted.
func (s *Store) ListPathways(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(doc))
	for userID, pathways := range doc {
		names := make([]string, 0, len(pathways))
		for name := range pathways {
			names = append(names, name)
		}
		sort.Strings(names)
		out[userID] = names
	}
	return out, nil
}

// Source adapts one user namespace to the engine's pathway lookup.
type Source struct {
	store  *Store
	userID string
}

// Source returns a pathway source scoped to userID.
func (s *Store) Source(userID string) *Source {
	return &Source{store: s, userID: userID}
}

// Lookup returns the named pathway, or nil when unknown.
func (src *Source) Lookup(ctx context.Context, name string) (*pathway.Pathway, error) {
	pw, err := src.store.GetPathway(ctx, src.userID, name)
	if err != nil {
		if goerrors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return pw, nil
}

func (s *Store) checkPublishKey(key string) error {
	if s.publishKey != "" && key != s.publishKey {
		return errors.New("store", "mutate", ErrBadPublishKey).WithKind(errors.KindInput)
	}
	return nil
}

// loadLocked returns the current document, re-reading the backend when the
// poll interval elapsed and LastModified moved. force bypasses the poll
// throttle for load-modify-save mutations. Backend failures fall back to the
// last cached document with a warning.
func (s *Store) loadLocked(ctx context.Context, force bool) (Document, error) {
	if !force && s.doc != nil && time.Since(s.checkedAt) < s.poll {
		return s.doc, nil
	}

	modified, err := s.backend.LastModified(ctx)
	if err != nil {
		metrics.RecordStoreReload(err)
		if s.doc != nil {
			logger.Warn("pathway storage unavailable, serving cached document", "error", err)
			return s.doc, nil
		}
		return nil, errors.New("store", "load", err).WithKind(errors.KindStorage)
	}
	s.checkedAt = time.Now()

	if s.doc != nil && !modified.After(s.docModified) {
		return s.doc, nil
	}

	data, err := s.backend.Load(ctx)
	if err != nil {
		metrics.RecordStoreReload(err)
		if s.doc != nil {
			logger.Warn("pathway storage unavailable, serving cached document", "error", err)
			return s.doc, nil
		}
		return nil, errors.New("store", "load", err).WithKind(errors.KindStorage)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		metrics.RecordStoreReload(err)
		if s.doc != nil {
			logger.Warn("pathway document is corrupt, serving cached document", "error", err)
			return s.doc, nil
		}
		return nil, errors.New("store", "load", err).WithKind(errors.KindStorage)
	}
	if doc == nil {
		doc = Document{}
	}

	s.doc = doc
	s.docModified = modified
	metrics.RecordStoreReload(nil)
	return doc, nil
}

// saveLocked persists doc human-readable and refreshes the cache.
func (s *Store) saveLocked(ctx context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.New("store", "save", err).WithKind(errors.KindStorage)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return errors.New("store", "save", err).WithKind(errors.KindStorage)
	}

	s.doc = doc
	if modified, err := s.backend.LastModified(ctx); err == nil {
		s.docModified = modified
	} else {
		s.docModified = time.Now()
	}
	return nil
}

// mergePrompts replaces only the named prompts of existing with the matching
// entries from update.
func mergePrompts(existing, update *StoredPathway, promptNames []string) (*StoredPathway, error) {
	if existing == nil {
		return nil, errors.New("store", "Put",
			fmt.Errorf("%w: promptNames filter requires an existing pathway", ErrNotFound)).
			WithKind(errors.KindInput)
	}
	if existing.IsLegacy() {
		return nil, errors.New("store", "Put", ErrLegacyPromptNames).WithKind(errors.KindInput)
	}

	wanted := make(map[string]struct{}, len(promptNames))
	for _, n := range promptNames {
		wanted[n] = struct{}{}
	}

	replacements := make(map[string]PromptEntry)
	for _, entry := range update.Prompt {
		if _, ok := wanted[entry.Name]; ok {
			replacements[entry.Name] = entry
		}
	}

	merged := existing.clone()
	for i, entry := range merged.Prompt {
		if repl, ok := replacements[entry.Name]; ok {
			merged.Prompt[i] = repl
			delete(replacements, entry.Name)
		}
	}
	// Names not present yet are appended, keeping update order stable.
	for _, entry := range update.Prompt {
		if _, ok := replacements[entry.Name]; ok {
			merged.Prompt = append(merged.Prompt, entry)
		}
	}
	return merged, nil
}

// validateStoredPathway checks sp against the stored-pathway JSON schema.
func validateStoredPathway(sp *StoredPathway) error {
	data, err := json.Marshal(sp)
	if err != nil {
		return errors.New("store", "validate", err).WithKind(errors.KindInput)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.New("store", "validate", err).WithKind(errors.KindInput)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return errors.New("store", "validate",
			fmt.Errorf("invalid pathway: %s", strings.Join(msgs, "; "))).WithKind(errors.KindInput)
	}
	return nil
}
