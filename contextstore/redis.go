package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL keeps context blobs short-lived; they carry conversation state,
// not durable data.
const defaultTTL = 24 * time.Hour

// RedisStore is a Redis-backed Store shared across gateway instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the blob time-to-live. Zero disables expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the Redis key prefix. Default is "pathways".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed context store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTL,
		prefix: "pathways",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Load returns the blob for id; a missing key yields an empty map.
func (s *RedisStore) Load(ctx context.Context, id string) (map[string]string, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var blob map[string]string
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context blob: %w", err)
	}
	if blob == nil {
		blob = map[string]string{}
	}
	return blob, nil
}

// Save replaces the blob for id, refreshing its TTL.
func (s *RedisStore) Save(ctx context.Context, id string, blob map[string]string) error {
	if id == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal context blob: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:context:%s", s.prefix, id)
}
