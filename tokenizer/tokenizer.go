// Package tokenizer provides token encoding and counting for chunking and
// context-window budgeting.
//
// Token counts drive every chunking decision in the runtime, so the package
// provides:
//   - Codec interface for encode/decode implementations
//   - TiktokenCodec backed by the cl100k_base BPE shared with the model family
//   - CachingCodec, an LRU-memoizing wrapper that amortizes repeated encodings
//     inside chunking loops
//   - HeuristicTokenCounter for cheap estimates where exact counts are not needed
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding shared with the external model family.
const DefaultEncoding = "cl100k_base"

// DefaultCacheSize is the number of recent encodings memoized by NewDefault.
const DefaultCacheSize = 1000

// Codec encodes and decodes text to and from token ids.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode converts text to token ids.
	Encode(text string) ([]int, error)

	// Decode converts token ids back to text.
	Decode(ids []int) (string, error)

	// Count returns the token count for text.
	Count(text string) (int, error)
}

// TiktokenCodec is a Codec backed by the tiktoken BPE tables.
type TiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCodec creates a codec for the named encoding (e.g. cl100k_base).
func NewTiktokenCodec(encoding string) (*TiktokenCodec, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return &TiktokenCodec{enc: enc}, nil
}

// Encode converts text to token ids.
func (c *TiktokenCodec) Encode(text string) ([]int, error) {
	return c.enc.Encode(text, nil, nil), nil
}

// Decode converts token ids back to text.
func (c *TiktokenCodec) Decode(ids []int) (string, error) {
	return c.enc.Decode(ids), nil
}

// Count returns the token count for text.
func (c *TiktokenCodec) Count(text string) (int, error) {
	return len(c.enc.Encode(text, nil, nil)), nil
}

// CachingCodec wraps a Codec with an LRU cache of recent encodings.
// Chunking repeatedly re-encodes overlapping candidate windows; the cache turns
// those re-encodings into map lookups.
type CachingCodec struct {
	inner Codec
	cache *lru.Cache[string, []int]
}

// NewCachingCodec wraps inner with an LRU cache of the given size.
func NewCachingCodec(inner Codec, size int) (*CachingCodec, error) {
	cache, err := lru.New[string, []int](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create encode cache: %w", err)
	}
	return &CachingCodec{inner: inner, cache: cache}, nil
}

// NewDefault returns the runtime's standard codec: cl100k_base with a
// DefaultCacheSize-entry LRU cache.
func NewDefault() (Codec, error) {
	base, err := NewTiktokenCodec(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return NewCachingCodec(base, DefaultCacheSize)
}

// Encode converts text to token ids, consulting the cache first.
func (c *CachingCodec) Encode(text string) ([]int, error) {
	if ids, ok := c.cache.Get(text); ok {
		return ids, nil
	}
	ids, err := c.inner.Encode(text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, ids)
	return ids, nil
}

// Decode converts token ids back to text. Decodes are not cached.
func (c *CachingCodec) Decode(ids []int) (string, error) {
	return c.inner.Decode(ids)
}

// Count returns the token count for text, consulting the cache first.
func (c *CachingCodec) Count(text string) (int, error) {
	ids, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// HeuristicTokenCounter estimates token counts using word-based heuristics.
// This is fast and suitable for advisory decisions where exact counts are not
// required; the engine uses it only as a fallback when encoding fails.
type HeuristicTokenCounter struct {
	ratio float64
	mu    sync.RWMutex
}

// defaultTokensPerWord is a conservative empirical ratio for English text.
const defaultTokensPerWord = 1.35

// NewHeuristicTokenCounter creates a counter with the given tokens-per-word
// ratio. Non-positive ratios fall back to the default.
func NewHeuristicTokenCounter(ratio float64) *HeuristicTokenCounter {
	if ratio <= 0 {
		ratio = defaultTokensPerWord
	}
	return &HeuristicTokenCounter{ratio: ratio}
}

// CountTokens estimates the token count for text. Returns 0 for empty text.
func (h *HeuristicTokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	h.mu.RLock()
	ratio := h.ratio
	h.mu.RUnlock()

	words := strings.Fields(text)
	return int(float64(len(words)) * ratio)
}

// SetRatio updates the token ratio. Thread-safe.
func (h *HeuristicTokenCounter) SetRatio(ratio float64) {
	if ratio <= 0 {
		return
	}
	h.mu.Lock()
	h.ratio = ratio
	h.mu.Unlock()
}
