package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeCodec maps each rune to its code point. Deterministic and offline,
// which keeps these tests independent of BPE data files.
type runeCodec struct {
	encodes int
}

func (c *runeCodec) Encode(text string) ([]int, error) {
	c.encodes++
	ids := make([]int, 0, len(text))
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids, nil
}

func (c *runeCodec) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteRune(rune(id))
	}
	return sb.String(), nil
}

func (c *runeCodec) Count(text string) (int, error) {
	ids, err := c.Encode(text)
	return len(ids), err
}

type failingCodec struct{}

func (failingCodec) Encode(string) ([]int, error)  { return nil, errors.New("encode failed") }
func (failingCodec) Decode([]int) (string, error)  { return "", errors.New("decode failed") }
func (failingCodec) Count(string) (int, error)     { return 0, errors.New("count failed") }

func TestCachingCodec_RoundTrip(t *testing.T) {
	inner := &runeCodec{}
	codec, err := NewCachingCodec(inner, 10)
	require.NoError(t, err)

	text := "Hello, chunked world! Καλημέρα"
	ids, err := codec.Encode(text)
	require.NoError(t, err)

	decoded, err := codec.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, text, decoded)
}

func TestCachingCodec_Memoizes(t *testing.T) {
	inner := &runeCodec{}
	codec, err := NewCachingCodec(inner, 10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := codec.Encode("same text")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.encodes)
}

func TestCachingCodec_Evicts(t *testing.T) {
	inner := &runeCodec{}
	codec, err := NewCachingCodec(inner, 2)
	require.NoError(t, err)

	_, _ = codec.Encode("a")
	_, _ = codec.Encode("b")
	_, _ = codec.Encode("c") // evicts "a"
	_, _ = codec.Encode("a")

	assert.Equal(t, 4, inner.encodes)
}

func TestCachingCodec_PropagatesErrors(t *testing.T) {
	codec, err := NewCachingCodec(failingCodec{}, 2)
	require.NoError(t, err)

	_, err = codec.Encode("anything")
	assert.ErrorContains(t, err, "encode failed")

	_, err = codec.Count("anything")
	assert.ErrorContains(t, err, "encode failed")
}

func TestCachingCodec_Count(t *testing.T) {
	codec, err := NewCachingCodec(&runeCodec{}, 10)
	require.NoError(t, err)

	n, err := codec.Count("abcd")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNewCachingCodec_InvalidSize(t *testing.T) {
	_, err := NewCachingCodec(&runeCodec{}, 0)
	assert.Error(t, err)
}

func TestHeuristicTokenCounter(t *testing.T) {
	counter := NewHeuristicTokenCounter(1.35)

	assert.Equal(t, 0, counter.CountTokens(""))
	// 10 words * 1.35 = 13 tokens.
	text := strings.Repeat("word ", 10)
	assert.Equal(t, 13, counter.CountTokens(text))
}

func TestHeuristicTokenCounter_SetRatio(t *testing.T) {
	counter := NewHeuristicTokenCounter(0) // falls back to default
	counter.SetRatio(2.0)
	assert.Equal(t, 4, counter.CountTokens("one two"))

	counter.SetRatio(-1) // ignored
	assert.Equal(t, 4, counter.CountTokens("one two"))
}
