package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/pathways/errors"
)

func TestSplitHTML_PacksElements(t *testing.T) {
	c := newTestChunker()

	html := "<p>one one one</p><p>two two two</p><p>three three three</p>"
	chunks, err := c.Split(html, 35, FormatHTML)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Every element survives, in order, exactly once.
	joined := strings.Join(chunks, "")
	assert.Equal(t, 1, strings.Count(joined, "one one one"))
	assert.Equal(t, 1, strings.Count(joined, "two two two"))
	assert.Equal(t, 1, strings.Count(joined, "three three three"))
	assert.Less(t, strings.Index(joined, "one"), strings.Index(joined, "two"))
	assert.Less(t, strings.Index(joined, "two"), strings.Index(joined, "three"))

	for _, chunk := range chunks {
		assert.LessOrEqual(t, tokens(t, chunk), 35)
	}
}

func TestSplitHTML_SingleChunkWhenFits(t *testing.T) {
	c := newTestChunker()

	html := "<p>small</p>"
	chunks, err := c.Split(html, 500, FormatHTML)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "small")
}

func TestSplitHTML_OversizedElementErrors(t *testing.T) {
	c := newTestChunker()

	html := "<div>" + strings.Repeat("word ", 50) + "</div>"
	_, err := c.Split(html, 20, FormatHTML)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementTooLarge)
	assert.True(t, errors.IsInput(err))
}

func TestSplitHTML_OversizedTextNodeDelegates(t *testing.T) {
	c := newTestChunker()

	text := strings.Repeat("plain words here. ", 20)
	chunks, err := c.Split(text, 40, FormatHTML)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, tokens(t, chunk), 40)
	}
}

func TestSplitHTML_MixedContentKeepsOrder(t *testing.T) {
	c := newTestChunker()

	html := "<h1>title</h1>some text between<p>closing para</p>"
	chunks, err := c.Split(html, 1000, FormatHTML)
	require.NoError(t, err)
	joined := strings.Join(chunks, "")
	assert.Less(t, strings.Index(joined, "title"), strings.Index(joined, "between"))
	assert.Less(t, strings.Index(joined, "between"), strings.Index(joined, "closing"))
}
