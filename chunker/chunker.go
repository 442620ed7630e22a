// Package chunker provides token-aware semantic splitting of text and HTML.
//
// Splitting preserves input order and content: the concatenation of the
// returned chunks is exactly the input text (HTML is re-serialized but keeps
// element order). Each chunk's encoded length stays within the caller's token
// budget. Break points are chosen semantically, preferring paragraph breaks,
// then sentence terminators across scripts, then phrase delimiters, then any
// whitespace.
package chunker

import (
	goerrors "errors"
	"fmt"

	"github.com/archon-ai/pathways/errors"
	"github.com/archon-ai/pathways/tokenizer"
)

// Format selects the splitting algorithm.
type Format string

const (
	// FormatText splits plain text at semantic boundaries.
	FormatText Format = "text"

	// FormatHTML splits markup at top-level body children.
	FormatHTML Format = "html"
)

// ErrMaxTokens is returned when the requested budget is not positive.
var ErrMaxTokens = goerrors.New("maxTokens must be positive")

// ErrElementTooLarge is returned when a single HTML element exceeds the budget.
// Elements are never split internally; doing so could produce invalid markup.
var ErrElementTooLarge = goerrors.New("HTML element exceeds chunk token budget")

// Chunker splits text into token-bounded chunks using the configured codec.
type Chunker struct {
	codec tokenizer.Codec
}

// New creates a Chunker backed by codec.
func New(codec tokenizer.Codec) *Chunker {
	return &Chunker{codec: codec}
}

// Split divides text into an ordered sequence of chunks, each of which encodes
// to at most maxTokens tokens. The empty string yields a single empty chunk,
// never an empty slice.
func (c *Chunker) Split(text string, maxTokens int, format Format) ([]string, error) {
	if maxTokens <= 0 {
		return nil, errors.New("chunker", "Split", ErrMaxTokens).WithKind(errors.KindInput)
	}
	if text == "" {
		return []string{""}, nil
	}

	switch format {
	case FormatHTML:
		return c.splitHTML(text, maxTokens)
	case FormatText, "":
		return c.splitText(text, maxTokens)
	default:
		return nil, errors.New("chunker", "Split",
			fmt.Errorf("unknown format %q", format)).WithKind(errors.KindInput)
	}
}

// SingleTokenChunks rebuilds text one token at a time, preserving the
// invariant that the concatenation of the chunks equals the input. The
// streaming layer uses this to emit token-granularity deltas.
func (c *Chunker) SingleTokenChunks(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	ids, err := c.codec.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode text: %w", err)
	}

	chunks := make([]string, 0, len(ids))
	for _, id := range ids {
		piece, err := c.codec.Decode([]int{id})
		if err != nil {
			return nil, fmt.Errorf("failed to decode token %d: %w", id, err)
		}
		chunks = append(chunks, piece)
	}
	return chunks, nil
}

// count returns the token count of text via the codec.
func (c *Chunker) count(text string) (int, error) {
	return c.codec.Count(text)
}
