package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncateBack returns a prefix of text whose token count is at most
// maxTokens, cut at a whitespace boundary when possible.
func (c *Chunker) TruncateBack(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	n, err := c.count(text)
	if err != nil {
		return "", fmt.Errorf("failed to count tokens: %w", err)
	}
	if n <= maxTokens {
		return text, nil
	}

	ratio, err := c.charsPerToken(text)
	if err != nil {
		return "", err
	}

	window := int(float64(maxTokens) * ratio)
	for {
		if window < 1 {
			return "", nil
		}
		if window > len(text) {
			window = len(text)
		}

		candidate := truncateAtRuneBoundary(text, window)
		if cut := lastWhitespace(candidate); cut > 0 {
			candidate = candidate[:cut]
		}

		n, err := c.count(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to count tokens: %w", err)
		}
		if n <= maxTokens {
			return candidate, nil
		}

		shrunk := int(float64(window) * float64(maxTokens) / float64(n))
		if shrunk >= window {
			shrunk = window - 1
		}
		window = shrunk
	}
}

// TruncateFront returns a suffix of text whose token count is at most
// maxTokens, cut at a whitespace boundary when possible.
func (c *Chunker) TruncateFront(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	n, err := c.count(text)
	if err != nil {
		return "", fmt.Errorf("failed to count tokens: %w", err)
	}
	if n <= maxTokens {
		return text, nil
	}

	ratio, err := c.charsPerToken(text)
	if err != nil {
		return "", err
	}

	window := int(float64(maxTokens) * ratio)
	for {
		if window < 1 {
			return "", nil
		}
		if window > len(text) {
			window = len(text)
		}

		start := len(text) - window
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
		candidate := text[start:]
		if idx := firstWhitespace(candidate); idx >= 0 && idx < len(candidate) {
			candidate = strings.TrimLeftFunc(candidate[idx:], unicode.IsSpace)
		}

		n, err := c.count(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to count tokens: %w", err)
		}
		if n <= maxTokens {
			return candidate, nil
		}

		shrunk := int(float64(window) * float64(maxTokens) / float64(n))
		if shrunk >= window {
			shrunk = window - 1
		}
		window = shrunk
	}
}

// SemanticTruncate is a character-bounded truncation ending at the last word
// boundary, with an ellipsis appended when truncation occurs. maxChars counts
// runes, not bytes.
func SemanticTruncate(text string, maxChars int) string {
	const ellipsis = "..."

	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if maxChars <= len(ellipsis) {
		return string([]rune(ellipsis)[:maxChars])
	}

	cut := runes[:maxChars-len(ellipsis)]
	// Back up to the last word boundary so the cut never lands mid-word.
	last := len(cut)
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			last = i
			break
		}
	}
	if last < len(cut) {
		cut = cut[:last]
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + ellipsis
}

// lastWhitespace returns the byte offset of the rune after the last
// whitespace in s, or 0 when s contains none.
func lastWhitespace(s string) int {
	runes := []rune(s)
	offset := len(s)
	for i := len(runes) - 1; i > 0; i-- {
		offset -= utf8.RuneLen(runes[i])
		if unicode.IsSpace(runes[i]) {
			return offset + utf8.RuneLen(runes[i])
		}
	}
	return 0
}

// firstWhitespace returns the byte offset of the first whitespace rune in s,
// or -1 when s contains none.
func firstWhitespace(s string) int {
	return strings.IndexFunc(s, unicode.IsSpace)
}
