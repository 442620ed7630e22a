package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// sampleChars is the prefix length used to estimate the chars-per-token ratio.
const sampleChars = 2048

// sentenceTerminators covers sentence-final punctuation across Latin, CJK,
// Arabic/Urdu, Devanagari, Armenian, and Ethiopic scripts.
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true, '…': true,
	'。': true, '！': true, '？': true,
	'؟': true, '۔': true,
	'।': true, '॥': true,
	'։': true,
	'።': true,
}

// phraseDelimiters covers clause-level punctuation for the same scripts.
// ASCII forms additionally require a following whitespace so hyphenated words
// and clock times are not treated as break points.
var phraseDelimiters = map[rune]bool{
	',': true, ';': true, ':': true, '-': true,
	'、': true, '，': true, '；': true, '：': true,
	'،': true, '؛': true,
	'—': true, '–': true,
}

// asciiDelimiters are the phrase delimiters that only break before whitespace.
var asciiDelimiters = map[rune]bool{
	',': true, ';': true, ':': true, '-': true,
}

// splitText divides plain text into token-bounded chunks.
//
// A character window is derived from an estimated chars-per-token ratio; within
// each window the split point is searched backward by break-point priority.
// When a candidate still exceeds the budget in actual tokens, the window
// shrinks proportionally and the search retries. A single leading character is
// the forward-progress fallback.
func (c *Chunker) splitText(text string, maxTokens int) ([]string, error) {
	total, err := c.count(text)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens: %w", err)
	}
	if total <= maxTokens {
		return []string{text}, nil
	}

	ratio, err := c.charsPerToken(text)
	if err != nil {
		return nil, err
	}

	var chunks []string
	remaining := text
	for remaining != "" {
		n, err := c.count(remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to count tokens: %w", err)
		}
		if n <= maxTokens {
			chunks = append(chunks, remaining)
			break
		}

		chunk, err := c.nextChunk(remaining, maxTokens, ratio)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		remaining = remaining[len(chunk):]
	}

	return chunks, nil
}

// charsPerToken estimates the average character-to-token ratio from a sample
// prefix of the text. The estimate is clamped to at least one char per token.
func (c *Chunker) charsPerToken(text string) (float64, error) {
	sample := text
	if len(sample) > sampleChars {
		sample = truncateAtRuneBoundary(sample, sampleChars)
	}
	n, err := c.count(sample)
	if err != nil {
		return 0, fmt.Errorf("failed to count sample tokens: %w", err)
	}
	if n == 0 {
		return 1, nil
	}
	ratio := float64(len(sample)) / float64(n)
	if ratio < 1 {
		ratio = 1
	}
	return ratio, nil
}

// nextChunk carves one chunk off the front of text. The text is known to
// exceed maxTokens.
func (c *Chunker) nextChunk(text string, maxTokens int, ratio float64) (string, error) {
	window := int(float64(maxTokens) * ratio)
	if window > len(text) {
		window = len(text)
	}

	for {
		if window < 1 {
			// Forward-progress fallback: a single character always fits or the
			// budget is unreachable anyway.
			_, size := utf8.DecodeRuneInString(text)
			return text[:size], nil
		}

		candidate := truncateAtRuneBoundary(text, window)
		cut := findBreakPoint(candidate)
		if cut <= 0 || cut >= len(text) {
			cut = len(candidate)
		}
		chunk := text[:cut]

		n, err := c.count(chunk)
		if err != nil {
			return "", fmt.Errorf("failed to count tokens: %w", err)
		}
		if n <= maxTokens {
			return chunk, nil
		}

		// Shrink proportionally to how far over budget the candidate landed.
		shrunk := int(float64(window) * float64(maxTokens) / float64(n))
		if shrunk >= window {
			shrunk = window - 1
		}
		window = shrunk
	}
}

// findBreakPoint returns the byte offset just after the best break point in
// candidate, or 0 if none was found. Break points are searched in priority
// order: paragraph breaks, sentence terminators, phrase delimiters, any
// whitespace.
func findBreakPoint(candidate string) int {
	if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := strings.LastIndex(candidate, "\n"); idx > 0 {
		return idx + 1
	}

	if cut := lastDelimiter(candidate, sentenceTerminators, false); cut > 0 {
		return cut
	}
	if cut := lastDelimiter(candidate, phraseDelimiters, true); cut > 0 {
		return cut
	}

	runes := []rune(candidate)
	offset := len(candidate)
	for i := len(runes) - 1; i > 0; i-- {
		offset -= utf8.RuneLen(runes[i])
		if unicode.IsSpace(runes[i]) {
			return offset + utf8.RuneLen(runes[i])
		}
	}
	return 0
}

// lastDelimiter finds the byte offset just after the last delimiter rune in
// candidate. When requireSpaceForASCII is set, ASCII delimiters only qualify
// when followed by whitespace.
func lastDelimiter(candidate string, set map[rune]bool, requireSpaceForASCII bool) int {
	runes := []rune(candidate)
	offset := len(candidate)
	for i := len(runes) - 1; i > 0; i-- {
		r := runes[i]
		offset -= utf8.RuneLen(r)
		if !set[r] {
			continue
		}
		if requireSpaceForASCII && asciiDelimiters[r] {
			if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
				continue
			}
		}
		return offset + utf8.RuneLen(r)
	}
	return 0
}

// truncateAtRuneBoundary returns the longest prefix of text that is at most
// maxBytes bytes and does not split a UTF-8 sequence.
func truncateAtRuneBoundary(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
