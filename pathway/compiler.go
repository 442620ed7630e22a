package pathway

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/archon-ai/pathways/tokenizer"
)

// CompiledPrompt is the result of compiling a prompt against a variable set:
// the rendered messages plus token accounting and input-slot detection.
type CompiledPrompt struct {
	Messages           []Message
	TokenLength        int
	UsesTextInput      bool
	UsesPreviousResult bool
}

// Compiler renders prompt templates and accounts their token length.
type Compiler struct {
	codec tokenizer.Codec
}

// NewCompiler creates a Compiler backed by codec.
func NewCompiler(codec tokenizer.Codec) *Compiler {
	return &Compiler{codec: codec}
}

// renderPasses bounds nested variable resolution, matching the depth a prompt
// author can reasonably rely on.
const renderPasses = 3

var placeholderPattern = regexp.MustCompile(`\{\{[a-zA-Z_][a-zA-Z0-9_]*\}\}`)

// Render substitutes {{name}} placeholders in template from vars. Unknown
// placeholders render as empty strings so a prompt compiled against the empty
// input yields its fixed overhead.
func Render(template string, vars map[string]string) string {
	result := template
	for pass := 0; pass < renderPasses; pass++ {
		changed := false
		for key, value := range vars {
			placeholder := "{{" + key + "}}"
			if strings.Contains(result, placeholder) {
				result = strings.ReplaceAll(result, placeholder, value)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return placeholderPattern.ReplaceAllString(result, "")
}

// Compile renders prompt against vars and computes its token length.
//
// A template prompt compiles to a single user message; a message-list prompt
// renders each message content in place. Messages consisting solely of the
// chat-history placeholder are dropped when no history is supplied.
func (c *Compiler) Compile(prompt *Prompt, vars map[string]string) (*CompiledPrompt, error) {
	var messages []Message

	switch {
	case len(prompt.Messages) > 0:
		messages = make([]Message, 0, len(prompt.Messages))
		for _, m := range prompt.Messages {
			rendered := Render(m.Content, vars)
			if strings.TrimSpace(m.Content) == PlaceholderChatHistory && rendered == "" {
				continue
			}
			messages = append(messages, Message{Role: m.Role, Content: rendered})
		}
	default:
		messages = []Message{{Role: "user", Content: Render(prompt.Template, vars)}}
	}

	total := 0
	for _, m := range messages {
		n, err := c.codec.Count(m.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to count prompt tokens: %w", err)
		}
		total += n
	}

	return &CompiledPrompt{
		Messages:           messages,
		TokenLength:        total,
		UsesTextInput:      prompt.UsesTextInput(),
		UsesPreviousResult: prompt.UsesPreviousResult(),
	}, nil
}

// Overhead compiles prompt against the empty input, yielding the fixed token
// overhead the engine subtracts from the model context window.
func (c *Compiler) Overhead(prompt *Prompt, vars map[string]string) (int, error) {
	empty := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		empty[k] = v
	}
	empty["text"] = ""
	empty["previousResult"] = ""

	cp, err := c.Compile(prompt, empty)
	if err != nil {
		return 0, err
	}
	return cp.TokenLength, nil
}

// ChunkMaxTokens derives the per-chunk input budget from the plugin's prompt
// ratio and context window, less the largest fixed prompt overhead:
//
//	chunkMaxTokens = promptRatio * modelContextWindow - maxPromptOverhead - 1
//
// When a prompt consumes both the input text and the previous result, the two
// share the window, so the budget halves.
func ChunkMaxTokens(promptRatio float64, modelContextWindow, maxPromptOverhead int, dualInput bool) int {
	budget := int(promptRatio*float64(modelContextWindow)) - maxPromptOverhead - 1
	if dualInput {
		budget /= 2
	}
	return budget
}
