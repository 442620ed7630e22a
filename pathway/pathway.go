// Package pathway defines the compiled pathway data model, prompt compilation,
// and response parsing.
//
// A Pathway is a declarative recipe: an ordered list of prompts, an input
// parameter schema, a target model, and flags controlling chunking and dispatch.
// Pathways are immutable after construction; the engine borrows them read-only.
package pathway

import (
	"context"
	goerrors "errors"
	"strings"

	"github.com/archon-ai/pathways/errors"
)

// Template placeholders recognized by the compiler.
const (
	// PlaceholderText marks the input-text slot in a prompt template.
	PlaceholderText = "{{text}}"

	// PlaceholderPreviousResult marks the previous-result slot.
	PlaceholderPreviousResult = "{{previousResult}}"

	// PlaceholderChatHistory marks where conversation history is spliced in.
	PlaceholderChatHistory = "{{chatHistory}}"
)

// Message is one entry of a message-list prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is one step in a pathway: either a raw template string or a message
// list. FileHashes reference uploaded artifacts resolved by the external file
// service.
type Prompt struct {
	// Name identifies the prompt for observability.
	Name string

	// Template is the raw template form. Ignored when Messages is non-empty.
	Template string

	// Messages is the message-list form.
	Messages []Message

	// SaveResultTo, when set, stores the prompt's result into the request's
	// context blob under this key.
	SaveResultTo string

	// FileHashes are opaque references to uploaded artifacts.
	FileHashes []string
}

// UsesTextInput reports whether the prompt mentions the text placeholder.
func (p *Prompt) UsesTextInput() bool {
	return p.mentions(PlaceholderText)
}

// UsesPreviousResult reports whether the prompt mentions the previous-result
// placeholder.
func (p *Prompt) UsesPreviousResult() bool {
	return p.mentions(PlaceholderPreviousResult)
}

func (p *Prompt) mentions(placeholder string) bool {
	if strings.Contains(p.Template, placeholder) {
		return true
	}
	for _, m := range p.Messages {
		if strings.Contains(m.Content, placeholder) {
			return true
		}
	}
	return false
}

// InputParam declares one entry of a pathway's input-parameter schema.
type InputParam struct {
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`
}

// Invoker starts pathway resolutions. The engine implements it; custom
// resolvers receive it so they can run nested invocations.
type Invoker interface {
	// Resolve runs a compiled pathway with the given arguments.
	Resolve(ctx context.Context, pw *Pathway, args map[string]any) (any, error)

	// ResolveName runs the named pathway with the given arguments.
	ResolveName(ctx context.Context, name string, args map[string]any) (any, error)
}

// ResolverFunc is a custom resolver bound to a pathway. It may run nested
// engine invocations through inv; nested invocations share the request's
// context blob via the contextId argument.
type ResolverFunc func(ctx context.Context, inv Invoker, pw *Pathway, args map[string]any) (any, error)

// ParserFunc converts raw model output into the pathway's declared shape.
type ParserFunc func(raw string) (any, error)

// Pathway is a compiled request recipe. Immutable after Build.
type Pathway struct {
	Name        string
	DisplayName string

	// Prompts is the ordered prompt list. May be empty only when Resolver is set.
	Prompts []*Prompt

	// Inputs is the input-parameter schema, name to declared type and default.
	Inputs map[string]InputParam

	// Model identifies the target model plugin.
	Model string

	// Chunking and dispatch flags.
	UseInputChunking            bool
	UseInputSummarization       bool
	UseParallelChunkProcessing  bool
	UseParallelPromptProcessing bool

	// Output shape flags.
	List bool
	JSON bool

	// Advisory flags; carried for the outer surfaces, not enforced by the engine.
	EnableGraphQLCache           bool
	EmulateOpenAIChatModel       bool
	EmulateOpenAICompletionModel bool
	UseSingleTokenStream         bool
	EnableDuplicateRequests      bool
	RequestLoggingDisabled       bool
	Disabled                     bool
	IsMutation                   bool

	// InputChunkSize caps the per-chunk token budget when positive.
	InputChunkSize int

	// TimeoutSeconds bounds the whole resolution; 0 means the config default.
	TimeoutSeconds int

	// Temperature overrides the plugin default when non-nil.
	Temperature *float64

	// InputFormat is "text" or "html"; empty means auto-detect.
	InputFormat string

	// Format names the tuple of fields for list-of-records output,
	// e.g. "title description".
	Format string

	// FileHashes is the de-duplicated union of all prompt file hashes, for the
	// external file-resolution collaborator.
	FileHashes []string

	// Parser overrides the default response parsing when non-nil.
	Parser ParserFunc `json:"-"`

	// Resolver replaces the default prompt-sequencing resolution when non-nil.
	Resolver ResolverFunc `json:"-"`
}

// ErrNoPrompts is returned by Validate for a pathway with neither prompts nor
// a custom resolver.
var ErrNoPrompts = goerrors.New("pathway requires at least one prompt or a custom resolver")

// Validate checks the pathway's structural invariants.
func (pw *Pathway) Validate() error {
	if len(pw.Prompts) == 0 && pw.Resolver == nil {
		return errors.New("pathway", "Validate", ErrNoPrompts).WithKind(errors.KindInput)
	}
	return nil
}

// FormatFields returns the field names declared by Format, or nil.
func (pw *Pathway) FormatFields() []string {
	if pw.Format == "" {
		return nil
	}
	return strings.Fields(pw.Format)
}

// Timeout flags whether the pathway declares its own resolution timeout.
func (pw *Pathway) HasTimeout() bool {
	return pw.TimeoutSeconds > 0
}
