// Package plugin defines the model plugin contract and registry.
//
// A plugin adapts one upstream model family to the engine: it executes a
// compiled prompt and advertises the token geometry the chunker needs. Plugins
// are registered by model name; a pathway selects its plugin through the Model
// field.
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/archon-ai/pathways/pathway"
)

// Request carries one prompt dispatch to a plugin.
type Request struct {
	// Prompt is the fully rendered prompt.
	Prompt *pathway.CompiledPrompt

	// Temperature overrides the plugin default when non-nil.
	Temperature *float64

	// Params are the pathway arguments, passed through for plugins that read
	// model-specific knobs.
	Params map[string]any
}

// Plugin adapts one model family to the engine.
type Plugin interface {
	// Name returns the model name pathways select this plugin by.
	Name() string

	// Execute dispatches one prompt and returns the raw model output.
	Execute(ctx context.Context, req Request) (string, error)

	// PromptTokenRatio is the fraction of the context window available to the
	// prompt; the remainder is reserved for the completion.
	PromptTokenRatio() float64

	// ModelMaxTokens is the model context window in tokens.
	ModelMaxTokens() int

	// TruncateFromFront reports whether oversized input should lose its head
	// rather than its tail, for models that weight recent text.
	TruncateFromFront() bool
}

// Streamer is implemented by plugins that can emit incremental output. The
// engine prefers ExecuteStream over Execute for streaming requests with a
// single dispatch.
type Streamer interface {
	// ExecuteStream dispatches one prompt, calling emit for each output delta,
	// and returns the assembled output.
	ExecuteStream(ctx context.Context, req Request, emit func(delta string)) (string, error)
}

// Registry maps model names to plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p under its model name, replacing any previous registration.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	r.plugins[p.Name()] = p
	r.mu.Unlock()
}

// Get retrieves the plugin for model.
func (r *Registry) Get(model string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[model]
	return p, ok
}

// List returns the registered model names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
