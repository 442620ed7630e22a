package pathway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archon-ai/pathways/errors"
)

func TestPrompt_UsesTextInput(t *testing.T) {
	p := &Prompt{Template: "Summarize: {{text}}"}
	assert.True(t, p.UsesTextInput())
	assert.False(t, p.UsesPreviousResult())
}

func TestPrompt_UsesPreviousResult(t *testing.T) {
	p := &Prompt{Template: "Refine {{previousResult}}"}
	assert.False(t, p.UsesTextInput())
	assert.True(t, p.UsesPreviousResult())
}

func TestPrompt_MessageListDetection(t *testing.T) {
	p := &Prompt{Messages: []Message{
		{Role: "system", Content: "You are precise."},
		{Role: "user", Content: "{{text}}\n\nTranslate to {{lang}}"},
	}}
	assert.True(t, p.UsesTextInput())
	assert.False(t, p.UsesPreviousResult())
}

func TestPathway_ValidateRequiresPromptOrResolver(t *testing.T) {
	pw := &Pathway{Name: "empty"}
	err := pw.Validate()
	assert.ErrorIs(t, err, ErrNoPrompts)
	assert.True(t, errors.IsInput(err))
}

func TestPathway_ValidateWithPrompt(t *testing.T) {
	pw := &Pathway{Name: "chat", Prompts: []*Prompt{{Template: "{{text}}"}}}
	assert.NoError(t, pw.Validate())
}

func TestPathway_ValidateWithResolver(t *testing.T) {
	pw := &Pathway{
		Name: "custom",
		Resolver: func(ctx context.Context, inv Invoker, pw *Pathway, args map[string]any) (any, error) {
			return nil, nil
		},
	}
	assert.NoError(t, pw.Validate())
}

func TestPathway_FormatFields(t *testing.T) {
	pw := &Pathway{Format: "title description url"}
	assert.Equal(t, []string{"title", "description", "url"}, pw.FormatFields())

	assert.Nil(t, (&Pathway{}).FormatFields())
}
