package store

import (
	"encoding/json"
	"fmt"

	"github.com/archon-ai/pathways/pathway"
)

// Document is the persisted layout: userId to pathwayName to stored pathway.
type Document map[string]map[string]*StoredPathway

// PromptEntry is one stored prompt: either a legacy bare string or a
// structured object. A pathway is treated as legacy when any of its entries
// is; mixed arrays predate the structured format.
type PromptEntry struct {
	Legacy bool `json:"-"`

	Name              string   `json:"name,omitempty"`
	Prompt            string   `json:"prompt"`
	Files             []string `json:"files,omitempty"`
	CortexPathwayName string   `json:"cortexPathwayName,omitempty"`
}

// UnmarshalJSON accepts both the legacy bare-string form and the structured
// object form.
func (p *PromptEntry) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		p.Legacy = true
		p.Prompt = legacy
		return nil
	}

	type structured PromptEntry
	var obj structured
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("prompt entry is neither a string nor an object: %w", err)
	}
	*p = PromptEntry(obj)
	return nil
}

// MarshalJSON preserves the form the entry was stored in.
func (p PromptEntry) MarshalJSON() ([]byte, error) {
	if p.Legacy {
		return json.Marshal(p.Prompt)
	}
	type structured PromptEntry
	return json.Marshal(structured(p))
}

// StoredPathway is the persisted shape of a user-authored pathway: the
// compiled-pathway fields minus runtime closures, plus the write-capability
// secret and display name.
type StoredPathway struct {
	Secret           string        `json:"secret"`
	DisplayName      string        `json:"displayName,omitempty"`
	SystemPrompt     string        `json:"systemPrompt,omitempty"`
	Model            string        `json:"model,omitempty"`
	UseChatHistory   bool          `json:"useChatHistory,omitempty"`
	List             bool          `json:"list,omitempty"`
	JSON             bool          `json:"json,omitempty"`
	UseInputChunking bool          `json:"useInputChunking,omitempty"`
	InputFormat      string        `json:"inputFormat,omitempty"`
	Prompt           []PromptEntry `json:"prompt"`
}

// IsLegacy reports whether the pathway uses the legacy bare-string prompt
// form. Detection is all-or-nothing: one legacy entry makes the whole
// pathway legacy.
func (sp *StoredPathway) IsLegacy() bool {
	for _, entry := range sp.Prompt {
		if entry.Legacy {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers never share mutable state with the
// store's cache.
func (sp *StoredPathway) clone() *StoredPathway {
	cp := *sp
	cp.Prompt = make([]PromptEntry, len(sp.Prompt))
	for i, entry := range sp.Prompt {
		cp.Prompt[i] = entry
		cp.Prompt[i].Files = append([]string(nil), entry.Files...)
	}
	return &cp
}

// Materialize converts the stored shape into an executable pathway. Each
// entry becomes a message-list prompt; file hashes bubble up de-duplicated to
// the pathway for the file-resolution collaborator.
func (sp *StoredPathway) Materialize(name string) *pathway.Pathway {
	pw := &pathway.Pathway{
		Name:             name,
		DisplayName:      sp.DisplayName,
		Model:            sp.Model,
		List:             sp.List,
		JSON:             sp.JSON,
		UseInputChunking: sp.UseInputChunking,
		InputFormat:      sp.InputFormat,
	}

	seen := make(map[string]struct{})
	for i, entry := range sp.Prompt {
		promptName := entry.Name
		if promptName == "" {
			promptName = fmt.Sprintf("%s-%d", name, i+1)
		}

		var messages []pathway.Message
		if sp.SystemPrompt != "" {
			messages = append(messages, pathway.Message{Role: "system", Content: sp.SystemPrompt})
		}
		if sp.UseChatHistory {
			messages = append(messages, pathway.Message{Role: "user", Content: pathway.PlaceholderChatHistory})
		}
		messages = append(messages, pathway.Message{
			Role:    "user",
			Content: pathway.PlaceholderText + "\n\n" + entry.Prompt,
		})

		pw.Prompts = append(pw.Prompts, &pathway.Prompt{
			Name:       promptName,
			Messages:   messages,
			FileHashes: append([]string(nil), entry.Files...),
		})

		for _, hash := range entry.Files {
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			pw.FileHashes = append(pw.FileHashes, hash)
		}
	}
	return pw
}
