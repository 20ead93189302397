// Package llm talks to the language model that writes post content.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON object a structured chat response must match.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one field of a Schema. Items is set for arrays.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// Engine is a chat-capable model backend.
type Engine interface {
	// Chat returns the assistant reply. When schema is non-nil the reply is
	// requested as JSON matching it; callers must still validate the output.
	Chat(ctx context.Context, messages []Message, schema *Schema) (string, error)
	// Ping reports whether the backend is reachable and configured.
	Ping(ctx context.Context) error
	// Name identifies the backend and model for logs.
	Name() string
}

// Config selects and configures an Engine.
type Config struct {
	Provider        string
	OllamaBaseURL   string
	Model           string
	OpenRouterModel string
	OpenRouterKey   string
}

// New builds the engine named by cfg.Provider ("ollama" or "openrouter").
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return NewOllama(cfg.OllamaBaseURL, cfg.Model), nil
	case "openrouter":
		if cfg.OpenRouterKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key")
		}
		return NewOpenRouter(cfg.OpenRouterKey, cfg.OpenRouterModel), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
