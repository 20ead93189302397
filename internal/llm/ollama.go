package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/autopost/internal/retry"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1:8b"
)

// Ollama is an Engine backed by a local Ollama server.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	retry      retry.Policy
}

// NewOllama creates an engine for the given server and model.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		retry:      retry.Policy{MaxAttempts: 2, InitialBackoff: time.Second, Multiplier: 2},
	}
}

func (o *Ollama) Name() string { return "ollama/" + o.model }

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping checks the server is up and has the configured model pulled.
func (o *Ollama) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama tags: unexpected status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decoding tags: %w", err)
	}
	for _, m := range tags.Models {
		// Ollama may report "llama3.1:latest"; match without the tag suffix.
		if m.Name == o.model || strings.HasPrefix(m.Name, o.model+":") {
			return nil
		}
	}
	return fmt.Errorf("model %s is not pulled (run: ollama pull %s)", o.model, o.model)
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

func (o *Ollama) Chat(ctx context.Context, messages []Message, schema *Schema) (string, error) {
	cr := ollamaChatRequest{Model: o.model, Messages: messages}
	if schema != nil {
		cr.Format = schema
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return "", err
	}

	var out string
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating chat request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("chat request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}

		var result ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return retry.Permanent(fmt.Errorf("decoding chat response: %w", err))
		}
		out = result.Message.Content
		return nil
	})
	return out, err
}
