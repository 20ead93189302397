package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/autopost/internal/retry"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "anthropic/claude-3.5-haiku"
	openRouterTimeout      = 90 * time.Second
)

// OpenRouter is an Engine backed by the OpenRouter chat completions API.
type OpenRouter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewOpenRouter creates an OpenRouter engine.
func NewOpenRouter(apiKey, model string) *OpenRouter {
	if model == "" {
		model = DefaultOpenRouterModel
	}
	return &OpenRouter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    DefaultOpenRouterURL,
		httpClient: &http.Client{Timeout: openRouterTimeout},
		retry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			Multiplier:     2,
			Retryable:      isRateLimit,
		},
	}
}

// WithBaseURL points the engine at a different API root (used by tests).
func (c *OpenRouter) WithBaseURL(u string) *OpenRouter {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *OpenRouter) Name() string { return "openrouter/" + c.model }

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string  `json:"name"`
	Strict bool    `json:"strict"`
	Schema *Schema `json:"schema"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *OpenRouter) Chat(ctx context.Context, messages []Message, schema *Schema) (string, error) {
	cr := completionRequest{Model: c.model, Messages: messages}
	if schema != nil {
		cr.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaSpec{Name: "content", Schema: schema},
		}
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var out string
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.doChat(ctx, body)
		return err
	})
	return out, err
}

func (c *OpenRouter) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

// Ping lists models to verify the key is accepted.
func (c *OpenRouter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openrouter models: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/kalambet/autopost")
	req.Header.Set("X-Title", "autopost")
}
