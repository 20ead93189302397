// Package enhance calls an optional context service that adds insights and
// hashtags to a finished artifact.
package enhance

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

	"github.com/kalambet/autopost/internal/content"
)

const defaultTimeout = 30 * time.Second

// Client implements pipeline.ContextEnhancer over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type enhanceRequest struct {
	Topic       string      `json:"topic"`
	ContentType string      `json:"content_type"`
	Content     string      `json:"content"`
	Sources     []sourceRef `json:"sources"`
	Task        string      `json:"task"`
}

type enhanceResponse struct {
	EnhancedContent string   `json:"enhanced_content"`
	Insights        []string `json:"insights"`
	Hashtags        []string `json:"hashtags"`
}

// Enhance returns a copy of a with the service's insights and hashtags
// merged in. The body is replaced only when the service returns one that
// still fits the post limit.
func (c *Client) Enhance(ctx context.Context, a *content.Artifact, topic string, sources []content.SourceDoc) (*content.Artifact, error) {
	if a == nil {
		return nil, errors.New("nil artifact")
	}
	refs := make([]sourceRef, 0, len(sources))
	for _, s := range sources {
		refs = append(refs, sourceRef{Title: s.Title, URL: s.URL})
	}
	body, err := json.Marshal(enhanceRequest{
		Topic:       topic,
		ContentType: string(a.Kind),
		Content:     a.BodyText,
		Sources:     refs,
		Task:        "enhance_content",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enhance", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enhance request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("enhance: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var er enhanceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding enhance response: %w", err)
	}

	out := a.Clone()
	if text := strings.TrimSpace(er.EnhancedContent); text != "" && len([]rune(text)) <= content.MaxBodyRunes {
		out.BodyText = text
	}
	out.Insights = content.MergeInsights(out.Insights, er.Insights, content.MaxInsights)
	out.Hashtags = content.MergeHashtags(out.Hashtags, er.Hashtags, content.MaxHashtags)
	return out, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("enhancer not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enhancer health: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
