// Package publish posts artifacts to LinkedIn.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/pipeline"
)

const (
	DefaultBaseURL = "https://api.linkedin.com"
	defaultTimeout = 30 * time.Second
	ugcShare       = "com.linkedin.ugc.ShareContent"
	memberVis      = "com.linkedin.ugc.MemberNetworkVisibility"
	uploadHTTPReq  = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
)

// LinkedIn publishes text, article and image posts through the UGC API.
// It never retries; failures are classified for the orchestrator.
type LinkedIn struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client

	mu     sync.Mutex
	author string
}

// NewLinkedIn creates a publisher. When author is empty it is resolved from
// the token's userinfo on first use.
func NewLinkedIn(baseURL, accessToken, author string) *LinkedIn {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &LinkedIn{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		author:      author,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
}

// Publish posts the artifact and returns the share URN.
func (l *LinkedIn) Publish(ctx context.Context, a *content.Artifact) (string, error) {
	if l.accessToken == "" {
		return "", &pipeline.PublishError{Kind: pipeline.Auth, Err: errors.New("no LinkedIn access token configured")}
	}
	author, err := l.authorURN(ctx)
	if err != nil {
		return "", err
	}

	share := map[string]any{
		"shareCommentary":    map[string]string{"text": a.Render()},
		"shareMediaCategory": "NONE",
	}
	switch {
	case len(a.Media) > 0:
		asset, err := l.uploadImage(ctx, author, a.Media, a.MediaKind)
		if err != nil {
			return "", err
		}
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]any{{
			"status": "READY",
			"media":  asset,
			"title":  map[string]string{"text": a.Title},
		}}
	case a.LinkURL != "":
		share["shareMediaCategory"] = "ARTICLE"
		share["media"] = []map[string]any{{
			"status":      "READY",
			"originalUrl": a.LinkURL,
			"title":       map[string]string{"text": a.Title},
		}}
	}

	post := map[string]any{
		"author":          author,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{ugcShare: share},
		"visibility":      map[string]string{memberVis: "PUBLIC"},
	}

	resp, err := l.do(ctx, http.MethodPost, l.baseURL+"/v2/ugcPosts", post)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.ID == "" {
		return "", &pipeline.PublishError{Kind: pipeline.Transport, Status: resp.StatusCode, Err: errors.New("post created but no id returned")}
	}
	return created.ID, nil
}

// Validate checks the access token by fetching the member's userinfo.
func (l *LinkedIn) Validate(ctx context.Context) error {
	if l.accessToken == "" {
		return &pipeline.PublishError{Kind: pipeline.Auth, Err: errors.New("no LinkedIn access token configured")}
	}
	_, err := l.fetchPersonURN(ctx)
	return err
}

func (l *LinkedIn) authorURN(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.author != "" {
		return l.author, nil
	}
	urn, err := l.fetchPersonURN(ctx)
	if err != nil {
		return "", err
	}
	l.author = urn
	return urn, nil
}

func (l *LinkedIn) fetchPersonURN(ctx context.Context) (string, error) {
	resp, err := l.do(ctx, http.MethodGet, l.baseURL+"/v2/userinfo", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Sub == "" {
		return "", &pipeline.PublishError{Kind: pipeline.Auth, Status: resp.StatusCode, Err: errors.New("userinfo returned no member id")}
	}
	return "urn:li:person:" + info.Sub, nil
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism map[string]struct {
			UploadURL string `json:"uploadUrl"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

func (l *LinkedIn) uploadImage(ctx context.Context, owner string, data []byte, mediaKind string) (string, error) {
	reg := map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   owner,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	}
	resp, err := l.do(ctx, http.MethodPost, l.baseURL+"/v2/assets?action=registerUpload", reg)
	if err != nil {
		return "", err
	}
	var rr registerUploadResponse
	err = json.NewDecoder(resp.Body).Decode(&rr)
	resp.Body.Close()
	uploadURL := rr.Value.UploadMechanism[uploadHTTPReq].UploadURL
	if err != nil || uploadURL == "" || rr.Value.Asset == "" {
		return "", &pipeline.PublishError{Kind: pipeline.Rejected, Err: errors.New("register upload returned no upload url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", &pipeline.PublishError{Kind: pipeline.Rejected, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)
	if mediaKind == "" {
		mediaKind = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mediaKind)

	up, err := l.httpClient.Do(req)
	if err != nil {
		return "", &pipeline.PublishError{Kind: pipeline.Transport, Err: fmt.Errorf("uploading image: %w", err)}
	}
	defer up.Body.Close()
	if err := classify(up); err != nil {
		return "", err
	}
	return rr.Value.Asset, nil
}

// do sends a JSON request and returns the response when it is 2xx;
// otherwise the response is closed and a *pipeline.PublishError returned.
func (l *LinkedIn) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &pipeline.PublishError{Kind: pipeline.Rejected, Err: fmt.Errorf("marshaling request: %w", err)}
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, &pipeline.PublishError{Kind: pipeline.Rejected, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &pipeline.PublishError{Kind: pipeline.Transport, Err: err}
	}
	if err := classify(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// classify maps an HTTP status to the publish error taxonomy.
func classify(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("linkedin: %s", strings.TrimSpace(string(msg)))
	pe := &pipeline.PublishError{Status: resp.StatusCode, Err: err}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		pe.Kind = pipeline.Auth
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Kind = pipeline.RateLimit
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		pe.Kind = pipeline.Transport
	default:
		pe.Kind = pipeline.Rejected
	}
	return pe
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
