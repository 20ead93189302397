package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/autopost/internal/content"
)

const (
	DefaultRedditURL = "https://www.reddit.com"
	DefaultHNURL     = "https://hn.algolia.com/api/v1"
)

func getJSON(ctx context.Context, client *http.Client, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", host(u), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", host(u), resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", host(u), err)
	}
	return nil
}

// Reddit searches subreddits through the public JSON listing API.
type Reddit struct {
	baseURL    string
	subreddits []string
	client     *http.Client
}

func NewReddit(baseURL string, subreddits []string, client *http.Client) *Reddit {
	if baseURL == "" {
		baseURL = DefaultRedditURL
	}
	return &Reddit{baseURL: strings.TrimRight(baseURL, "/"), subreddits: subreddits, client: client}
}

func (r *Reddit) Name() string { return "reddit" }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title      string  `json:"title"`
				Selftext   string  `json:"selftext"`
				URL        string  `json:"url"`
				Permalink  string  `json:"permalink"`
				CreatedUTC float64 `json:"created_utc"`
				Subreddit  string  `json:"subreddit"`
				Over18     bool    `json:"over_18"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *Reddit) Search(ctx context.Context, topic string, _ []string, limit int) ([]content.SourceDoc, error) {
	q := url.Values{}
	q.Set("q", topic)
	q.Set("sort", "new")
	q.Set("t", "week")
	q.Set("limit", strconv.Itoa(limit))

	path := "/search.json"
	if len(r.subreddits) > 0 {
		path = "/r/" + strings.Join(r.subreddits, "+") + "/search.json"
		q.Set("restrict_sr", "1")
	}

	var listing redditListing
	if err := getJSON(ctx, r.client, r.baseURL+path+"?"+q.Encode(), &listing); err != nil {
		return nil, err
	}

	out := make([]content.SourceDoc, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		p := c.Data
		if p.Over18 || p.Title == "" {
			continue
		}
		link := p.URL
		if link == "" || strings.Contains(link, "reddit.com/r/") {
			link = r.baseURL + p.Permalink
		}
		created := time.Unix(int64(p.CreatedUTC), 0).UTC()
		out = append(out, content.SourceDoc{
			Title:       p.Title,
			Text:        p.Selftext,
			URL:         link,
			PublishedAt: &created,
			Origin:      "reddit:r/" + p.Subreddit,
		})
	}
	return out, nil
}

// HackerNews searches stories through the Algolia HN API.
type HackerNews struct {
	baseURL string
	client  *http.Client
}

func NewHackerNews(baseURL string, client *http.Client) *HackerNews {
	if baseURL == "" {
		baseURL = DefaultHNURL
	}
	return &HackerNews{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *HackerNews) Name() string { return "hackernews" }

type hnResponse struct {
	Hits []struct {
		ObjectID  string `json:"objectID"`
		Title     string `json:"title"`
		URL       string `json:"url"`
		StoryText string `json:"story_text"`
		CreatedAt string `json:"created_at"`
		Points    int    `json:"points"`
	} `json:"hits"`
}

func (h *HackerNews) Search(ctx context.Context, topic string, _ []string, limit int) ([]content.SourceDoc, error) {
	q := url.Values{}
	q.Set("query", topic)
	q.Set("tags", "story")
	q.Set("hitsPerPage", strconv.Itoa(limit))

	var res hnResponse
	if err := getJSON(ctx, h.client, h.baseURL+"/search_by_date?"+q.Encode(), &res); err != nil {
		return nil, err
	}

	out := make([]content.SourceDoc, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if hit.Title == "" {
			continue
		}
		link := hit.URL
		if link == "" {
			link = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}
		out = append(out, content.SourceDoc{
			Title:       hit.Title,
			Text:        htmlText(hit.StoryText),
			URL:         link,
			PublishedAt: parseTime(hit.CreatedAt),
			Origin:      "hackernews",
		})
	}
	return out, nil
}
