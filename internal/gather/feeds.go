package gather

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/kalambet/autopost/internal/content"
)

const userAgent = "autopost/1.0 (+https://github.com/kalambet/autopost)"

// Backend searches one kind of source for a topic.
type Backend interface {
	Name() string
	Search(ctx context.Context, topic string, terms []string, limit int) ([]content.SourceDoc, error)
}

// RSS reads a fixed list of RSS 2.0 or Atom feeds. Relevance filtering is
// left to the Gatherer.
type RSS struct {
	feeds  []string
	client *http.Client
}

func NewRSS(feeds []string, client *http.Client) *RSS {
	return &RSS{feeds: feeds, client: client}
}

func (r *RSS) Name() string { return "rss" }

func (r *RSS) Search(ctx context.Context, _ string, _ []string, limit int) ([]content.SourceDoc, error) {
	var (
		out  []content.SourceDoc
		errs []string
	)
	for _, feed := range r.feeds {
		docs, err := r.fetchFeed(ctx, feed)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		out = append(out, docs...)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("all feeds failed: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

type rssDoc struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	// Atom
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomEntry struct {
	Title string `xml:"title"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
	Summary   string `xml:"summary"`
	Content   string `xml:"content"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

func (r *RSS) fetchFeed(ctx context.Context, feedURL string) ([]content.SourceDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", feedURL, resp.Status)
	}
	return parseFeed(io.LimitReader(resp.Body, maxBodyBytes), feedURL)
}

// parseFeed decodes an RSS 2.0 or Atom document, honouring its declared
// character set.
func parseFeed(rd io.Reader, origin string) ([]content.SourceDoc, error) {
	dec := xml.NewDecoder(rd)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var doc rssDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", origin, err)
	}

	var out []content.SourceDoc
	for _, it := range doc.Channel.Items {
		out = append(out, content.SourceDoc{
			Title:       strings.TrimSpace(it.Title),
			URL:         strings.TrimSpace(it.Link),
			Text:        htmlText(it.Description),
			PublishedAt: parseTime(it.PubDate),
			Origin:      "rss:" + host(origin),
		})
	}
	for _, e := range doc.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		text := e.Content
		if text == "" {
			text = e.Summary
		}
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		out = append(out, content.SourceDoc{
			Title:       strings.TrimSpace(e.Title),
			URL:         strings.TrimSpace(link),
			Text:        htmlText(text),
			PublishedAt: parseTime(published),
			Origin:      "atom:" + host(origin),
		})
	}
	return out, nil
}

// htmlText strips markup from an HTML fragment.
func htmlText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z0700",
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}
