package gather

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 5 << 20

// maxTextRunes bounds the text kept per fetched document.
const maxTextRunes = 8000

// Fetcher downloads article pages and extracts their readable text.
// Requests share one rate limiter across goroutines.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher returns a Fetcher that issues at most rps requests per second.
// A non-positive rps disables limiting.
func NewFetcher(client *http.Client, rps float64) *Fetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Fetcher{client: client, limiter: rate.NewLimiter(limit, 1)}
}

// Text fetches url and returns its main text. HTML and PDF bodies are
// supported; anything else is returned as plain text.
func (f *Fetcher) Text(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", host(url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", host(url), resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", host(url), err)
	}

	ct := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(ct, "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-")):
		text, err = pdfText(body)
	case strings.Contains(ct, "html") || ct == "":
		text, err = pageText(body)
	default:
		text = string(body)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", host(url), err)
	}
	return clip(collapse(text), maxTextRunes), nil
}

func pageText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, header, footer, aside, noscript, form").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var parts []string
	root.Find("p, li, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return root.Text(), nil
	}
	return strings.Join(parts, "\n"), nil
}

func pdfText(body []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", err
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rd); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
