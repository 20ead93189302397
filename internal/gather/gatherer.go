package gather

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/autopost/internal/content"
)

const (
	DefaultConcurrency = 4
	DefaultMaxAge      = 14 * 24 * time.Hour
	DefaultRPS         = 2.0
)

// queryBackend is implemented by backends that already search by topic, so
// their results are kept even without a literal term match.
type queryBackend interface {
	queryMatched()
}

func (*Reddit) queryMatched()     {}
func (*HackerNews) queryMatched() {}

// Gatherer collects source documents for a topic from several backends and
// enriches the best ones with their full text.
type Gatherer struct {
	catalog     Catalog
	backends    []Backend
	fetcher     *Fetcher
	concurrency int
	maxAge      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Gatherer.
type Option func(*Gatherer)

func WithConcurrency(n int) Option          { return func(g *Gatherer) { g.concurrency = n } }
func WithMaxAge(d time.Duration) Option     { return func(g *Gatherer) { g.maxAge = d } }
func WithLogger(l *slog.Logger) Option      { return func(g *Gatherer) { g.logger = l } }
func WithClock(now func() time.Time) Option { return func(g *Gatherer) { g.now = now } }

// New creates a Gatherer. fetcher may be nil, in which case documents keep
// the text their backend returned.
func New(catalog Catalog, backends []Backend, fetcher *Fetcher, opts ...Option) *Gatherer {
	g := &Gatherer{
		catalog:     catalog,
		backends:    backends,
		fetcher:     fetcher,
		concurrency: DefaultConcurrency,
		maxAge:      DefaultMaxAge,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// FromCatalog wires the standard backends described by the catalog.
func FromCatalog(c Catalog, client *http.Client, rps float64, opts ...Option) *Gatherer {
	var backends []Backend
	if len(c.Feeds) > 0 {
		backends = append(backends, NewRSS(c.Feeds, client))
	}
	if len(c.Subreddits) > 0 {
		backends = append(backends, NewReddit("", c.Subreddits, client))
	}
	if c.HackerNews {
		backends = append(backends, NewHackerNews("", client))
	}
	return New(c, backends, NewFetcher(client, rps), opts...)
}

type scored struct {
	doc   content.SourceDoc
	score int
}

// Gather returns up to maxSources relevant documents, best first. A failing
// backend is logged and skipped; an error is returned only when every
// backend fails.
func (g *Gatherer) Gather(ctx context.Context, topic string, maxSources int) ([]content.SourceDoc, error) {
	if maxSources <= 0 {
		return nil, nil
	}
	terms := g.catalog.Terms(topic)
	want := maxSources * 2

	var (
		mu      sync.Mutex
		results []scored
		errs    []error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, b := range g.backends {
		eg.Go(func() error {
			docs, err := b.Search(egCtx, topic, terms, want)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.logger.Warn("source backend failed", "backend", b.Name(), "topic", topic, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
				return nil
			}
			_, matched := b.(queryBackend)
			for _, d := range docs {
				s := relevance(d, terms)
				if s == 0 && !matched {
					continue
				}
				results = append(results, scored{doc: d, score: s})
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(g.backends) > 0 && len(errs) == len(g.backends) {
		return nil, errors.Join(errs...)
	}

	candidates := g.rank(results)
	if len(candidates) > want {
		candidates = candidates[:want]
	}
	g.enrich(ctx, candidates)

	if len(candidates) > maxSources {
		candidates = candidates[:maxSources]
	}
	g.logger.Debug("sources gathered", "topic", topic, "count", len(candidates))
	return candidates, nil
}

// rank drops stale and duplicate documents and orders the rest by score,
// then recency.
func (g *Gatherer) rank(in []scored) []content.SourceDoc {
	cutoff := g.now().Add(-g.maxAge)
	best := map[string]scored{}
	var order []string
	for _, s := range in {
		if s.doc.PublishedAt != nil && g.maxAge > 0 && s.doc.PublishedAt.Before(cutoff) {
			continue
		}
		key := urlKey(s.doc.URL)
		if key == "" {
			key = "title:" + strings.ToLower(s.doc.Title)
		}
		prev, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || s.score > prev.score {
			best[key] = s
		}
	}

	list := make([]scored, 0, len(order))
	for _, k := range order {
		list = append(list, best[k])
	}
	slices.SortStableFunc(list, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(published(b.doc), published(a.doc))
	})

	out := make([]content.SourceDoc, len(list))
	for i, s := range list {
		out[i] = s.doc
	}
	return out
}

// enrich replaces short snippets with the fetched page text. Fetch failures
// keep the snippet.
func (g *Gatherer) enrich(ctx context.Context, docs []content.SourceDoc) {
	if g.fetcher == nil {
		return
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range docs {
		if docs[i].URL == "" {
			continue
		}
		eg.Go(func() error {
			text, err := g.fetcher.Text(egCtx, docs[i].URL)
			if err != nil {
				g.logger.Debug("fetching source text failed", "url", docs[i].URL, "error", err)
				return nil
			}
			if len(text) > len(docs[i].Text) {
				docs[i].Text = text
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// relevance counts term hits, weighting the title double.
func relevance(d content.SourceDoc, terms []string) int {
	title := strings.ToLower(d.Title)
	text := strings.ToLower(d.Text)
	score := 0
	for _, t := range terms {
		if strings.Contains(title, t) {
			score += 2
		}
		if strings.Contains(text, t) {
			score++
		}
	}
	return score
}

func urlKey(u string) string {
	u = strings.TrimSpace(strings.ToLower(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSuffix(u, "/")
}

func published(d content.SourceDoc) int64 {
	if d.PublishedAt == nil {
		return 0
	}
	return d.PublishedAt.Unix()
}
