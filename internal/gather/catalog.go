package gather

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog lists where sources come from and how topics expand to search
// terms. It is loaded from a YAML file.
type Catalog struct {
	Feeds      []string            `yaml:"feeds"`
	Subreddits []string            `yaml:"subreddits"`
	HackerNews bool                `yaml:"hackernews"`
	Keywords   map[string][]string `yaml:"keywords"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		Feeds: []string{
			"https://feeds.feedburner.com/oreilly/radar",
			"https://techcrunch.com/feed/",
			"https://www.wired.com/feed/rss",
			"https://www.theverge.com/rss/index.xml",
		},
		Subreddits: []string{"technology", "MachineLearning", "programming"},
		HackerNews: true,
		Keywords: map[string][]string{
			"artificial intelligence": {"ai", "llm", "machine learning"},
			"ai ethics":               {"bias", "fairness", "alignment", "regulation"},
			"quantum computing":       {"qubit", "quantum"},
		},
	}
}

// LoadCatalog reads a catalog file. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return c, nil
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "into": true,
	"about": true, "of": true, "in": true, "on": true, "to": true, "a": true, "an": true,
}

// Terms returns the lower-cased search terms for topic: the topic itself,
// its significant words, and any configured keyword expansion.
func (c Catalog) Terms(topic string) []string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	add(topic)
	for _, w := range strings.Fields(topic) {
		if len(w) >= 3 && !stopwords[w] {
			add(w)
		}
	}
	for k, extra := range c.Keywords {
		if strings.EqualFold(k, topic) {
			for _, e := range extra {
				add(e)
			}
		}
	}
	return out
}
