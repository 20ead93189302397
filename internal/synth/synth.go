// Package synth turns research sources into a post artifact with a language
// model, falling back to deterministic templates when the model fails.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/llm"
)

// TitleHistory supplies recent post titles for a topic.
type TitleHistory interface {
	RecentTitles(ctx context.Context, topic string, n int) ([]string, error)
}

// Synthesizer implements pipeline.ContentSynthesizer.
type Synthesizer struct {
	engine  llm.Engine
	history TitleHistory
	logger  *slog.Logger
}

// New creates a Synthesizer. history may be nil.
func New(engine llm.Engine, history TitleHistory, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{engine: engine, history: history, logger: logger}
}

// draft is the union of every kind's response fields.
type draft struct {
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	Hashtags  []string           `json:"hashtags"`
	Takeaways []string           `json:"takeaways"`
	Slides    []content.Section  `json:"slides"`
	Sections  []content.Section  `json:"sections"`
	Chart     *content.ChartSpec `json:"chart"`
	Insights  []string           `json:"insights"`
}

// Synthesize asks the model for an artifact. When the model is unreachable
// or its answer cannot be used it returns an extractive digest of the
// sources, or a topic-only template when there are none. A SynthesisError
// is returned only if ctx ends first.
func (s *Synthesizer) Synthesize(ctx context.Context, sources []content.SourceDoc, topic string, kind content.Kind) (*content.Artifact, error) {
	a, err := s.generate(ctx, sources, topic, kind)
	if err == nil {
		return a, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &content.SynthesisError{Kind: kind, Topic: topic, Err: errors.Join(err, ctxErr)}
	}

	s.logger.Warn("model synthesis failed, using extractive fallback", "topic", topic, "content_type", string(kind), "sources", len(sources), "error", err)
	fb := content.Digest(topic, kind, sources)
	if verr := fb.Validate(); verr != nil {
		return nil, &content.SynthesisError{Kind: kind, Topic: topic, Err: verr}
	}
	return fb, nil
}

func (s *Synthesizer) generate(ctx context.Context, sources []content.SourceDoc, topic string, kind content.Kind) (*content.Artifact, error) {
	if s.engine == nil {
		return nil, errors.New("no language model configured")
	}

	var avoid []string
	if s.history != nil {
		titles, err := s.history.RecentTitles(ctx, topic, 5)
		if err != nil {
			s.logger.Debug("loading recent titles", "topic", topic, "error", err)
		}
		avoid = titles
	}

	resp, err := s.engine.Chat(ctx, buildMessages(topic, kind, sources, avoid), schemaFor(kind))
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", s.engine.Name(), err)
	}

	var d draft
	if err := parseJSON(resp, &d); err != nil {
		return nil, err
	}
	a := d.artifact(topic, kind, sources)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (d draft) artifact(topic string, kind content.Kind, sources []content.SourceDoc) *content.Artifact {
	a := &content.Artifact{
		Kind:     kind,
		Title:    strings.TrimSpace(d.Title),
		BodyText: content.Truncate(strings.TrimSpace(d.Body), content.MaxBodyRunes),
		Hashtags: content.MergeHashtags(d.Hashtags, []string{topic}, content.MaxHashtags),
	}
	switch kind {
	case content.Article:
		a.Insights = content.MergeInsights(d.Takeaways, nil, content.MaxInsights)
		if len(sources) > 0 {
			a.LinkURL = sources[0].URL
		}
	case content.SlideDeck:
		a.Sections = cleanSections(d.Slides)
	case content.Infographic:
		a.Sections = cleanSections(d.Sections)
	case content.Chart:
		a.Chart = d.Chart
		a.Insights = content.MergeInsights(d.Insights, nil, content.MaxInsights)
	}
	return a
}

func cleanSections(in []content.Section) []content.Section {
	out := make([]content.Section, 0, len(in))
	for _, s := range in {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		bullets := s.Bullets[:0:0]
		for _, b := range s.Bullets {
			if b = strings.TrimSpace(b); b != "" {
				bullets = append(bullets, b)
			}
		}
		s.Bullets = bullets
		out = append(out, s)
	}
	return out
}

// parseJSON extracts the first JSON object from a model reply, tolerating
// code fences and surrounding prose.
func parseJSON(resp string, v any) error {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal model response: %w", err)
	}
	return nil
}
