package synth

import (
	"fmt"
	"strings"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/llm"
)

const (
	maxSourceChars = 1200
	systemPrompt   = `You write LinkedIn posts for a technology professional.
Write in first person, concrete and specific, no clickbait, no emojis in headings.
Always answer with a single JSON object matching the requested schema and nothing else.`
)

var kindInstructions = map[content.Kind]string{
	content.Article: `Write a LinkedIn article-style post (180-280 words): a hook line, two or three short paragraphs
and three key takeaways. Put the takeaways in "takeaways".`,
	content.SlideDeck: `Write a carousel (slide deck) post: a short intro in "body" and 4 to 7 slides in "slides",
each with a short title and 2 to 4 bullets.`,
	content.Chart: `Write a data-driven post built around one chart: a short intro in "body", a chart in "chart"
(type bar, line or pie, a title and 3 to 8 labelled numeric points drawn from the sources) and
2 to 4 insights the chart supports in "insights".`,
	content.Infographic: `Write an infographic post: a short intro in "body" and 3 to 5 panels in "sections",
each with a title and 2 to 3 terse bullets.`,
}

func sectionSchema() *llm.Property {
	return &llm.Property{
		Type: "object",
		Properties: map[string]llm.Property{
			"title":   {Type: "string"},
			"bullets": {Type: "array", Items: &llm.Property{Type: "string"}},
		},
	}
}

// schemaFor returns the JSON schema the model must answer with for kind.
func schemaFor(kind content.Kind) *llm.Schema {
	s := &llm.Schema{
		Type: "object",
		Properties: map[string]llm.Property{
			"title":    {Type: "string", Description: "headline, under 100 characters"},
			"body":     {Type: "string", Description: "post text without hashtags"},
			"hashtags": {Type: "array", Items: &llm.Property{Type: "string"}, Description: "3 to 6 hashtags"},
		},
		Required: []string{"title", "body", "hashtags"},
	}
	switch kind {
	case content.Article:
		s.Properties["takeaways"] = llm.Property{Type: "array", Items: &llm.Property{Type: "string"}}
	case content.SlideDeck:
		s.Properties["slides"] = llm.Property{Type: "array", Items: sectionSchema()}
		s.Required = append(s.Required, "slides")
	case content.Infographic:
		s.Properties["sections"] = llm.Property{Type: "array", Items: sectionSchema()}
		s.Required = append(s.Required, "sections")
	case content.Chart:
		s.Properties["chart"] = llm.Property{
			Type: "object",
			Properties: map[string]llm.Property{
				"type":  {Type: "string", Description: "bar, line or pie"},
				"title": {Type: "string"},
				"points": {Type: "array", Items: &llm.Property{
					Type: "object",
					Properties: map[string]llm.Property{
						"label": {Type: "string"},
						"value": {Type: "number"},
					},
				}},
			},
		}
		s.Properties["insights"] = llm.Property{Type: "array", Items: &llm.Property{Type: "string"}}
		s.Required = append(s.Required, "chart")
	}
	return s
}

// buildMessages assembles the chat for one synthesis request.
func buildMessages(topic string, kind content.Kind, sources []content.SourceDoc, avoid []string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString(kindInstructions[kind])
	b.WriteString("\n\n")

	if len(sources) == 0 {
		b.WriteString("No research sources are available. Write from general knowledge and avoid specific statistics.\n")
	} else {
		b.WriteString("Research sources:\n")
		for i, s := range sources {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, s.Title)
			if s.URL != "" {
				fmt.Fprintf(&b, "URL: %s\n", s.URL)
			}
			if s.PublishedAt != nil {
				fmt.Fprintf(&b, "Published: %s\n", s.PublishedAt.Format("2006-01-02"))
			}
			if text := strings.TrimSpace(s.Text); text != "" {
				b.WriteString(content.Truncate(text, maxSourceChars))
				b.WriteString("\n")
			}
		}
	}

	if len(avoid) > 0 {
		b.WriteString("\nRecent posts on this topic (do not repeat their angle):\n")
		for _, t := range avoid {
			b.WriteString("- " + t + "\n")
		}
	}

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
