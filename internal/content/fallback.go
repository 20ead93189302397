package content

import (
	"fmt"
	"strings"
)

const callToAction = "What's your take? Share your thoughts in the comments."

// Fallback builds the minimal templated artifact used when synthesis fails.
// It always names the topic and always validates for its kind.
func Fallback(topic string, kind Kind) *Artifact {
	topic = strings.TrimSpace(topic)
	a := &Artifact{
		Kind:     kind,
		Title:    fmt.Sprintf("Thoughts on %s", topic),
		Hashtags: MergeHashtags(nil, []string{topic}, MaxHashtags),
		Fallback: true,
	}

	switch kind {
	case SlideDeck:
		a.BodyText = fmt.Sprintf("A quick walkthrough on %s.\n\n%s", topic, callToAction)
		a.Sections = []Section{
			{Title: fmt.Sprintf("Why %s matters", topic), Bullets: []string{"It is reshaping how teams work", "Early adopters are already learning"}},
			{Title: "Where to start", Bullets: []string{"Pick one small experiment", "Share what you learn"}},
		}
	case Chart:
		a.BodyText = fmt.Sprintf("Where does %s sit on your roadmap?\n\n%s", topic, callToAction)
		a.Chart = &ChartSpec{
			Type:  "bar",
			Title: fmt.Sprintf("Interest in %s", topic),
			Points: []Point{
				{Label: "Exploring", Value: 1},
				{Label: "Adopting", Value: 1},
			},
		}
	case Infographic:
		a.BodyText = fmt.Sprintf("%s at a glance.\n\n%s", topic, callToAction)
		a.Sections = []Section{
			{Title: topic, Bullets: []string{"What it is", "Why it matters now", "How to get started"}},
		}
	default:
		a.Kind = Article
		a.BodyText = fmt.Sprintf("I've been thinking a lot about %s lately and how quickly it keeps moving.\n\n%s", topic, callToAction)
	}
	return a
}

// Digest builds an extractive artifact from source titles. It is used when
// sources exist but the language model could not be reached.
func Digest(topic string, kind Kind, sources []SourceDoc) *Artifact {
	if len(sources) == 0 {
		return Fallback(topic, kind)
	}
	a := Fallback(topic, kind)

	var b strings.Builder
	fmt.Fprintf(&b, "What I'm reading on %s this week:\n", topic)
	bullets := make([]string, 0, len(sources))
	for _, s := range sources {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		bullets = append(bullets, Truncate(title, 120))
		b.WriteString("\n• " + Truncate(title, 120))
		if len(bullets) == 5 {
			break
		}
	}
	if len(bullets) == 0 {
		return a
	}
	b.WriteString("\n\n" + callToAction)
	a.BodyText = Truncate(b.String(), MaxBodyRunes)
	if sources[0].URL != "" && a.Kind == Article {
		a.LinkURL = sources[0].URL
	}
	if a.Kind == Infographic {
		a.Sections = []Section{{Title: topic, Bullets: bullets}}
	}
	return a
}
