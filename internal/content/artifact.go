package content

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxBodyRunes is the longest post body the publisher accepts.
	MaxBodyRunes = 3000
	MaxHashtags  = 10
	MaxInsights  = 5
)

// SourceDoc is one research document handed from gathering to synthesis.
type SourceDoc struct {
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Origin      string     `json:"origin,omitempty"`
}

// Section is a titled group of bullets: a slide or an infographic panel.
type Section struct {
	Title   string   `json:"title" validate:"required"`
	Bullets []string `json:"bullets" validate:"dive,required"`
}

// Point is one data point in a chart.
type Point struct {
	Label string  `json:"label" validate:"required"`
	Value float64 `json:"value"`
}

// ChartSpec describes a chart the publisher or a renderer can draw.
type ChartSpec struct {
	Type   string  `json:"type" validate:"oneof=bar line pie"`
	Title  string  `json:"title" validate:"required"`
	Points []Point `json:"points" validate:"min=2,dive"`
}

// Artifact is the finished payload handed to the publisher. Required fields
// depend on Kind and are enforced by Validate.
type Artifact struct {
	Kind      Kind       `json:"kind" validate:"required"`
	Title     string     `json:"title"`
	BodyText  string     `json:"body_text" validate:"required"`
	Hashtags  []string   `json:"hashtags" validate:"max=10,dive,startswith=#"`
	Media     []byte     `json:"media,omitempty"`
	MediaKind string     `json:"media_kind,omitempty" validate:"required_with=Media"`
	Sections  []Section  `json:"sections,omitempty" validate:"dive"`
	Insights  []string   `json:"insights,omitempty" validate:"max=5"`
	Chart     *ChartSpec `json:"chart,omitempty"`
	LinkURL   string     `json:"link_url,omitempty" validate:"omitempty,url"`
	Fallback  bool       `json:"fallback,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func artifactValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(kindRules, Artifact{})
	})
	return validate
}

// kindRules enforces the per-kind required parts of an artifact.
func kindRules(sl validator.StructLevel) {
	a := sl.Current().Interface().(Artifact)
	switch a.Kind {
	case Article:
	case SlideDeck:
		if len(a.Sections) < 2 {
			sl.ReportError(a.Sections, "Sections", "Sections", "min_slides", "2")
		}
	case Chart:
		if a.Chart == nil {
			sl.ReportError(a.Chart, "Chart", "Chart", "required_for_chart", "")
		}
	case Infographic:
		if len(a.Sections) < 1 {
			sl.ReportError(a.Sections, "Sections", "Sections", "min_sections", "1")
		}
	default:
		sl.ReportError(a.Kind, "Kind", "Kind", "kind", "")
	}
	if utf8.RuneCountInString(a.BodyText) > MaxBodyRunes {
		sl.ReportError(a.BodyText, "BodyText", "BodyText", "max_runes", fmt.Sprint(MaxBodyRunes))
	}
}

// Validate reports whether the artifact is well formed for its kind.
func (a *Artifact) Validate() error {
	if a == nil {
		return errors.New("artifact is nil")
	}
	if err := artifactValidator().Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return fmt.Errorf("invalid %s artifact: %s", a.Kind, strings.Join(fields, ", "))
		}
		return fmt.Errorf("validating artifact: %w", err)
	}
	return nil
}

// Clone returns a deep copy so later stages cannot mutate an earlier result.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Hashtags = append([]string(nil), a.Hashtags...)
	c.Insights = append([]string(nil), a.Insights...)
	c.Media = append([]byte(nil), a.Media...)
	if a.Sections != nil {
		c.Sections = make([]Section, len(a.Sections))
		for i, s := range a.Sections {
			c.Sections[i] = Section{Title: s.Title, Bullets: append([]string(nil), s.Bullets...)}
		}
	}
	if a.Chart != nil {
		ch := *a.Chart
		ch.Points = append([]Point(nil), a.Chart.Points...)
		c.Chart = &ch
	}
	return &c
}

// Render produces the post text: body, sections, insights and hashtags,
// truncated to MaxBodyRunes.
func (a *Artifact) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.BodyText))

	for i, s := range a.Sections {
		fmt.Fprintf(&b, "\n\n%d. %s", i+1, s.Title)
		for _, bullet := range s.Bullets {
			b.WriteString("\n• " + bullet)
		}
	}
	if len(a.Insights) > 0 {
		b.WriteString("\n\nKey insights:")
		for _, in := range a.Insights {
			b.WriteString("\n→ " + in)
		}
	}
	if len(a.Hashtags) > 0 {
		b.WriteString("\n\n" + strings.Join(a.Hashtags, " "))
	}
	return Truncate(b.String(), MaxBodyRunes)
}

// Truncate cuts s to at most n runes, ending with an ellipsis when cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

// SynthesisError is returned when no well-formed artifact could be produced.
type SynthesisError struct {
	Kind  Kind
	Topic string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesizing %s for %q: %v", e.Kind, e.Topic, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
