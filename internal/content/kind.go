package content

import (
	"fmt"
	"strings"
)

// Kind is the content type produced by a pipeline run.
type Kind string

const (
	Article     Kind = "article"
	SlideDeck   Kind = "slide_deck"
	Chart       Kind = "chart"
	Infographic Kind = "infographic"
)

// Kinds lists every supported content type in canonical rotation order.
var Kinds = []Kind{Article, SlideDeck, Chart, Infographic}

// ParseKind accepts canonical names plus the aliases operators tend to type.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "article", "text", "post":
		return Article, nil
	case "slide_deck", "slidedeck", "slides", "slide", "carousel":
		return SlideDeck, nil
	case "chart", "graph":
		return Chart, nil
	case "infographic":
		return Infographic, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// ParseKinds parses a list of content type names, rejecting duplicates.
func ParseKinds(names []string) ([]Kind, error) {
	out := make([]Kind, 0, len(names))
	seen := make(map[Kind]bool, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func (k Kind) String() string { return string(k) }

// Label is the human readable name used in prompts and fallback copy.
func (k Kind) Label() string {
	switch k {
	case SlideDeck:
		return "slide deck"
	case Chart:
		return "chart"
	case Infographic:
		return "infographic"
	default:
		return "article"
	}
}

// UnmarshalText lets kinds be decoded leniently from JSON and config files.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}
