package content

import (
	"strings"
	"unicode"
)

// NormalizeHashtag turns free text such as "ai ethics" or "#AI-Ethics" into a
// single hashtag token ("#AiEthics"). Empty input yields "".
func NormalizeHashtag(s string) string {
	s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "#"))
	if s == "" {
		return ""
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('#')
	for _, f := range fields {
		if len(fields) == 1 {
			b.WriteString(f)
			break
		}
		r := []rune(f)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}

// MergeHashtags appends extra to base, normalizing every tag, dropping
// case-insensitive duplicates and keeping at most limit tags.
func MergeHashtags(base, extra []string, limit int) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool)
	for _, list := range [][]string{base, extra} {
		for _, raw := range list {
			tag := NormalizeHashtag(raw)
			key := strings.ToLower(tag)
			if tag == "" || seen[key] {
				continue
			}
			if limit > 0 && len(out) >= limit {
				return out
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}

// MergeInsights appends extra insights to base, skipping blanks and exact
// duplicates, keeping at most limit.
func MergeInsights(base, extra []string, limit int) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool)
	for _, s := range append(append([]string(nil), base...), extra...) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
