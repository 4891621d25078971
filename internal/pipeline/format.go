package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxVariations = 3
	ellipsis      = "..."
)

var (
	enumerator   = regexp.MustCompile(`^(?:\d{1,2}[.):]|[-*•])\s+`)
	variationTag = regexp.MustCompile(`(?i)^(?:\*\*)?(?:variation|option|version)\s*\d*\s*(?:\*\*)?\s*[:.\-]\s*`)
)

// ValidateAndFormat runs stage 4: it trims, strips list markup, applies the
// format's length limit and keeps at most MaxVariations non-empty lines.
// Placeholder output from a failed generation yields nothing.
func ValidateAndFormat(g Generated, format Format) []string {
	if g.Failed {
		return nil
	}
	out := make([]string, 0, MaxVariations)
	for _, line := range g.Lines {
		v := cleanLine(line)
		if v == "" || v == PlaceholderLine {
			continue
		}
		if limit, ok := maxRunes[format]; ok {
			v = truncate(v, limit)
		}
		out = append(out, v)
		if len(out) == MaxVariations {
			break
		}
	}
	return out
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = enumerator.ReplaceAllString(s, "")
	s = variationTag.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if n := len(s); n >= 2 && s[0] == '"' && s[n-1] == '"' {
		s = strings.TrimSpace(s[1 : n-1])
	}
	return s
}

// truncate cuts s to limit runes, the last three being an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-len(ellipsis)]) + ellipsis
}
