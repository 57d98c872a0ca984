// Package guard filters generated text before it reaches an audience
// channel. It is a content filter, not an encoding safety boundary:
// markdown passes through untouched.
package guard

import "regexp"

const (
	// MaxLen is the hard cap on sanitized output, before the ellipsis.
	MaxLen = 900

	mask     = "***"
	ellipsis = "..."
)

// bannedTerms is the fixed profanity list. Each term is masked by an
// independent case-insensitive pass over the already-modified string, so a
// term that is a substring of another could double- or under-mask. None of
// the current terms overlap; keep it that way when extending the list.
var bannedTerms = []string{
	"fuck",
	"shit",
	"bitch",
	"asshole",
	"bastard",
	"dick",
	"cunt",
}

var bannedPatterns = compileTerms(bannedTerms)

func compileTerms(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(terms))
	for _, t := range terms {
		out = append(out, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(t)))
	}
	return out
}

// Sanitize masks every banned term and caps the length at MaxLen runes,
// appending an ellipsis when truncation occurs. Deterministic and pure;
// output never exceeds MaxLen+3 runes.
func Sanitize(text string) string {
	for _, re := range bannedPatterns {
		text = re.ReplaceAllString(text, mask)
	}
	runes := []rune(text)
	if len(runes) > MaxLen {
		return string(runes[:MaxLen]) + ellipsis
	}
	return text
}
