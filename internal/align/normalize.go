package align

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	stageDirectionPattern = regexp.MustCompile(`[\[\(][^\]\)]*[\]\)]`)
	htmlTagPattern        = regexp.MustCompile(`<[^>]+>`)
	speakerPrefixPattern  = regexp.MustCompile(`^[A-Z][A-Z\s'\-]*:\s*`)
)

// normalizeText lowercases dialog and strips everything that differs
// between script and subtitle renditions of the same line: markup,
// stage directions, speaker prefixes, punctuation, extra whitespace.
func normalizeText(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = stageDirectionPattern.ReplaceAllString(text, "")
	text = speakerPrefixPattern.ReplaceAllString(text, "")
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// similarity scores two normalized strings in [0,1] using a
// length-normalized edit distance. Identical strings score 1.0.
func similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	ra := []rune(a)
	rb := []rune(b)
	dist := editDistance(ra, rb)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}

	return 1 - float64(dist)/float64(longer)
}

// editDistance computes the Levenshtein distance with two rolling rows.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
