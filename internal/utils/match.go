package utils

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Candidate is a named thing free text may refer to
type Candidate struct {
	ID   string
	Name string
}

// Match is the winning candidate and its edit distance
type Match struct {
	Candidate
	Distance int
}

// Normalize lowercases, strips accents and collapses punctuation to single spaces
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// MaxDistance is the edit budget allowed for a query of n runes
func MaxDistance(n int) int {
	switch {
	case n <= 3:
		return 0
	case n <= 5:
		return 1
	case n <= 10:
		return 2
	default:
		return 3
	}
}

// BestMatch finds the candidate the text most plausibly names. Exact
// (normalized) equality wins, then a unique whole-word containment, then the
// unique closest candidate within the edit budget. Ties are not a match.
func BestMatch(text string, candidates []Candidate) (Match, bool) {
	q := Normalize(text)
	if q == "" || len(candidates) == 0 {
		return Match{}, false
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = Normalize(c.Name)
		if names[i] == q {
			return Match{Candidate: c}, true
		}
	}

	if len([]rune(q)) >= 3 {
		found := -1
		for i, n := range names {
			if containsWords(n, q) || containsWords(q, n) {
				if found >= 0 {
					found = -2
					break
				}
				found = i
			}
		}
		if found >= 0 {
			return Match{Candidate: candidates[found], Distance: 0}, true
		}
	}

	budget := MaxDistance(len([]rune(q)))
	best, bestDist, tie := -1, budget+1, false
	for i, n := range names {
		d := fuzzy.LevenshteinDistance(q, n)
		switch {
		case d < bestDist:
			best, bestDist, tie = i, d, false
		case d == bestDist:
			tie = true
		}
	}
	if best < 0 || tie {
		return Match{}, false
	}
	return Match{Candidate: candidates[best], Distance: bestDist}, true
}

// containsWords reports whether needle appears in haystack on word boundaries
func containsWords(haystack, needle string) bool {
	if needle == "" || len(needle) > len(haystack) {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// WordMatches reports whether text equals one of the phrases, allowing small typos
func WordMatches(text string, phrases ...string) bool {
	q := Normalize(text)
	if q == "" {
		return false
	}
	for _, p := range phrases {
		p = Normalize(p)
		if q == p {
			return true
		}
		if fuzzy.LevenshteinDistance(q, p) <= MaxDistance(len([]rune(p)))/2 {
			return true
		}
	}
	return false
}
