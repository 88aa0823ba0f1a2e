package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`[\s\x{00a0}]+`)

// FoldAccents strips combining marks so "inscripción" == "inscripcion".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey lowercases, folds accents and collapses whitespace.
func NormalizeKey(key string) string {
	key = FoldAccents(strings.ToLower(key))
	key = whitespaceRegex.ReplaceAllString(key, " ")
	return strings.TrimSpace(key)
}

// MatchKey reports whether key contains any of the matchers after
// normalization. Matchers are expected to be normalized already.
func MatchKey(key string, matchers ...string) bool {
	key = NormalizeKey(key)
	for _, m := range matchers {
		if strings.Contains(key, m) {
			return true
		}
	}
	return false
}

// ClosestMatch returns the candidate with the highest Jaro-Winkler
// similarity to target, ok is false when no candidate reaches threshold.
func ClosestMatch(target string, candidates []string, threshold float64) (best string, ok bool) {
	target = NormalizeKey(target)
	bestScore := 0.0
	for _, c := range candidates {
		score := matchr.JaroWinkler(target, NormalizeKey(c), false)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore < threshold {
		return "", false
	}
	return best, true
}
