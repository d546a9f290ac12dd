package evolution

import (
	"sort"
	"strings"
)

// Signature normalizes a query into its keyword signature: lowercase,
// stopwords removed, deduplicated, sorted and joined with "|". Two
// phrasings of the same request collapse to the same signature.
func Signature(query string, stopwords []string) string {
	stop := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		stop[strings.ToLower(w)] = true
	}

	seen := make(map[string]bool)
	var words []string
	for _, w := range tokenize(strings.ToLower(query)) {
		if len(w) < 2 || stop[w] || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	sort.Strings(words)
	return strings.Join(words, "|")
}

// jaccard measures overlap between two signatures in [0, 1].
func jaccard(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := make(map[string]bool)
	for _, w := range strings.Split(a, "|") {
		setA[w] = true
	}
	intersection := 0
	union := len(setA)
	for _, w := range strings.Split(b, "|") {
		if setA[w] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	})
}
