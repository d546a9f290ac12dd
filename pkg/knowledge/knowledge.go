// Package knowledge provides the searchable store of knowledge units that
// routing decisions draw context from. Units are immutable once loaded;
// content may be fetched lazily and cached by id.
package knowledge

import (
	"fmt"
	"sort"
	"strings"
)

// Unit is a discrete, independently retrievable piece of domain
// documentation.
type Unit struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Summary     string   `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Content     string   `json:"content,omitempty"`
}

// Index is the read-only interface the engine consumes.
type Index interface {
	// Search returns up to k units ranked by relevance to the query.
	Search(query string, k int) ([]Unit, error)

	// LoadContent returns the concatenated content for the given ids,
	// in id order. Unknown ids are skipped.
	LoadContent(ids []string) (string, error)

	// CompressedIndex returns a short routing-oriented summary of all
	// known units, one line per unit.
	CompressedIndex() string

	// Has reports whether a unit id is known.
	Has(id string) bool
}

// scored pairs a unit with its relevance for sorting.
type scored struct {
	unit  Unit
	score float64
}

func rankUnits(units []Unit, query string, k int) []Unit {
	queryWords := tokenize(strings.ToLower(query))
	if len(queryWords) == 0 {
		return nil
	}

	var results []scored
	for _, u := range units {
		haystack := strings.ToLower(u.DisplayName + " " + u.Summary + " " + strings.Join(u.Tags, " "))
		score := overlapScore(haystack, queryWords)
		if score > 0 {
			results = append(results, scored{unit: u, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return results[i].unit.ID < results[j].unit.ID
		}
		return results[i].score > results[j].score
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	out := make([]Unit, len(results))
	for i, r := range results {
		out[i] = r.unit
	}
	return out
}

func overlapScore(haystack string, queryWords []string) float64 {
	var score float64
	for _, w := range queryWords {
		if len(w) < 3 {
			continue
		}
		if strings.Contains(haystack, w) {
			score += 1.0
		}
	}
	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || r == '-')
	})
}

func compressLine(u Unit) string {
	keywords := strings.Join(u.Tags, ", ")
	if keywords == "" {
		keywords = u.Summary
	}
	return fmt.Sprintf("%s: %s", u.ID, keywords)
}
