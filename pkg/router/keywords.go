package router

import (
	"sort"
	"strings"

	"github.com/zen-systems/knowgate/pkg/config"
)

// maxKnowledgeMatches caps how many knowledge units one query pulls in.
const maxKnowledgeMatches = 3

const (
	phraseMatchScore  = 10
	keywordMatchScore = 3
)

// KeywordMatcher resolves queries to knowledge unit ids using the
// configured keyword table. Deterministic: score descending, ties broken
// by lexical id order.
type KeywordMatcher struct {
	entries map[string]config.KnowledgeEntry
	ids     []string
}

// NewKeywordMatcher builds a matcher from the configured knowledge table.
func NewKeywordMatcher(entries map[string]config.KnowledgeEntry) *KeywordMatcher {
	m := &KeywordMatcher{entries: entries, ids: make([]string, 0, len(entries))}
	for id := range entries {
		m.ids = append(m.ids, id)
	}
	sort.Strings(m.ids)
	return m
}

// Match returns up to maxKnowledgeMatches knowledge ids relevant to the
// query. Multi-word keywords must appear as exact phrases; single words
// match on token identity.
func (m *KeywordMatcher) Match(query string) []string {
	q := strings.ToLower(query)
	words := make(map[string]bool)
	for _, w := range tokenizeQuery(q) {
		words[w] = true
	}

	type hit struct {
		id    string
		score int
	}
	var hits []hit
	for _, id := range m.ids {
		score := 0
		for _, kw := range m.entries[id].Keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(kw, " ") {
				if strings.Contains(q, kw) {
					score += phraseMatchScore
				}
			} else if words[kw] {
				score += keywordMatchScore
			}
		}
		if score > 0 {
			hits = append(hits, hit{id: id, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > maxKnowledgeMatches {
		hits = hits[:maxKnowledgeMatches]
	}

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out
}

// TagsFor returns the deduplicated union of tags carried by the given
// knowledge ids, in first-seen order.
func (m *KeywordMatcher) TagsFor(ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		for _, t := range m.entries[id].Tags {
			t = strings.ToLower(t)
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Has reports whether an id exists in the keyword table.
func (m *KeywordMatcher) Has(id string) bool {
	_, ok := m.entries[id]
	return ok
}

func tokenizeQuery(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	})
}
