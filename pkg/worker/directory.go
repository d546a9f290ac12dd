package worker

import (
	"sort"
	"strings"

	"github.com/zen-systems/knowgate/pkg/config"
)

// TableDirectory is a Directory backed by the configured worker table.
type TableDirectory struct {
	workers map[string]Worker
}

// NewTableDirectory builds a directory from config entries.
func NewTableDirectory(entries map[string]config.WorkerEntry) *TableDirectory {
	d := &TableDirectory{workers: make(map[string]Worker, len(entries))}
	for id, entry := range entries {
		caps := make([]string, 0, len(entry.Capabilities))
		for _, c := range entry.Capabilities {
			caps = append(caps, strings.ToLower(strings.TrimSpace(c)))
		}
		d.workers[id] = Worker{
			ID:           id,
			Tier:         Tier(entry.Tier),
			DisplayName:  entry.DisplayName,
			Summary:      entry.Summary,
			Capabilities: caps,
			Template:     entry.Template,
		}
	}
	return d
}

// Get returns the worker with the given id.
func (d *TableDirectory) Get(id string) (*Worker, bool) {
	w, ok := d.workers[id]
	if !ok {
		return nil, false
	}
	return &w, true
}

// ListByTier returns all workers of a tier in lexical id order.
func (d *TableDirectory) ListByTier(tier Tier) []Worker {
	var out []Worker
	for _, w := range d.workers {
		if w.Tier == tier {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every worker in lexical id order.
func (d *TableDirectory) All() []Worker {
	out := make([]Worker, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BestCapabilityMatch returns the highest-scoring worker for the tags.
func (d *TableDirectory) BestCapabilityMatch(tags []string) (*Worker, bool) {
	matches := d.RankedMatches(tags)
	if len(matches) == 0 {
		return nil, false
	}
	w := matches[0].Worker
	return &w, true
}

// RankedMatches scores every worker against the tags and returns the
// positive scorers in match order: score desc, then tier preference, then
// lexical id.
func (d *TableDirectory) RankedMatches(tags []string) []Match {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}

	var matches []Match
	for _, w := range d.workers {
		score := matchScore(w, normalized)
		if score > 0 {
			matches = append(matches, Match{Worker: w, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Worker.Tier.Rank() != b.Worker.Tier.Rank() {
			return a.Worker.Tier.Rank() < b.Worker.Tier.Rank()
		}
		return a.Worker.ID < b.Worker.ID
	})
	return matches
}

// matchScore gives 2 points per exact capability hit and 1 per word-level
// overlap between a tag and a capability.
func matchScore(w Worker, tags []string) int {
	score := 0
	for _, tag := range tags {
		exact := false
		for _, c := range w.Capabilities {
			if c == tag {
				score += 2
				exact = true
				break
			}
		}
		if exact {
			continue
		}
		for _, c := range w.Capabilities {
			if wordOverlap(c, tag) {
				score++
				break
			}
		}
	}
	return score
}

func wordOverlap(a, b string) bool {
	for _, wa := range strings.Fields(a) {
		for _, wb := range strings.Fields(b) {
			if wa == wb {
				return true
			}
		}
	}
	return false
}
