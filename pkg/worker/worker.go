// Package worker holds the directory of instruction templates ("workers")
// the dispatcher applies to generation calls.
package worker

// Tier classifies how established a worker is.
type Tier string

const (
	TierCore         Tier = "core"
	TierSpecialized  Tier = "specialized"
	TierExperimental Tier = "experimental"
)

// Rank orders tiers for tie-breaking: core beats specialized beats
// experimental.
func (t Tier) Rank() int {
	switch t {
	case TierCore:
		return 0
	case TierSpecialized:
		return 1
	case TierExperimental:
		return 2
	default:
		return 3
	}
}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	return t.Rank() < 3
}

// Worker is an immutable instruction template with capability tags.
type Worker struct {
	ID           string   `json:"id"`
	Tier         Tier     `json:"tier"`
	DisplayName  string   `json:"display_name,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Capabilities []string `json:"capabilities"`
	Template     string   `json:"template,omitempty"`
}

// HasCapability reports whether the worker carries the exact capability tag.
func (w *Worker) HasCapability(tag string) bool {
	for _, c := range w.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Match pairs a worker with its capability-match score.
type Match struct {
	Worker Worker
	Score  int
}

// Directory is the read-only worker lookup interface.
type Directory interface {
	// Get returns the worker with the given id.
	Get(id string) (*Worker, bool)

	// ListByTier returns all workers of a tier in lexical id order.
	ListByTier(tier Tier) []Worker

	// BestCapabilityMatch returns the highest-scoring worker for the tags,
	// ties broken by tier preference then lexical id order.
	BestCapabilityMatch(tags []string) (*Worker, bool)

	// RankedMatches returns all positive-scoring workers in match order.
	RankedMatches(tags []string) []Match

	// All returns every worker in lexical id order.
	All() []Worker
}
