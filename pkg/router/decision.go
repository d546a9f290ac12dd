package router

import "fmt"

// Mode is the closed set of execution strategies. No fifth mode may appear
// anywhere downstream; the dispatcher switches exhaustively over these.
type Mode string

const (
	// ModeKnowledgeOnly answers from cached domain knowledge alone.
	ModeKnowledgeOnly Mode = "knowledge_only"
	// ModeKnowledgeAndWorker combines knowledge with one specialized worker.
	ModeKnowledgeAndWorker Mode = "knowledge_worker"
	// ModeParallel fans independent sub-tasks out to workers concurrently.
	ModeParallel Mode = "parallel"
	// ModeMultiWorker runs a reviewed worker chain sequentially.
	ModeMultiWorker Mode = "multi_worker"
)

// Valid reports whether the mode is one of the four known strategies.
func (m Mode) Valid() bool {
	switch m {
	case ModeKnowledgeOnly, ModeKnowledgeAndWorker, ModeParallel, ModeMultiWorker:
		return true
	}
	return false
}

// ParseMode converts a string to a Mode, rejecting anything outside the
// closed set.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
	return m, nil
}

// RoutingDecision is the chosen execution mode plus the knowledge and
// worker ids selected for a query. Created fresh per request and never
// mutated afterward.
type RoutingDecision struct {
	Mode         Mode     `json:"mode"`
	KnowledgeIDs []string `json:"knowledge_ids,omitempty"`
	WorkerIDs    []string `json:"worker_ids,omitempty"`

	// SubTasks holds the decomposed clauses for parallel execution, one per
	// WorkerIDs entry and in original clause order.
	SubTasks []string `json:"sub_tasks,omitempty"`

	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`

	// PatternID is set when the decision was reconstructed from a learned
	// pattern rather than produced by the router.
	PatternID string `json:"pattern_id,omitempty"`

	Complexity *Analysis `json:"complexity,omitempty"`
}

// StatsView is a read-only snapshot of routing statistics. The router uses
// it to prefer historically successful knowledge units when ordering
// matches; it never mutates the underlying store.
type StatsView interface {
	// SuccessRate returns the observed success rate and sample count for a
	// knowledge unit id, with ok=false when the id has no history.
	SuccessRate(id string) (rate float64, samples int, ok bool)
}
