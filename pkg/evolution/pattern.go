package evolution

import "time"

// LearnedPattern is a promoted routing shortcut: queries matching the
// signature can reuse the recorded mode and id sets without consulting
// the router. Patterns are append-only; a pattern is retired by pointing
// SupersededBy at its replacement, never by mutation or deletion.
type LearnedPattern struct {
	ID           string    `json:"id"`
	Signature    string    `json:"signature"`
	Mode         string    `json:"mode"`
	KnowledgeIDs []string  `json:"knowledge_ids,omitempty"`
	WorkerIDs    []string  `json:"worker_ids,omitempty"`
	SuccessRate  float64   `json:"success_rate"`
	SampleCount  int       `json:"sample_count"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Active reports whether the pattern is still in effect.
func (p *LearnedPattern) Active() bool {
	return p != nil && p.SupersededBy == ""
}

// matches reports whether the pattern covers the same routing shape.
func (p *LearnedPattern) matches(signature, mode, idSetKey string) bool {
	return p.Signature == signature && p.Mode == mode && IDSetKey(p.KnowledgeIDs) == idSetKey
}
