package dispatch

import "github.com/zen-systems/knowgate/pkg/adapter"

// ExecutionResult is the outcome of executing one routing decision. A
// failed upstream call produces a result with Err set, not an error from
// Execute; the error return is reserved for invalid decisions.
type ExecutionResult struct {
	Mode         string   `json:"mode"`
	Query        string   `json:"query,omitempty"`
	Response     string   `json:"response,omitempty"`
	KnowledgeIDs []string `json:"knowledge_ids,omitempty"`
	WorkerIDs    []string `json:"worker_ids,omitempty"`

	// SubResults holds per-sub-task outcomes for parallel execution and
	// per-step outcomes for multi-worker chains, in positional order.
	SubResults []*ExecutionResult `json:"sub_results,omitempty"`

	EstimatedCost float64 `json:"estimated_cost"`
	ElapsedMillis int64   `json:"elapsed_ms"`

	Err string `json:"error,omitempty"`

	CallReports []adapter.CallReport `json:"call_reports,omitempty"`
}

// Failed reports whether this result carries an error.
func (r *ExecutionResult) Failed() bool {
	return r != nil && r.Err != ""
}

// TotalCost sums this result's cost with all nested sub-result costs.
func (r *ExecutionResult) TotalCost() float64 {
	if r == nil {
		return 0
	}
	total := r.EstimatedCost
	for _, sub := range r.SubResults {
		total += sub.TotalCost()
	}
	return total
}
