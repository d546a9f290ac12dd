// Package audit writes per-request run records to disk so routing and
// execution behavior can be inspected after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/knowgate/pkg/dispatch"
	"github.com/zen-systems/knowgate/pkg/router"
)

// RunRecord captures one handled query end to end: the decision taken,
// the hint that produced it (if any) and the execution outcome.
type RunRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`

	Decision *router.RoutingDecision `json:"decision"`

	// HintPatternID is set when a learned pattern bypassed the router.
	HintPatternID string `json:"hint_pattern_id,omitempty"`

	Result *dispatch.ExecutionResult `json:"result,omitempty"`

	TotalCost      float64 `json:"total_cost"`
	DurationMillis int64   `json:"duration_ms"`
}

// FeedbackRecord captures one feedback submission against a run.
type FeedbackRecord struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
}

// Writer writes run records to disk, one directory per run.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}
	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes the run record to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteFeedback appends feedback records as feedback-<n>.json files so a
// run can accumulate several judgments.
func (w *Writer) WriteFeedback(record FeedbackRecord) error {
	return w.writeNumbered("feedback", record)
}

// WriteImprovement appends an improvement signal raised against the run as
// improvement-<n>.json.
func (w *Writer) WriteImprovement(signal any) error {
	return w.writeNumbered("improvement", signal)
}

func (w *Writer) writeNumbered(prefix string, value any) error {
	for n := 1; ; n++ {
		path := filepath.Join(w.runDir, fmt.Sprintf("%s-%d.json", prefix, n))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		return writeJSON(path, value)
	}
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
