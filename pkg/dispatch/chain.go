package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/knowgate/pkg/router"
)

// multiWorker runs the decision's worker chain sequentially, each step
// seeing the previous step's output. A step failure halts the chain; the
// result keeps everything produced up to that point plus a failure note.
func (d *Dispatcher) multiWorker(ctx context.Context, decision *router.RoutingDecision, query string) *ExecutionResult {
	res := &ExecutionResult{
		Mode:         string(decision.Mode),
		Query:        query,
		KnowledgeIDs: decision.KnowledgeIDs,
		WorkerIDs:    decision.WorkerIDs,
	}
	if len(decision.WorkerIDs) == 0 {
		res.Err = "multi-worker decision has no workers"
		return res
	}

	content := d.loadKnowledge(decision.KnowledgeIDs)
	stepTimeout := time.Duration(d.cfg.Deadlines.StepMs) * time.Millisecond

	previous := ""
	for idx, workerID := range decision.WorkerIDs {
		step := &ExecutionResult{
			Mode:      string(router.ModeKnowledgeAndWorker),
			Query:     query,
			WorkerIDs: []string{workerID},
		}

		prompt := d.chainPrompt(workerID, content, query, previous, idx)

		sctx, cancel := context.WithTimeout(ctx, stepTimeout)
		start := time.Now()
		d.generateInto(sctx, step, d.cfg.Generation.Model, prompt)
		cancel()
		step.ElapsedMillis = time.Since(start).Milliseconds()

		res.SubResults = append(res.SubResults, step)

		if step.Failed() {
			res.Err = fmt.Sprintf("chain halted at step %d (%s): %s", idx+1, workerID, step.Err)
			if previous != "" {
				res.Response = previous + fmt.Sprintf("\n\n[chain halted at step %d (%s)]", idx+1, workerID)
			}
			return res
		}
		previous = step.Response
	}

	res.Response = previous
	return res
}

// chainPrompt builds the step prompt: the first worker sees the knowledge
// context and the task, later workers see their predecessor's output.
func (d *Dispatcher) chainPrompt(workerID, content, query, previous string, idx int) string {
	if idx == 0 {
		return d.workerPrompt(workerID, content, query)
	}

	var sb strings.Builder
	if w, ok := d.directory.Get(workerID); ok && w.Template != "" {
		sb.WriteString(w.Template)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Previous worker output:\n")
	sb.WriteString(previous)
	sb.WriteString("\n\nOriginal task: ")
	sb.WriteString(query)
	return sb.String()
}
