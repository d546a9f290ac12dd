package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/router"
)

// parallel fans the decision's sub-tasks out concurrently under one
// overall deadline. Results land in positional slots so aggregation order
// matches clause order regardless of completion order. A failed sub-task
// is marked in place and never cancels its siblings.
func (d *Dispatcher) parallel(ctx context.Context, decision *router.RoutingDecision, query string) *ExecutionResult {
	res := &ExecutionResult{
		Mode:         string(decision.Mode),
		Query:        query,
		KnowledgeIDs: decision.KnowledgeIDs,
		WorkerIDs:    decision.WorkerIDs,
	}
	if len(decision.SubTasks) == 0 {
		res.Err = "parallel decision has no sub-tasks"
		return res
	}

	pctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.Deadlines.ParallelMs)*time.Millisecond)
	defer cancel()

	content := d.loadKnowledge(decision.KnowledgeIDs)
	subs := make([]*ExecutionResult, len(decision.SubTasks))

	g, gctx := errgroup.WithContext(pctx)
	for i, task := range decision.SubTasks {
		g.Go(func() error {
			subs[i] = d.subTask(gctx, decision, i, task, content)
			return nil
		})
	}
	// Goroutines record failures in their own slot and never return an
	// error, so Wait only synchronizes.
	_ = g.Wait()

	res.SubResults = subs
	res.Response = combineSubResults(subs)
	res.EstimatedCost = 0 // sub-results carry their own cost

	allFailed := true
	for _, sub := range subs {
		if !sub.Failed() {
			allFailed = false
			break
		}
	}
	if allFailed {
		res.Err = "all sub-tasks failed"
	}
	return res
}

// subTask executes one parallel clause with its assigned worker.
func (d *Dispatcher) subTask(ctx context.Context, decision *router.RoutingDecision, i int, task, content string) *ExecutionResult {
	sub := &ExecutionResult{
		Mode:         string(router.ModeKnowledgeAndWorker),
		Query:        task,
		KnowledgeIDs: decision.KnowledgeIDs,
	}

	workerID := ""
	if i < len(decision.WorkerIDs) {
		workerID = decision.WorkerIDs[i]
	}
	if workerID != "" {
		sub.WorkerIDs = []string{workerID}
	}

	start := time.Now()
	err := d.generateInto(ctx, sub, d.cfg.Generation.Model, d.workerPrompt(workerID, content, task))
	sub.ElapsedMillis = time.Since(start).Milliseconds()

	if adapter.IsTimeout(err) {
		sub.Err = "timed out: " + sub.Err
	}
	return sub
}

// combineSubResults renders the ordered aggregation, marking failed slots
// inline so partial progress is still visible.
func combineSubResults(subs []*ExecutionResult) string {
	var sb strings.Builder
	for i, sub := range subs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### Sub-task %d: %s\n\n", i+1, sub.Query)
		if sub.Failed() {
			fmt.Fprintf(&sb, "[error: %s]", sub.Err)
		} else {
			sb.WriteString(sub.Response)
		}
	}
	return sb.String()
}
