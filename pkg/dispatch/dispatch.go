// Package dispatch executes routing decisions. Each of the four execution
// modes maps to one strategy; upstream generation failures are recorded in
// the result rather than returned as errors, so callers always get a
// result to report on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/knowledge"
	"github.com/zen-systems/knowgate/pkg/router"
	"github.com/zen-systems/knowgate/pkg/worker"
)

// ErrInvalidDecision is returned for nil decisions or modes outside the
// known set. This is the only error Execute returns.
var ErrInvalidDecision = errors.New("invalid routing decision")

// Dispatcher executes routing decisions against the configured adapters.
// Safe for concurrent use.
type Dispatcher struct {
	cfg       *config.EngineConfig
	index     knowledge.Index
	directory worker.Directory
	adapters  map[string]adapter.Adapter
	logger    *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher.
func New(cfg *config.EngineConfig, index knowledge.Index, directory worker.Directory, adapters map[string]adapter.Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		index:     index,
		directory: directory,
		adapters:  adapters,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs the decision's execution strategy. The error return covers
// invalid decisions only; generation failures surface through the
// result's Err field.
func (d *Dispatcher) Execute(ctx context.Context, decision *router.RoutingDecision, query string) (*ExecutionResult, error) {
	if decision == nil {
		return nil, fmt.Errorf("%w: nil decision", ErrInvalidDecision)
	}
	if !decision.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidDecision, decision.Mode)
	}

	start := time.Now()
	var res *ExecutionResult
	switch decision.Mode {
	case router.ModeKnowledgeOnly:
		res = d.knowledgeOnly(ctx, decision, query)
	case router.ModeKnowledgeAndWorker:
		res = d.knowledgeWorker(ctx, decision, query)
	case router.ModeParallel:
		res = d.parallel(ctx, decision, query)
	case router.ModeMultiWorker:
		res = d.multiWorker(ctx, decision, query)
	}
	res.ElapsedMillis = time.Since(start).Milliseconds()

	d.logger.Debug("dispatch complete",
		zap.String("mode", res.Mode),
		zap.Int64("elapsed_ms", res.ElapsedMillis),
		zap.Float64("cost", res.TotalCost()),
		zap.Bool("failed", res.Failed()))
	return res, nil
}

// knowledgeOnly answers from cached knowledge with a single generation
// call. Low-complexity decisions run on the lite model when one is
// configured.
func (d *Dispatcher) knowledgeOnly(ctx context.Context, decision *router.RoutingDecision, query string) *ExecutionResult {
	res := &ExecutionResult{
		Mode:         string(decision.Mode),
		Query:        query,
		KnowledgeIDs: decision.KnowledgeIDs,
	}

	content := d.loadKnowledge(decision.KnowledgeIDs)
	prompt := knowledgePrompt(content, query)

	model := d.cfg.Generation.Model
	if d.cfg.Generation.LiteModel != "" && decision.Complexity != nil &&
		decision.Complexity.Score < d.cfg.Thresholds.KnowledgeOnly {
		model = d.cfg.Generation.LiteModel
	}

	d.generateInto(ctx, res, model, prompt)
	return res
}

// knowledgeWorker pairs knowledge context with one worker template.
func (d *Dispatcher) knowledgeWorker(ctx context.Context, decision *router.RoutingDecision, query string) *ExecutionResult {
	res := &ExecutionResult{
		Mode:         string(decision.Mode),
		Query:        query,
		KnowledgeIDs: decision.KnowledgeIDs,
		WorkerIDs:    decision.WorkerIDs,
	}
	if len(decision.WorkerIDs) == 0 {
		res.Err = "decision has no worker"
		return res
	}

	content := d.loadKnowledge(decision.KnowledgeIDs)
	prompt := d.workerPrompt(decision.WorkerIDs[0], content, query)
	d.generateInto(ctx, res, d.cfg.Generation.Model, prompt)
	return res
}

// generateInto runs one policy-governed generation call and records the
// outcome on the result. The raw error is also returned so callers can
// classify it before it is reduced to a string.
func (d *Dispatcher) generateInto(ctx context.Context, res *ExecutionResult, model, prompt string) error {
	resp, reports, err := callAdapterWithPolicy(ctx, d.adapters, d.cfg.Generation.Adapter, model, prompt, d.cfg)
	res.CallReports = reports
	res.EstimatedCost = sumReportCost(reports)
	if err != nil {
		res.Err = err.Error()
		return err
	}
	if resp.Artifact != nil {
		res.Response = resp.Artifact.Content
	}
	return nil
}

// loadKnowledge fetches unit content, degrading to empty context when the
// index fails. A missing knowledge unit never blocks execution.
func (d *Dispatcher) loadKnowledge(ids []string) string {
	if d.index == nil || len(ids) == 0 {
		return ""
	}
	content, err := d.index.LoadContent(ids)
	if err != nil {
		d.logger.Warn("knowledge load failed, continuing without context",
			zap.Strings("ids", ids), zap.Error(err))
		return ""
	}
	return content
}

// workerPrompt assembles the prompt for one worker: template, knowledge
// context, then the task. Unknown worker ids degrade to a bare task
// prompt.
func (d *Dispatcher) workerPrompt(workerID, content, task string) string {
	var sb strings.Builder
	if w, ok := d.directory.Get(workerID); ok && w.Template != "" {
		sb.WriteString(w.Template)
		sb.WriteString("\n\n")
	}
	if content != "" {
		sb.WriteString("Relevant knowledge:\n")
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Task: ")
	sb.WriteString(task)
	return sb.String()
}

func knowledgePrompt(content, query string) string {
	var sb strings.Builder
	if content != "" {
		sb.WriteString("Answer using the following knowledge:\n")
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}
