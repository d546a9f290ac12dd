// Package coordinator is the engine facade: it consults learned patterns,
// falls back to the router, executes the decision and feeds user judgments
// back into the evolution loop.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/knowgate/pkg/audit"
	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/dispatch"
	"github.com/zen-systems/knowgate/pkg/evolution"
	"github.com/zen-systems/knowgate/pkg/router"
)

// Coordinator orchestrates one query end to end. Handle and Feedback are
// safe to call from multiple goroutines; Feedback applies to the most
// recent Handle.
type Coordinator struct {
	cfg        *config.EngineConfig
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	evolution  *evolution.Engine
	auditDir   string
	logger     *zap.Logger

	mu           sync.Mutex
	lastRunID    string
	lastQuery    string
	lastDecision *router.RoutingDecision
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithAuditDir enables run-record writing under dir.
func WithAuditDir(dir string) Option {
	return func(c *Coordinator) { c.auditDir = dir }
}

// New creates a coordinator over the assembled engine components.
func New(cfg *config.EngineConfig, r *router.Router, d *dispatch.Dispatcher, e *evolution.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		router:     r,
		dispatcher: d,
		evolution:  e,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Plan produces the routing decision for a query without executing it.
// High-confidence learned patterns short-circuit the router.
func (c *Coordinator) Plan(ctx context.Context, query string) *router.RoutingDecision {
	if c.evolution != nil {
		if hint := c.evolution.GetRoutingHint(query); hint != nil &&
			hint.Confidence > c.cfg.Thresholds.HintConfidence {
			if decision := c.usableHintDecision(hint, query); decision != nil {
				c.logger.Debug("routing via learned pattern",
					zap.String("pattern_id", hint.PatternID),
					zap.Float64("confidence", hint.Confidence))
				return decision
			}
		}
	}

	var stats router.StatsView
	if c.evolution != nil {
		stats = c.evolution.StatsView()
	}
	return c.router.Route(ctx, query, stats)
}

// usableHintDecision validates a pattern decision for execution. Parallel
// patterns need sub-tasks the pattern does not store; they are rebuilt
// from the query, and the hint is rejected when decomposition fails.
func (c *Coordinator) usableHintDecision(hint *evolution.Hint, query string) *router.RoutingDecision {
	decision := hint.Decision
	if decision.Mode != router.ModeParallel {
		return decision
	}

	subTasks := router.Decompose(query, c.cfg.Conjunctions)
	if len(subTasks) < 2 || len(decision.WorkerIDs) == 0 {
		return nil
	}
	rebuilt := *decision
	rebuilt.SubTasks = subTasks
	// Pad worker assignments to clause count by repeating the last one.
	workers := append([]string(nil), decision.WorkerIDs...)
	for len(workers) < len(subTasks) {
		workers = append(workers, workers[len(workers)-1])
	}
	rebuilt.WorkerIDs = workers[:len(subTasks)]
	return &rebuilt
}

// Handle routes and executes one query. Upstream generation failures are
// reported inside the result; the error return covers orchestration
// failures only.
func (c *Coordinator) Handle(ctx context.Context, query string) (*dispatch.ExecutionResult, error) {
	start := time.Now()
	decision := c.Plan(ctx, query)

	result, err := c.dispatcher.Execute(ctx, decision, query)
	if err != nil {
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}

	runID := uuid.NewString()
	c.mu.Lock()
	c.lastRunID = runID
	c.lastQuery = query
	c.lastDecision = decision
	c.mu.Unlock()

	c.writeAudit(runID, query, decision, result, time.Since(start))
	return result, nil
}

// Feedback records a judgment of the most recent Handle outcome.
func (c *Coordinator) Feedback(score int, comment string) (*evolution.ImprovementSignal, error) {
	c.mu.Lock()
	runID, query, decision := c.lastRunID, c.lastQuery, c.lastDecision
	c.mu.Unlock()

	if decision == nil {
		return nil, fmt.Errorf("no handled query to rate")
	}
	if c.evolution == nil {
		return nil, fmt.Errorf("learning is disabled")
	}

	signal, err := c.evolution.RecordFeedback(query, decision, score, comment)
	if err != nil {
		return nil, err
	}

	if c.auditDir != "" && runID != "" {
		if w, werr := audit.NewWriter(c.auditDir, runID); werr == nil {
			record := audit.FeedbackRecord{
				RunID:     runID,
				Timestamp: time.Now().UTC(),
				Score:     score,
				Comment:   comment,
			}
			if werr := w.WriteFeedback(record); werr != nil {
				c.logger.Warn("failed to write feedback record", zap.Error(werr))
			}
			if signal != nil {
				if werr := w.WriteImprovement(signal); werr != nil {
					c.logger.Warn("failed to write improvement record", zap.Error(werr))
				}
			}
		}
	}
	return signal, nil
}

// Stats returns the evolution summary.
func (c *Coordinator) Stats() evolution.Summary {
	if c.evolution == nil {
		return evolution.Summary{}
	}
	return c.evolution.Stats()
}

// LastDecision returns the decision behind the most recent Handle.
func (c *Coordinator) LastDecision() *router.RoutingDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDecision
}

// LastRunID returns the run id of the most recent Handle.
func (c *Coordinator) LastRunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRunID
}

func (c *Coordinator) writeAudit(runID, query string, decision *router.RoutingDecision, result *dispatch.ExecutionResult, elapsed time.Duration) {
	if c.auditDir == "" {
		return
	}
	w, err := audit.NewWriter(c.auditDir, runID)
	if err != nil {
		c.logger.Warn("failed to create audit writer", zap.Error(err))
		return
	}
	record := audit.RunRecord{
		ID:             runID,
		Timestamp:      time.Now().UTC(),
		Query:          query,
		Decision:       decision,
		HintPatternID:  decision.PatternID,
		Result:         result,
		TotalCost:      result.TotalCost(),
		DurationMillis: elapsed.Milliseconds(),
	}
	if err := w.WriteRun(record); err != nil {
		c.logger.Warn("failed to write run record", zap.Error(err))
	}
}
