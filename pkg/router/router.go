// Package router turns a free-form query into a routing decision: which
// execution mode to use and which knowledge units and workers to involve.
// The decision table is deterministic; a remote classifier is consulted
// only when confidence drops below the configured floor, and any classifier
// failure falls back to the deterministic result.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/knowledge"
	"github.com/zen-systems/knowgate/pkg/worker"
)

// Router maps queries to routing decisions. Safe for concurrent use; all
// fields are set at construction and never mutated.
type Router struct {
	cfg        *config.EngineConfig
	matcher    *KeywordMatcher
	analyzer   *Analyzer
	index      knowledge.Index
	directory  worker.Directory
	classifier adapter.Adapter
	stopwords  map[string]bool
	logger     *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClassifier installs the remote tie-breaker adapter.
func WithClassifier(a adapter.Adapter) Option {
	return func(r *Router) { r.classifier = a }
}

// New creates a router over the given policy, knowledge index and worker
// directory.
func New(cfg *config.EngineConfig, index knowledge.Index, directory worker.Directory, opts ...Option) *Router {
	r := &Router{
		cfg:       cfg,
		matcher:   NewKeywordMatcher(cfg.Knowledge),
		analyzer:  NewAnalyzer(cfg.Conjunctions),
		index:     index,
		directory: directory,
		stopwords: make(map[string]bool, len(cfg.Stopwords)),
		logger:    zap.NewNop(),
	}
	for _, w := range cfg.Stopwords {
		r.stopwords[strings.ToLower(w)] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route produces a routing decision for the query. It never fails: empty
// or unroutable input degrades to a zero-confidence knowledge-only
// decision. stats may be nil.
func (r *Router) Route(ctx context.Context, query string, stats StatsView) *RoutingDecision {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &RoutingDecision{
			Mode:       ModeKnowledgeOnly,
			Confidence: 0,
			Rationale:  "empty query",
		}
	}

	analysis := r.analyzer.Analyze(trimmed)
	keywordIDs := r.orderByStats(r.matcher.Match(trimmed), stats)
	tags := r.matcher.TagsFor(keywordIDs)

	d := &RoutingDecision{
		KnowledgeIDs: keywordIDs,
		Complexity:   &analysis,
	}

	switch {
	case analysis.Score < r.cfg.Thresholds.KnowledgeOnly:
		d.Mode = ModeKnowledgeOnly
		d.Rationale = fmt.Sprintf("complexity %.2f below knowledge threshold %.2f",
			analysis.Score, r.cfg.Thresholds.KnowledgeOnly)

	case analysis.Score < r.cfg.Thresholds.Worker:
		d.Mode = ModeKnowledgeAndWorker
		d.WorkerIDs = []string{r.pickWorker(tags, trimmed)}
		d.Rationale = fmt.Sprintf("complexity %.2f needs one worker", analysis.Score)

	case analysis.LooksParallel:
		d.Mode = ModeParallel
		d.SubTasks = r.subTasks(analysis)
		d.WorkerIDs = make([]string, len(d.SubTasks))
		for i, task := range d.SubTasks {
			d.WorkerIDs[i] = r.workerForClause(task)
		}
		d.Rationale = fmt.Sprintf("complexity %.2f with %d independent sub-tasks",
			analysis.Score, len(d.SubTasks))

	default:
		d.Mode = ModeMultiWorker
		d.WorkerIDs = r.reviewChain(tags, trimmed)
		d.Rationale = fmt.Sprintf("complexity %.2f needs a reviewed worker chain",
			analysis.Score)
	}

	d.Confidence = r.confidence(d, analysis, keywordIDs, tags, trimmed)

	if d.Confidence < r.cfg.Thresholds.ClassifierConfidence &&
		r.classifier != nil && r.cfg.ClassifierEnabled() {
		if remote := r.classify(ctx, trimmed, d); remote != nil {
			r.logger.Debug("routing decided by classifier",
				zap.String("mode", string(remote.Mode)),
				zap.Float64("local_confidence", d.Confidence))
			return remote
		}
	}

	r.logger.Debug("routing decided",
		zap.String("mode", string(d.Mode)),
		zap.Float64("complexity", analysis.Score),
		zap.Float64("confidence", d.Confidence),
		zap.Strings("knowledge_ids", d.KnowledgeIDs),
		zap.Strings("worker_ids", d.WorkerIDs))
	return d
}

// subTasks returns the parallel clauses, preferring imperative ones and
// capped at maxSubTasks.
func (r *Router) subTasks(an Analysis) []string {
	tasks := imperativeClauses(an.Clauses)
	if len(tasks) < 2 {
		tasks = an.Clauses
	}
	if len(tasks) > maxSubTasks {
		tasks = tasks[:maxSubTasks]
	}
	return tasks
}

// pickWorker selects the best capability match for the tags, falling back
// to a general-purpose worker so a worker mode never dispatches empty.
func (r *Router) pickWorker(tags []string, text string) string {
	lookup := append(append([]string{}, tags...), r.significantWords(text)...)
	if w, ok := r.directory.BestCapabilityMatch(lookup); ok {
		return w.ID
	}
	for _, w := range r.directory.All() {
		if w.HasCapability("general") {
			return w.ID
		}
	}
	if core := r.directory.ListByTier(worker.TierCore); len(core) > 0 {
		return core[0].ID
	}
	if all := r.directory.All(); len(all) > 0 {
		return all[0].ID
	}
	return ""
}

// workerForClause selects a worker for one parallel clause using the
// clause's own keyword matches plus its significant words.
func (r *Router) workerForClause(clause string) string {
	tags := r.matcher.TagsFor(r.matcher.Match(clause))
	return r.pickWorker(tags, clause)
}

// reviewChain builds the sequential chain for multi-worker execution: a
// primary producer followed by a distinct reviewer. A table without any
// review-capable worker still yields a two-step chain, pairing the primary
// with the next-best capability match.
func (r *Router) reviewChain(tags []string, query string) []string {
	primary := r.pickWorker(tags, query)
	chain := []string{primary}

	reviewTags := append(append([]string{}, tags...), "review", "validation")
	for _, m := range r.directory.RankedMatches(reviewTags) {
		if m.Worker.ID == primary {
			continue
		}
		if m.Worker.HasCapability("review") || m.Worker.HasCapability("validation") {
			chain = append(chain, m.Worker.ID)
			break
		}
	}
	if len(chain) == 1 {
		lookup := append(append([]string{}, tags...), r.significantWords(query)...)
		for _, m := range r.directory.RankedMatches(lookup) {
			if m.Worker.ID != primary {
				chain = append(chain, m.Worker.ID)
				break
			}
		}
	}
	if len(chain) == 1 {
		for _, w := range r.directory.All() {
			if w.ID != primary {
				chain = append(chain, w.ID)
				break
			}
		}
	}
	return chain
}

// confidence starts at 1.0 and subtracts a fixed penalty per ambiguity
// signal, clamped to [0, 1].
func (r *Router) confidence(d *RoutingDecision, an Analysis, keywordIDs, tags []string, query string) float64 {
	conf := 1.0
	if len(keywordIDs) == 0 {
		conf -= 0.3
	}

	margin := r.cfg.Thresholds.BoundaryMargin
	if math.Abs(an.Score-r.cfg.Thresholds.KnowledgeOnly) <= margin ||
		math.Abs(an.Score-r.cfg.Thresholds.Worker) <= margin {
		conf -= 0.2
	}

	// Ambiguity is judged on the same lookup pickWorker used.
	if len(d.WorkerIDs) > 0 {
		lookup := append(append([]string{}, tags...), r.significantWords(query)...)
		matches := r.directory.RankedMatches(lookup)
		if len(matches) >= 2 && matches[0].Score == matches[1].Score {
			conf -= 0.2
		}
	}

	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// orderByStats reorders matched ids by observed success rate, treating
// ids without history as neutral. The sort is stable so the keyword
// ranking survives among equals.
func (r *Router) orderByStats(ids []string, stats StatsView) []string {
	if stats == nil || len(ids) < 2 {
		return ids
	}
	rateOf := func(id string) float64 {
		if rate, samples, ok := stats.SuccessRate(id); ok && samples > 0 {
			return rate
		}
		return 0.5
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return rateOf(ids[i]) > rateOf(ids[j])
	})
	return ids
}

func (r *Router) significantWords(text string) []string {
	var out []string
	for _, w := range tokenizeQuery(strings.ToLower(text)) {
		if len(w) < 3 || r.stopwords[w] {
			continue
		}
		out = append(out, w)
		// Naive singular form so "tests" still hits a "test" capability.
		if len(w) >= 4 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			out = append(out, strings.TrimSuffix(w, "s"))
		}
	}
	return out
}
