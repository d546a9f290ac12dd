// Package evolution closes the feedback loop: it records user judgments of
// executed decisions, accumulates per-unit and per-set routing statistics,
// and promotes consistently successful routes into learned patterns that
// can bypass the router on future queries.
package evolution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/router"
)

const (
	// successScore is the minimum score counted as a success.
	successScore = 4
	// improvementScore is the maximum score that raises an improvement
	// signal.
	improvementScore = 2
	// promotionMinSamples gates pattern promotion on sample size.
	promotionMinSamples = 5
	// promotionMinRate is the success rate a set must exceed to promote.
	promotionMinRate = 0.8
	// supersedeDelta is the rate drift that retires a pattern in favor of
	// a fresh one.
	supersedeDelta = 0.05
)

// ImprovementSignal flags a poorly scored route for operator attention.
type ImprovementSignal struct {
	Query        string   `json:"query"`
	Signature    string   `json:"signature"`
	Mode         string   `json:"mode"`
	KnowledgeIDs []string `json:"knowledge_ids,omitempty"`
	WorkerIDs    []string `json:"worker_ids,omitempty"`
	Score        int      `json:"score"`
	Comment      string   `json:"comment,omitempty"`
}

// Hint is a learned-pattern routing suggestion.
type Hint struct {
	Decision   *router.RoutingDecision `json:"decision"`
	Confidence float64                 `json:"confidence"`
	PatternID  string                  `json:"pattern_id"`
}

// Summary is the aggregate view exposed to callers.
type Summary struct {
	FeedbackCount  int        `json:"feedback_count"`
	AverageScore   float64    `json:"average_score"`
	PatternCount   int        `json:"pattern_count"`
	ActivePatterns int        `json:"active_patterns"`
	TopUnits       []UnitRate `json:"top_units,omitempty"`
	Stats          *Snapshot  `json:"stats"`
}

// UnitRate pairs a knowledge unit with its observed success rate.
type UnitRate struct {
	ID      string  `json:"id"`
	Rate    float64 `json:"rate"`
	Samples int     `json:"samples"`
}

// topUnitMinSamples filters units with too little history out of the
// top-performer listing.
const topUnitMinSamples = 3

// Engine is the learning loop. Feedback processing is serialized under one
// lock; reads work from snapshots.
type Engine struct {
	cfg   *config.EngineConfig
	store Store
	stats *Stats

	mu            sync.Mutex
	patterns      []*LearnedPattern
	feedbackCount int
	scoreSum      int

	validKnowledge func(id string) bool
	logger         *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithKnowledgeValidator installs a check for knowledge ids referenced by
// stored patterns. Patterns naming ids the validator rejects are treated
// as corrupt and never served as hints.
func WithKnowledgeValidator(valid func(id string) bool) Option {
	return func(e *Engine) { e.validKnowledge = valid }
}

// New creates an engine and restores persisted state from the store.
func New(cfg *config.EngineConfig, store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		stats:  NewStats(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load evolution state: %w", err)
	}
	e.stats.seed(state.UnitStats, state.SetStats)
	e.feedbackCount = len(state.Feedback)
	for _, fb := range state.Feedback {
		e.scoreSum += fb.Score
	}
	for i := range state.Patterns {
		p := state.Patterns[i]
		e.patterns = append(e.patterns, &p)
	}

	if dropped := e.pruneCorrupt(); dropped > 0 {
		e.logger.Warn("discarded corrupt learned patterns",
			zap.Int("count", dropped))
	}
	return e, nil
}

// pruneCorrupt retires loaded patterns that reference unknown knowledge
// ids. Retirement is by supersede marker so the store history stays
// append-only.
func (e *Engine) pruneCorrupt() int {
	if e.validKnowledge == nil {
		return 0
	}
	dropped := 0
	for _, p := range e.patterns {
		if !p.Active() {
			continue
		}
		for _, id := range p.KnowledgeIDs {
			if !e.validKnowledge(id) {
				p.SupersededBy = "corrupt"
				if err := e.store.SupersedePattern(p.ID, "corrupt"); err != nil {
					e.logger.Warn("failed to persist corrupt-pattern retirement",
						zap.String("pattern_id", p.ID), zap.Error(err))
				}
				dropped++
				break
			}
		}
	}
	return dropped
}

// RecordFeedback stores one judgment of an executed decision, updates
// statistics and runs pattern promotion. Scores of improvementScore or
// below return an ImprovementSignal. Score must be in [1, 5].
func (e *Engine) RecordFeedback(query string, decision *router.RoutingDecision, score int, comment string) (*ImprovementSignal, error) {
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("score %d out of range [1, 5]", score)
	}
	if decision == nil {
		return nil, fmt.Errorf("no decision to record feedback against")
	}

	signature := Signature(query, e.cfg.Stopwords)
	fb := Feedback{
		ID:           uuid.NewString(),
		Query:        query,
		Signature:    signature,
		Mode:         string(decision.Mode),
		KnowledgeIDs: decision.KnowledgeIDs,
		WorkerIDs:    decision.WorkerIDs,
		Score:        score,
		Comment:      comment,
		CreatedAt:    time.Now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.AppendFeedback(fb); err != nil {
		return nil, fmt.Errorf("failed to append feedback: %w", err)
	}
	e.feedbackCount++
	e.scoreSum += score

	success := score >= successScore
	setStat := e.stats.Record(decision.KnowledgeIDs, success)
	e.persistStats(decision.KnowledgeIDs)

	e.maybePromote(signature, decision, setStat)

	if score <= improvementScore {
		return &ImprovementSignal{
			Query:        query,
			Signature:    signature,
			Mode:         string(decision.Mode),
			KnowledgeIDs: decision.KnowledgeIDs,
			WorkerIDs:    decision.WorkerIDs,
			Score:        score,
			Comment:      comment,
		}, nil
	}
	return nil, nil
}

func (e *Engine) persistStats(ids []string) {
	snap := e.stats.Snapshot()
	for _, id := range ids {
		if st, ok := snap.Units[id]; ok {
			if err := e.store.SaveStat("unit", id, st); err != nil {
				e.logger.Warn("failed to persist unit stat", zap.String("id", id), zap.Error(err))
			}
		}
	}
	key := IDSetKey(ids)
	if st, ok := snap.Sets[key]; ok {
		if err := e.store.SaveStat("set", key, st); err != nil {
			e.logger.Warn("failed to persist set stat", zap.String("key", key), zap.Error(err))
		}
	}
}

// maybePromote creates or supersedes a learned pattern for the decision's
// routing shape. Promotion requires enough samples and a success rate
// above the floor; an existing active pattern is replaced only when the
// observed rate drifts by supersedeDelta or more.
func (e *Engine) maybePromote(signature string, decision *router.RoutingDecision, setStat Stat) {
	if signature == "" {
		return
	}
	if setStat.Total < promotionMinSamples || setStat.SuccessRate() <= promotionMinRate {
		return
	}

	key := IDSetKey(decision.KnowledgeIDs)
	var existing *LearnedPattern
	for _, p := range e.patterns {
		if p.Active() && p.matches(signature, string(decision.Mode), key) {
			existing = p
			break
		}
	}

	rate := setStat.SuccessRate()
	if existing != nil {
		drift := rate - existing.SuccessRate
		if drift < supersedeDelta && drift > -supersedeDelta {
			return
		}
	}

	p := &LearnedPattern{
		ID:           uuid.NewString(),
		Signature:    signature,
		Mode:         string(decision.Mode),
		KnowledgeIDs: decision.KnowledgeIDs,
		WorkerIDs:    decision.WorkerIDs,
		SuccessRate:  rate,
		SampleCount:  setStat.Total,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.InsertPattern(*p); err != nil {
		e.logger.Warn("failed to persist learned pattern", zap.Error(err))
		return
	}
	e.patterns = append(e.patterns, p)

	if existing != nil {
		existing.SupersededBy = p.ID
		if err := e.store.SupersedePattern(existing.ID, p.ID); err != nil {
			e.logger.Warn("failed to persist pattern supersede",
				zap.String("old", existing.ID), zap.String("new", p.ID), zap.Error(err))
		}
		e.logger.Info("learned pattern superseded",
			zap.String("signature", signature),
			zap.Float64("old_rate", existing.SuccessRate),
			zap.Float64("new_rate", rate))
		return
	}

	e.logger.Info("learned pattern promoted",
		zap.String("signature", signature),
		zap.String("mode", string(decision.Mode)),
		zap.Float64("success_rate", rate),
		zap.Int("samples", setStat.Total))
}

// GetRoutingHint returns the best learned-pattern suggestion for the
// query, or nil when no active pattern applies. Exact signature matches
// carry the pattern's success rate as confidence; fuzzy matches scale it
// by signature overlap.
func (e *Engine) GetRoutingHint(query string) *Hint {
	signature := Signature(query, e.cfg.Stopwords)
	if signature == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var best *LearnedPattern
	bestConfidence := 0.0
	for _, p := range e.patterns {
		if !p.Active() || !e.patternUsable(p) {
			continue
		}
		confidence := 0.0
		if p.Signature == signature {
			confidence = p.SuccessRate
		} else if overlap := jaccard(p.Signature, signature); overlap >= 0.5 {
			confidence = p.SuccessRate * overlap
		}
		if confidence > bestConfidence {
			best = p
			bestConfidence = confidence
		}
	}
	if best == nil {
		return nil
	}

	mode, err := router.ParseMode(best.Mode)
	if err != nil {
		return nil
	}
	return &Hint{
		Decision: &router.RoutingDecision{
			Mode:         mode,
			KnowledgeIDs: best.KnowledgeIDs,
			WorkerIDs:    best.WorkerIDs,
			Confidence:   bestConfidence,
			Rationale:    "learned pattern",
			PatternID:    best.ID,
		},
		Confidence: bestConfidence,
		PatternID:  best.ID,
	}
}

func (e *Engine) patternUsable(p *LearnedPattern) bool {
	if e.validKnowledge == nil {
		return true
	}
	for _, id := range p.KnowledgeIDs {
		if !e.validKnowledge(id) {
			return false
		}
	}
	return true
}

// StatsView returns a snapshot usable by the router for match ordering.
func (e *Engine) StatsView() router.StatsView {
	return e.stats.Snapshot()
}

// Stats returns the aggregate summary.
func (e *Engine) Stats() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	for _, p := range e.patterns {
		if p.Active() {
			active++
		}
	}

	avg := 0.0
	if e.feedbackCount > 0 {
		avg = float64(e.scoreSum) / float64(e.feedbackCount)
	}

	snap := e.stats.Snapshot()
	var top []UnitRate
	for id, st := range snap.Units {
		if st.Total < topUnitMinSamples {
			continue
		}
		top = append(top, UnitRate{ID: id, Rate: st.SuccessRate(), Samples: st.Total})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Rate != top[j].Rate {
			return top[i].Rate > top[j].Rate
		}
		return top[i].ID < top[j].ID
	})

	return Summary{
		FeedbackCount:  e.feedbackCount,
		AverageScore:   avg,
		PatternCount:   len(e.patterns),
		ActivePatterns: active,
		TopUnits:       top,
		Stats:          snap,
	}
}

// Patterns returns a copy of all patterns, newest last.
func (e *Engine) Patterns() []LearnedPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]LearnedPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, *p)
	}
	return out
}
