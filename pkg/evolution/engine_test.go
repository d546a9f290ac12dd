package evolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/router"
)

const learnedQuery = "Explain LoRA fine-tuning basics"

func learnedDecision() *router.RoutingDecision {
	return &router.RoutingDecision{
		Mode:         router.ModeKnowledgeOnly,
		KnowledgeIDs: []string{"fine-tuning"},
		Confidence:   1.0,
	}
}

func newTestEngine(t *testing.T, store Store, opts ...Option) *Engine {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	e, err := New(config.DefaultEngineConfig(), store, opts...)
	require.NoError(t, err)
	return e
}

func TestRecordFeedbackScoreValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()

	for _, score := range []int{0, -1, 6, 100} {
		_, err := e.RecordFeedback(learnedQuery, d, score, "")
		assert.Error(t, err, "score %d", score)
	}
	for score := 1; score <= 5; score++ {
		_, err := e.RecordFeedback(learnedQuery, d, score, "")
		assert.NoError(t, err, "score %d", score)
	}
	assert.Equal(t, 5, e.Stats().FeedbackCount)
}

func TestPromotionAfterConsistentSuccess(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()

	for i := 0; i < 4; i++ {
		_, err := e.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
		assert.Empty(t, e.Patterns(), "no promotion before the sample floor")
	}

	_, err := e.RecordFeedback(learnedQuery, d, 5, "")
	require.NoError(t, err)

	patterns := e.Patterns()
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, "knowledge_only", p.Mode)
	assert.Equal(t, []string{"fine-tuning"}, p.KnowledgeIDs)
	assert.Equal(t, 1.0, p.SuccessRate)
	assert.Equal(t, 5, p.SampleCount)
	assert.True(t, p.Active())

	// A sixth identical success does not duplicate the pattern.
	_, err = e.RecordFeedback(learnedQuery, d, 5, "")
	require.NoError(t, err)
	assert.Len(t, e.Patterns(), 1)
}

func TestLowScoresNeverPromote(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()

	for i := 0; i < 10; i++ {
		signal, err := e.RecordFeedback(learnedQuery, d, 1, "wrong route")
		require.NoError(t, err)
		require.NotNil(t, signal, "score 1 must raise an improvement signal")
		assert.Equal(t, 1, signal.Score)
		assert.Equal(t, "wrong route", signal.Comment)
	}
	assert.Empty(t, e.Patterns())
	assert.Nil(t, e.GetRoutingHint(learnedQuery))
}

func TestImprovementSignalThreshold(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()

	signal, err := e.RecordFeedback(learnedQuery, d, 2, "")
	require.NoError(t, err)
	assert.NotNil(t, signal)

	signal, err = e.RecordFeedback(learnedQuery, d, 3, "")
	require.NoError(t, err)
	assert.Nil(t, signal, "score 3 is neutral")
}

func TestPatternSupersededOnRateDrift(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()

	for i := 0; i < 5; i++ {
		_, err := e.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
	}
	require.Len(t, e.Patterns(), 1)
	first := e.Patterns()[0]

	// One failure drops the rate to 5/6 while staying above the promotion
	// floor; the drift exceeds the supersede delta.
	_, err := e.RecordFeedback(learnedQuery, d, 1, "")
	require.NoError(t, err)

	patterns := e.Patterns()
	require.Len(t, patterns, 2)

	var old, current LearnedPattern
	for _, p := range patterns {
		if p.ID == first.ID {
			old = p
		} else {
			current = p
		}
	}
	assert.False(t, old.Active())
	assert.Equal(t, current.ID, old.SupersededBy)
	assert.True(t, current.Active())
	assert.InDelta(t, 5.0/6.0, current.SuccessRate, 1e-9)
	assert.Equal(t, 6, current.SampleCount)

	summary := e.Stats()
	assert.Equal(t, 2, summary.PatternCount)
	assert.Equal(t, 1, summary.ActivePatterns)
}

func TestRoutingHintExactMatch(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()
	for i := 0; i < 5; i++ {
		_, err := e.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
	}

	hint := e.GetRoutingHint(learnedQuery)
	require.NotNil(t, hint)
	assert.Equal(t, 1.0, hint.Confidence)
	assert.Equal(t, router.ModeKnowledgeOnly, hint.Decision.Mode)
	assert.Equal(t, []string{"fine-tuning"}, hint.Decision.KnowledgeIDs)
	assert.NotEmpty(t, hint.PatternID)
	assert.Equal(t, hint.PatternID, hint.Decision.PatternID)
}

func TestRoutingHintFuzzyMatch(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()
	for i := 0; i < 5; i++ {
		_, err := e.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
	}

	// Three of the four signature keywords overlap.
	hint := e.GetRoutingHint("Explain LoRA fine-tuning")
	require.NotNil(t, hint)
	assert.InDelta(t, 0.75, hint.Confidence, 1e-9)

	// Disjoint queries get no hint.
	assert.Nil(t, e.GetRoutingHint("deploy the ingress controller"))
}

func TestHintConfidenceTracksPatternRate(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()
	for i := 0; i < 5; i++ {
		_, err := e.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
	}
	before := e.GetRoutingHint(learnedQuery)
	require.NotNil(t, before)

	_, err := e.RecordFeedback(learnedQuery, d, 1, "")
	require.NoError(t, err)

	after := e.GetRoutingHint(learnedQuery)
	require.NotNil(t, after)
	assert.Less(t, after.Confidence, before.Confidence)
}

func TestStateSurvivesRestart(t *testing.T) {
	store := NewMemoryStore()
	e1 := newTestEngine(t, store)
	d := learnedDecision()
	for i := 0; i < 5; i++ {
		_, err := e1.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
	}

	e2 := newTestEngine(t, store)
	assert.Equal(t, 5, e2.Stats().FeedbackCount)
	hint := e2.GetRoutingHint(learnedQuery)
	require.NotNil(t, hint)
	assert.Equal(t, 1.0, hint.Confidence)

	rate, samples, ok := e2.StatsView().SuccessRate("fine-tuning")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 5, samples)
}

func TestCorruptPatternsDiscarded(t *testing.T) {
	store := NewMemoryStore()
	e1 := newTestEngine(t, store)
	d := learnedDecision()
	for i := 0; i < 5; i++ {
		_, err := e1.RecordFeedback(learnedQuery, d, 5, "")
		require.NoError(t, err)
	}
	require.NotNil(t, e1.GetRoutingHint(learnedQuery))

	// Restart against an index that no longer knows the unit.
	e2 := newTestEngine(t, store, WithKnowledgeValidator(func(id string) bool {
		return id != "fine-tuning"
	}))
	assert.Nil(t, e2.GetRoutingHint(learnedQuery))
	assert.Equal(t, 0, e2.Stats().ActivePatterns)
}

func TestSignature(t *testing.T) {
	stopwords := config.DefaultEngineConfig().Stopwords
	tests := []struct {
		query string
		want  string
	}{
		{"What is LoRA fine-tuning?", "fine-tuning|lora"},
		{"LoRA fine-tuning: what is it?", "fine-tuning|lora"},
		{"", ""},
		{"the a an", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Signature(tt.query, stopwords), "query %q", tt.query)
	}
}

func TestIDSetKeyOrderInsensitive(t *testing.T) {
	assert.Equal(t, IDSetKey([]string{"b", "a", "c"}), IDSetKey([]string{"c", "a", "b"}))
	assert.Equal(t, "", IDSetKey(nil))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard("a|b", "a|b"), 1e-9)
	assert.InDelta(t, 1.0/3.0, jaccard("a|b", "a|c"), 1e-9)
	assert.InDelta(t, 0.0, jaccard("a", "b"), 1e-9)
	assert.InDelta(t, 0.0, jaccard("", "a"), 1e-9)
}

func TestSummaryAverageAndTopUnits(t *testing.T) {
	e := newTestEngine(t, nil)
	d := learnedDecision()

	for _, score := range []int{5, 5, 2} {
		_, err := e.RecordFeedback(learnedQuery, d, score, "")
		require.NoError(t, err)
	}
	// Two samples stay under the top-unit floor.
	other := &router.RoutingDecision{Mode: router.ModeKnowledgeOnly, KnowledgeIDs: []string{"rag"}}
	for i := 0; i < 2; i++ {
		_, err := e.RecordFeedback("Explain retrieval augmented generation", other, 5, "")
		require.NoError(t, err)
	}

	summary := e.Stats()
	assert.Equal(t, 5, summary.FeedbackCount)
	assert.InDelta(t, 19.0/5.0, summary.AverageScore, 1e-9)

	require.Len(t, summary.TopUnits, 1)
	assert.Equal(t, "fine-tuning", summary.TopUnits[0].ID)
	assert.Equal(t, 3, summary.TopUnits[0].Samples)
	assert.InDelta(t, 2.0/3.0, summary.TopUnits[0].Rate, 1e-9)
}
