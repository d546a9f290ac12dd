package router

import "strings"

// Analysis is the deterministic complexity estimate for one query.
type Analysis struct {
	// Score is the normalized complexity in [0, 1].
	Score float64 `json:"score"`
	// LooksParallel is true when the query decomposes into at least two
	// independent imperative clauses.
	LooksParallel bool `json:"looks_parallel"`
	// Clauses are the decomposed segments, in original order.
	Clauses []string `json:"clauses,omitempty"`
	// Signals names the indicator categories that fired.
	Signals []string `json:"signals,omitempty"`
}

// Indicator vocabularies. Each category contributes to the score
// independently; counts are capped so one keyword-stuffed query cannot
// saturate a category.
var (
	creationWords = []string{
		"implement", "build", "create", "write", "develop", "code",
		"add", "make", "generate", "refactor", "migrate",
	}
	designWords = []string{
		"design", "architecture", "architect", "plan", "structure",
		"integrate", "system",
	}
	reviewWords = []string{
		"review", "validate", "verify", "check", "audit", "test", "secure",
	}
	simplePrefixes = []string{
		"what is", "what are", "who is", "when", "where", "list", "define",
	}
)

// Analyzer scores queries for routing. Stateless apart from the clause
// markers, so a single instance is safe for concurrent use.
type Analyzer struct {
	conjunctions []string
}

// NewAnalyzer creates an analyzer with the given clause markers.
func NewAnalyzer(conjunctions []string) *Analyzer {
	return &Analyzer{conjunctions: conjunctions}
}

// Analyze computes the complexity estimate for a query. Identical input
// always yields the identical result.
func (a *Analyzer) Analyze(query string) Analysis {
	q := strings.ToLower(strings.TrimSpace(query))
	an := Analysis{}
	if q == "" {
		return an
	}
	an.Clauses = Decompose(query, a.conjunctions)

	creation := countHits(q, creationWords)
	design := countHits(q, designWords)
	review := countHits(q, reviewWords)

	score := 0.15*float64(min(creation, 2)) +
		0.15*float64(min(design, 2)) +
		0.15*float64(min(review, 2))

	if creation > 0 {
		score += 0.2
		an.Signals = append(an.Signals, "creation")
	}
	if design > 0 && review > 0 {
		score += 0.3
		an.Signals = append(an.Signals, "collaborative")
	}
	if len(imperativeClauses(an.Clauses)) >= 2 {
		score += 0.3
		an.LooksParallel = true
		an.Signals = append(an.Signals, "parallel")
	}

	// Pure lookup questions stay in knowledge-only territory even when
	// they mention loaded terms.
	if isSimpleQuestion(q) && score > 0.25 {
		score = 0.25
		an.Signals = append(an.Signals, "simple-question")
	}

	if score > 1.0 {
		score = 1.0
	}
	an.Score = score
	return an
}

func countHits(q string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(q, w) {
			n++
		}
	}
	return n
}

func isSimpleQuestion(q string) bool {
	for _, p := range simplePrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	return false
}
