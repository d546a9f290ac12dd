package router

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/artifact"
	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/knowledge"
	"github.com/zen-systems/knowgate/pkg/worker"
)

func newTestRouter(opts ...Option) *Router {
	cfg := config.DefaultEngineConfig()
	dir := worker.NewTableDirectory(cfg.Workers)
	return New(cfg, knowledge.NewMemoryIndex(), dir, opts...)
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRouteKnowledgeOnly(t *testing.T) {
	r := newTestRouter()
	d := r.Route(context.Background(), "What is LoRA fine-tuning?", nil)

	if d.Mode != ModeKnowledgeOnly {
		t.Fatalf("mode = %s, want %s", d.Mode, ModeKnowledgeOnly)
	}
	if !reflect.DeepEqual(d.KnowledgeIDs, []string{"fine-tuning"}) {
		t.Errorf("knowledge ids = %v, want [fine-tuning]", d.KnowledgeIDs)
	}
	if len(d.WorkerIDs) != 0 {
		t.Errorf("worker ids = %v, want none", d.WorkerIDs)
	}
	if !floatEq(d.Confidence, 1.0) {
		t.Errorf("confidence = %.2f, want 1.0", d.Confidence)
	}
}

func TestRouteKnowledgeAndWorker(t *testing.T) {
	r := newTestRouter()
	d := r.Route(context.Background(), "Implement a LoRA fine-tuning script for our dataset", nil)

	if d.Mode != ModeKnowledgeAndWorker {
		t.Fatalf("mode = %s, want %s", d.Mode, ModeKnowledgeAndWorker)
	}
	if len(d.KnowledgeIDs) == 0 || d.KnowledgeIDs[0] != "fine-tuning" {
		t.Errorf("knowledge ids = %v, want fine-tuning first", d.KnowledgeIDs)
	}
	if !reflect.DeepEqual(d.WorkerIDs, []string{"ml-engineer"}) {
		t.Errorf("worker ids = %v, want [ml-engineer]", d.WorkerIDs)
	}
	// Score 0.35 sits inside the boundary margin of the 0.3 threshold.
	if !floatEq(d.Confidence, 0.8) {
		t.Errorf("confidence = %.2f, want 0.8", d.Confidence)
	}
}

func TestRouteParallel(t *testing.T) {
	r := newTestRouter()
	d := r.Route(context.Background(), "Build the API, write tests, and write the docs", nil)

	if d.Mode != ModeParallel {
		t.Fatalf("mode = %s, want %s", d.Mode, ModeParallel)
	}
	wantTasks := []string{"Build the API", "write tests", "write the docs"}
	if !reflect.DeepEqual(d.SubTasks, wantTasks) {
		t.Errorf("sub-tasks = %v, want %v", d.SubTasks, wantTasks)
	}
	wantWorkers := []string{"backend-developer", "qa-expert", "tech-writer"}
	if !reflect.DeepEqual(d.WorkerIDs, wantWorkers) {
		t.Errorf("worker ids = %v, want %v", d.WorkerIDs, wantWorkers)
	}
	if len(d.WorkerIDs) != len(d.SubTasks) {
		t.Errorf("worker count %d != sub-task count %d", len(d.WorkerIDs), len(d.SubTasks))
	}
}

func TestRouteMultiWorker(t *testing.T) {
	r := newTestRouter()
	d := r.Route(context.Background(), "Design a secure payment architecture and audit it for vulnerabilities", nil)

	if d.Mode != ModeMultiWorker {
		t.Fatalf("mode = %s, want %s", d.Mode, ModeMultiWorker)
	}
	want := []string{"system-architect", "qa-expert"}
	if !reflect.DeepEqual(d.WorkerIDs, want) {
		t.Errorf("worker chain = %v, want %v", d.WorkerIDs, want)
	}
}

func TestRouteMultiWorkerWithoutReviewer(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	dir := worker.NewTableDirectory(map[string]config.WorkerEntry{
		"system-architect": {Tier: "core", Capabilities: []string{"design", "architecture", "creation"}},
		"generalist":       {Tier: "core", Capabilities: []string{"general", "analysis", "creation"}},
	})
	r := New(cfg, knowledge.NewMemoryIndex(), dir)

	d := r.Route(context.Background(), "Design the architecture and integrate the system for the new platform build", nil)
	if d.Mode != ModeMultiWorker {
		t.Fatalf("mode = %s, want %s", d.Mode, ModeMultiWorker)
	}
	if len(d.WorkerIDs) < 2 || len(d.WorkerIDs) > 3 {
		t.Fatalf("worker chain = %v, want 2-3 workers", d.WorkerIDs)
	}
	want := []string{"system-architect", "generalist"}
	if !reflect.DeepEqual(d.WorkerIDs, want) {
		t.Errorf("worker chain = %v, want %v", d.WorkerIDs, want)
	}
}

func TestRouteEmptyQuery(t *testing.T) {
	r := newTestRouter()
	for _, q := range []string{"", "   ", "\n\t"} {
		d := r.Route(context.Background(), q, nil)
		if d.Mode != ModeKnowledgeOnly {
			t.Errorf("query %q: mode = %s, want %s", q, d.Mode, ModeKnowledgeOnly)
		}
		if len(d.KnowledgeIDs) != 0 || len(d.WorkerIDs) != 0 {
			t.Errorf("query %q: expected empty id lists, got %v / %v", q, d.KnowledgeIDs, d.WorkerIDs)
		}
		if d.Confidence != 0 {
			t.Errorf("query %q: confidence = %.2f, want 0", q, d.Confidence)
		}
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := newTestRouter()
	query := "Build the API, write tests, and write the docs"
	first := r.Route(context.Background(), query, nil)
	for i := 0; i < 10; i++ {
		again := r.Route(context.Background(), query, nil)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestRouteStatsOrdering(t *testing.T) {
	r := newTestRouter()
	// Both fine-tuning and data-processing match; history should reorder.
	query := "Implement a LoRA fine-tuning script for our dataset"

	stats := statsMap{
		"fine-tuning":     {rate: 0.2, samples: 10},
		"data-processing": {rate: 0.9, samples: 10},
	}
	d := r.Route(context.Background(), query, stats)
	if len(d.KnowledgeIDs) != 2 || d.KnowledgeIDs[0] != "data-processing" {
		t.Errorf("knowledge ids = %v, want data-processing first", d.KnowledgeIDs)
	}
}

type statsMap map[string]struct {
	rate    float64
	samples int
}

func (s statsMap) SuccessRate(id string) (float64, int, bool) {
	e, ok := s[id]
	return e.rate, e.samples, ok
}

// fakeClassifier implements adapter.Adapter with a canned reply.
type fakeClassifier struct {
	reply string
	err   error
	calls int
}

func (f *fakeClassifier) Generate(ctx context.Context, model, prompt string) (*adapter.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.Response{Artifact: artifact.New(f.reply, "fake", model, prompt)}, nil
}

func (f *fakeClassifier) Name() string     { return "fake" }
func (f *fakeClassifier) Models() []string { return []string{"fake-1"} }

// An ambiguous low-complexity query: no keyword match, boundary score and a
// worker tie push confidence below the classifier floor.
const ambiguousQuery = "Create an api for the frontend"

func TestRouteClassifierOverride(t *testing.T) {
	fc := &fakeClassifier{
		reply: "```json\n{\"mode\": \"knowledge_worker\", \"knowledge_ids\": [\"rag\"], \"worker_ids\": [\"frontend-developer\"], \"reason\": \"ui heavy\"}\n```",
	}
	r := newTestRouter(WithClassifier(fc))
	d := r.Route(context.Background(), ambiguousQuery, nil)

	if fc.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", fc.calls)
	}
	if d.Mode != ModeKnowledgeAndWorker {
		t.Errorf("mode = %s, want %s", d.Mode, ModeKnowledgeAndWorker)
	}
	if !reflect.DeepEqual(d.KnowledgeIDs, []string{"rag"}) {
		t.Errorf("knowledge ids = %v, want [rag]", d.KnowledgeIDs)
	}
	if !reflect.DeepEqual(d.WorkerIDs, []string{"frontend-developer"}) {
		t.Errorf("worker ids = %v, want [frontend-developer]", d.WorkerIDs)
	}
	if !floatEq(d.Confidence, classifierConfidence) {
		t.Errorf("confidence = %.2f, want %.2f", d.Confidence, classifierConfidence)
	}
}

func TestRouteClassifierFailOpen(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeClassifier
	}{
		{"call error", &fakeClassifier{err: errors.New("upstream down")}},
		{"malformed json", &fakeClassifier{reply: "sure, here is my routing decision"}},
		{"unknown mode", &fakeClassifier{reply: `{"mode": "turbo", "worker_ids": ["generalist"]}`}},
		{"unknown worker", &fakeClassifier{reply: `{"mode": "knowledge_worker", "worker_ids": ["nobody"]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(WithClassifier(tt.fc))
			d := r.Route(context.Background(), ambiguousQuery, nil)

			if tt.fc.calls != 1 {
				t.Fatalf("classifier calls = %d, want 1", tt.fc.calls)
			}
			// Deterministic decision survives the classifier failure.
			if d.Mode != ModeKnowledgeAndWorker {
				t.Errorf("mode = %s, want %s", d.Mode, ModeKnowledgeAndWorker)
			}
			if !reflect.DeepEqual(d.WorkerIDs, []string{"backend-developer"}) {
				t.Errorf("worker ids = %v, want [backend-developer]", d.WorkerIDs)
			}
			if d.Confidence >= 0.5 {
				t.Errorf("confidence = %.2f, want below classifier floor", d.Confidence)
			}
		})
	}
}

func TestRouteClassifierNotConsultedWhenConfident(t *testing.T) {
	fc := &fakeClassifier{reply: `{"mode": "parallel"}`}
	r := newTestRouter(WithClassifier(fc))
	r.Route(context.Background(), "What is LoRA fine-tuning?", nil)
	if fc.calls != 0 {
		t.Errorf("classifier calls = %d, want 0", fc.calls)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"knowledge_only", "knowledge_worker", "parallel", "multi_worker"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) failed: %v", s, err)
		}
	}
	for _, s := range []string{"", "turbo", "KNOWLEDGE_ONLY", "knowledge-only"} {
		if _, err := ParseMode(s); err == nil {
			t.Errorf("ParseMode(%q) should fail", s)
		}
	}
}
