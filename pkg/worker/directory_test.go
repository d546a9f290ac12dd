package worker

import (
	"testing"

	"github.com/zen-systems/knowgate/pkg/config"
)

func testEntries() map[string]config.WorkerEntry {
	return map[string]config.WorkerEntry{
		"backend-developer":  {Tier: "core", Capabilities: []string{"api", "backend", "creation"}},
		"qa-expert":          {Tier: "core", Capabilities: []string{"test", "review", "validation"}},
		"ml-engineer":        {Tier: "specialized", Capabilities: []string{"ml", "training", "creation"}},
		"security-reviewer":  {Tier: "specialized", Capabilities: []string{"security", "review", "validation"}},
		"data-engineer":      {Tier: "specialized", Capabilities: []string{"data pipeline", "etl"}},
		"research-assistant": {Tier: "experimental", Capabilities: []string{"research", "analysis"}},
	}
}

func TestGet(t *testing.T) {
	d := NewTableDirectory(testEntries())

	w, ok := d.Get("ml-engineer")
	if !ok {
		t.Fatal("Get(ml-engineer) not found")
	}
	if w.Tier != TierSpecialized {
		t.Errorf("Tier = %q, want specialized", w.Tier)
	}
	if !w.HasCapability("training") {
		t.Error("expected training capability")
	}
	if _, ok := d.Get("no-such-worker"); ok {
		t.Error("Get(no-such-worker) should fail")
	}
}

func TestMatchScore(t *testing.T) {
	d := NewTableDirectory(testEntries())

	tests := []struct {
		name string
		tags []string
		id   string
		want int
	}{
		{"exact hit scores 2", []string{"ml"}, "ml-engineer", 2},
		{"two exact hits", []string{"review", "validation"}, "qa-expert", 4},
		{"word overlap scores 1", []string{"pipeline"}, "data-engineer", 1},
		{"exact beats overlap per tag", []string{"data pipeline"}, "data-engineer", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := d.Get(tt.id)
			if !ok {
				t.Fatalf("missing worker %s", tt.id)
			}
			if got := matchScore(*w, tt.tags); got != tt.want {
				t.Errorf("matchScore(%s, %v) = %d, want %d", tt.id, tt.tags, got, tt.want)
			}
		})
	}
}

func TestRankedMatchesOrdering(t *testing.T) {
	d := NewTableDirectory(testEntries())

	// qa-expert and security-reviewer tie on score; core outranks
	// specialized.
	matches := d.RankedMatches([]string{"review", "validation"})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Worker.ID != "qa-expert" || matches[1].Worker.ID != "security-reviewer" {
		t.Errorf("unexpected order: %s, %s", matches[0].Worker.ID, matches[1].Worker.ID)
	}
	if matches[0].Score != matches[1].Score {
		t.Errorf("expected a score tie, got %d and %d", matches[0].Score, matches[1].Score)
	}
}

func TestBestCapabilityMatch(t *testing.T) {
	d := NewTableDirectory(testEntries())

	w, ok := d.BestCapabilityMatch([]string{"api", "backend"})
	if !ok || w.ID != "backend-developer" {
		t.Errorf("BestCapabilityMatch = %v, %v; want backend-developer", w, ok)
	}

	if _, ok := d.BestCapabilityMatch([]string{"gardening"}); ok {
		t.Error("expected no match for unknown tags")
	}
	if _, ok := d.BestCapabilityMatch(nil); ok {
		t.Error("expected no match for empty tags")
	}
}

func TestListByTierAndAll(t *testing.T) {
	d := NewTableDirectory(testEntries())

	core := d.ListByTier(TierCore)
	if len(core) != 2 || core[0].ID != "backend-developer" || core[1].ID != "qa-expert" {
		t.Errorf("unexpected core listing: %v", core)
	}

	all := d.All()
	if len(all) != len(testEntries()) {
		t.Fatalf("All() = %d workers, want %d", len(all), len(testEntries()))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Errorf("All() not in lexical order at %d: %s >= %s", i, all[i-1].ID, all[i].ID)
		}
	}
}

func TestTierRank(t *testing.T) {
	if TierCore.Rank() >= TierSpecialized.Rank() || TierSpecialized.Rank() >= TierExperimental.Rank() {
		t.Error("tier ranks must order core < specialized < experimental")
	}
	if !TierCore.Valid() || Tier("legendary").Valid() {
		t.Error("tier validity misclassified")
	}
}
