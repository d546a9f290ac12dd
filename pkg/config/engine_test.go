package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEngineDefaults(t *testing.T) {
	var cfg EngineConfig
	applyEngineDefaults(&cfg)

	if cfg.Thresholds.KnowledgeOnly != 0.3 {
		t.Errorf("KnowledgeOnly = %v, want 0.3", cfg.Thresholds.KnowledgeOnly)
	}
	if cfg.Thresholds.Worker != 0.6 {
		t.Errorf("Worker = %v, want 0.6", cfg.Thresholds.Worker)
	}
	if cfg.Thresholds.ClassifierConfidence != 0.5 {
		t.Errorf("ClassifierConfidence = %v, want 0.5", cfg.Thresholds.ClassifierConfidence)
	}
	if cfg.Thresholds.HintConfidence != 0.85 {
		t.Errorf("HintConfidence = %v, want 0.85", cfg.Thresholds.HintConfidence)
	}
	if cfg.Thresholds.BoundaryMargin != 0.05 {
		t.Errorf("BoundaryMargin = %v, want 0.05", cfg.Thresholds.BoundaryMargin)
	}
	if cfg.Deadlines.ClassifierMs != 500 || cfg.Deadlines.ParallelMs != 60000 || cfg.Deadlines.StepMs != 30000 {
		t.Errorf("unexpected deadlines: %+v", cfg.Deadlines)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.BaseBackoffMs != 200 || cfg.Retry.MaxBackoffMs != 2000 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Generation.CostPerCall != 0.01 {
		t.Errorf("CostPerCall = %v, want 0.01", cfg.Generation.CostPerCall)
	}
	if len(cfg.Conjunctions) == 0 {
		t.Error("expected default conjunctions")
	}
	if len(cfg.Stopwords) == 0 {
		t.Error("expected default stopwords")
	}
}

func TestApplyEngineDefaultsKeepsOverrides(t *testing.T) {
	cfg := EngineConfig{
		Thresholds: ThresholdConfig{KnowledgeOnly: 0.2, Worker: 0.7},
		Retry:      RetryConfig{BaseBackoffMs: 5000},
	}
	applyEngineDefaults(&cfg)

	if cfg.Thresholds.KnowledgeOnly != 0.2 || cfg.Thresholds.Worker != 0.7 {
		t.Errorf("overridden thresholds were clobbered: %+v", cfg.Thresholds)
	}
	// Max backoff is raised to the base when set below it.
	if cfg.Retry.MaxBackoffMs != 5000 {
		t.Errorf("MaxBackoffMs = %d, want raised to base 5000", cfg.Retry.MaxBackoffMs)
	}
}

func TestDefaultEngineConfigValidates(t *testing.T) {
	cfg := DefaultEngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if !cfg.ClassifierEnabled() {
		t.Error("default config should enable the classifier")
	}
	if len(cfg.Knowledge) == 0 || len(cfg.Workers) == 0 {
		t.Error("default tables must not be empty")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{
			name: "inverted thresholds",
			mutate: func(c *EngineConfig) {
				c.Thresholds.KnowledgeOnly = 0.8
				c.Thresholds.Worker = 0.4
			},
		},
		{
			name:   "no workers",
			mutate: func(c *EngineConfig) { c.Workers = nil },
		},
		{
			name: "unknown tier",
			mutate: func(c *EngineConfig) {
				w := c.Workers["generalist"]
				w.Tier = "legendary"
				c.Workers["generalist"] = w
			},
		},
		{
			name: "knowledge unit without keywords",
			mutate: func(c *EngineConfig) {
				k := c.Knowledge["rag"]
				k.Keywords = nil
				c.Knowledge["rag"] = k
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestClassifierEnabled(t *testing.T) {
	off := false
	tests := []struct {
		name string
		cfg  ClassifierConfig
		want bool
	}{
		{"adapter and model set", ClassifierConfig{Adapter: "openai", Model: "gpt-5.2-instant"}, true},
		{"missing adapter", ClassifierConfig{Model: "gpt-5.2-instant"}, false},
		{"missing model", ClassifierConfig{Adapter: "openai"}, false},
		{"explicitly disabled", ClassifierConfig{Adapter: "openai", Model: "gpt-5.2-instant", Enabled: &off}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EngineConfig{Classifier: tt.cfg}
			if got := cfg.ClassifierEnabled(); got != tt.want {
				t.Errorf("ClassifierEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadEngineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yaml := `
thresholds:
  knowledge_only: 0.25
generation:
  adapter: mock
  model: mock-1
workers:
  generalist:
    tier: core
    capabilities: [general]
knowledge:
  fine-tuning:
    keywords: [lora, peft]
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig failed: %v", err)
	}
	if cfg.Thresholds.KnowledgeOnly != 0.25 {
		t.Errorf("KnowledgeOnly = %v, want override 0.25", cfg.Thresholds.KnowledgeOnly)
	}
	if cfg.Thresholds.Worker != 0.6 {
		t.Errorf("Worker = %v, want default 0.6", cfg.Thresholds.Worker)
	}
	if cfg.Generation.Adapter != "mock" {
		t.Errorf("Adapter = %q, want mock", cfg.Generation.Adapter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config failed validation: %v", err)
	}
}

func TestLoadEngineConfigMissingFile(t *testing.T) {
	if _, err := LoadEngineConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
