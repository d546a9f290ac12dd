package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the routing and execution policy for the engine.
type EngineConfig struct {
	Thresholds ThresholdConfig           `yaml:"thresholds,omitempty"`
	Deadlines  DeadlineConfig            `yaml:"deadlines,omitempty"`
	Generation GenerationConfig          `yaml:"generation,omitempty"`
	Classifier ClassifierConfig          `yaml:"classifier,omitempty"`
	Retry      RetryConfig               `yaml:"retry,omitempty"`
	Fallback   FallbackConfig            `yaml:"fallback,omitempty"`
	Pricing    PricingConfig             `yaml:"pricing,omitempty"`
	Knowledge  map[string]KnowledgeEntry `yaml:"knowledge"`
	Workers    map[string]WorkerEntry    `yaml:"workers"`

	// Conjunctions are the markers used to split a query into independent
	// sub-task clauses for parallel execution.
	Conjunctions []string `yaml:"conjunctions,omitempty"`

	// Stopwords are dropped when computing query signatures.
	Stopwords []string `yaml:"stopwords,omitempty"`
}

// ThresholdConfig holds the routing decision boundaries.
type ThresholdConfig struct {
	// KnowledgeOnly is the complexity score below which no worker is used.
	KnowledgeOnly float64 `yaml:"knowledge_only,omitempty"`
	// Worker is the complexity score at or above which multiple workers are
	// considered.
	Worker float64 `yaml:"worker,omitempty"`
	// ClassifierConfidence is the confidence below which the remote
	// classifier fallback is consulted.
	ClassifierConfidence float64 `yaml:"classifier_confidence,omitempty"`
	// HintConfidence is the learned-pattern confidence above which the
	// router is skipped entirely.
	HintConfidence float64 `yaml:"hint_confidence,omitempty"`
	// BoundaryMargin is the distance from a decision boundary inside which
	// a complexity score is considered ambiguous.
	BoundaryMargin float64 `yaml:"boundary_margin,omitempty"`
}

// DeadlineConfig holds per-call deadlines in milliseconds.
type DeadlineConfig struct {
	ClassifierMs int `yaml:"classifier_ms,omitempty"`
	ParallelMs   int `yaml:"parallel_ms,omitempty"`
	StepMs       int `yaml:"step_ms,omitempty"`
}

// GenerationConfig names the default generation target.
type GenerationConfig struct {
	Adapter string `yaml:"adapter,omitempty"`
	Model   string `yaml:"model,omitempty"`
	// LiteModel handles low-complexity knowledge-only requests.
	LiteModel string `yaml:"lite_model,omitempty"`
	// CostPerCall is the flat per-call estimate used when no token pricing
	// is configured for the target model.
	CostPerCall float64 `yaml:"cost_per_call,omitempty"`
}

// ClassifierConfig names the remote routing-decision model.
type ClassifierConfig struct {
	Adapter string `yaml:"adapter,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// FallbackConfig defines adapter/model fallbacks.
type FallbackConfig struct {
	AllowFallback bool                     `yaml:"allow_fallback,omitempty"`
	FallbackChain map[string][]RouteTarget `yaml:"fallback_chain,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// KnowledgeEntry describes one knowledge unit in the keyword table.
type KnowledgeEntry struct {
	DisplayName string   `yaml:"display_name,omitempty"`
	Summary     string   `yaml:"summary,omitempty"`
	Keywords    []string `yaml:"keywords"`
	Tags        []string `yaml:"tags,omitempty"`
}

// WorkerEntry describes one worker in the directory.
type WorkerEntry struct {
	Tier         string   `yaml:"tier"`
	DisplayName  string   `yaml:"display_name,omitempty"`
	Summary      string   `yaml:"summary,omitempty"`
	Capabilities []string `yaml:"capabilities"`
	Template     string   `yaml:"template,omitempty"`
}

// ClassifierEnabled reports whether the remote classifier fallback is on.
func (c *EngineConfig) ClassifierEnabled() bool {
	if c == nil {
		return false
	}
	if c.Classifier.Adapter == "" || c.Classifier.Model == "" {
		return false
	}
	if c.Classifier.Enabled != nil {
		return *c.Classifier.Enabled
	}
	return true
}

// Validate checks internal consistency of the policy tables.
func (c *EngineConfig) Validate() error {
	if c.Thresholds.KnowledgeOnly >= c.Thresholds.Worker {
		return fmt.Errorf("knowledge_only threshold %.2f must be below worker threshold %.2f",
			c.Thresholds.KnowledgeOnly, c.Thresholds.Worker)
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	for id, w := range c.Workers {
		switch w.Tier {
		case "core", "specialized", "experimental":
		default:
			return fmt.Errorf("worker %s: unknown tier %q", id, w.Tier)
		}
	}
	for id, k := range c.Knowledge {
		if len(k.Keywords) == 0 {
			return fmt.Errorf("knowledge unit %s has no keywords", id)
		}
	}
	return nil
}

// LoadEngineConfig reads engine configuration from a YAML file.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEngineDefaults(&cfg)
	return &cfg, nil
}

// DefaultEngineConfig returns the built-in routing policy.
func DefaultEngineConfig() *EngineConfig {
	cfg := &EngineConfig{
		Generation: GenerationConfig{
			Adapter:     "anthropic",
			Model:       "claude-sonnet-4-20250514",
			LiteModel:   "claude-sonnet-4-20250514",
			CostPerCall: 0.01,
		},
		Classifier: ClassifierConfig{
			Adapter: "openai",
			Model:   "gpt-5.2-instant",
		},
		Knowledge: map[string]KnowledgeEntry{
			"model-architecture": {
				DisplayName: "Model Architecture",
				Keywords:    []string{"transformer", "llama", "mamba", "attention", "architecture"},
				Tags:        []string{"ml", "design"},
			},
			"tokenization": {
				DisplayName: "Tokenization",
				Keywords:    []string{"tokenizer", "bpe", "sentencepiece", "vocabulary", "token"},
				Tags:        []string{"ml", "data"},
			},
			"fine-tuning": {
				DisplayName: "Fine-tuning",
				Keywords:    []string{"fine-tuning", "finetune", "lora", "qlora", "peft", "adapter", "sft"},
				Tags:        []string{"ml", "training"},
			},
			"data-processing": {
				DisplayName: "Data Processing",
				Keywords:    []string{"dataset", "dedup", "filtering", "preprocessing", "data pipeline"},
				Tags:        []string{"data", "backend"},
			},
			"post-training": {
				DisplayName: "Post-training",
				Keywords:    []string{"dpo", "rlhf", "grpo", "ppo", "preference", "reward"},
				Tags:        []string{"ml", "training"},
			},
			"safety-alignment": {
				DisplayName: "Safety & Alignment",
				Keywords:    []string{"guardrails", "redteaming", "safety", "alignment", "jailbreak"},
				Tags:        []string{"security", "review"},
			},
			"distributed-training": {
				DisplayName: "Distributed Training",
				Keywords:    []string{"deepspeed", "fsdp", "ddp", "distributed", "multi-gpu"},
				Tags:        []string{"ml", "infra"},
			},
			"optimization": {
				DisplayName: "Optimization",
				Keywords:    []string{"quantization", "pruning", "distillation", "compression", "4bit", "8bit"},
				Tags:        []string{"ml", "performance"},
			},
			"evaluation": {
				DisplayName: "Evaluation",
				Keywords:    []string{"benchmark", "evaluation", "metrics", "harness", "lm-eval"},
				Tags:        []string{"test", "validation"},
			},
			"inference-serving": {
				DisplayName: "Inference & Serving",
				Keywords:    []string{"vllm", "tgi", "triton", "inference", "serving", "deployment"},
				Tags:        []string{"backend", "infra", "deploy"},
			},
			"mlops": {
				DisplayName: "MLOps",
				Keywords:    []string{"wandb", "mlflow", "experiment", "tracking", "mlops"},
				Tags:        []string{"infra", "observability"},
			},
			"agents": {
				DisplayName: "Agents",
				Keywords:    []string{"agent", "langchain", "autogen", "tool use", "function calling"},
				Tags:        []string{"ml", "design"},
			},
			"rag": {
				DisplayName: "RAG",
				Keywords:    []string{"rag", "retrieval", "vector", "embedding", "chroma", "faiss"},
				Tags:        []string{"ml", "backend", "data"},
			},
			"prompt-engineering": {
				DisplayName: "Prompt Engineering",
				Keywords:    []string{"prompt", "dspy", "few-shot", "structured output"},
				Tags:        []string{"ml", "design"},
			},
			"observability": {
				DisplayName: "Observability",
				Keywords:    []string{"observability", "tracing", "monitoring", "langsmith"},
				Tags:        []string{"infra", "observability"},
			},
			"multimodal": {
				DisplayName: "Multimodal",
				Keywords:    []string{"multimodal", "clip", "whisper", "llava", "vision", "audio"},
				Tags:        []string{"ml"},
			},
		},
		Workers: map[string]WorkerEntry{
			"generalist": {
				Tier:         "core",
				DisplayName:  "Generalist",
				Summary:      "Broad problem solver used when no specialist fits.",
				Capabilities: []string{"general", "analysis", "creation"},
				Template:     "You are a pragmatic senior engineer. Answer directly and completely.",
			},
			"backend-developer": {
				Tier:         "core",
				DisplayName:  "Backend Developer",
				Summary:      "APIs, services, storage layers.",
				Capabilities: []string{"api", "backend", "server", "database", "creation"},
				Template:     "You are a backend developer. Produce working server-side designs and code.",
			},
			"frontend-developer": {
				Tier:         "core",
				DisplayName:  "Frontend Developer",
				Summary:      "UI components and client logic.",
				Capabilities: []string{"ui", "frontend", "component", "creation"},
				Template:     "You are a frontend developer. Produce accessible, responsive UI work.",
			},
			"system-architect": {
				Tier:         "core",
				DisplayName:  "System Architect",
				Summary:      "High-level designs and trade-off analysis.",
				Capabilities: []string{"design", "architecture", "infra", "creation"},
				Template:     "You are a system architect. Lay out components, contracts and trade-offs.",
			},
			"qa-expert": {
				Tier:         "core",
				DisplayName:  "QA Expert",
				Summary:      "Testing strategy and validation.",
				Capabilities: []string{"test", "qa", "review", "validation"},
				Template:     "You are a QA engineer. Find gaps, write test plans, validate claims.",
			},
			"ml-engineer": {
				Tier:         "specialized",
				DisplayName:  "ML Engineer",
				Summary:      "Training, tuning and serving models.",
				Capabilities: []string{"ml", "training", "model", "data", "creation"},
				Template:     "You are an ML engineer. Be precise about training and serving mechanics.",
			},
			"devops-engineer": {
				Tier:         "specialized",
				DisplayName:  "DevOps Engineer",
				Summary:      "Deployment, CI/CD and infrastructure.",
				Capabilities: []string{"deploy", "ci/cd", "infra", "creation"},
				Template:     "You are a DevOps engineer. Favor reproducible, automated operations.",
			},
			"tech-writer": {
				Tier:         "specialized",
				DisplayName:  "Tech Writer",
				Summary:      "Documentation and explanations.",
				Capabilities: []string{"docs", "documentation", "writing"},
				Template:     "You are a technical writer. Write clear, structured documentation.",
			},
			"security-reviewer": {
				Tier:         "specialized",
				DisplayName:  "Security Reviewer",
				Summary:      "Security-focused review of designs and code.",
				Capabilities: []string{"security", "review", "validation"},
				Template:     "You are a security reviewer. Hunt for vulnerabilities and unsafe defaults.",
			},
			"research-assistant": {
				Tier:         "experimental",
				DisplayName:  "Research Assistant",
				Summary:      "Literature and ecosystem surveys.",
				Capabilities: []string{"research", "analysis"},
				Template:     "You are a research assistant. Survey options and cite concrete sources.",
			},
		},
	}

	applyEngineDefaults(cfg)
	return cfg
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg == nil {
		return
	}
	if cfg.Thresholds.KnowledgeOnly == 0 {
		cfg.Thresholds.KnowledgeOnly = 0.3
	}
	if cfg.Thresholds.Worker == 0 {
		cfg.Thresholds.Worker = 0.6
	}
	if cfg.Thresholds.ClassifierConfidence == 0 {
		cfg.Thresholds.ClassifierConfidence = 0.5
	}
	if cfg.Thresholds.HintConfidence == 0 {
		cfg.Thresholds.HintConfidence = 0.85
	}
	if cfg.Thresholds.BoundaryMargin == 0 {
		cfg.Thresholds.BoundaryMargin = 0.05
	}
	if cfg.Deadlines.ClassifierMs == 0 {
		cfg.Deadlines.ClassifierMs = 500
	}
	if cfg.Deadlines.ParallelMs == 0 {
		cfg.Deadlines.ParallelMs = 60000
	}
	if cfg.Deadlines.StepMs == 0 {
		cfg.Deadlines.StepMs = 30000
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Generation.CostPerCall == 0 {
		cfg.Generation.CostPerCall = 0.01
	}
	if len(cfg.Conjunctions) == 0 {
		cfg.Conjunctions = []string{" and then ", ", and ", " and ", "; ", ", "}
	}
	if len(cfg.Stopwords) == 0 {
		cfg.Stopwords = []string{
			"a", "an", "the", "is", "are", "was", "were", "be", "to", "of",
			"in", "on", "for", "with", "about", "what", "how", "me", "my",
			"please", "can", "you", "do", "does", "it", "this", "that",
		}
	}
}
