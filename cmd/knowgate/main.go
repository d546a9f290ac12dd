package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/audit"
	"github.com/zen-systems/knowgate/pkg/config"
	"github.com/zen-systems/knowgate/pkg/coordinator"
	"github.com/zen-systems/knowgate/pkg/dispatch"
	"github.com/zen-systems/knowgate/pkg/evolution"
	"github.com/zen-systems/knowgate/pkg/knowledge"
	"github.com/zen-systems/knowgate/pkg/router"
	"github.com/zen-systems/knowgate/pkg/worker"
)

var (
	configFile string
	debugFlag  bool
	aliases    *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "knowgate",
		Short: "Hybrid routing and execution engine for LLM queries",
		Long: `Knowgate routes free-form queries to one of four execution strategies
	based on complexity and keyword analysis, executes them against the
	configured LLM providers, and learns better routes from feedback.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to engine policy file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var jsonFlag bool
	var dryRunFlag bool
	var adapterFlag string
	var modelFlag string
	var noLearnFlag bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Route and execute a query",
		Long: `Routes the query to the best execution strategy: knowledge lookup, a
	single worker, parallel sub-tasks, or a sequential worker chain.

	Use --dry-run to print the routing decision without executing.
	Use --adapter and --model to override the generation target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if adapterFlag != "" {
				cfg.Engine.Generation.Adapter = adapterFlag
			}
			if modelFlag != "" {
				cfg.Engine.Generation.Model = aliases.Resolve(modelFlag)
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, cleanup, err := buildCoordinator(cfg, logger, !noLearnFlag)
			if err != nil {
				return err
			}
			defer cleanup()

			if dryRunFlag {
				decision := c.Plan(context.Background(), query)
				return printJSON(decision)
			}

			result, err := c.Handle(context.Background(), query)
			if err != nil {
				return err
			}

			if jsonFlag {
				return printJSON(result)
			}

			decision := c.LastDecision()
			fmt.Fprintf(os.Stderr, "Mode: %s (confidence %.2f)\n", decision.Mode, decision.Confidence)
			if result.Failed() {
				fmt.Fprintf(os.Stderr, "Execution failed: %s\n", result.Err)
			}
			if result.Response != "" {
				fmt.Println(result.Response)
			}
			fmt.Fprintf(os.Stderr, "Run: %s  Cost: $%.4f  Elapsed: %dms\n",
				c.LastRunID(), result.TotalCost(), result.ElapsedMillis)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full execution result as JSON")
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "print the routing decision without executing")
	cmd.Flags().StringVar(&adapterFlag, "adapter", "", "override adapter (anthropic, openai, google, deepseek, mock)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "override model")
	cmd.Flags().BoolVar(&noLearnFlag, "no-learn", false, "disable pattern learning for this query")

	return cmd
}

func feedbackCmd() *cobra.Command {
	var runFlag string
	var commentFlag string

	cmd := &cobra.Command{
		Use:   "feedback [score]",
		Short: "Rate the most recent query (1-5)",
		Long: `Records a judgment of an executed query. Scores of 4 and above count
	as routing successes; scores of 2 and below raise improvement signals.
	Defaults to the most recent run; use --run to rate an older one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("score must be an integer: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			runID := runFlag
			if runID == "" {
				runID, err = latestRunID(runsDir(cfg))
				if err != nil {
					return err
				}
			}
			record, err := loadRunRecord(runsDir(cfg), runID)
			if err != nil {
				return err
			}

			store, err := evolution.NewSQLiteStore(statePath(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			index := buildIndex(cfg, zap.NewNop())
			engine, err := evolution.New(cfg.Engine, store,
				evolution.WithKnowledgeValidator(index.Has))
			if err != nil {
				return err
			}

			signal, err := engine.RecordFeedback(record.Query, record.Decision, score, commentFlag)
			if err != nil {
				return err
			}

			w, err := audit.NewWriter(runsDir(cfg), runID)
			if err == nil {
				_ = w.WriteFeedback(audit.FeedbackRecord{
					RunID:     runID,
					Timestamp: time.Now().UTC(),
					Score:     score,
					Comment:   commentFlag,
				})
				if signal != nil {
					_ = w.WriteImprovement(signal)
				}
			}

			fmt.Printf("Recorded score %d for run %s.\n", score, runID)
			if signal != nil {
				fmt.Printf("Improvement signal raised for mode %s (signature %s).\n",
					signal.Mode, signal.Signature)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlag, "run", "", "run id to rate (defaults to the most recent)")
	cmd.Flags().StringVar(&commentFlag, "comment", "", "free-form comment")

	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the knowledge keyword table and routing thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KNOWLEDGE UNIT\tKEYWORDS\tTAGS")

			var ids []string
			for id := range cfg.Engine.Knowledge {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				entry := cfg.Engine.Knowledge[id]
				fmt.Fprintf(w, "%s\t%s\t%s\n", id,
					strings.Join(entry.Keywords, ", "),
					strings.Join(entry.Tags, ", "))
			}

			fmt.Fprintln(w)
			fmt.Fprintf(w, "knowledge-only below\t%.2f\n", cfg.Engine.Thresholds.KnowledgeOnly)
			fmt.Fprintf(w, "multi-worker at\t%.2f\n", cfg.Engine.Thresholds.Worker)
			fmt.Fprintf(w, "classifier below confidence\t%.2f\n", cfg.Engine.Thresholds.ClassifierConfidence)
			fmt.Fprintf(w, "pattern hint above confidence\t%.2f\n", cfg.Engine.Thresholds.HintConfidence)
			return w.Flush()
		},
	}
}

func workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List the worker directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			dir := worker.NewTableDirectory(cfg.Engine.Workers)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WORKER\tTIER\tCAPABILITIES")
			for _, wk := range dir.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", wk.ID, wk.Tier, strings.Join(wk.Capabilities, ", "))
			}
			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List providers and key status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS")
			for _, provider := range []string{"anthropic", "deepseek", "google", "openai", "mock"} {
				status := "no key"
				if cfg.HasAdapter(provider) || provider == "mock" {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\n", provider, status)
			}
			return w.Flush()
		},
	}
}

func statsCmd() *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show routing statistics and learned patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, err := evolution.NewSQLiteStore(statePath(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			index := buildIndex(cfg, zap.NewNop())
			engine, err := evolution.New(cfg.Engine, store,
				evolution.WithKnowledgeValidator(index.Has))
			if err != nil {
				return err
			}

			summary := engine.Stats()
			if jsonFlag {
				return printJSON(summary)
			}

			fmt.Printf("Feedback entries: %d (average score %.1f)\n", summary.FeedbackCount, summary.AverageScore)
			fmt.Printf("Learned patterns: %d (%d active)\n", summary.PatternCount, summary.ActivePatterns)

			if len(summary.TopUnits) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "\nTOP UNITS\tSAMPLES\tSUCCESS RATE")
				for _, u := range summary.TopUnits {
					fmt.Fprintf(w, "%s\t%d\t%.2f\n", u.ID, u.Samples, u.Rate)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			if len(summary.Stats.Units) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "\nKNOWLEDGE UNIT\tSAMPLES\tSUCCESS RATE")
				var ids []string
				for id := range summary.Stats.Units {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					st := summary.Stats.Units[id]
					fmt.Fprintf(w, "%s\t%d\t%.2f\n", id, st.Total, st.SuccessRate())
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the summary as JSON")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [engine.yaml]",
		Short: "Validate an engine policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := config.LoadEngineConfig(args[0])
			if err != nil {
				return err
			}
			if err := engine.Validate(); err != nil {
				return err
			}
			fmt.Println("Engine policy is valid.")
			return nil
		},
	}
}

// buildCoordinator assembles the engine: adapters, index, directory,
// router, dispatcher and the evolution loop.
func buildCoordinator(cfg *config.Config, logger *zap.Logger, learn bool) (*coordinator.Coordinator, func(), error) {
	adapters, err := createAdapters(cfg)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := adapters[cfg.Engine.Generation.Adapter]; !ok {
		return nil, nil, fmt.Errorf("no API key configured for adapter %q", cfg.Engine.Generation.Adapter)
	}

	index := buildIndex(cfg, logger)
	dir := worker.NewTableDirectory(cfg.Engine.Workers)

	routerOpts := []router.Option{router.WithLogger(logger)}
	if cfg.Engine.ClassifierEnabled() {
		if classifier, ok := adapters[cfg.Engine.Classifier.Adapter]; ok {
			routerOpts = append(routerOpts, router.WithClassifier(classifier))
		}
	}
	r := router.New(cfg.Engine, index, dir, routerOpts...)
	d := dispatch.New(cfg.Engine, index, dir, adapters, dispatch.WithLogger(logger))

	cleanup := func() {}
	var engine *evolution.Engine
	if learn {
		store, err := evolution.NewSQLiteStore(statePath(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open state store: %w", err)
		}
		engine, err = evolution.New(cfg.Engine, store,
			evolution.WithLogger(logger),
			evolution.WithKnowledgeValidator(index.Has))
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		cleanup = func() { store.Close() }
	}

	c := coordinator.New(cfg.Engine, r, d, engine,
		coordinator.WithLogger(logger),
		coordinator.WithAuditDir(runsDir(cfg)))
	return c, cleanup, nil
}

// buildIndex prefers a markdown knowledge directory under the config dir
// and falls back to an in-memory index synthesized from the keyword table.
func buildIndex(cfg *config.Config, logger *zap.Logger) knowledge.Index {
	knowledgeDir := filepath.Join(cfg.ConfigDir, "knowledge")
	if info, err := os.Stat(knowledgeDir); err == nil && info.IsDir() {
		if idx, err := knowledge.NewFilesystemIndex(knowledgeDir); err == nil {
			logger.Debug("using filesystem knowledge index",
				zap.String("dir", knowledgeDir), zap.Int("units", idx.Count()))
			return idx
		}
	}

	units := make([]knowledge.Unit, 0, len(cfg.Engine.Knowledge))
	for id, entry := range cfg.Engine.Knowledge {
		units = append(units, knowledge.Unit{
			ID:          id,
			DisplayName: entry.DisplayName,
			Summary:     entry.Summary,
			Tags:        entry.Tags,
			Content:     entry.Summary,
		})
	}
	return knowledge.NewMemoryIndex(units...)
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithEngineFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, _ = config.LoadAliasesWithFallback("configs/models.yaml")
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	if debugFlag {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return logCfg.Build()
}

func statePath(cfg *config.Config) string {
	return filepath.Join(cfg.ConfigDir, "state.db")
}

func runsDir(cfg *config.Config) string {
	return filepath.Join(cfg.ConfigDir, "runs")
}

// latestRunID returns the most recently modified run directory.
func latestRunID(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no recorded runs: %w", err)
	}

	var newest string
	var newestTime time.Time
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = entry.Name()
			newestTime = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no recorded runs in %s", dir)
	}
	return newest, nil
}

func loadRunRecord(dir, runID string) (*audit.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, runID, "run.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var record audit.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", runID, err)
	}
	return &record, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
