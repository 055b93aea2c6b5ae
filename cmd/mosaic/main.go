package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mosaic/internal/cache"
	"mosaic/internal/config"
	"mosaic/internal/llm"
	"mosaic/internal/orchestrator"
	"mosaic/internal/resilience"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// run flags
	contextFile string
	iterations  int
	mode        string
	noCache     bool
	validate    bool
	finalFormat string
	showTrace   bool

	// cache clear flags
	olderThan time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "mosaic - recursive LLM orchestration engine",
	Long: `mosaic answers queries over large content by letting the primary model
write Go code in a sandboxed scratch environment. The code can inspect the
content, issue bounded sub-queries, fan work out over chunks in parallel,
and publish findings to a shared hive, iterating until the model declares
a final answer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes one invocation against the configured models.
var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Answer a query over the given content",
	Long: `Runs the orchestration loop for a single query.

The content the query is asked against is loaded from --context-file; with
no file, the model works from the query alone.

Examples:
  mosaic run "How many times is the password mentioned?" --context-file dump.txt
  mosaic run "Summarize the argument" --context-file essay.md --mode conservative
  mosaic run "Return the count as JSON" --context-file log.txt --validate --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// cacheCmd groups response cache maintenance.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts and tokens saved",
	RunE:  cacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Evict cached responses",
	Long: `Evicts cached responses. With --older-than, only entries created more
than the given duration ago are removed; without it, the whole cache is
cleared.`,
	RunE: cacheClear,
}

var cacheCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim disk space after evictions",
	RunE:  cacheCompact,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mosaic.yaml", "path to config file")

	runCmd.Flags().StringVar(&contextFile, "context-file", "", "file holding the content the query is asked against")
	runCmd.Flags().IntVar(&iterations, "iterations", 0, "override max iterations")
	runCmd.Flags().StringVar(&mode, "mode", "standard", "prompt mode: standard, conservative, nosubcalls")
	runCmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	runCmd.Flags().BoolVar(&validate, "validate", false, "validate the final answer before accepting it")
	runCmd.Flags().StringVar(&finalFormat, "format", "text", "expected final answer format: text, json, go")
	runCmd.Flags().BoolVar(&showTrace, "show-trace", false, "print the iteration trace after the answer")

	cacheClearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only evict entries created more than this duration ago")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheCompactCmd)
	rootCmd.AddCommand(runCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func buildClient(cfg *config.Config, model string) *llm.OpenAIClient {
	timeout, err := time.ParseDuration(cfg.LLM.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     timeout,
	}, logger)
}

func parseFormat(s string) (resilience.Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return resilience.FormatText, nil
	case "json":
		return resilience.FormatJSON, nil
	case "go":
		return resilience.FormatGo, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json, or go)", s)
	}
}

func parseMode(s string) (orchestrator.PromptMode, error) {
	switch strings.ToLower(s) {
	case "standard", "":
		return orchestrator.ModeStandard, nil
	case "conservative":
		return orchestrator.ModeConservative, nil
	case "nosubcalls":
		return orchestrator.ModeNoSubcalls, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want standard, conservative, or nosubcalls)", s)
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")

	var content any
	if contextFile != "" {
		data, err := os.ReadFile(contextFile)
		if err != nil {
			return fmt.Errorf("failed to read context file: %w", err)
		}
		content = string(data)
	} else {
		content = ""
	}

	promptMode, err := parseMode(mode)
	if err != nil {
		return err
	}
	format, err := parseFormat(finalFormat)
	if err != nil {
		return err
	}

	root := buildClient(cfg, cfg.LLM.Model)
	var sub llm.Client
	if cfg.LLM.SubModel != "" && cfg.LLM.SubModel != cfg.LLM.Model {
		sub = buildClient(cfg, cfg.LLM.SubModel)
	}
	var critics []llm.Client
	for _, m := range cfg.LLM.CriticModels {
		critics = append(critics, buildClient(cfg, m))
	}

	var store *cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.Open(cfg.Cache.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open response cache: %w", err)
		}
		defer store.Close()
	}

	opts := orchestrator.DefaultOptions()
	opts.MaxIterations = cfg.Limits.MaxIterations
	opts.MaxRecursionDepth = cfg.Limits.MaxRecursionDepth
	opts.MaxSubCalls = cfg.Limits.MaxSubCalls
	opts.MaxParallelCalls = cfg.Limits.MaxParallelCalls
	opts.MaxOutputLen = cfg.Limits.MaxOutputLen
	opts.ValidationBudget = cfg.Limits.ValidationBudget
	opts.Mode = promptMode
	opts.BypassCache = noCache
	opts.ValidateFinal = validate
	opts.FinalFormat = format
	if iterations > 0 {
		opts.MaxIterations = iterations
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o := orchestrator.New(root, sub, critics, store, logger)
	res, err := o.Run(ctx, query, content, opts)
	if err != nil {
		if res != nil && showTrace {
			printTrace(res)
		}
		return err
	}

	if res.Ceiling {
		fmt.Fprintf(os.Stderr, "Warning: iteration ceiling reached; answer is the best partial evidence, not a declared final answer.\n\n")
	}
	fmt.Println(res.Answer)

	if showTrace {
		printTrace(res)
	}
	return nil
}

func printTrace(res *orchestrator.Result) {
	fmt.Fprintf(os.Stderr, "\n--- trace %s ---\n", res.InvocationID)
	for _, it := range res.Trace {
		fmt.Fprintf(os.Stderr, "iteration %d: %d code block(s), %d sub-call(s), %d hive key(s)\n",
			it.Index, len(it.Executions), it.SubCalls, it.HiveLen)
		if it.Note != "" {
			fmt.Fprintf(os.Stderr, "  note: %s\n", it.Note)
		}
		for i, ex := range it.Executions {
			status := "ok"
			if !ex.Success {
				status = "failed"
			}
			fmt.Fprintf(os.Stderr, "  block %d (%s): %d chars of output\n", i+1, status, len(ex.Output))
		}
	}
	for _, v := range res.Validation {
		verdict := "rejected"
		if v.Passed {
			verdict = "accepted"
		}
		fmt.Fprintf(os.Stderr, "validation at iteration %d (%s tier): %s\n", v.Attempt, v.Tier, verdict)
	}
	fmt.Fprintf(os.Stderr, "total sub-calls: %d\n", res.SubCalls)
}

func openStore() (*cache.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.Open(cfg.Cache.Path, logger)
}

func cacheStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Entries:       %d\n", stats.Entries)
	fmt.Printf("Unique models: %d\n", stats.UniqueModels)
	fmt.Printf("Tokens saved:  %d\n", stats.TokensSaved)
	return nil
}

func cacheClear(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var removed int64
	if olderThan > 0 {
		removed, err = store.Evict(olderThan)
	} else {
		removed, err = store.EvictAll()
	}
	if err != nil {
		return err
	}
	fmt.Printf("Evicted %d entries\n", removed)
	return nil
}

func cacheCompact(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Compact(); err != nil {
		return err
	}
	fmt.Println("Cache compacted")
	return nil
}
