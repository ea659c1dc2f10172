package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"driverforge/internal/config"
	"driverforge/internal/diagnose"
	"driverforge/internal/driver"
	"driverforge/internal/heal"
	"driverforge/internal/llm"
	"driverforge/internal/logging"
	"driverforge/internal/memory"
	"driverforge/internal/sandbox"
	"driverforge/internal/session"
)

// Exit codes: 0 all runs succeeded, 1 at least one failed, 130 canceled.
const (
	exitOK       = 0
	exitFailed   = 1
	exitCanceled = 130
)

var (
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration
	outDir    string

	logger   *zap.Logger
	exitCode = exitOK
)

var rootCmd = &cobra.Command{
	Use:   "driverforge",
	Short: "driverforge - self-healing API driver generation",
	Long: `driverforge generates API client drivers with an LLM, executes them in a
sandbox, and diagnoses and regenerates on failure under bounded retry budgets.

Each run produces an attempt report: what was generated, how it failed, what
the diagnostic step concluded, and what finally shipped.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [task]...",
	Short: "Generate one driver per task, healing failures along the way",
	Long: `Runs a supervised fix-retry loop for each task description. Independent
tasks run concurrently; each run is sequential internally.

Example:
  driverforge generate "client for the petstore API at https://petstore.example/v2"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var lessonsCmd = &cobra.Command{
	Use:   "lessons [query]",
	Short: "Search lessons persisted by previous runs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLessons,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "generation API key (overrides config and env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "overall deadline for the whole invocation")
	generateCmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for generated drivers (default <workspace>/.driverforge/out)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(lessonsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailed)
	}
	os.Exit(exitCode)
}

// loadConfig resolves config for the workspace and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.Generation.APIKey = apiKey
	}
	if verbose {
		cfg.Logging.Debug = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens the lesson store per config, attaching an embedder when an
// API key is available. A store that fails to open disables memory, not the run.
func openStore(ctx context.Context, cfg *config.Config) memory.Store {
	if !cfg.Memory.Enabled {
		return nil
	}
	path := cfg.Memory.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	store, err := memory.NewSQLiteStore(path)
	if err != nil {
		logger.Warn("lesson store unavailable", zap.Error(err))
		return nil
	}
	if cfg.Generation.APIKey != "" {
		if embedder, err := memory.NewGenAIEmbedder(ctx, cfg.Generation.APIKey, ""); err == nil {
			store.SetEmbedder(embedder)
		} else {
			logger.Debug("embedder unavailable, keyword recall only", zap.Error(err))
		}
	}
	return store
}

func newExecutor(cfg *config.Config) sandbox.Executor {
	if cfg.Sandbox.Mode == "remote" {
		return sandbox.NewRemoteRunner(cfg.Sandbox.BaseURL)
	}
	return sandbox.NewLocalRunner()
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Initialize(workspace, logging.Options{
		Debug: cfg.Logging.Debug,
		Level: cfg.Logging.Level,
	}); err != nil {
		return err
	}
	if cfg.Generation.APIKey == "" {
		return fmt.Errorf("no API key: set --api-key, DRIVERFORGE_API_KEY, or generation.api_key in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Timeout: cfg.GenerationTimeout(),
	})
	generator := llm.NewGenerator(client)
	diagnoser := diagnose.New(client)
	executor := newExecutor(cfg)
	store := openStore(ctx, cfg)
	if store != nil {
		defer store.Close()
	}

	artifactDir := outDir
	if artifactDir == "" {
		artifactDir = filepath.Join(workspace, ".driverforge", "out")
	}
	sessionBase := filepath.Join(workspace, ".driverforge", "sessions")

	logger.Info("starting generation",
		zap.Int("tasks", len(args)),
		zap.String("sandbox", cfg.Sandbox.Mode),
		zap.Int("max_retries", cfg.Retry.MaxRetries))

	// Independent tasks run concurrently; each report slot is owned by one
	// goroutine, so no locking is needed.
	reports := make([]*driver.AttemptReport, len(args))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range args {
		g.Go(func() error {
			sess, err := session.New(sessionBase)
			if err != nil {
				return fmt.Errorf("task %d: %w", i+1, err)
			}
			runner := heal.NewRunner(generator, executor, diagnoser, store, sess, heal.Options{
				MaxRetries:  cfg.Retry.MaxRetries,
				ExecTimeout: cfg.SandboxTimeout(),
				HintLimit:   cfg.Memory.HintLimit,
			})
			sup := heal.NewSupervisor(runner, store, cfg.Retry.MaxSupervisorAttempts)
			reports[i] = sup.Run(gctx, task)

			if reports[i].Success {
				if err := writeArtifact(artifactDir, i+1, reports[i].FinalArtifact); err != nil {
					logger.Warn("failed to write driver files", zap.Error(err))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	exitCode = summarize(args, reports)
	return nil
}

// summarize prints per-task verdicts and picks the process exit code.
func summarize(tasks []string, reports []*driver.AttemptReport) int {
	code := exitOK
	for i, rep := range reports {
		label := tasks[i]
		if len(label) > 60 {
			label = label[:60] + "..."
		}
		switch {
		case rep == nil:
			fmt.Printf("  [%d] %s: no report\n", i+1, label)
			code = maxCode(code, exitFailed)
		case rep.Canceled:
			fmt.Printf("  [%d] %s: CANCELED after %d attempt(s)\n", i+1, label, len(rep.Attempts))
			code = maxCode(code, exitCanceled)
		case rep.Success:
			fmt.Printf("  [%d] %s: OK (attempt %d of supervisor round %d, %d diagnostics, %d fixes)\n",
				i+1, label, len(rep.Attempts), rep.SupervisorAttempt,
				rep.TotalDiagnosticsRun, rep.TotalFixesApplied)
		default:
			last := rep.LastOutcome()
			fmt.Printf("  [%d] %s: FAILED (%s: %s)\n", i+1, label, last.Category, last.Message)
			code = maxCode(code, exitFailed)
		}
	}
	return code
}

func maxCode(a, b int) int {
	// Cancellation dominates failure in the final exit code.
	if a == exitCanceled || b == exitCanceled {
		return exitCanceled
	}
	if a > b {
		return a
	}
	return b
}

// writeArtifact persists a successful driver's files under dir/taskNN/.
func writeArtifact(dir string, taskNum int, artifact *driver.GeneratedArtifact) error {
	if artifact == nil {
		return nil
	}
	target := filepath.Join(dir, fmt.Sprintf("task%02d", taskNum))
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	for name, content := range artifact.Files {
		// Flatten any path the model invented; drivers are single-directory.
		name = filepath.Base(name)
		if err := os.WriteFile(filepath.Join(target, name), []byte(content), 0644); err != nil {
			return err
		}
	}
	logger.Info("driver written", zap.String("dir", target), zap.Int("files", len(artifact.Files)))
	return nil
}

func runLessons(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Memory.Enabled {
		return fmt.Errorf("memory store disabled in config")
	}

	path := cfg.Memory.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	store, err := memory.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("failed to open lesson store: %w", err)
	}
	defer store.Close()

	query := strings.Join(args, " ")
	lessons, err := store.Search(cmd.Context(), query, 10)
	if err != nil {
		return err
	}
	if len(lessons) == 0 {
		fmt.Println("no matching lessons")
		return nil
	}
	for _, l := range lessons {
		status := "failed"
		if l.Success {
			status = "succeeded"
		}
		fmt.Printf("- [%s, %d attempt(s), %s] %s\n", l.Category, l.AttemptsUsed, status, l.Hint)
		if l.RootCause != "" {
			fmt.Printf("  root cause: %s\n", l.RootCause)
		}
	}
	return nil
}
