package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/thruflo/devloop/internal/assistant"
	"github.com/thruflo/devloop/internal/config"
	"github.com/thruflo/devloop/internal/logging"
	"github.com/thruflo/devloop/internal/loop"
	"github.com/thruflo/devloop/internal/metrics"
	"github.com/thruflo/devloop/internal/project"
	"github.com/thruflo/devloop/internal/session"
	"github.com/thruflo/devloop/internal/sink"
	"github.com/thruflo/devloop/internal/vcs"
	"github.com/thruflo/devloop/internal/verify"
)

var (
	runDuration        int
	runMaxIterations   int
	runCommitFrequency int
	runDelay           int
	runNoBackup        bool
	runInteractive     bool
	runJSON            bool
	runMetricsAddr     string
	runLogLevel        string
)

// RunResult is the JSON output format for --json.
type RunResult struct {
	SessionID      string   `json:"session_id"`
	Reason         string   `json:"reason"`
	Iterations     int      `json:"iterations"`
	Successes      int      `json:"successes"`
	Failures       int      `json:"failures"`
	Errors         int      `json:"errors"`
	Commits        int      `json:"commits"`
	BackupBranches []string `json:"backup_branches"`
	LogPath        string   `json:"log_path,omitempty"`
	Error          string   `json:"error,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a development session",
	Long: `Runs a development session in the project directory until the time or
iteration budget is used up.

Each iteration asks the assistant for the next feature, applies it, runs the
verification commands and commits (every --commit-frequency successful
iterations) or rolls the working tree back. Press Ctrl-C to end the session
after the current iteration; the session log is still written.

Budgets come from .devloop/config.yaml, DEVLOOP_* environment variables and
the flags below, in increasing order of precedence. Use --interactive to be
asked for them.

Example:
  devloop run
  devloop run --duration 60 --max-iterations 20 --commit-frequency 2
  devloop run --interactive
  devloop run --json --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runDuration, "duration", "d", 0, "session duration in minutes")
	runCmd.Flags().IntVarP(&runMaxIterations, "max-iterations", "n", 0, "maximum number of iterations")
	runCmd.Flags().IntVar(&runCommitFrequency, "commit-frequency", 0, "commit every N successful iterations")
	runCmd.Flags().IntVar(&runDelay, "delay", 0, "minutes to wait between iterations")
	runCmd.Flags().BoolVar(&runNoBackup, "no-backup", false, "do not create backup branches")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "prompt for the session budgets before starting")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the session result as JSON to stdout")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	basePath, err := projectDir()
	if err != nil {
		return err
	}

	// Load .devloop/.env so tokens can live outside config.yaml
	env, err := config.LoadEnvFile(basePath)
	if err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	applyEnv(env)

	cfg, err := config.LoadConfig(basePath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(cmd, cfg)

	if runInteractive {
		if f, ok := cmd.InOrStdin().(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			return errors.New("--interactive requires a terminal")
		}
		p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
		if err := configureInteractively(p, cfg); err != nil {
			if errors.Is(err, ErrCancelled) {
				fmt.Fprintln(cmd.OutOrStdout(), "Development session cancelled.")
				return nil
			}
			return err
		}
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logging.SetDefault(log)
	defer log.Sync()

	// The first signal ends the session after the current iteration; once
	// it arrives, default handling is restored so a second one exits.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	context.AfterFunc(ctx, stop)

	var recorder *metrics.Recorder
	if runMetricsAddr != "" {
		recorder = metrics.NewRecorder()
		addr, err := recorder.Serve(ctx, runMetricsAddr, log)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		log.Info("serving metrics", "addr", addr.String())
	}

	s, err := newRunSession(basePath, cfg, sessionDeps{
		Console: cmd.ErrOrStderr(),
		Logger:  log,
		Metrics: recorder,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	result := s.loop.Run(ctx)
	if runJSON {
		if err := printJSONResult(cmd.OutOrStdout(), s.id, result); err != nil {
			return err
		}
	} else {
		printResult(cmd.OutOrStdout(), result)
	}
	return result.Error
}

// applyEnv exports variables from the env file unless they are already set.
func applyEnv(env map[string]string) {
	for k, v := range env {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
}

// applyRunFlags overrides config values with flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.Session.DurationMinutes = runDuration
	}
	if flags.Changed("max-iterations") {
		cfg.Session.MaxIterations = runMaxIterations
	}
	if flags.Changed("commit-frequency") {
		cfg.Session.CommitFrequency = runCommitFrequency
	}
	if flags.Changed("delay") {
		cfg.Session.IterationDelayMinutes = runDelay
	}
	if runNoBackup {
		cfg.Session.BackupBranches = false
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = runLogLevel
	}
}

// configureInteractively asks for the session budgets and, when the
// assistant command is missing, whether to continue without it.
func configureInteractively(p *prompter, cfg *config.Config) error {
	client := assistant.New(assistant.Options{Command: cfg.Assistant.Command, Logger: logging.Nop()})
	if !client.Available() {
		fmt.Fprintf(p.out, "Assistant command %q not found.\n", cfg.Assistant.Command)
		ok, err := p.confirm("Continue without the assistant?")
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}
	}

	settings, err := promptSessionSettings(p, cfg.Session)
	if err != nil {
		return err
	}
	cfg.Session = settings
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, config.ValidationError{Field: "log.level", Message: err.Error()}
	}
	return logging.New(w, logging.Format(cfg.Log.Format), level), nil
}

// sessionDeps are the process-level collaborators of a session.
type sessionDeps struct {
	Console io.Writer
	Logger  *logging.Logger
	Metrics *metrics.Recorder
}

// runSession is a loop wired to the project's git repository, assistant,
// verification commands and sinks.
type runSession struct {
	id      string
	loop    *loop.Loop
	closers []func() error
}

// Close releases the session's sinks.
func (s *runSession) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// rollbackKeep returns the clean exclusions that protect devloop's own files:
// the .devloop directory and a session log directory inside the project.
func rollbackKeep(basePath, logDir string) []string {
	keep := []string{config.DirName + "/"}
	if logDir == "" {
		return keep
	}

	rel := logDir
	if filepath.IsAbs(logDir) {
		r, err := filepath.Rel(basePath, logDir)
		if err != nil {
			return keep
		}
		rel = r
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel+"/", config.DirName+"/") {
		return keep
	}
	return append(keep, rel+"/")
}

// newRunSession checks the startup preconditions and wires the loop.
func newRunSession(basePath string, cfg *config.Config, deps sessionDeps) (*runSession, error) {
	log := deps.Logger
	if log == nil {
		log = logging.Default()
	}
	console := deps.Console
	if console == nil {
		console = io.Discard
	}

	git, err := vcs.Open(basePath, vcs.Options{
		WorkingBranch: cfg.Session.WorkingBranch,
		Keep:          rollbackKeep(basePath, cfg.Session.LogDir),
		Logger:        log.Named("vcs"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	a := cfg.Assistant
	client := assistant.New(assistant.Options{
		Command:   a.Command,
		Args:      a.Args,
		Dir:       basePath,
		Timeout:   a.Timeout.Duration(),
		KillGrace: a.KillGrace.Duration(),
		Stdout:    console,
		Stderr:    console,
		Logger:    log.Named("assistant"),
	})
	if !client.Available() {
		log.Warn("assistant command not found, iterations will use the default suggestion", "command", a.Command)
	}

	prompts, err := assistant.NewPromptBuilder(basePath, resolvePath(basePath, a.PromptTemplate), a.Guidelines, project.Options{
		Commits: git,
		Logger:  log.Named("project"),
	})
	if err != nil {
		return nil, err
	}

	var implementer loop.Implementer
	if a.Implement {
		impl, err := assistant.NewImplementer(client, resolvePath(basePath, a.ImplementTemplate), a.ImplementTimeout.Duration())
		if err != nil {
			return nil, err
		}
		implementer = impl
	}

	verifier := verify.New(verifySteps(cfg.Verify), verify.Options{
		Dir:       basePath,
		MaxOutput: cfg.Verify.MaxOutputBytes,
		KillGrace: a.KillGrace.Duration(),
		Logger:    log.Named("verify"),
	})

	s := &runSession{id: session.NewID()}

	opts := loop.Options{
		Config:      cfg.SessionConfig(),
		Assistant:   client,
		Prompts:     prompts,
		Implementer: implementer,
		Verifier:    verifier,
		VCS:         git,
		Reporter:    newReporter(cfg.Sinks.Board, log),
		Store:       session.NewStore(basePath, cfg.Session.LogDir),
		Logger:      log,
		SessionID:   s.id,
	}
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics
	}

	if path := cfg.Sinks.Archive.Path; path != "" {
		archive, err := sink.OpenArchive(resolvePath(basePath, path))
		if err != nil {
			return nil, err
		}
		opts.Archive = archive
		s.closers = append(s.closers, archive.Close)
	}

	s.loop = loop.New(opts)
	return s, nil
}

func newReporter(board config.BoardSettings, log *logging.Logger) loop.Reporter {
	if board.Endpoint == "" {
		return sink.LogReporter{Logger: log.Named("board")}
	}
	return sink.NewBoard(sink.BoardOptions{
		Endpoint: board.Endpoint,
		BoardID:  board.BoardID,
		Token:    board.Token.Value(),
		Logger:   log.Named("board"),
	})
}

// verifySteps returns the verification pipeline: build, typecheck and lint
// are required, tests only produce warnings.
func verifySteps(v config.VerifySettings) []verify.Step {
	timeout := v.StepTimeout.Duration()
	return []verify.Step{
		{Name: "build", Command: v.Build, Timeout: timeout},
		{Name: "typecheck", Command: v.Typecheck, Timeout: timeout},
		{Name: "lint", Command: v.Lint, Timeout: timeout},
		{Name: "test", Command: v.Test, Optional: true, Timeout: v.TestTimeout.Duration()},
	}
}

// resolvePath makes a config path absolute relative to the project.
func resolvePath(basePath, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(basePath, path)
}

func printResult(w io.Writer, result loop.Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Development Session Summary")
	fmt.Fprintln(w, "===========================")
	fmt.Fprintf(w, "Exit reason: %s\n", result.Reason)
	fmt.Fprintf(w, "Total iterations: %d\n", result.Iterations)
	fmt.Fprintf(w, "Successful implementations: %d\n", result.Successes)
	fmt.Fprintf(w, "Failed implementations: %d\n", result.Failures)
	fmt.Fprintf(w, "Errors encountered: %d\n", result.Errors)
	fmt.Fprintf(w, "Commits: %d\n", result.Commits)
	fmt.Fprintf(w, "Backup branches created: %d\n", len(result.BackupBranches))
	if result.LogPath != "" {
		fmt.Fprintf(w, "\nDetailed log saved to: %s\n", result.LogPath)
	}
}

func printJSONResult(w io.Writer, id string, result loop.Result) error {
	out := RunResult{
		SessionID:      id,
		Reason:         result.Reason.String(),
		Iterations:     result.Iterations,
		Successes:      result.Successes,
		Failures:       result.Failures,
		Errors:         result.Errors,
		Commits:        result.Commits,
		BackupBranches: result.BackupBranches,
		LogPath:        result.LogPath,
	}
	if out.BackupBranches == nil {
		out.BackupBranches = []string{}
	}
	if result.Error != nil {
		out.Error = result.Error.Error()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
