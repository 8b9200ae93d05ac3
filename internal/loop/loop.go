package loop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/thruflo/devloop/internal/assistant"
	"github.com/thruflo/devloop/internal/config"
	"github.com/thruflo/devloop/internal/logging"
	"github.com/thruflo/devloop/internal/session"
	"github.com/thruflo/devloop/internal/vcs"
	"github.com/thruflo/devloop/internal/verify"
)

// ExitReason indicates why the loop stopped.
type ExitReason int

const (
	ExitReasonUnknown       ExitReason = iota
	ExitReasonMaxIterations            // Hit iteration limit
	ExitReasonMaxDuration              // Hit duration limit
	ExitReasonAborted                  // Operator cancelled the session
	ExitReasonRecoveryLimit            // Too many consecutive recoveries
	ExitReasonStuck                    // No successful iteration for N iterations
	ExitReasonCrash                    // Session log could not be written
)

// String returns a human-readable description of the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonMaxIterations:
		return "max iterations"
	case ExitReasonMaxDuration:
		return "max duration"
	case ExitReasonAborted:
		return "aborted"
	case ExitReasonRecoveryLimit:
		return "recovery limit"
	case ExitReasonStuck:
		return "stuck"
	case ExitReasonCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// Phase is the loop's position in the tick state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseEvaluating   Phase = "evaluating"
	PhaseImplementing Phase = "implementing"
	PhaseVerifying    Phase = "verifying"
	PhaseCommitting   Phase = "committing"
	PhaseRollingBack  Phase = "rolling_back"
	PhaseSleeping     Phase = "sleeping"
	PhaseRecovering   Phase = "recovering"
	PhaseCompleted    Phase = "completed"
)

// Status strings sent to the Reporter.
const (
	StatusCompleted = "completed"
	StatusStuck     = "stuck"
)

// Result contains the outcome of a session.
type Result struct {
	Reason         ExitReason
	Iterations     int
	Successes      int
	Failures       int
	Errors         int
	Commits        int
	BackupBranches []string
	LogPath        string
	Error          error
}

// Assistant proposes the next feature to build.
type Assistant interface {
	Suggest(ctx context.Context, prompt string) (*assistant.Suggestion, error)
}

// Implementer applies a suggestion to the working tree.
type Implementer interface {
	Implement(ctx context.Context, s *assistant.Suggestion) error
}

// Verifier decides whether the working tree is acceptable.
type Verifier interface {
	Verify(ctx context.Context) verify.Result
}

// VCS manages the working tree.
type VCS interface {
	CreateBackupBranch(ctx context.Context, name string) error
	Commit(ctx context.Context, message string) error
	Rollback(ctx context.Context) error
}

// Reporter receives the outcome of each verified suggestion.
type Reporter interface {
	ReportStatus(ctx context.Context, s *assistant.Suggestion, status string) error
}

// Archive stores the session summary once the session ends.
type Archive interface {
	LogSession(ctx context.Context, summary session.Summary) error
}

// PromptBuilder renders the prompt used to ask for a suggestion.
type PromptBuilder interface {
	Build(ctx context.Context) (string, error)
}

// LogStore persists the session log.
type LogStore interface {
	Flush(summary session.Summary) (string, error)
}

// Metrics receives session counters. metrics.Recorder implements it.
type Metrics interface {
	Iteration(status string)
	Commit()
	Rollback()
	Recovery()
	AssistantFallback(kind string)
	VerifyDuration(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Iteration(string) {}
func (nopMetrics) Commit() {}
func (nopMetrics) Rollback() {}
func (nopMetrics) Recovery() {}
func (nopMetrics) AssistantFallback(string) {}
func (nopMetrics) VerifyDuration(time.Duration) {}

type nopImplementer struct{}

func (nopImplementer) Implement(context.Context, *assistant.Suggestion) error { return nil }

// Options holds the configuration and collaborators of a Loop. Assistant,
// Prompts, Verifier, VCS and Store are required; the rest default to no-ops.
type Options struct {
	Config config.SessionConfig

	Assistant   Assistant
	Prompts     PromptBuilder
	Implementer Implementer
	Verifier    Verifier
	VCS         VCS
	Reporter    Reporter
	Archive     Archive
	Store       LogStore
	Metrics     Metrics
	Logger      *logging.Logger

	SessionID string
	StartTime time.Time // Optional: for deterministic time-based testing
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Loop runs one development session. It is not safe for concurrent use and
// Run must be called at most once.
type Loop struct {
	cfg config.SessionConfig

	assistant   Assistant
	prompts     PromptBuilder
	implementer Implementer
	verifier    Verifier
	vcs         VCS
	reporter    Reporter
	archive     Archive
	store       LogStore
	metrics     Metrics
	log         *logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	id         string
	startTime  time.Time
	phase      Phase
	iteration  int
	pending    int
	recoveries int
	backups    []string
	record     *session.Log
}

// New creates a Loop from opts.
func New(opts Options) *Loop {
	l := &Loop{
		cfg:         opts.Config,
		assistant:   opts.Assistant,
		prompts:     opts.Prompts,
		implementer: opts.Implementer,
		verifier:    opts.Verifier,
		vcs:         opts.VCS,
		reporter:    opts.Reporter,
		archive:     opts.Archive,
		store:       opts.Store,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Now,
		sleep:       opts.Sleep,
		id:          opts.SessionID,
		startTime:   opts.StartTime,
		phase:       PhaseIdle,
	}
	if l.implementer == nil {
		l.implementer = nopImplementer{}
	}
	if l.metrics == nil {
		l.metrics = nopMetrics{}
	}
	if l.log == nil {
		l.log = logging.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}
	if l.id == "" {
		l.id = session.NewID()
	}
	l.log = l.log.With("session", l.id)
	return l
}

// Phase returns the current phase.
func (l *Loop) Phase() Phase { return l.phase }

// Pending returns the number of verified changes not yet committed.
func (l *Loop) Pending() int { return l.pending }

// Run executes the session until a budget is exhausted or ctx is cancelled.
// In-flight iterations are never interrupted by cancellation; only the
// budget check and the sleeps between ticks observe ctx.
func (l *Loop) Run(ctx context.Context) Result {
	// Use injected start time if set, otherwise use current time
	if l.startTime.IsZero() {
		l.startTime = l.now()
	}
	l.record = session.NewLog(l.id, l.cfg, l.startTime)

	l.log.Info("session started",
		"max_iterations", l.cfg.MaxIterations,
		"duration", l.cfg.SessionDuration,
		"commit_frequency", l.cfg.CommitFrequency,
		"iteration_delay", l.cfg.IterationDelay,
	)

	reason := l.loop(ctx)
	return l.complete(ctx, reason)
}

func (l *Loop) loop(ctx context.Context) ExitReason {
	for {
		if reason, done := l.exhausted(ctx); done {
			return reason
		}

		l.log.Info("iteration started",
			"iteration", l.iteration+1,
			"remaining", l.remaining().Round(time.Second),
		)

		if err := l.runTick(context.WithoutCancel(ctx)); err != nil {
			if reason, stop := l.recoverTick(ctx, err); stop {
				return reason
			}
			continue
		}
		l.recoveries = 0

		// Sleeping
		l.iteration++
		if DetectStuck(l.record.Iterations(), l.cfg.NoProgressThreshold) {
			l.log.Warn("no successful iteration within threshold", "threshold", l.cfg.NoProgressThreshold)
			return ExitReasonStuck
		}
		if reason, done := l.exhausted(ctx); done {
			return reason
		}

		l.setPhase(PhaseSleeping)
		l.log.Info("waiting before next iteration", "delay", l.cfg.IterationDelay)
		if err := l.sleep(ctx, l.cfg.IterationDelay); err != nil {
			return ExitReasonAborted
		}
	}
}

// exhausted reports whether the session must end before the next tick.
func (l *Loop) exhausted(ctx context.Context) (ExitReason, bool) {
	if ctx.Err() != nil {
		return ExitReasonAborted, true
	}
	if l.checkDurationLimit() {
		return ExitReasonMaxDuration, true
	}
	if l.iteration >= l.cfg.MaxIterations {
		return ExitReasonMaxIterations, true
	}
	return ExitReasonUnknown, false
}

// checkDurationLimit returns true if the session duration has been reached.
func (l *Loop) checkDurationLimit() bool {
	return l.now().Sub(l.startTime) >= l.cfg.SessionDuration
}

func (l *Loop) remaining() time.Duration {
	left := l.cfg.SessionDuration - l.now().Sub(l.startTime)
	if left < 0 {
		return 0
	}
	return left
}

func (l *Loop) setPhase(p Phase) {
	l.phase = p
	l.log.Debug("phase", "phase", string(p), "iteration", l.iteration+1)
}

// tickError is an escalated failure that sends the loop into recovery.
type tickError struct {
	phase Phase
	err   error
}

func (e *tickError) Error() string {
	return fmt.Sprintf("%s: %v", e.phase, e.err)
}

func (e *tickError) Unwrap() error { return e.err }

// runTick runs one tick and turns a panic into a tickError. pending is
// restored to its tick-start value whenever the tick escalates.
func (l *Loop) runTick(ctx context.Context) (err error) {
	start := l.pending
	defer func() {
		if r := recover(); r != nil {
			err = &tickError{phase: l.phase, err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			l.pending = start
		}
	}()
	return l.tick(ctx, start)
}

func (l *Loop) tick(ctx context.Context, start int) error {
	suggestion := l.evaluate(ctx)

	result := l.implement(ctx, suggestion)
	if result.Success {
		l.setPhase(PhaseVerifying)
		began := l.now()
		result = l.verifier.Verify(ctx)
		l.metrics.VerifyDuration(l.now().Sub(began))
	}

	if result.Success {
		return l.commit(ctx, suggestion, result)
	}
	return l.rollback(ctx, suggestion, result, start)
}

// evaluate asks the assistant for the next suggestion, falling back to the
// default suggestion on any failure.
func (l *Loop) evaluate(ctx context.Context) *assistant.Suggestion {
	l.setPhase(PhaseEvaluating)

	prompt, err := l.prompts.Build(ctx)
	if err != nil {
		l.log.Warn("failed to build prompt, using default suggestion", "error", err)
		l.metrics.AssistantFallback("prompt")
		return assistant.DefaultSuggestion()
	}

	s, err := l.assistant.Suggest(ctx, prompt)
	if err != nil {
		kind := assistant.KindOf(err)
		l.log.Warn("assistant failed, using default suggestion", "kind", string(kind), "error", err)
		l.metrics.AssistantFallback(string(kind))
		return assistant.DefaultSuggestion()
	}

	l.log.Info("suggestion received", "feature", s.Feature, "priority", string(s.Priority))
	return s
}

// implement creates the optional backup branch and applies the suggestion.
// A failed implementation is reported as a failed verification.
func (l *Loop) implement(ctx context.Context, s *assistant.Suggestion) verify.Result {
	l.setPhase(PhaseImplementing)

	if l.cfg.BackupBranches {
		name := l.cfg.BackupPrefix + strconv.FormatInt(l.now().UnixMilli(), 10)
		if err := l.vcs.CreateBackupBranch(ctx, name); err != nil {
			l.log.Warn("failed to create backup branch", "branch", name, "error", err)
		} else {
			l.backups = append(l.backups, name)
			l.record.AddBackupBranch(name)
			l.log.Info("created backup branch", "branch", name)
		}
	}

	l.pending++
	if err := l.implementer.Implement(ctx, s); err != nil {
		l.log.Warn("implementation failed", "feature", s.Feature, "error", err)
		return verify.Result{
			Success:      false,
			ErrorMessage: fmt.Sprintf("implementation failed: %v", err),
			Step:         "implement",
		}
	}
	return verify.Result{Success: true}
}

func (l *Loop) commit(ctx context.Context, s *assistant.Suggestion, result verify.Result) error {
	l.setPhase(PhaseCommitting)
	l.report(ctx, s, StatusCompleted)

	committed := false
	if l.pending >= l.cfg.CommitFrequency {
		msg := commitMessage(s)
		err := l.vcs.Commit(ctx, msg)
		switch {
		case errors.Is(err, vcs.ErrNothingToCommit):
			l.log.Info("nothing to commit", "feature", s.Feature)
		case err != nil:
			return &tickError{phase: PhaseCommitting, err: err}
		default:
			committed = true
			l.metrics.Commit()
			l.log.Info("committed changes", "feature", s.Feature, "changes", l.pending)
		}
		l.pending = 0
	}

	l.appendIteration(session.IterationRecord{
		Iteration:  l.iteration + 1,
		Suggestion: *s,
		Status:     session.StatusSuccess,
		Warnings:   result.Warnings,
		Committed:  committed,
		Timestamp:  l.now(),
	})
	return nil
}

func (l *Loop) rollback(ctx context.Context, s *assistant.Suggestion, result verify.Result, start int) error {
	l.setPhase(PhaseRollingBack)
	l.log.Warn("verification failed, rolling back", "feature", s.Feature, "step", result.Step)
	l.report(ctx, s, StatusStuck)

	if err := l.vcs.Rollback(ctx); err != nil {
		return &tickError{phase: PhaseRollingBack, err: err}
	}
	l.metrics.Rollback()
	l.pending = start

	l.appendIteration(session.IterationRecord{
		Iteration:  l.iteration + 1,
		Suggestion: *s,
		Status:     session.StatusFailed,
		Error:      result.ErrorMessage,
		Warnings:   result.Warnings,
		Timestamp:  l.now(),
	})
	return nil
}

func (l *Loop) report(ctx context.Context, s *assistant.Suggestion, status string) {
	if l.reporter == nil {
		return
	}
	if err := l.reporter.ReportStatus(ctx, s, status); err != nil {
		l.log.Warn("failed to report status", "status", status, "feature", s.Feature, "error", err)
	}
}

func (l *Loop) appendIteration(rec session.IterationRecord) {
	if err := l.record.AppendIteration(rec); err != nil {
		l.log.Error("failed to record iteration", "error", err)
		return
	}
	l.metrics.Iteration(string(rec.Status))
}

// recoverTick handles an escalated tick failure. It reports whether the session
// must stop.
func (l *Loop) recoverTick(ctx context.Context, err error) (ExitReason, bool) {
	phase := l.phase
	var te *tickError
	if errors.As(err, &te) {
		phase = te.phase
	}

	l.setPhase(PhaseRecovering)
	l.recoveries++
	l.metrics.Recovery()
	l.log.Error("iteration failed, recovering",
		"iteration", l.iteration+1,
		"phase", string(phase),
		"error", err,
	)

	l.record.AppendError(session.ErrorRecord{
		Iteration: l.iteration + 1,
		Phase:     string(phase),
		Message:   errorMessage(err),
		Timestamp: l.now(),
	})

	if rbErr := l.forceRollback(context.WithoutCancel(ctx)); rbErr != nil {
		l.log.Error("recovery rollback failed", "error", rbErr)
	}

	if limit := l.cfg.MaxConsecutiveRecoveries; limit > 0 && l.recoveries >= limit {
		l.log.Error("too many consecutive recoveries", "recoveries", l.recoveries)
		return ExitReasonRecoveryLimit, true
	}

	if err := l.sleep(ctx, l.cfg.RecoveryDelay); err != nil {
		return ExitReasonAborted, true
	}
	return ExitReasonUnknown, false
}

func (l *Loop) forceRollback(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.vcs.Rollback(ctx)
}

// complete logs the summary, flushes the session log and archives it.
func (l *Loop) complete(ctx context.Context, reason ExitReason) Result {
	l.setPhase(PhaseCompleted)

	summary := l.record.Summary(l.now(), reason.String(), l.iteration)
	result := Result{
		Reason:         reason,
		Iterations:     l.iteration,
		Successes:      summary.Successes,
		Failures:       summary.Failures,
		Errors:         summary.Errors,
		Commits:        summary.Commits,
		BackupBranches: append([]string{}, l.backups...),
	}

	l.log.Info("session complete",
		"reason", reason.String(),
		"iterations", result.Iterations,
		"successes", result.Successes,
		"success_rate", SuccessRate(summary.IterationLog, 0),
		"errors", result.Errors,
		"commits", result.Commits,
		"backup_branches", len(result.BackupBranches),
		"duration", summary.Duration,
	)

	path, err := l.store.Flush(summary)
	if err != nil {
		l.log.Error("failed to write session log", "error", err)
		result.Reason = ExitReasonCrash
		result.Error = fmt.Errorf("failed to write session log: %w", err)
	} else {
		result.LogPath = path
		l.log.Info("session log saved", "path", path)
	}

	if l.archive != nil {
		if err := l.archive.LogSession(context.WithoutCancel(ctx), summary); err != nil {
			l.log.Warn("failed to archive session", "error", err)
		}
	}

	return result
}

func commitMessage(s *assistant.Suggestion) string {
	return fmt.Sprintf("feat: %s\n\n%s\n", s.Feature, s.Description)
}

func errorMessage(err error) string {
	var te *tickError
	if errors.As(err, &te) {
		return te.err.Error()
	}
	return err.Error()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
