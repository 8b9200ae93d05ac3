// Package verify runs the project's build, type-check, lint and test
// commands and reports whether the working tree is acceptable.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/thruflo/devloop/internal/logging"
	"github.com/thruflo/devloop/internal/proc"
)

// DefaultMaxOutput caps the captured output kept in Result.ErrorMessage.
const DefaultMaxOutput = 64 * 1024

// Step is one verification command. Optional steps only produce warnings.
type Step struct {
	Name     string
	Command  string
	Optional bool
	Timeout  time.Duration
}

// Result is the outcome of a Verify call.
type Result struct {
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Step         string   `json:"step,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Options configures a Verifier.
type Options struct {
	Dir       string
	MaxOutput int
	// KillGrace is the time between SIGTERM and SIGKILL for a timed out step.
	KillGrace time.Duration
	Logger    *logging.Logger
}

// Verifier runs steps in order.
type Verifier struct {
	steps     []Step
	dir       string
	maxOutput int
	killGrace time.Duration
	log       *logging.Logger
}

// New creates a Verifier. Steps with an empty command are skipped at run time.
func New(steps []Step, opts Options) *Verifier {
	v := &Verifier{
		steps:     append([]Step(nil), steps...),
		dir:       opts.Dir,
		maxOutput: opts.MaxOutput,
		killGrace: opts.KillGrace,
		log:       opts.Logger,
	}
	if v.maxOutput <= 0 {
		v.maxOutput = DefaultMaxOutput
	}
	if v.killGrace <= 0 {
		v.killGrace = 5 * time.Second
	}
	if v.log == nil {
		v.log = logging.Default()
	}
	return v
}

// Steps returns a copy of the configured steps.
func (v *Verifier) Steps() []Step {
	return append([]Step(nil), v.steps...)
}

// Verify runs every step. The first required failure stops the run and its
// captured output becomes ErrorMessage. Optional failures are collected as
// warnings and never change Success.
func (v *Verifier) Verify(ctx context.Context) Result {
	result := Result{Success: true}

	for _, step := range v.steps {
		if strings.TrimSpace(step.Command) == "" {
			continue
		}

		v.log.Info("running verification step", "step", step.Name, "command", step.Command)
		start := time.Now()
		output, err := v.run(ctx, step)
		if err == nil {
			v.log.Debug("verification step passed", "step", step.Name, "duration", time.Since(start).Round(time.Millisecond))
			continue
		}

		msg := v.truncate(failureMessage(step, output, err))
		if step.Optional {
			v.log.Warn("optional verification step failed", "step", step.Name, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", step.Name, msg))
			continue
		}

		v.log.Error("verification step failed", "step", step.Name, "error", err)
		return Result{
			Success:      false,
			ErrorMessage: msg,
			Step:         step.Name,
			Warnings:     result.Warnings,
		}
	}

	return result
}

func (v *Verifier) run(ctx context.Context, step Step) ([]byte, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", step.Command)
	cmd.Dir = v.dir
	cmd.Env = os.Environ()
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = v.killGrace
	proc.SetGroup(cmd)
	cmd.Cancel = func() error { return proc.Terminate(cmd) }

	err := cmd.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out.Bytes(), fmt.Errorf("timed out after %s", step.Timeout)
	}
	if err != nil && errors.Is(err, exec.ErrWaitDelay) {
		return out.Bytes(), nil
	}
	return out.Bytes(), err
}

// failureMessage is the step's raw output. Errors other than a plain
// non-zero exit (timeouts, missing shell) are appended.
func failureMessage(step Step, output []byte, err error) string {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return fmt.Sprintf("%s failed: %v", step.Command, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return text
	}
	return text + "\n" + err.Error()
}

// truncate keeps the tail of s, where compilers and test runners put their
// summary.
func (v *Verifier) truncate(s string) string {
	if len(s) <= v.maxOutput {
		return s
	}
	dropped := len(s) - v.maxOutput
	for dropped < len(s) && !utf8.RuneStart(s[dropped]) {
		dropped++
	}
	return fmt.Sprintf("... (%d bytes truncated)\n%s", dropped, s[dropped:])
}
