// Package assistant drives the external code-generation CLI. One call spawns
// exactly one process: the prompt is written to a temp file, the file path is
// passed as the last argument, stdout/stderr are streamed to the console
// while stdout is buffered for parsing, and a hard timeout terminates the
// process. Retry and fallback policy belongs to the caller.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/thruflo/devloop/internal/logging"
	"github.com/thruflo/devloop/internal/proc"
)

// Options configures a Client.
type Options struct {
	Command   string        // executable name or path, e.g. "claude"
	Args      []string      // extra arguments placed before the prompt file
	Dir       string        // working directory (the target project)
	Timeout   time.Duration // hard wall-clock limit per invocation
	KillGrace time.Duration // time between SIGTERM and SIGKILL
	TempDir   string        // where prompt files are written; os.TempDir() if empty
	Stdout    io.Writer     // console sink for live stdout; discarded if nil
	Stderr    io.Writer     // console sink for live stderr; discarded if nil
	Logger    *logging.Logger
}

// Client invokes the assistant CLI.
type Client struct {
	command   string
	args      []string
	dir       string
	timeout   time.Duration
	killGrace time.Duration
	tempDir   string
	stdout    io.Writer
	stderr    io.Writer
	log       *logging.Logger
}

// New creates a Client. Zero durations fall back to 2m timeout and 5s grace.
func New(opts Options) *Client {
	c := &Client{
		command:   opts.Command,
		args:      append([]string(nil), opts.Args...),
		dir:       opts.Dir,
		timeout:   opts.Timeout,
		killGrace: opts.KillGrace,
		tempDir:   opts.TempDir,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		log:       opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}
	if c.killGrace <= 0 {
		c.killGrace = 5 * time.Second
	}
	if c.stdout == nil {
		c.stdout = io.Discard
	}
	if c.stderr == nil {
		c.stderr = io.Discard
	}
	if c.log == nil {
		c.log = logging.Default()
	}
	return c
}

// Available reports whether the assistant command can be found.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

// Suggest runs the assistant with prompt and parses its stdout as a Suggestion.
func (c *Client) Suggest(ctx context.Context, prompt string) (*Suggestion, error) {
	raw, err := c.Run(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s, err := ParseSuggestion(raw)
	if err != nil {
		return nil, &Error{Kind: KindUnparseable, Err: err}
	}
	return s, nil
}

// Run invokes the assistant with the client's default timeout and returns
// the raw stdout.
func (c *Client) Run(ctx context.Context, prompt string) (string, error) {
	return c.RunWithTimeout(ctx, prompt, c.timeout)
}

// RunWithTimeout is Run with an explicit timeout.
func (c *Client) RunWithTimeout(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	promptPath, err := c.writePrompt(prompt)
	if err != nil {
		return "", &Error{Kind: KindStart, Err: err}
	}
	defer os.Remove(promptPath)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), c.args...), promptPath)
	cmd := exec.CommandContext(runCtx, c.command, args...)
	cmd.Dir = c.dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = c.killGrace
	proc.SetGroup(cmd)
	cmd.Cancel = func() error { return proc.Terminate(cmd) }

	var out, errOut bytes.Buffer
	cmd.Stdout = io.MultiWriter(&out, c.stdout)
	cmd.Stderr = io.MultiWriter(&errOut, c.stderr)

	c.log.Debug("invoking assistant", "command", c.command, "prompt_file", promptPath, "timeout", timeout)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", &Error{Kind: KindUnavailable, Err: err}
		}
		return "", &Error{Kind: KindStart, Err: err}
	}

	waitErr := cmd.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out.String(), &Error{Kind: KindTimeout, Stderr: errOut.String(),
			Err: fmt.Errorf("no response after %s", timeout)}
	}
	if ctx.Err() != nil {
		return out.String(), &Error{Kind: KindCanceled, Err: ctx.Err()}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return out.String(), &Error{
				Kind:     KindNonZeroExit,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(errOut.String()),
				Err:      waitErr,
			}
		}
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			c.log.Warn("assistant output left open after exit", "error", waitErr)
			return out.String(), nil
		}
		return out.String(), &Error{Kind: KindStart, Err: waitErr}
	}
	return out.String(), nil
}

func (c *Client) writePrompt(prompt string) (string, error) {
	f, err := os.CreateTemp(c.tempDir, "devloop-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create prompt file: %w", err)
	}
	if _, err := f.WriteString(prompt); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close prompt file: %w", err)
	}
	return f.Name(), nil
}
