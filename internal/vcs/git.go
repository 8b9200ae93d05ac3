// Package vcs wraps the git operations the session loop needs: backup
// branches, commits and hard rollback. Read-only queries go through go-git;
// mutations shell out to the git CLI so that hooks and user config apply.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/thruflo/devloop/internal/logging"
)

var (
	// ErrNotRepository is returned by Open when dir is not a git work tree.
	ErrNotRepository = errors.New("not a git repository")

	// ErrNothingToCommit is returned by Commit when the tree has no changes.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrNoWorkingBranch is returned by Open when the working branch has no
	// commits or does not exist.
	ErrNoWorkingBranch = errors.New("working branch does not exist")
)

// Options configures Open.
type Options struct {
	// WorkingBranch is the branch backup branches return to. Empty means
	// the branch checked out when the repository is opened.
	WorkingBranch string

	// Keep lists gitignore-style patterns Rollback never removes, such as
	// ".devloop/".
	Keep []string

	Runner Runner
	Logger *logging.Logger
}

// Git is the version control gateway for one project directory.
type Git struct {
	dir    string
	branch string
	keep   []string
	repo   *git.Repository
	runner Runner
	log    *logging.Logger
}

// Open verifies that dir is a git repository and that the working branch
// exists.
func Open(dir string, opts Options) (*Git, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	g := &Git{
		dir:    dir,
		branch: opts.WorkingBranch,
		keep:   opts.Keep,
		repo:   repo,
		runner: opts.Runner,
		log:    opts.Logger,
	}
	if g.runner == nil {
		g.runner = ExecRunner{}
	}
	if g.log == nil {
		g.log = logging.Default()
	}

	if g.branch == "" {
		branch, err := headBranch(repo)
		if err != nil {
			return nil, err
		}
		g.branch = branch
	}
	if _, err := repo.Reference(plumbing.NewBranchReferenceName(g.branch), true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%s: %w (commit at least once first)", g.branch, ErrNoWorkingBranch)
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", g.branch, err)
	}
	return g, nil
}

// headBranch returns the short name of the branch HEAD points at. It works
// for unborn branches too.
func headBranch(repo *git.Repository) (string, error) {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if ref.Type() != plumbing.SymbolicReference || !ref.Target().IsBranch() {
		return "", errors.New("HEAD is detached; set session.working_branch")
	}
	return ref.Target().Short(), nil
}

// Dir returns the repository root.
func (g *Git) Dir() string { return g.dir }

// CurrentBranch returns the working branch.
func (g *Git) CurrentBranch() string { return g.branch }

// CreateBackupBranch creates name at the current commit and switches back to
// the working branch. Uncommitted changes are carried across both checkouts.
// If the switch back fails, HEAD is pointed at the branch it started on and
// the new branch is deleted, so later commits never land on a backup.
func (g *Git) CreateBackupBranch(ctx context.Context, name string) error {
	prev, _ := headBranch(g.repo)

	if err := g.run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("failed to create backup branch %s: %w", name, err)
	}
	if err := g.run(ctx, "checkout", g.branch); err != nil {
		err = fmt.Errorf("failed to return to %s: %w", g.branch, err)
		if rerr := g.restoreHead(ctx, prev, name); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	g.log.Debug("created backup branch", "branch", name)
	return nil
}

// restoreHead moves HEAD off the backup branch without touching the index or
// work tree. Both branches point at the same commit at this point.
func (g *Git) restoreHead(ctx context.Context, prev, backup string) error {
	var err error
	if prev != "" {
		err = g.run(ctx, "symbolic-ref", "HEAD", plumbing.NewBranchReferenceName(prev).String())
	} else {
		err = g.run(ctx, "checkout", "-")
	}
	if err != nil {
		return fmt.Errorf("failed to leave backup branch %s: %w", backup, err)
	}
	if err := g.run(ctx, "branch", "-D", backup); err != nil {
		g.log.Warn("failed to delete backup branch", "branch", backup, "error", err)
	}
	return nil
}

// Commit stages every change, including untracked files, and commits with
// message. It returns ErrNothingToCommit when there is nothing staged.
func (g *Git) Commit(ctx context.Context, message string) error {
	if err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}

	stdout, stderr, code, err := g.runner.Run(ctx, g.dir, "commit", "-m", message)
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	if code != 0 {
		out := strings.TrimSpace(string(stdout) + "\n" + string(stderr))
		if strings.Contains(out, "nothing to commit") || strings.Contains(out, "nothing added to commit") {
			return ErrNothingToCommit
		}
		return fmt.Errorf("failed to commit: %w", &CommandError{Args: []string{"commit", "-m", "..."}, ExitCode: code, Output: out})
	}
	return nil
}

// Rollback discards every uncommitted change: tracked modifications are reset
// to HEAD and untracked files and directories are removed. Ignored files and
// paths matching Options.Keep are kept. Rollback on a clean tree is a no-op.
func (g *Git) Rollback(ctx context.Context) error {
	if err := g.run(ctx, "reset", "--hard", "HEAD"); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	args := []string{"clean", "-fd"}
	for _, p := range g.keep {
		args = append(args, "-e", p)
	}
	if err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to clean: %w", err)
	}
	return nil
}

// RecentCommits returns up to n "<short-hash> <subject>" lines, newest first.
// An unborn branch yields no commits.
func (g *Git) RecentCommits(n int) ([]string, error) {
	head, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	iter, err := g.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var out []string
	err = iter.ForEach(func(c *object.Commit) error {
		if len(out) >= n {
			return storer.ErrStop
		}
		subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
		out = append(out, c.Hash.String()[:7]+" "+subject)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return out, nil
}

func (g *Git) run(ctx context.Context, args ...string) error {
	stdout, stderr, code, err := g.runner.Run(ctx, g.dir, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		out := strings.TrimSpace(string(stderr))
		if out == "" {
			out = strings.TrimSpace(string(stdout))
		}
		return &CommandError{Args: args, ExitCode: code, Output: out}
	}
	return nil
}
