// Package project gathers a snapshot of the target project that is fed into
// the assistant prompt: package metadata, a shallow file tree and the most
// recent commits.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/thruflo/devloop/internal/logging"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultSourceDir   = "src"
	DefaultDepth       = 2
	DefaultCommitCount = 5
)

// CommitLister returns one-line summaries of the latest commits.
type CommitLister interface {
	RecentCommits(n int) ([]string, error)
}

// Entry is one file or directory in the snapshot, relative to the source dir.
type Entry struct {
	Path string `json:"path"`
	Dir  bool   `json:"dir,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// State is the project snapshot.
type State struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Dependencies  []string  `json:"dependencies"`
	Files         []Entry   `json:"files"`
	RecentCommits []string  `json:"recent_commits"`
	Timestamp     time.Time `json:"timestamp"`
}

// Options configures Analyze.
type Options struct {
	SourceDir   string
	Depth       int
	CommitCount int
	Commits     CommitLister
	Now         func() time.Time
	Logger      *logging.Logger
}

type packageJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Analyze reads the snapshot of the project at dir. A probe that fails, such
// as a malformed package.json or an unreadable source directory, leaves its
// fields empty and logs a warning. Only cancellation of ctx is an error.
func Analyze(ctx context.Context, dir string, opts Options) (*State, error) {
	if opts.SourceDir == "" {
		opts.SourceDir = DefaultSourceDir
	}
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	if opts.CommitCount <= 0 {
		opts.CommitCount = DefaultCommitCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	state := &State{Timestamp: opts.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pkg, err := readPackageJSON(filepath.Join(dir, "package.json"))
		if err != nil {
			log.Warn("skipping package metadata", "error", err)
			return nil
		}
		state.Name = pkg.Name
		state.Version = pkg.Version
		state.Dependencies = sortedKeys(pkg.Dependencies)
		return nil
	})
	g.Go(func() error {
		files, err := fileTree(gctx, dir, opts.SourceDir, opts.Depth)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			log.Warn("skipping file tree", "error", err)
			return nil
		}
		state.Files = files
		return nil
	})
	if opts.Commits != nil {
		g.Go(func() error {
			commits, err := opts.Commits.RecentCommits(opts.CommitCount)
			if err != nil {
				log.Debug("skipping recent commits", "error", err)
				return nil
			}
			state.RecentCommits = commits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

func readPackageJSON(path string) (*packageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &packageJSON{}, nil
		}
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &pkg, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var defaultIgnores = []string{
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"coverage/",
	".git/",
	".devloop/",
	".DS_Store",
	"*.log",
}

// ignoreMatcher combines the default ignores with the project's .gitignore.
func ignoreMatcher(dir string) *ignore.GitIgnore {
	patterns := append([]string(nil), defaultIgnores...)
	if data, err := os.ReadFile(filepath.Join(dir, ".gitignore")); err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}
	return ignore.CompileIgnoreLines(patterns...)
}

// fileTree lists entries under dir/sourceDir down to depth levels. Hidden
// entries and anything matched by the ignore rules are skipped, as are
// unreadable directories.
func fileTree(ctx context.Context, dir, sourceDir string, depth int) ([]Entry, error) {
	root := filepath.Join(dir, sourceDir)
	matcher := ignoreMatcher(dir)

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return fs.SkipAll
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") || ignored(matcher, dir, path, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		level := strings.Count(rel, "/") + 1

		entry := Entry{Path: rel, Dir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)

		if d.IsDir() && level >= depth {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func ignored(m *ignore.GitIgnore, dir, path string, isDir bool) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if isDir {
		rel += "/"
	}
	return m.MatchesPath(rel)
}
