// Package vcs commits each backup file to the git repository that holds the
// output directory.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotRepository = errors.New("not a git work tree")

type runFunc func(ctx context.Context, dir string, args ...string) (string, error)

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Git records files with git add and git commit. Commits are serialized so
// concurrent workers never race on the index lock.
type Git struct {
	Dir string

	mu  sync.Mutex
	run runFunc
}

func NewGit(dir string) *Git {
	return &Git{Dir: dir, run: execGit}
}

// Check verifies that Dir is inside a git work tree.
func (g *Git) Check(ctx context.Context) error {
	out, err := g.run(ctx, g.Dir, "rev-parse", "--is-inside-work-tree")
	if err != nil || out != "true" {
		return fmt.Errorf("%s: %w", g.Dir, ErrNotRepository)
	}
	return nil
}

// pathspec rewrites path relative to Dir, which is where git runs. Both are
// resolved against the working directory first, so a relative output
// directory and the paths built from it line up.
func (g *Git) pathspec(path string) (string, error) {
	dir, err := filepath.Abs(g.Dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs, nil
	}
	return filepath.ToSlash(rel), nil
}

func (g *Git) Record(ctx context.Context, path, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	spec, err := g.pathspec(path)
	if err != nil {
		return fmt.Errorf("git add %s: %w", path, err)
	}
	if out, err := g.run(ctx, g.Dir, "add", "--", spec); err != nil {
		return fmt.Errorf("git add %s: %w: %s", path, err, out)
	}
	if out, err := g.run(ctx, g.Dir, "commit", "-m", message, "--", spec); err != nil {
		return fmt.Errorf("git commit %s: %w: %s", path, err, out)
	}
	return nil
}
