// Package vcs drives the git command line for application and custom node
// checkouts.
package vcs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"comfycli/internal/paths"
	"comfycli/internal/proc"
)

// Git shells out to the git binary.
type Git struct {
	Binary string
	Runner proc.Runner
	Logger hclog.Logger
}

// New returns a Git using the binary found on PATH.
func New(runner proc.Runner, logger hclog.Logger) *Git {
	if runner == nil {
		runner = proc.CmdRunner{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Git{Binary: "git", Runner: runner, Logger: logger.Named("git")}
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	g.Logger.Debug("running git", "dir", dir, "args", args)
	res, err := g.Runner.Run(ctx, g.Binary, args, proc.RunOptions{
		Dir: dir,
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Clone clones url into dest. The parent of dest must exist or be creatable
// by git.
func (g *Git) Clone(ctx context.Context, url, dest string) error {
	_, err := g.run(ctx, filepath.Dir(dest), "clone", "--recursive", url, dest)
	return err
}

// Checkout switches the work tree at dir to ref.
func (g *Git) Checkout(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "checkout", ref)
	return err
}

// Pull fast-forwards the current branch at dir.
func (g *Git) Pull(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "pull", "--ff-only")
	return err
}

// HeadCommit returns the commit checked out at dir.
func (g *Git) HeadCommit(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "rev-parse", "HEAD")
}

// RemoteURL returns the fetch URL of the origin remote at dir.
func (g *Git) RemoteURL(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "remote", "get-url", "origin")
}

// IsRepo reports whether dir is the top of a git work tree.
func IsRepo(dir string) bool {
	ok, err := paths.DirExists(filepath.Join(dir, ".git"))
	if err == nil && ok {
		return true
	}
	// Submodules and worktrees use a .git file.
	ok, err = paths.FileExists(filepath.Join(dir, ".git"))
	return err == nil && ok
}

// RepoName derives the checkout directory name from a clone URL.
func RepoName(url string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return strings.TrimSuffix(trimmed, ".git")
}
