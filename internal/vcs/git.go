// Package vcs implements boundary.VersionControl on top of the git CLI.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/boundary"
	"github.com/animus-labs/animus-deploy/internal/runtimeexec"
)

// ErrNoTags is returned by LatestTag when the repository has no tags.
var ErrNoTags = errors.New("no tags found")

type Git struct {
	bin    string
	dir    string
	runner runtimeexec.Runner
}

var _ boundary.VersionControl = (*Git)(nil)

func NewGit(bin, dir string, runner runtimeexec.Runner) *Git {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "git"
	}
	if runner == nil {
		runner = runtimeexec.NewExecRunner()
	}
	return &Git{bin: bin, dir: dir, runner: runner}
}

func (g *Git) IsClean(ctx context.Context) (bool, error) {
	res, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(res.Stdout) == "", nil
}

func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	res, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	branch := runtimeexec.FirstLine(res.Stdout)
	if branch == "" {
		return "", errors.New("git returned an empty branch name")
	}
	return branch, nil
}

func (g *Git) SwitchBranch(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("branch is required")
	}
	if _, err := g.git(ctx, "checkout", name); err != nil {
		return fmt.Errorf("git checkout %s: %w", name, err)
	}
	return nil
}

func (g *Git) LatestTag(ctx context.Context) (string, error) {
	res, err := g.git(ctx, "describe", "--tags", "--abbrev=0")
	if err != nil {
		var exitErr *runtimeexec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(exitErr.Output), "no names found") {
			return "", ErrNoTags
		}
		return "", fmt.Errorf("git describe: %w", err)
	}
	tag := runtimeexec.FirstLine(res.Stdout)
	if tag == "" {
		return "", ErrNoTags
	}
	return tag, nil
}

func (g *Git) git(ctx context.Context, args ...string) (runtimeexec.Result, error) {
	return g.runner.Run(ctx, runtimeexec.Command{Bin: g.bin, Args: args, Dir: g.dir})
}
