//go:build unix

// Package gitops reads repo state with go-git and delegates network
// operations (clone, pull, push) to the git CLI so the user's credential
// helpers and SSH agent keep working.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gurisko/workbench/internal/logging"
	"github.com/gurisko/workbench/internal/proc"
)

// Client runs git operations for workbench repos.
type Client struct {
	procs proc.Manager
	log   *slog.Logger
}

// New returns a Client that shells out through m.
func New(m proc.Manager) *Client {
	if m == nil {
		m = proc.NewManager()
	}
	return &Client{procs: m, log: logging.New("git")}
}

func (c *Client) git(ctx context.Context, dir string, args ...string) (string, error) {
	c.log.Debug("git", "dir", dir, "args", args)
	out, err := c.procs.Run(ctx, dir, "git", args...)
	return strings.TrimSpace(string(out)), err
}

// Clone clones url into dir. The parent directory is created as needed.
func (c *Client) Clone(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dir), err)
	}
	if _, err := c.git(ctx, filepath.Dir(dir), "clone", url, dir); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

// PullResult says what a pull did.
type PullResult struct {
	UpToDate bool
	Output   string
}

// Pull runs git pull on the current branch. A branch without upstream
// returns ErrNoUpstream without contacting the remote; merge conflicts
// return ErrConflict.
func (c *Client) Pull(ctx context.Context, dir string) (*PullResult, error) {
	st, err := c.Status(dir)
	if err != nil {
		return nil, err
	}
	if st.Detached {
		return nil, fmt.Errorf("%w at %s", ErrDetachedHead, st.Branch)
	}
	if !st.HasUpstream {
		return nil, fmt.Errorf("%w for %s", ErrNoUpstream, st.Branch)
	}

	out, err := c.git(ctx, dir, "pull")
	if err != nil {
		var ce *proc.CommandError
		if errors.As(err, &ce) {
			combined := out + "\n" + ce.Stderr
			switch {
			case strings.Contains(combined, "CONFLICT"):
				return nil, fmt.Errorf("%w: %s", ErrConflict, firstLine(out, "CONFLICT"))
			case strings.Contains(combined, "no tracking information"):
				return nil, fmt.Errorf("%w for %s", ErrNoUpstream, st.Branch)
			}
		}
		return nil, fmt.Errorf("pull: %w", err)
	}
	return &PullResult{
		UpToDate: strings.Contains(out, "Already up to date") || strings.Contains(out, "Already up-to-date"),
		Output:   out,
	}, nil
}

// Push pushes branch to origin. With setUpstream the branch is pushed
// with -u so later pulls track it.
func (c *Client) Push(ctx context.Context, dir, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u", "origin", branch)
	}
	if _, err := c.git(ctx, dir, args...); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// RemoteBranchExists asks origin whether branch exists there.
func (c *Client) RemoteBranchExists(ctx context.Context, dir, branch string) (bool, error) {
	out, err := c.git(ctx, dir, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return false, fmt.Errorf("ls-remote: %w", err)
	}
	return out != "", nil
}

func firstLine(text, containing string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, containing) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
