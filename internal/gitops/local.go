//go:build unix

package gitops

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// maxWalk bounds commit-graph walks for ahead/behind counts.
const maxWalk = 20000

// Status is a summary of a working copy.
type Status struct {
	Branch      string `json:"branch"`
	Detached    bool   `json:"detached,omitempty"`
	Upstream    string `json:"upstream,omitempty"`
	Dirty       bool   `json:"dirty"`
	Modified    int    `json:"modified"`
	Untracked   int    `json:"untracked"`
	Ahead       int    `json:"ahead"`
	Behind      int    `json:"behind"`
	HasUpstream bool   `json:"has_upstream"`
}

func open(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotCloned, dir)
		}
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	return repo, nil
}

// IsRepo reports whether dir is a git working copy.
func IsRepo(dir string) bool {
	_, err := git.PlainOpen(dir)
	return err == nil
}

// Status reads branch, working tree and upstream state of dir.
func (c *Client) Status(dir string) (*Status, error) {
	repo, err := open(dir)
	if err != nil {
		return nil, err
	}

	st := &Status{}
	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn branch: HEAD is symbolic but has no commits yet.
		if ref, rerr := repo.Storer.Reference(plumbing.HEAD); rerr == nil {
			st.Branch = ref.Target().Short()
		}
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("read HEAD: %w", err)
	case head.Name().IsBranch():
		st.Branch = head.Name().Short()
	default:
		st.Detached = true
		st.Branch = head.Hash().String()[:7]
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	ws, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	for _, fs := range ws {
		switch {
		case fs.Worktree == git.Untracked:
			st.Untracked++
		case fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified:
			st.Modified++
		}
	}
	st.Dirty = st.Modified+st.Untracked > 0

	if st.Detached {
		return st, nil
	}
	upstream, ok := upstreamOf(repo, st.Branch)
	if !ok {
		return st, nil
	}
	st.Upstream = upstream.Short()
	upRef, err := repo.Reference(upstream, true)
	if err != nil {
		return st, nil
	}
	st.HasUpstream = true
	st.Ahead, st.Behind, err = aheadBehind(repo, head.Hash(), upRef.Hash())
	if err != nil {
		return nil, err
	}
	return st, nil
}

// upstreamOf resolves branch.<name>.remote/merge to a remote-tracking ref.
func upstreamOf(repo *git.Repository, branch string) (plumbing.ReferenceName, bool) {
	cfg, err := repo.Config()
	if err != nil {
		return "", false
	}
	b, ok := cfg.Branches[branch]
	if !ok || b.Remote == "" || b.Merge == "" {
		return "", false
	}
	if b.Remote == "." {
		return b.Merge, true
	}
	return plumbing.NewRemoteReferenceName(b.Remote, b.Merge.Short()), true
}

func ancestors(repo *git.Repository, from plumbing.Hash) (map[plumbing.Hash]bool, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", from.String()[:7], err)
	}
	defer iter.Close()
	set := make(map[plumbing.Hash]bool)
	err = iter.ForEach(func(c *object.Commit) error {
		set[c.Hash] = true
		if len(set) >= maxWalk {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", from.String()[:7], err)
	}
	return set, nil
}

func aheadBehind(repo *git.Repository, local, upstream plumbing.Hash) (ahead, behind int, err error) {
	if local == upstream {
		return 0, 0, nil
	}
	mine, err := ancestors(repo, local)
	if err != nil {
		return 0, 0, err
	}
	theirs, err := ancestors(repo, upstream)
	if err != nil {
		return 0, 0, err
	}
	for h := range mine {
		if !theirs[h] {
			ahead++
		}
	}
	for h := range theirs {
		if !mine[h] {
			behind++
		}
	}
	return ahead, behind, nil
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(dir string) (string, error) {
	st, err := c.Status(dir)
	if err != nil {
		return "", err
	}
	if st.Detached {
		return "", fmt.Errorf("%w at %s", ErrDetachedHead, st.Branch)
	}
	return st.Branch, nil
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(dir, name string) (bool, error) {
	repo, err := open(dir)
	if err != nil {
		return false, err
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(name), false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DefaultBranch guesses the integration branch: origin/HEAD when known,
// else main, else master.
func (c *Client) DefaultBranch(dir string) (string, error) {
	repo, err := open(dir)
	if err != nil {
		return "", err
	}
	if ref, err := repo.Reference(plumbing.NewRemoteHEADReferenceName("origin"), false); err == nil && ref.Type() == plumbing.SymbolicReference {
		return strings.TrimPrefix(ref.Target().Short(), "origin/"), nil
	}
	for _, name := range []string{"main", "master"} {
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(name), false); err == nil {
			return name, nil
		}
		if _, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", name), false); err == nil {
			return name, nil
		}
	}
	return "main", nil
}

// Checkout switches to branch, creating it from HEAD when create is set.
// A new branch keeps uncommitted changes; switching to an existing branch
// refuses to overwrite unstaged edits to tracked files.
func (c *Client) Checkout(dir, branch string, create bool) error {
	repo, err := open(dir)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
		Keep:   create,
	})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
		}
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// CommitsAhead counts commits on branch that base does not have. base
// falls back to origin/<base> when there is no local branch of that name.
func (c *Client) CommitsAhead(dir, base, branch string) (int, error) {
	repo, err := open(dir)
	if err != nil {
		return 0, err
	}
	br, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		baseRef, err = repo.Reference(plumbing.NewRemoteReferenceName("origin", base), true)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrBranchNotFound, base)
		}
	}
	ahead, _, err := aheadBehind(repo, br.Hash(), baseRef.Hash())
	return ahead, err
}

// DeleteBranch removes a local branch and its config section. Unless
// force is set, a branch with commits missing from base is refused.
func (c *Client) DeleteBranch(dir, name, base string, force bool) error {
	repo, err := open(dir)
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(ref, false); err != nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if head, err := repo.Head(); err == nil && head.Name() == ref {
		return fmt.Errorf("%w: %s", ErrBranchCheckedOut, name)
	}
	if !force {
		ahead, err := c.CommitsAhead(dir, base, name)
		if err != nil {
			return err
		}
		if ahead > 0 {
			return fmt.Errorf("%w: %s has %d commit(s) not in %s", ErrNotMerged, name, ahead, base)
		}
	}
	if err := repo.Storer.RemoveReference(ref); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if err := repo.DeleteBranch(name); err != nil && !errors.Is(err, git.ErrBranchNotFound) {
		return fmt.Errorf("delete %s config: %w", name, err)
	}
	return nil
}
