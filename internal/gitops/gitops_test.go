//go:build unix

package gitops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/workbench/internal/proc"
)

type fixture struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
	n    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	f := &fixture{t: t, dir: dir, repo: repo, wt: wt}
	f.commit("README.md", "hello\n")
	return f
}

func (f *fixture) commit(name, content string) plumbing.Hash {
	f.t.Helper()
	f.n++
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644))
	_, err := f.wt.Add(name)
	require.NoError(f.t, err)
	h, err := f.wt.Commit("commit "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(int64(1700000000+f.n), 0)},
	})
	require.NoError(f.t, err)
	return h
}

// track points origin/<branch> at h and configures branch to follow it.
func (f *fixture) track(branch string, h plumbing.Hash) {
	f.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", branch), h)
	require.NoError(f.t, f.repo.Storer.SetReference(ref))
	cfg, err := f.repo.Config()
	require.NoError(f.t, err)
	cfg.Branches[branch] = &config.Branch{
		Name:   branch,
		Remote: "origin",
		Merge:  plumbing.NewBranchReferenceName(branch),
	}
	require.NoError(f.t, f.repo.SetConfig(cfg))
}

func TestStatus_CleanWithoutUpstream(t *testing.T) {
	f := newFixture(t)
	st, err := New(nil).Status(f.dir)
	require.NoError(t, err)
	assert.Equal(t, "main", st.Branch)
	assert.False(t, st.Dirty)
	assert.False(t, st.HasUpstream)
}

func TestStatus_DirtyCounts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "README.md"), []byte("changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "new.txt"), []byte("x"), 0o644))

	st, err := New(nil).Status(f.dir)
	require.NoError(t, err)
	assert.True(t, st.Dirty)
	assert.Equal(t, 1, st.Modified)
	assert.Equal(t, 1, st.Untracked)
}

func TestStatus_AheadBehind(t *testing.T) {
	f := newFixture(t)
	base := f.commit("a.txt", "a")
	f.track("main", base)
	f.commit("b.txt", "b")
	f.commit("c.txt", "c")

	st, err := New(nil).Status(f.dir)
	require.NoError(t, err)
	assert.True(t, st.HasUpstream)
	assert.Equal(t, "origin/main", st.Upstream)
	assert.Equal(t, 2, st.Ahead)
	assert.Equal(t, 0, st.Behind)

	// Move the remote ahead on a side line of history.
	head, err := f.repo.Head()
	require.NoError(t, err)
	require.NoError(t, f.wt.Checkout(&git.CheckoutOptions{Hash: base, Branch: plumbing.NewBranchReferenceName("side"), Create: true}))
	remote := f.commit("r.txt", "r")
	require.NoError(t, f.wt.Checkout(&git.CheckoutOptions{Branch: head.Name()}))
	f.track("main", remote)

	st, err = New(nil).Status(f.dir)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Ahead)
	assert.Equal(t, 1, st.Behind)
}

func TestStatus_NotCloned(t *testing.T) {
	_, err := New(nil).Status(t.TempDir())
	assert.ErrorIs(t, err, ErrNotCloned)
	assert.False(t, IsRepo(t.TempDir()))
}

func TestStatus_Detached(t *testing.T) {
	f := newFixture(t)
	h := f.commit("x.txt", "x")
	require.NoError(t, f.wt.Checkout(&git.CheckoutOptions{Hash: h}))

	c := New(nil)
	st, err := c.Status(f.dir)
	require.NoError(t, err)
	assert.True(t, st.Detached)
	assert.Equal(t, h.String()[:7], st.Branch)

	_, err = c.CurrentBranch(f.dir)
	assert.ErrorIs(t, err, ErrDetachedHead)
}

func TestBranchLifecycle(t *testing.T) {
	f := newFixture(t)
	c := New(nil)

	def, err := c.DefaultBranch(f.dir)
	require.NoError(t, err)
	assert.Equal(t, "main", def)

	require.NoError(t, c.Checkout(f.dir, "feature/login", true))
	cur, err := c.CurrentBranch(f.dir)
	require.NoError(t, err)
	assert.Equal(t, "feature/login", cur)

	f.commit("login.go", "package login\n")
	ahead, err := c.CommitsAhead(f.dir, "main", "feature/login")
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)

	assert.ErrorIs(t, c.DeleteBranch(f.dir, "feature/login", "main", false), ErrBranchCheckedOut)

	require.NoError(t, c.Checkout(f.dir, "main", false))
	assert.ErrorIs(t, c.DeleteBranch(f.dir, "feature/login", "main", false), ErrNotMerged)
	require.NoError(t, c.DeleteBranch(f.dir, "feature/login", "main", true))

	exists, err := c.BranchExists(f.dir, "feature/login")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, c.Checkout(f.dir, "nope", false), ErrBranchNotFound)
}

func TestPull_NoUpstreamSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	m := &proc.Mock{}
	_, err := New(m).Pull(context.Background(), f.dir)
	assert.ErrorIs(t, err, ErrNoUpstream)
	assert.Empty(t, m.CallsFor("Run"))
}

func TestPull_ClassifiesOutput(t *testing.T) {
	f := newFixture(t)
	head, err := f.repo.Head()
	require.NoError(t, err)
	f.track("main", head.Hash())

	t.Run("up to date", func(t *testing.T) {
		m := &proc.Mock{RunFunc: func(context.Context, string, string, ...string) ([]byte, error) {
			return []byte("Already up to date.\n"), nil
		}}
		res, err := New(m).Pull(context.Background(), f.dir)
		require.NoError(t, err)
		assert.True(t, res.UpToDate)
		calls := m.CallsFor("Run")
		require.Len(t, calls, 1)
		assert.Equal(t, "git", calls[0].Name)
		assert.Equal(t, []string{"pull"}, calls[0].Args)
		assert.Equal(t, f.dir, calls[0].Dir)
	})

	t.Run("conflict", func(t *testing.T) {
		m := &proc.Mock{RunFunc: func(context.Context, string, string, ...string) ([]byte, error) {
			return []byte("Auto-merging a.txt\nCONFLICT (content): Merge conflict in a.txt\n"),
				&proc.CommandError{Name: "git", Args: []string{"pull"}, ExitCode: 1}
		}}
		_, err := New(m).Pull(context.Background(), f.dir)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestPushAndClone_Args(t *testing.T) {
	m := &proc.Mock{RunFunc: func(_ context.Context, _ string, _ string, args ...string) ([]byte, error) {
		if args[0] == "ls-remote" {
			return []byte("abc123\trefs/heads/feature/x\n"), nil
		}
		return nil, nil
	}}
	c := New(m)
	root := t.TempDir()

	require.NoError(t, c.Clone(context.Background(), "https://example.com/api.git", filepath.Join(root, "repos", "api")))
	require.NoError(t, c.Push(context.Background(), root, "feature/x", true))
	require.NoError(t, c.Push(context.Background(), root, "main", false))
	exists, err := c.RemoteBranchExists(context.Background(), root, "feature/x")
	require.NoError(t, err)
	assert.True(t, exists)

	calls := m.CallsFor("Run")
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"clone", "https://example.com/api.git", filepath.Join(root, "repos", "api")}, calls[0].Args)
	assert.Equal(t, filepath.Join(root, "repos"), calls[0].Dir)
	assert.Equal(t, []string{"push", "-u", "origin", "feature/x"}, calls[1].Args)
	assert.Equal(t, []string{"push"}, calls[2].Args)
	assert.Equal(t, []string{"ls-remote", "--heads", "origin", "feature/x"}, calls[3].Args)
}
