//go:build unix

package feature

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/workbench"
)

type bench struct {
	t     *testing.T
	root  string
	cfg   *workbench.Config
	repos map[string]*git.Repository
}

func newBench(t *testing.T, names ...string) *bench {
	t.Helper()
	b := &bench{t: t, root: t.TempDir(), cfg: workbench.New("acme"), repos: map[string]*git.Repository{}}
	for _, n := range names {
		dir := filepath.Join(b.root, "repos", n)
		repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
		})
		require.NoError(t, err)
		b.repos[n] = repo
		b.commit(n, "README.md")
		_, err = b.cfg.UpsertRepo(workbench.RepoConfig{Name: n})
		require.NoError(t, err)
	}
	return b
}

func (b *bench) dir(name string) string { return filepath.Join(b.root, "repos", name) }

func (b *bench) commit(name, file string) {
	b.t.Helper()
	require.NoError(b.t, os.WriteFile(filepath.Join(b.dir(name), file), []byte(file+"\n"), 0o644))
	wt, err := b.repos[name].Worktree()
	require.NoError(b.t, err)
	_, err = wt.Add(file)
	require.NoError(b.t, err)
	_, err = wt.Commit("add "+file, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(b.t, err)
}

func (b *bench) branch(name string) string {
	b.t.Helper()
	head, err := b.repos[name].Head()
	require.NoError(b.t, err)
	return head.Name().Short()
}

func byTarget(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.Target] = r
	}
	return out
}

func TestBranchNameAndTitle(t *testing.T) {
	assert.Equal(t, "feat/login", BranchName("login"))
	assert.Equal(t, "feat/login", BranchName("feat/login"))
	assert.Equal(t, "login", Label("feat/login"))
	assert.Equal(t, "New Health Goal", Title("feat/new-health-goal"))
}

func TestTargets(t *testing.T) {
	b := newBench(t, "api", "web")
	_, err := b.cfg.UpsertRepo(workbench.RepoConfig{Name: "infra", Type: workbench.TypeInfrastructure})
	require.NoError(t, err)
	_, err = b.cfg.UpsertRepo(workbench.RepoConfig{Name: "uncloned"})
	require.NoError(t, err)

	targets, err := Targets(b.root, b.cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []Target{{"api", b.dir("api")}, {"web", b.dir("web")}}, targets)

	targets, err = Targets(b.root, b.cfg, []string{"web"})
	require.NoError(t, err)
	assert.Equal(t, []Target{{"web", b.dir("web")}}, targets)

	_, err = Targets(b.root, b.cfg, []string{"web", "nope"})
	assert.ErrorIs(t, err, ErrUnknownRepo)

	_, err = Targets(b.root, workbench.New("empty"), nil)
	assert.ErrorIs(t, err, ErrNoRepos)
}

func TestStartStatusFinish(t *testing.T) {
	b := newBench(t, "api", "web")
	ctx := context.Background()
	w := New(gitops.New(&proc.Mock{}), &proc.Mock{}, 2)
	targets, err := Targets(b.root, b.cfg, nil)
	require.NoError(t, err)

	results := w.Start(ctx, targets, "feat/login")
	for _, r := range results {
		assert.Equal(t, ActionCreated, r.Action, r.Target)
		assert.Equal(t, "main", r.Base)
	}
	assert.Equal(t, "feat/login", b.branch("api"))
	assert.Equal(t, "feat/login", b.branch("web"))

	candidates := w.Detect(targets)
	require.Len(t, candidates, 1)
	assert.Equal(t, "feat/login", candidates[0].Branch)
	assert.ElementsMatch(t, []string{"api", "web"}, candidates[0].Repos)

	b.commit("api", "login.go")
	require.NoError(t, os.WriteFile(filepath.Join(b.dir("web"), "wip.txt"), []byte("x"), 0o644))

	status := byTarget(w.Status(ctx, targets, "feat/login"))
	assert.Equal(t, 1, status["api"].Ahead)
	assert.Equal(t, 0, status["api"].Modified)
	assert.Equal(t, 0, status["web"].Ahead)
	assert.Equal(t, 1, status["web"].Modified)
	assert.Equal(t, []string{"web"}, w.Dirty(targets))

	finish := byTarget(w.Finish(ctx, targets, "feat/login", FinishOptions{Delete: true}))
	assert.Equal(t, "main", b.branch("api"))
	assert.Equal(t, "main", b.branch("web"))
	assert.False(t, finish["api"].Deleted, "unmerged branch is kept without force")
	assert.Contains(t, finish["api"].Note, "--force")
	assert.True(t, finish["web"].Deleted)

	exists, err := gitops.New(nil).BranchExists(b.dir("api"), "feat/login")
	require.NoError(t, err)
	assert.True(t, exists)

	results = w.Start(ctx, targets[:1], "feat/login")
	assert.Equal(t, ActionSwitched, results[0].Action)
}

func TestDetect_PrefersMostRepos(t *testing.T) {
	b := newBench(t, "api", "web", "worker")
	w := New(gitops.New(&proc.Mock{}), &proc.Mock{}, 2)
	targets, err := Targets(b.root, b.cfg, nil)
	require.NoError(t, err)

	w.Start(context.Background(), targets[:1], "feat/a")
	w.Start(context.Background(), targets[1:], "feat/b")

	candidates := w.Detect(targets)
	require.Len(t, candidates, 2)
	assert.Equal(t, "feat/b", candidates[0].Branch)
	assert.Equal(t, "feat/a", candidates[1].Branch)
}

func TestPush(t *testing.T) {
	b := newBench(t, "api", "web", "worker")
	ctx := context.Background()
	m := &proc.Mock{RunFunc: func(_ context.Context, dir, _ string, args ...string) ([]byte, error) {
		if args[0] == "ls-remote" && dir == b.dir("web") {
			return []byte("abc\trefs/heads/feat/x\n"), nil
		}
		return nil, nil
	}}
	w := New(gitops.New(m), m, 1)
	targets, err := Targets(b.root, b.cfg, nil)
	require.NoError(t, err)

	w.Start(ctx, targets[:2], "feat/x")
	b.commit("api", "x.go")

	results := byTarget(w.Push(ctx, targets, "feat/x"))
	assert.Equal(t, ActionPushed, results["api"].Action)
	assert.Equal(t, ActionPushed, results["web"].Action, "already on remote")
	assert.Equal(t, ActionSkipped, results["worker"].Action)

	var pushes [][]string
	for _, c := range m.CallsFor("Run") {
		if c.Args[0] == "push" {
			pushes = append(pushes, c.Args)
		}
	}
	assert.Equal(t, [][]string{{"push", "-u", "origin", "feat/x"}, {"push", "-u", "origin", "feat/x"}}, pushes)
}

func TestPR_CrossLinks(t *testing.T) {
	b := newBench(t, "api", "web")
	ctx := context.Background()
	m := &proc.Mock{RunFunc: func(_ context.Context, dir, name string, args ...string) ([]byte, error) {
		switch {
		case name == "git":
			return []byte("abc\trefs/heads/feat/login\n"), nil
		case args[1] == "create" && dir == b.dir("web"):
			return nil, &proc.CommandError{Name: "gh", ExitCode: 1, Stderr: "a pull request for branch \"feat/login\" already exists"}
		case args[1] == "create":
			return []byte("https://github.com/acme/api/pull/1\n"), nil
		case args[1] == "view":
			return []byte("https://github.com/acme/web/pull/7\n"), nil
		}
		return nil, nil
	}}
	w := New(gitops.New(m), m, 1)
	targets, err := Targets(b.root, b.cfg, nil)
	require.NoError(t, err)
	w.Start(ctx, targets, "feat/login")

	results := byTarget(w.PR(ctx, targets, "feat/login", PROptions{Draft: true}))
	assert.Equal(t, ActionOpened, results["api"].Action)
	assert.Equal(t, "https://github.com/acme/api/pull/1", results["api"].URL)
	assert.Equal(t, ActionExisting, results["web"].Action)
	assert.Equal(t, "https://github.com/acme/web/pull/7", results["web"].URL)

	var creates, edits []proc.Call
	for _, c := range m.CallsFor("Run") {
		if c.Name != "gh" {
			continue
		}
		switch c.Args[1] {
		case "create":
			creates = append(creates, c)
		case "edit":
			edits = append(edits, c)
		}
	}
	require.Len(t, creates, 2)
	assert.Equal(t, []string{"pr", "create", "--title", "Login", "--body", "Part of cross-repo feature: **feat/login**", "--draft"}, creates[0].Args)
	require.Len(t, edits, 2)
	for _, e := range edits {
		assert.Contains(t, e.Args[4], "### Related PRs")
	}
}

func TestResultStatus(t *testing.T) {
	assert.Equal(t, batch.Failed, Result{Action: ActionFailed}.Status())
	assert.Equal(t, batch.Skipped, Result{Action: ActionOffBranch}.Status())
	assert.Equal(t, batch.Succeeded, Result{Action: ActionPushed}.Status())
}
