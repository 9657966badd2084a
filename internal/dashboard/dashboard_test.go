package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/health"
	"github.com/gurisko/workbench/internal/registry"
	"github.com/gurisko/workbench/internal/workbench"
)

type fakeGit map[string]*gitops.Status

func (f fakeGit) Status(dir string) (*gitops.Status, error) {
	if st, ok := f[filepath.Base(dir)]; ok {
		return st, nil
	}
	return nil, gitops.ErrNotCloned
}

type fakeProber struct {
	results map[int]health.Result
	calls   []health.Target
}

func (f *fakeProber) Check(_ context.Context, t health.Target) health.Result {
	f.calls = append(f.calls, t)
	return f.results[t.Port]
}

func testConfig(t *testing.T) *workbench.Config {
	t.Helper()
	cfg := workbench.New("acme")
	for _, r := range []workbench.RepoConfig{
		{Name: "web", Port: 3000, HealthCheck: "/api/health"},
		{Name: "api", Port: 8000, HealthCheck: "/health"},
		{Name: "infra", Type: workbench.TypeInfrastructure},
		{Name: "fresh"},
	} {
		_, err := cfg.UpsertRepo(r)
		require.NoError(t, err)
	}
	return cfg
}

func TestBuild(t *testing.T) {
	cfg := testConfig(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []*registry.ProcessRecord{
		{Repo: "api", PID: 4242, Port: 8000, HealthCheck: "/health", State: registry.StateRunning, StartedAt: now.Add(-90 * time.Minute)},
	}
	prober := &fakeProber{results: map[int]health.Result{8000: {Status: health.StatusHealthy, Message: "HTTP 200"}}}
	git := fakeGit{
		"web":   {Branch: "main"},
		"api":   {Branch: "feature/x", Dirty: true, Modified: 2, Ahead: 1, HasUpstream: true},
		"infra": {Branch: "main"},
	}

	rows := Build(context.Background(), cfg, records, Options{
		Root:   "/wb",
		Git:    git,
		Health: prober,
		Now:    func() time.Time { return now },
	})

	require.Len(t, rows, 4)
	want := []Row{
		{Name: "web", Type: workbench.TypeService, Path: "repos/web", Git: git["web"], State: StateNotRunning, Port: 3000, Health: health.StatusUnknown},
		{Name: "api", Type: workbench.TypeService, Path: "repos/api", Git: git["api"], State: "running", PID: 4242, Port: 8000,
			StartedAt: now.Add(-90 * time.Minute), Uptime: 90 * time.Minute, Health: health.StatusHealthy, HealthNote: "HTTP 200"},
		{Name: "infra", Type: workbench.TypeInfrastructure, Path: "repos/infra", Git: git["infra"], State: StateInfrastructure, Health: health.StatusUnknown},
		{Name: "fresh", Type: workbench.TypeService, Path: "repos/fresh", GitError: rows[3].GitError, State: StateNotRunning, Health: health.StatusUnknown},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, rows[3].GitError, "not cloned")
	assert.Len(t, prober.calls, 1, "only running services are probed")

	s := Summarize(rows)
	assert.Equal(t, Summary{Repos: 4, Running: 1, Healthy: 1, Dirty: 1}, s)
}

type errGit struct{}

func (errGit) Status(string) (*gitops.Status, error) { return nil, errors.New("boom") }

func TestBuild_ToleratesGitErrors(t *testing.T) {
	rows := Build(context.Background(), testConfig(t), nil, Options{Git: errGit{}})
	for _, r := range rows {
		assert.Nil(t, r.Git)
		assert.Equal(t, "boom", r.GitError)
	}
}
