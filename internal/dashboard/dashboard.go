// Package dashboard assembles the per-repo status view from configuration,
// git state, the process registry and live health probes. It never
// mutates anything.
package dashboard

import (
	"context"
	"time"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/health"
	"github.com/gurisko/workbench/internal/registry"
	"github.com/gurisko/workbench/internal/workbench"
)

const (
	StateNotRunning     = "not running"
	StateInfrastructure = "n/a"
)

// GitReader is the read-only git view the dashboard needs.
type GitReader interface {
	Status(dir string) (*gitops.Status, error)
}

// Prober probes a health endpoint once.
type Prober interface {
	Check(ctx context.Context, t health.Target) health.Result
}

// Row is one repo's line in the dashboard.
type Row struct {
	Name        string             `json:"name"`
	Type        workbench.RepoType `json:"type"`
	Path        string             `json:"path"`
	Git         *gitops.Status     `json:"git,omitempty"` // nil when unknown
	GitError    string             `json:"git_error,omitempty"`
	State       string             `json:"state"`
	PID         int                `json:"pid,omitempty"`
	Port        int                `json:"port,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	Uptime      time.Duration      `json:"uptime_ns,omitempty"`
	Health      health.Status      `json:"health"`
	HealthNote  string             `json:"health_note,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Options configures Build.
type Options struct {
	Root    string
	Git     GitReader
	Health  Prober
	Workers int
	Now     func() time.Time
}

// Build returns one row per configured repo, in configuration order.
// Records should already be pruned of dead processes. Failures on one
// repo only degrade that row.
func Build(ctx context.Context, cfg *workbench.Config, records []*registry.ProcessRecord, opts Options) []Row {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	byRepo := make(map[string]*registry.ProcessRecord, len(records))
	for _, r := range records {
		byRepo[r.Repo] = r
	}
	now := opts.Now()

	return batch.Run(ctx, opts.Workers, cfg.Repos(), func(ctx context.Context, repo *workbench.RepoConfig) Row {
		return buildRow(ctx, repo, byRepo[repo.Name], now, opts)
	})
}

func buildRow(ctx context.Context, repo *workbench.RepoConfig, rec *registry.ProcessRecord, now time.Time, opts Options) Row {
	row := Row{
		Name:        repo.Name,
		Type:        repo.Type,
		Path:        repo.RelPath(),
		Port:        repo.Port,
		State:       StateNotRunning,
		Health:      health.StatusUnknown,
		Description: repo.Description,
	}
	if row.Type == "" {
		row.Type = workbench.TypeService
	}

	if opts.Git != nil {
		st, err := opts.Git.Status(repo.Dir(opts.Root))
		if err != nil {
			row.GitError = err.Error()
		} else {
			row.Git = st
		}
	}

	if repo.IsInfrastructure() {
		row.State = StateInfrastructure
		return row
	}
	if rec == nil {
		return row
	}

	row.State = string(rec.State)
	row.PID = rec.PID
	if rec.Port != 0 {
		row.Port = rec.Port
	}
	row.StartedAt = rec.StartedAt
	row.Uptime = rec.Uptime(now).Truncate(time.Second)

	if opts.Health != nil {
		res := opts.Health.Check(ctx, health.TargetFor(rec))
		row.Health = res.Status
		row.HealthNote = res.Message
	}
	return row
}

// Summary counts rows by state.
type Summary struct {
	Repos   int `json:"repos"`
	Running int `json:"running"`
	Healthy int `json:"healthy"`
	Dirty   int `json:"dirty"`
}

// Summarize totals rows.
func Summarize(rows []Row) Summary {
	s := Summary{Repos: len(rows)}
	for _, r := range rows {
		if r.PID != 0 {
			s.Running++
		}
		if r.Health == health.StatusHealthy {
			s.Healthy++
		}
		if r.Git != nil && r.Git.Dirty {
			s.Dirty++
		}
	}
	return s
}
