//go:build unix

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/dashboard"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/health"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show git, process and health status of every repo",
	Long: `Show one row per repo: branch, uncommitted changes, commits ahead/behind
upstream, process state, PID, port, uptime and health.

Examples:
  workbench status         # Table view
  workbench status --json  # Machine-readable output`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output JSON")
}

type statusOutput struct {
	Workbench string            `json:"workbench"`
	Root      string            `json:"root"`
	Repos     []dashboard.Row   `json:"repos"`
	Summary   dashboard.Summary `json:"summary"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	cfg := store.Config()

	sup, closeJournal, err := openSupervisor(store.Root(), cfg)
	if err != nil {
		return err
	}
	defer closeJournal()
	records, err := sup.Records(cmd.Context())
	if err != nil {
		return err
	}

	rows := dashboard.Build(cmd.Context(), cfg, records, dashboard.Options{
		Root:    store.Root(),
		Git:     gitops.New(proc.NewManager()),
		Health:  health.NewChecker(conf.HealthTimeout),
		Workers: conf.MaxWorkers,
	})
	summary := dashboard.Summarize(rows)

	if statusJSON {
		return out.JSON(statusOutput{Workbench: cfg.Name, Root: store.Root(), Repos: rows, Summary: summary})
	}

	if len(rows) == 0 {
		out.Info("No repos defined in workbench.yaml. Run 'workbench add <git-url>' to add one.")
		return nil
	}
	out.Title(cfg.Name)
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, statusRow(r))
	}
	out.Table([]string{"", "Repo", "Branch", "Changes", "Sync", "State", "PID", "Port", "Uptime", "Health"}, table)
	out.Muted("%d repos · %d running · %d healthy · %d with changes", summary.Repos, summary.Running, summary.Healthy, summary.Dirty)
	return nil
}

func statusRow(r dashboard.Row) []string {
	branch, changes, sync := "?", "?", "?"
	if r.Git != nil {
		branch = r.Git.Branch
		if r.Git.Detached {
			branch = "(" + branch + ")"
		}
		changes = "clean"
		if r.Git.Dirty {
			changes = fmt.Sprintf("%d modified", r.Git.Modified+r.Git.Untracked)
		}
		sync = "-"
		if r.Git.HasUpstream {
			sync = fmt.Sprintf("↑%d ↓%d", r.Git.Ahead, r.Git.Behind)
		}
	} else if strings.Contains(r.GitError, gitops.ErrNotCloned.Error()) {
		branch = "not cloned"
	}

	glyph := ui.GlyphPending
	switch {
	case r.PID != 0 && (r.Health == health.StatusHealthy || r.Health == health.StatusUnknown):
		glyph = ui.GlyphRunning
	case r.PID != 0:
		glyph = ui.GlyphFail
	}

	pid, port, uptime, healthText := "-", "-", "-", "-"
	if r.PID != 0 {
		pid = strconv.Itoa(r.PID)
		uptime = ui.Uptime(r.StartedAt, r.StartedAt.Add(r.Uptime))
		healthText = string(r.Health)
	}
	if r.Port != 0 {
		port = strconv.Itoa(r.Port)
	}
	return []string{out.Glyph(glyph), r.Name, branch, changes, sync, r.State, pid, port, uptime, healthText}
}
