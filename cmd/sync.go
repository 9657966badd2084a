//go:build unix

package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/ui"
	"github.com/gurisko/workbench/internal/workbench"
)

var syncCmd = &cobra.Command{
	Use:   "sync [repo...]",
	Short: "Pull the latest changes for every cloned repo",
	Long: `Run git pull in every cloned repo in parallel. Merge conflicts and
branches without an upstream are reported separately from other failures.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

type syncResult struct {
	repo    string
	skipped string
	pull    *gitops.PullResult
	err     error
}

func (r syncResult) status() batch.Status {
	switch {
	case r.err != nil && !errors.Is(r.err, gitops.ErrNoUpstream):
		return batch.Failed
	case r.skipped != "", r.err != nil:
		return batch.Skipped
	default:
		return batch.Succeeded
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	repos, err := selectRepos(store.Config(), args)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		out.Info("No repos defined in workbench.yaml.")
		return nil
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	git := gitops.New(proc.NewManager())
	root := store.Root()
	started := time.Now()
	out.Title("Pulling latest for all repos")
	results := batch.Run(ctx, conf.MaxWorkers, repos, func(ctx context.Context, r *workbench.RepoConfig) syncResult {
		dir := r.Dir(root)
		if _, err := os.Stat(dir); err != nil {
			return syncResult{repo: r.Name, skipped: "not cloned"}
		}
		res, err := git.Pull(ctx, dir)
		return syncResult{repo: r.Name, pull: res, err: err}
	})

	for i, r := range results {
		switch {
		case r.skipped != "":
			out.Line(ui.GlyphPending, r.repo, r.skipped)
		case errors.Is(r.err, gitops.ErrConflict):
			out.Line(ui.GlyphFail, r.repo, "merge conflict: resolve in "+repos[i].RelPath()+" and commit")
		case errors.Is(r.err, gitops.ErrNoUpstream):
			out.Line(ui.GlyphPending, r.repo, "no upstream tracking branch")
		case errors.Is(r.err, gitops.ErrDetachedHead):
			out.Line(ui.GlyphPending, r.repo, "detached HEAD, not pulled")
		case r.err != nil:
			out.Line(ui.GlyphFail, r.repo, r.err.Error())
		case r.pull.UpToDate:
			out.Line(ui.GlyphOK, r.repo, "already up to date")
		default:
			out.Line(ui.GlyphOK, r.repo, "updated")
		}
	}
	summary := batch.Summarize(results, syncResult.status)
	out.Muted("done in %s", time.Since(started).Round(100*time.Millisecond))
	return printSummary(summary.Succeeded, summary.Skipped, summary.Failed, summary.Err())
}
