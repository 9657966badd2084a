//go:build unix

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/ui"
	"github.com/gurisko/workbench/internal/workbench"
)

var pushAll bool

var pushCmd = &cobra.Command{
	Use:   "push [repo]",
	Short: "Push repos that have commits ahead of their upstream",
	Long: `Push one repo, or list the repos with unpushed commits and push the
chosen ones.

Examples:
  workbench push api     # Push one repo (sets upstream if missing)
  workbench push --all   # Push every repo ahead of its upstream`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().BoolVarP(&pushAll, "all", "a", false, "push every repo with commits ahead")
}

type pushTarget struct {
	repo   *workbench.RepoConfig
	status *gitops.Status
}

func runPush(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	cfg := store.Config()
	root := store.Root()
	git := gitops.New(proc.NewManager())

	if len(args) == 1 {
		r, err := cfg.Repo(args[0])
		if err != nil {
			return err
		}
		st, err := git.Status(r.Dir(root))
		if err != nil {
			return err
		}
		if st.Detached {
			return fmt.Errorf("%s: %w", r.Name, gitops.ErrDetachedHead)
		}
		if st.Dirty {
			out.Warn("%s has uncommitted changes, pushing committed work only", r.Name)
		}
		if err := git.Push(cmd.Context(), r.Dir(root), st.Branch, !st.HasUpstream); err != nil {
			out.Line(ui.GlyphFail, r.Name, "push failed")
			return err
		}
		out.Line(ui.GlyphOK, r.Name, "pushed "+st.Branch)
		return nil
	}

	var pushable []pushTarget
	for _, r := range cfg.Repos() {
		dir := r.Dir(root)
		if _, err := os.Stat(dir); err != nil {
			out.Line(ui.GlyphPending, r.Name, "not cloned")
			continue
		}
		st, err := git.Status(dir)
		if err != nil {
			out.Line(ui.GlyphFail, r.Name, err.Error())
			continue
		}
		switch {
		case st.Dirty:
			out.Line(ui.GlyphRunning, r.Name, fmt.Sprintf("%s · %d uncommitted", st.Branch, st.Modified+st.Untracked))
		case st.HasUpstream && st.Ahead > 0:
			out.Line(ui.GlyphOK, r.Name, fmt.Sprintf("%s · ↑%d ahead", st.Branch, st.Ahead))
		default:
			out.Line(ui.GlyphOK, r.Name, st.Branch+" · up to date")
		}
		if st.HasUpstream && st.Ahead > 0 {
			pushable = append(pushable, pushTarget{repo: r, status: st})
		}
	}
	if len(pushable) == 0 {
		out.Muted("Nothing to push.")
		return nil
	}

	targets := pushable
	if !pushAll {
		options := []string{"all"}
		for _, p := range pushable {
			options = append(options, p.repo.Name)
		}
		options = append(options, "none")
		if !interactive() {
			out.Info("Use --all or 'workbench push <repo>' to push.")
			return nil
		}
		choice, err := choose("Push which repo?", options, nil)
		if err != nil {
			return err
		}
		switch choice {
		case "none":
			out.Muted("Aborted.")
			return nil
		case "all":
		default:
			targets = nil
			for _, p := range pushable {
				if p.repo.Name == choice {
					targets = append(targets, p)
				}
			}
		}
	}

	results := batch.Run(cmd.Context(), conf.MaxWorkers, targets, func(ctx context.Context, p pushTarget) error {
		return git.Push(ctx, p.repo.Dir(root), p.status.Branch, false)
	})
	var summary batch.Summary
	for i, err := range results {
		if err != nil {
			summary.Add(batch.Failed)
			out.Line(ui.GlyphFail, targets[i].repo.Name, err.Error())
			continue
		}
		summary.Add(batch.Succeeded)
		out.Line(ui.GlyphOK, targets[i].repo.Name, "pushed")
	}
	return printSummary(summary.Succeeded, summary.Skipped, summary.Failed, summary.Err())
}
