//go:build unix

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/scaffold"
	"github.com/gurisko/workbench/internal/ui"
	"github.com/gurisko/workbench/internal/workbench"
)

var initName string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a workbench, or clone and prepare the repos of an existing one",
	Long: `Without a workbench.yaml in this directory or any parent, scaffold a new
workbench here (workbench.yaml, .gitignore, docs/ and repos/).

With one, clone every repo that is not present yet, install dependencies
and run discovery.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initName, "name", "", "project name for a new workbench (default: directory name)")
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if errors.Is(err, paths.ErrNoWorkbench) {
		return scaffoldNew()
	}
	if err != nil {
		return err
	}
	return initExisting(cmd.Context(), root)
}

func scaffoldNew() error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	out.Info("No workbench.yaml found. Creating a new workbench...")

	name := initName
	if name == "" {
		name, err = askString("Project name", filepath.Base(wd), required("project name"))
		if err != nil {
			return err
		}
	}
	created, err := scaffold.Create(wd, name)
	if err != nil {
		return err
	}
	for _, f := range created {
		out.Line(ui.GlyphOK, f, "")
	}
	out.Info("")
	out.Title("Next steps:")
	out.Info("  1. Add repos:      workbench add <git-url>")
	out.Info("  2. Clone them:     workbench init")
	out.Info("  3. Start services: workbench up")
	return nil
}

type cloneResult struct {
	repo   string
	action string // cloned, present, no-url
	err    error
}

func (c cloneResult) status() batch.Status {
	switch {
	case c.err != nil:
		return batch.Failed
	case c.action == "cloned":
		return batch.Succeeded
	default:
		return batch.Skipped
	}
}

func initExisting(ctx context.Context, root string) error {
	store, err := workbench.Open(root)
	if err != nil {
		return err
	}
	cfg := store.Config()
	if cfg.Len() == 0 {
		out.Info("No repos defined in workbench.yaml. Run 'workbench add <git-url>' to add one.")
		return nil
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	procs := proc.NewManager()
	git := gitops.New(procs)

	out.Title("Cloning repositories")
	started := time.Now()
	clones := batch.Run(ctx, conf.MaxWorkers, cfg.Repos(), func(ctx context.Context, r *workbench.RepoConfig) cloneResult {
		return cloneRepo(ctx, git, root, r)
	})
	for _, c := range clones {
		switch {
		case c.err != nil:
			out.Line(ui.GlyphFail, c.repo, c.err.Error())
		case c.action == "no-url":
			out.Line(ui.GlyphPending, c.repo, "no url configured, skipped")
		case c.action == "present":
			out.Line(ui.GlyphOK, c.repo, "already cloned")
		default:
			out.Line(ui.GlyphOK, c.repo, "cloned")
		}
	}
	cloneSummary := batch.Summarize(clones, cloneResult.status)
	out.Muted("%d cloned, %d already present in %s", cloneSummary.Succeeded, cloneSummary.Skipped, time.Since(started).Round(100*time.Millisecond))

	out.Info("")
	out.Title("Running discovery")
	results := discoverAll(ctx, store, cfg.Repos())
	printDiscovered(results)
	if err := store.Save(); err != nil {
		return fmt.Errorf("save workbench.yaml: %w", err)
	}

	out.Info("")
	out.Title("Installing dependencies")
	installs := batch.Run(ctx, conf.MaxWorkers, cfg.Repos(), func(ctx context.Context, r *workbench.RepoConfig) error {
		return install(ctx, procs, root, r)
	})
	for i, r := range cfg.Repos() {
		switch {
		case errors.Is(installs[i], errNothingToInstall):
			out.Line(ui.GlyphPending, r.Name, "no install command")
		case installs[i] != nil:
			out.Line(ui.GlyphFail, r.Name, installs[i].Error())
		default:
			out.Line(ui.GlyphOK, r.Name, r.InstallCommand)
		}
	}

	if failed := countFailed(clones, results, installs); failed > 0 {
		return fmt.Errorf("%w: %d repo(s) could not be prepared", batch.ErrBatchFailed, failed)
	}
	out.Info("")
	out.Info("All systems ready. Run 'workbench up' to start.")
	return nil
}

func cloneRepo(ctx context.Context, git *gitops.Client, root string, r *workbench.RepoConfig) cloneResult {
	dir := r.Dir(root)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return cloneResult{repo: r.Name, action: "present"}
	}
	if r.URL == "" {
		return cloneResult{repo: r.Name, action: "no-url"}
	}
	if err := git.Clone(ctx, r.URL, dir); err != nil {
		return cloneResult{repo: r.Name, err: err}
	}
	return cloneResult{repo: r.Name, action: "cloned"}
}

// countFailed counts repos that failed at any preparation step. The slices
// are index-aligned with the configured repos.
func countFailed(clones []cloneResult, results []discovered, installs []error) int {
	n := 0
	for i := range clones {
		installErr := installs[i] != nil && !errors.Is(installs[i], errNothingToInstall)
		if clones[i].err != nil || results[i].Err != nil || installErr {
			n++
		}
	}
	return n
}

var errNothingToInstall = errors.New("nothing to install")

func install(ctx context.Context, procs proc.Manager, root string, r *workbench.RepoConfig) error {
	if r.InstallCommand == "" {
		return errNothingToInstall
	}
	dir := r.Dir(root)
	if _, err := os.Stat(dir); err != nil {
		return errNothingToInstall
	}
	if _, err := procs.Run(ctx, dir, "sh", "-c", r.InstallCommand); err != nil {
		return fmt.Errorf("%s: %w", r.InstallCommand, err)
	}
	return nil
}
