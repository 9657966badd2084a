//go:build unix

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/ui"
	"github.com/gurisko/workbench/internal/workbench"
)

var (
	addName  string
	addDesc  string
	addInfra bool
	addPath  string
)

var addCmd = &cobra.Command{
	Use:   "add [git-url]",
	Short: "Clone a repo and add it to workbench.yaml",
	Long: `Clone a git repository into repos/, add it to workbench.yaml and run
discovery on it.

Examples:
  workbench add git@github.com:acme/api.git
  workbench add https://github.com/acme/infra.git --infra --desc "Terraform"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addName, "name", "n", "", "logical repo name (default: derived from the URL)")
	addCmd.Flags().StringVarP(&addDesc, "desc", "d", "", "short description")
	addCmd.Flags().BoolVarP(&addInfra, "infra", "i", false, "infrastructure repo (never started)")
	addCmd.Flags().StringVar(&addPath, "path", "", "clone destination relative to the workbench root")
}

func runAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	var url string
	if len(args) > 0 {
		url = strings.TrimSpace(args[0])
	}
	if url == "" {
		if url, err = askString("Git URL", "", required("git url")); err != nil {
			return err
		}
		if url == "" {
			return fmt.Errorf("a git URL is required")
		}
	}

	name := addName
	if name == "" {
		if name, err = askString("Name", workbench.RepoNameFromURL(url), required("name")); err != nil {
			return err
		}
	}
	if store.Config().Has(name) {
		return fmt.Errorf("%w: %s", workbench.ErrRepoExists, name)
	}
	desc := addDesc
	infra := addInfra
	if !cmd.Flags().Changed("desc") {
		if desc, err = askString("Description", "", nil); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("infra") {
		if infra, err = confirm("Infrastructure only? (reference repo, never started)", false); err != nil {
			return err
		}
	}

	rec := workbench.RepoConfig{
		Name:        name,
		URL:         url,
		Path:        addPath,
		Description: desc,
		Type:        workbench.TypeService,
	}
	if rec.Path == "" {
		rec.Path = workbench.RepoPathFromURL(url)
	}
	if infra {
		rec.Type = workbench.TypeInfrastructure
	}

	dir := rec.Dir(store.Root())
	if _, err := os.Stat(dir); err == nil {
		out.Line(ui.GlyphPending, name, "already cloned at "+rec.Path)
	} else {
		out.Info("Cloning %s...", url)
		if err := gitops.New(proc.NewManager()).Clone(cmd.Context(), url, dir); err != nil {
			out.Line(ui.GlyphFail, name, "clone failed")
			return err
		}
		out.Line(ui.GlyphOK, name, "cloned to "+rec.Path)
	}

	if _, err := store.AddAndSave(rec); err != nil {
		return err
	}
	out.Line(ui.GlyphOK, name, "added to workbench.yaml")

	added, err := store.Config().Repo(name)
	if err != nil {
		return err
	}
	results := discoverAll(cmd.Context(), store, []*workbench.RepoConfig{added})
	if err := results[0].Err; err != nil {
		out.Line(ui.GlyphFail, name, "discovery failed: "+err.Error())
		return fmt.Errorf("discover %s: %w", name, err)
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("save workbench.yaml: %w", err)
	}
	out.Line(ui.GlyphOK, name, describeRepo(added))
	out.Muted("Run 'workbench status' to see all repos.")
	return nil
}
