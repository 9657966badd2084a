//go:build unix

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/discovery"
	"github.com/gurisko/workbench/internal/ui"
	"github.com/gurisko/workbench/internal/workbench"
)

var (
	discoverDryRun bool
	discoverJSON   bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover [repo]",
	Short: "Detect how to run each repo and fill in workbench.yaml",
	Long: `Inspect each cloned repo and fill in language, framework, start command,
port, health check, install command, dependencies and env file.

Fields already set in workbench.yaml are never overwritten.

Examples:
  workbench discover              # Discover every repo and save
  workbench discover api          # Discover one repo
  workbench discover --dry-run -v # Show what would change and why`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().BoolVarP(&discoverDryRun, "dry-run", "n", false, "show results without writing")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "output JSON")
}

// discovered is the per-repo result of a discovery pass.
type discovered struct {
	Repo    string               `json:"repo"`
	Filled  []discovery.Field    `json:"filled"`
	Config  workbench.RepoConfig `json:"config"`
	Reasons []string             `json:"reasons,omitempty"`
	Note    string               `json:"note,omitempty"`
	Err     error                `json:"-"`
	Error   string               `json:"error,omitempty"`

	res *discovery.Result
}

func (d discovered) status() batch.Status {
	switch {
	case d.Err != nil:
		return batch.Failed
	case d.Note != "", len(d.Filled) == 0:
		return batch.Skipped
	default:
		return batch.Succeeded
	}
}

// discoverAll runs discovery on repos concurrently and merges the results
// into the store's configuration in place. The caller decides whether to save.
func discoverAll(ctx context.Context, store *workbench.Store, repos []*workbench.RepoConfig) []discovered {
	root := store.Root()
	results := batch.Run(ctx, conf.MaxWorkers, repos, func(_ context.Context, r *workbench.RepoConfig) discovered {
		d := discovered{Repo: r.Name}
		if _, err := os.Stat(r.Dir(root)); errors.Is(err, os.ErrNotExist) {
			d.Note = "not cloned"
			return d
		}
		res, err := discovery.Discover(r.Dir(root), *r)
		if err != nil {
			d.Err = err
			d.Error = err.Error()
			return d
		}
		for _, reason := range res.Reasons {
			d.Reasons = append(d.Reasons, reason.String())
		}
		d.res = res
		return d
	})

	// Apply serially so the shared config is never written concurrently.
	for i := range results {
		d := &results[i]
		if d.res != nil {
			d.Filled = d.res.Apply(repos[i])
		}
		d.Config = *repos[i]
	}
	return results
}

func runDiscover(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	repos, err := selectRepos(store.Config(), args)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		out.Info("No repos defined in workbench.yaml. Run 'workbench add <git-url>' first.")
		return nil
	}

	results := discoverAll(cmd.Context(), store, repos)
	summary := batch.Summarize(results, discovered.status)

	if !discoverDryRun && summary.Succeeded > 0 {
		if err := store.Save(); err != nil {
			return fmt.Errorf("save workbench.yaml: %w", err)
		}
	}

	if discoverJSON {
		if err := out.JSON(results); err != nil {
			return err
		}
		return summary.Err()
	}

	printDiscovered(results)
	switch {
	case discoverDryRun:
		out.Muted("Dry run: no changes written")
	case summary.Succeeded > 0:
		out.Info("Updated %s", store.Path())
	}
	return printSummary(summary.Succeeded, summary.Skipped, summary.Failed, summary.Err())
}

func printDiscovered(results []discovered) {
	for _, d := range results {
		switch {
		case d.Note != "":
			out.Line(ui.GlyphPending, d.Repo, d.Note)
		case d.Err != nil:
			out.Line(ui.GlyphFail, d.Repo, d.Err.Error())
		default:
			detail := describeRepo(&d.Config)
			if len(d.Filled) == 0 {
				detail += " (nothing new)"
			}
			out.Line(ui.GlyphOK, d.Repo, detail)
		}
		if flagVerbose {
			for _, r := range d.Reasons {
				out.Muted("    %s", r)
			}
		}
	}
}

// describeRepo renders "language · framework · port N".
func describeRepo(r *workbench.RepoConfig) string {
	var parts []string
	if r.Language != "" {
		parts = append(parts, r.Language)
	}
	if r.Framework != "" {
		parts = append(parts, r.Framework)
	}
	if r.Port != 0 {
		parts = append(parts, "port "+strconv.Itoa(r.Port))
	}
	if r.IsInfrastructure() {
		parts = append(parts, "infrastructure")
	}
	if len(parts) == 0 {
		return "no stack detected"
	}
	return strings.Join(parts, " · ")
}
