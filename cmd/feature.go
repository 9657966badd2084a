//go:build unix

package cmd

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/feature"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/ui"
)

var (
	featureRepos  []string
	featureYes    bool
	featureTitle  string
	featureBody   string
	featureDraft  bool
	featureDelete bool
	featureForce  bool
	featureJSON   bool
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Work on one feature branch across repos",
	Long: `Create, inspect, push, open pull requests for and finish a feature
branch (feat/<name>) across the workbench root and every cloned service repo.`,
}

var featureStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Create or switch to feat/<name> in every repo",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeatureStart,
}

var featureStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current feature across repos",
	Args:  cobra.NoArgs,
	RunE:  runFeatureStatus,
}

var featurePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push every repo on the feature branch",
	Args:  cobra.NoArgs,
	RunE:  runFeaturePush,
}

var featurePRCmd = &cobra.Command{
	Use:   "pr",
	Short: "Open cross-linked pull requests with the GitHub CLI",
	Args:  cobra.NoArgs,
	RunE:  runFeaturePR,
}

var featureFinishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Switch repos back to their default branch",
	Args:  cobra.NoArgs,
	RunE:  runFeatureFinish,
}

func init() {
	rootCmd.AddCommand(featureCmd)
	featureCmd.AddCommand(featureStartCmd, featureStatusCmd, featurePushCmd, featurePRCmd, featureFinishCmd)
	featureCmd.PersistentFlags().BoolVar(&featureJSON, "json", false, "output JSON")

	featureStartCmd.Flags().StringSliceVarP(&featureRepos, "repos", "r", nil, "only these repos (comma-separated)")
	featureStartCmd.Flags().BoolVarP(&featureYes, "yes", "y", false, "do not ask about uncommitted changes")

	featurePRCmd.Flags().StringVarP(&featureTitle, "title", "t", "", "pull request title (default: from the feature name)")
	featurePRCmd.Flags().StringVarP(&featureBody, "body", "b", "", "pull request body")
	featurePRCmd.Flags().BoolVarP(&featureDraft, "draft", "d", false, "open draft pull requests")

	featureFinishCmd.Flags().BoolVar(&featureDelete, "delete", false, "delete the local feature branches")
	featureFinishCmd.Flags().BoolVar(&featureForce, "force", false, "delete branches even if not merged")
}

type featureSession struct {
	flow    *feature.Workflow
	targets []feature.Target
}

func openFeature(only []string) (*featureSession, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	targets, err := feature.Targets(store.Root(), store.Config(), only)
	if err != nil {
		return nil, err
	}
	procs := proc.NewManager()
	return &featureSession{
		flow:    feature.New(gitops.New(procs), procs, conf.MaxWorkers),
		targets: targets,
	}, nil
}

// current finds the feature branch in use, asking when several exist.
func (s *featureSession) current() (string, error) {
	candidates := s.flow.Detect(s.targets)
	if len(candidates) == 0 {
		return "", feature.ErrNoFeature
	}
	options := make([]string, 0, len(candidates))
	labels := make(map[string]string, len(candidates))
	for _, c := range candidates {
		options = append(options, c.Branch)
		labels[c.Branch] = fmt.Sprintf("%s (%s)", c.Branch, strings.Join(c.Repos, ", "))
	}
	return choose("Multiple feature branches found. Which feature?", options, labels)
}

func printFeatureResults(results []feature.Result) error {
	summary := batch.Summarize(results, feature.Result.Status)
	if featureJSON {
		if err := out.JSON(results); err != nil {
			return err
		}
		return summary.Err()
	}
	for _, r := range results {
		out.Line(featureGlyph(r), r.Target, featureDetail(r))
	}
	return printSummary(summary.Succeeded, summary.Skipped, summary.Failed, summary.Err())
}

func featureGlyph(r feature.Result) ui.Glyph {
	switch r.Status() {
	case batch.Failed:
		return ui.GlyphFail
	case batch.Skipped:
		return ui.GlyphPending
	}
	if r.Action == feature.ActionExisting {
		return ui.GlyphRunning
	}
	return ui.GlyphOK
}

func featureDetail(r feature.Result) string {
	var parts []string
	switch r.Action {
	case feature.ActionFailed:
		return r.Err.Error()
	case feature.ActionCreated:
		parts = append(parts, r.Branch, "created")
		if r.Base != "" {
			parts[1] = "created (default branch " + r.Base + ")"
		}
	case feature.ActionSwitched:
		parts = append(parts, r.Branch, "switched to existing branch")
	case feature.ActionOnBranch:
		parts = append(parts, r.Branch)
		if r.Ahead > 0 {
			parts = append(parts, plural(r.Ahead, "commit"))
		}
		if r.Modified > 0 {
			parts = append(parts, fmt.Sprintf("%d modified", r.Modified))
		} else {
			parts = append(parts, "clean")
		}
	case feature.ActionOffBranch:
		parts = append(parts, r.Branch, "not on feature branch")
	case feature.ActionPushed:
		parts = append(parts, "pushed "+r.Branch)
	case feature.ActionOpened:
		parts = append(parts, r.URL)
	case feature.ActionExisting:
		parts = append(parts, "already exists: "+r.URL)
	case feature.ActionFinished:
		parts = append(parts, "→ "+r.Base)
	case feature.ActionSkipped:
		parts = append(parts, "skipped")
	}
	if r.Deleted {
		parts = append(parts, "deleted "+r.Branch)
	}
	if r.Note != "" {
		parts = append(parts, r.Note)
	}
	return strings.Join(parts, " · ")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func runFeatureStart(cmd *cobra.Command, args []string) error {
	s, err := openFeature(featureRepos)
	if err != nil {
		return err
	}
	branch := feature.BranchName(args[0])

	if dirty := s.flow.Dirty(s.targets); len(dirty) > 0 && !featureYes {
		out.Warn("uncommitted changes in: %s", strings.Join(dirty, ", "))
		ok, err := confirm("Continue anyway? Changes will come along to the new branch.", true)
		if err != nil {
			return err
		}
		if !ok {
			out.Muted("Aborted.")
			return nil
		}
	}

	out.Title("Creating feature branch " + branch)
	if err := printFeatureResults(s.flow.Start(cmd.Context(), s.targets, branch)); err != nil {
		return err
	}
	out.Info("Feature ready. Start building!")
	return nil
}

func runFeatureStatus(cmd *cobra.Command, args []string) error {
	s, err := openFeature(nil)
	if err != nil {
		return err
	}
	branch, err := s.current()
	if err != nil {
		return err
	}
	out.Title("Feature: " + branch)
	return printFeatureResults(s.flow.Status(cmd.Context(), s.targets, branch))
}

func runFeaturePush(cmd *cobra.Command, args []string) error {
	s, err := openFeature(nil)
	if err != nil {
		return err
	}
	branch, err := s.current()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	out.Title("Pushing repos on " + branch)
	return printFeatureResults(s.flow.Push(ctx, s.targets, branch))
}

func runFeaturePR(cmd *cobra.Command, args []string) error {
	if _, err := exec.LookPath("gh"); err != nil {
		return fmt.Errorf("the GitHub CLI (gh) is required: https://cli.github.com (%w)", err)
	}
	s, err := openFeature(nil)
	if err != nil {
		return err
	}
	branch, err := s.current()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	out.Title("Opening pull requests for " + branch)
	return printFeatureResults(s.flow.PR(ctx, s.targets, branch, feature.PROptions{
		Title: featureTitle,
		Body:  featureBody,
		Draft: featureDraft,
	}))
}

func runFeatureFinish(cmd *cobra.Command, args []string) error {
	s, err := openFeature(nil)
	if err != nil {
		return err
	}
	branch, err := s.current()
	if err != nil {
		return err
	}
	del := featureDelete
	if !cmd.Flags().Changed("delete") {
		if del, err = confirm("Delete local "+branch+" branches?", false); err != nil {
			return err
		}
	}
	out.Title("Finishing " + branch)
	if err := printFeatureResults(s.flow.Finish(cmd.Context(), s.targets, branch, feature.FinishOptions{Delete: del, Force: featureForce})); err != nil {
		return err
	}
	out.Info("Feature finished.")
	return nil
}
