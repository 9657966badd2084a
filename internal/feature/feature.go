//go:build unix

// Package feature drives one feature branch across the workbench root and
// every cloned service repo.
package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/gitops"
	"github.com/gurisko/workbench/internal/logging"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/workbench"
)

// Prefix marks feature branches.
const Prefix = "feat/"

// RootName labels the workbench directory itself in results.
const RootName = "workbench"

var (
	ErrNoFeature   = errors.New("no feature branch detected")
	ErrNoRepos     = errors.New("no cloned service repos")
	ErrUnknownRepo = errors.New("unknown repo")
)

// Git is the subset of gitops.Client the feature workflow uses.
type Git interface {
	Status(dir string) (*gitops.Status, error)
	CurrentBranch(dir string) (string, error)
	DefaultBranch(dir string) (string, error)
	BranchExists(dir, name string) (bool, error)
	Checkout(dir, branch string, create bool) error
	CommitsAhead(dir, base, branch string) (int, error)
	DeleteBranch(dir, name, base string, force bool) error
	Push(ctx context.Context, dir, branch string, setUpstream bool) error
	RemoteBranchExists(ctx context.Context, dir, branch string) (bool, error)
}

// BranchName turns a feature name into its branch, e.g. "login" -> "feat/login".
func BranchName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, Prefix) {
		return name
	}
	return Prefix + name
}

// Label strips the branch prefix.
func Label(branch string) string { return strings.TrimPrefix(branch, Prefix) }

// Title builds a default pull request title, e.g. "feat/new-health-goal" -> "New Health Goal".
func Title(branch string) string {
	words := strings.FieldsFunc(Label(branch), func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Target is one working copy the workflow touches.
type Target struct {
	Name string
	Dir  string
}

// Targets returns the workbench root (when it is a git repo) followed by
// the cloned service repos in configuration order. only restricts the
// repos; unknown names are an error.
func Targets(root string, cfg *workbench.Config, only []string) ([]Target, error) {
	available := make(map[string]Target)
	var order []string
	for _, r := range cfg.ServiceRepos() {
		dir := r.Dir(root)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		available[r.Name] = Target{Name: r.Name, Dir: dir}
		order = append(order, r.Name)
	}

	var repos []Target
	if len(only) > 0 {
		var missing []string
		want := make(map[string]bool, len(only))
		for _, n := range only {
			n = strings.TrimSpace(n)
			if _, ok := available[n]; !ok {
				missing = append(missing, n)
			}
			want[n] = true
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownRepo, strings.Join(missing, ", "), strings.Join(order, ", "))
		}
		for _, n := range order {
			if want[n] {
				repos = append(repos, available[n])
			}
		}
	} else {
		for _, n := range order {
			repos = append(repos, available[n])
		}
	}
	if len(repos) == 0 {
		return nil, ErrNoRepos
	}

	var out []Target
	if gitops.IsRepo(root) {
		out = append(out, Target{Name: RootName, Dir: root})
	}
	return append(out, repos...), nil
}

// Candidate is one feature branch and the targets currently on it.
type Candidate struct {
	Branch string
	Repos  []string
}

// Action is what happened to one target.
type Action string

const (
	ActionCreated   Action = "created"
	ActionSwitched  Action = "switched"
	ActionOnBranch  Action = "on-branch"
	ActionOffBranch Action = "off-branch"
	ActionPushed    Action = "pushed"
	ActionOpened    Action = "opened"
	ActionExisting  Action = "existing"
	ActionFinished  Action = "finished"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// Result reports one target.
type Result struct {
	Target   string `json:"target"`
	Action   Action `json:"action"`
	Branch   string `json:"branch,omitempty"`
	Base     string `json:"base,omitempty"`
	Ahead    int    `json:"ahead,omitempty"`
	Modified int    `json:"modified,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	URL      string `json:"url,omitempty"`
	Note     string `json:"note,omitempty"`
	Err      error  `json:"-"`
}

// Status classifies a result for batch summaries.
func (r Result) Status() batch.Status {
	switch r.Action {
	case ActionFailed:
		return batch.Failed
	case ActionSkipped, ActionOffBranch:
		return batch.Skipped
	default:
		return batch.Succeeded
	}
}

// Workflow runs feature operations with bounded concurrency.
type Workflow struct {
	git     Git
	procs   proc.Manager
	workers int
	log     *slog.Logger
}

// New returns a Workflow. procs runs the gh CLI for pull requests.
func New(git Git, procs proc.Manager, workers int) *Workflow {
	if procs == nil {
		procs = proc.NewManager()
	}
	return &Workflow{git: git, procs: procs, workers: workers, log: logging.New("feature")}
}

// Detect lists feature branches currently checked out, most widely used
// first. Ties break by branch name.
func (w *Workflow) Detect(targets []Target) []Candidate {
	byBranch := make(map[string][]string)
	for _, t := range targets {
		branch, err := w.git.CurrentBranch(t.Dir)
		if err != nil || !strings.HasPrefix(branch, Prefix) {
			continue
		}
		byBranch[branch] = append(byBranch[branch], t.Name)
	}
	out := make([]Candidate, 0, len(byBranch))
	for b, repos := range byBranch {
		out = append(out, Candidate{Branch: b, Repos: repos})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Repos) != len(out[j].Repos) {
			return len(out[i].Repos) > len(out[j].Repos)
		}
		return out[i].Branch < out[j].Branch
	})
	return out
}

// Dirty names the targets with uncommitted changes.
func (w *Workflow) Dirty(targets []Target) []string {
	var out []string
	for _, t := range targets {
		if st, err := w.git.Status(t.Dir); err == nil && st.Dirty {
			out = append(out, t.Name)
		}
	}
	return out
}

func (w *Workflow) each(ctx context.Context, targets []Target, fn func(ctx context.Context, t Target) Result) []Result {
	return batch.Run(ctx, w.workers, targets, fn)
}

func failed(t Target, branch string, err error) Result {
	return Result{Target: t.Name, Action: ActionFailed, Branch: branch, Err: err}
}

// Start puts every target on branch, creating it from the current HEAD
// where it does not exist yet.
func (w *Workflow) Start(ctx context.Context, targets []Target, branch string) []Result {
	return w.each(ctx, targets, func(_ context.Context, t Target) Result {
		base, _ := w.git.DefaultBranch(t.Dir)
		exists, err := w.git.BranchExists(t.Dir, branch)
		if err != nil {
			return failed(t, branch, err)
		}
		if err := w.git.Checkout(t.Dir, branch, !exists); err != nil {
			return failed(t, branch, err)
		}
		action := ActionCreated
		if exists {
			action = ActionSwitched
		}
		w.log.Info("feature branch ready", "target", t.Name, "branch", branch, "action", action)
		return Result{Target: t.Name, Action: action, Branch: branch, Base: base}
	})
}

// Status reports, per target, whether it is on branch and how far ahead
// of its default branch it is.
func (w *Workflow) Status(ctx context.Context, targets []Target, branch string) []Result {
	return w.each(ctx, targets, func(_ context.Context, t Target) Result {
		st, err := w.git.Status(t.Dir)
		if err != nil {
			return failed(t, branch, err)
		}
		if st.Branch != branch {
			return Result{Target: t.Name, Action: ActionOffBranch, Branch: st.Branch}
		}
		base, err := w.git.DefaultBranch(t.Dir)
		if err != nil {
			return failed(t, branch, err)
		}
		res := Result{Target: t.Name, Action: ActionOnBranch, Branch: branch, Base: base, Modified: st.Modified + st.Untracked}
		if ahead, err := w.git.CommitsAhead(t.Dir, base, branch); err == nil {
			res.Ahead = ahead
		} else {
			res.Note = err.Error()
		}
		return res
	})
}

// Push pushes branch with upstream tracking from every target on it that
// has commits ahead of its base or already exists on the remote.
func (w *Workflow) Push(ctx context.Context, targets []Target, branch string) []Result {
	return w.each(ctx, targets, func(ctx context.Context, t Target) Result {
		current, err := w.git.CurrentBranch(t.Dir)
		if err != nil {
			return failed(t, branch, err)
		}
		if current != branch {
			return Result{Target: t.Name, Action: ActionSkipped, Branch: current, Note: "not on feature branch"}
		}
		base, _ := w.git.DefaultBranch(t.Dir)
		ahead, err := w.git.CommitsAhead(t.Dir, base, branch)
		if err != nil {
			return failed(t, branch, err)
		}
		if ahead == 0 {
			remote, err := w.git.RemoteBranchExists(ctx, t.Dir, branch)
			if err != nil {
				return failed(t, branch, err)
			}
			if !remote {
				return Result{Target: t.Name, Action: ActionSkipped, Branch: branch, Note: "no commits ahead of " + base}
			}
		}
		if err := w.git.Push(ctx, t.Dir, branch, true); err != nil {
			return failed(t, branch, err)
		}
		return Result{Target: t.Name, Action: ActionPushed, Branch: branch, Base: base, Ahead: ahead}
	})
}

// PROptions configures pull request creation.
type PROptions struct {
	Title string
	Body  string
	Draft bool
}

// PR opens a pull request with gh for every pushed target on branch and,
// when more than one exists, cross-links them in each description.
func (w *Workflow) PR(ctx context.Context, targets []Target, branch string, opts PROptions) []Result {
	if opts.Title == "" {
		opts.Title = Title(branch)
	}
	if opts.Body == "" {
		opts.Body = fmt.Sprintf("Part of cross-repo feature: **%s**", branch)
	}

	results := w.each(ctx, targets, func(ctx context.Context, t Target) Result {
		current, err := w.git.CurrentBranch(t.Dir)
		if err != nil {
			return failed(t, branch, err)
		}
		if current != branch {
			return Result{Target: t.Name, Action: ActionSkipped, Branch: current, Note: "not on feature branch"}
		}
		remote, err := w.git.RemoteBranchExists(ctx, t.Dir, branch)
		if err != nil {
			return failed(t, branch, err)
		}
		if !remote {
			return Result{Target: t.Name, Action: ActionSkipped, Branch: branch, Note: "not pushed to remote"}
		}
		args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body}
		if opts.Draft {
			args = append(args, "--draft")
		}
		out, err := w.procs.Run(ctx, t.Dir, "gh", args...)
		if err == nil {
			return Result{Target: t.Name, Action: ActionOpened, Branch: branch, URL: lastLine(out)}
		}
		var ce *proc.CommandError
		if errors.As(err, &ce) && strings.Contains(ce.Stderr, "already exists") {
			res := Result{Target: t.Name, Action: ActionExisting, Branch: branch}
			if view, verr := w.procs.Run(ctx, t.Dir, "gh", "pr", "view", "--json", "url", "-q", ".url"); verr == nil {
				res.URL = lastLine(view)
			}
			return res
		}
		return failed(t, branch, err)
	})

	var linked []int
	for i, r := range results {
		if r.URL != "" {
			linked = append(linked, i)
		}
	}
	if len(linked) < 2 {
		return results
	}
	dirs := make(map[string]string, len(targets))
	for _, t := range targets {
		dirs[t.Name] = t.Dir
	}
	for _, i := range linked {
		var siblings []string
		for _, j := range linked {
			if j != i {
				siblings = append(siblings, fmt.Sprintf("- **%s**: %s", results[j].Target, results[j].URL))
			}
		}
		body := opts.Body + "\n\n### Related PRs\n\n" + strings.Join(siblings, "\n")
		if _, err := w.procs.Run(ctx, dirs[results[i].Target], "gh", "pr", "edit", results[i].URL, "--body", body); err != nil {
			w.log.Warn("failed to cross-link pull request", "target", results[i].Target, "error", err)
			results[i].Note = "cross-links not added"
		}
	}
	return results
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// FinishOptions configures Finish.
type FinishOptions struct {
	// Delete removes the local feature branch after switching away.
	Delete bool
	// Force deletes even when the branch has commits missing from its base.
	Force bool
}

// Finish switches every target on branch back to its default branch.
func (w *Workflow) Finish(ctx context.Context, targets []Target, branch string, opts FinishOptions) []Result {
	return w.each(ctx, targets, func(_ context.Context, t Target) Result {
		current, err := w.git.CurrentBranch(t.Dir)
		if err != nil {
			return failed(t, branch, err)
		}
		base, err := w.git.DefaultBranch(t.Dir)
		if err != nil {
			return failed(t, branch, err)
		}
		res := Result{Target: t.Name, Action: ActionFinished, Branch: branch, Base: base}
		if current != branch {
			res = Result{Target: t.Name, Action: ActionSkipped, Branch: current, Note: "already on " + current}
		} else if err := w.git.Checkout(t.Dir, base, false); err != nil {
			return failed(t, branch, err)
		}
		if !opts.Delete {
			return res
		}
		exists, err := w.git.BranchExists(t.Dir, branch)
		if err != nil || !exists {
			return res
		}
		if err := w.git.DeleteBranch(t.Dir, branch, base, opts.Force); err != nil {
			res.Note = err.Error()
			if res.Action == ActionFinished && errors.Is(err, gitops.ErrNotMerged) {
				res.Note += " (use --force)"
			}
			return res
		}
		res.Deleted = true
		return res
	})
}

var _ Git = (*gitops.Client)(nil)
