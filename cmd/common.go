//go:build unix

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gurisko/workbench/internal/journal"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/supervisor"
	"github.com/gurisko/workbench/internal/workbench"
)

// findRoot locates the workbench enclosing the current directory.
func findRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return paths.FindRoot(wd)
}

// openStore loads workbench.yaml for the enclosing workbench.
func openStore() (*workbench.Store, error) {
	root, err := findRoot()
	if err != nil {
		return nil, err
	}
	return workbench.Open(root)
}

// selectRepos resolves names against cfg; no names means every repo.
func selectRepos(cfg *workbench.Config, names []string) ([]*workbench.RepoConfig, error) {
	if len(names) == 0 {
		return cfg.Repos(), nil
	}
	out := make([]*workbench.RepoConfig, 0, len(names))
	for _, n := range names {
		r, err := cfg.Repo(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// openSupervisor wires the supervisor to the journal and resolved settings.
// The returned close func releases the journal.
func openSupervisor(root string, cfg *workbench.Config) (*supervisor.Supervisor, func(), error) {
	j, err := journal.Open(paths.JournalPath(root))
	if err != nil {
		return nil, nil, err
	}
	sup, err := supervisor.New(root, supervisor.Options{
		GracePeriod: conf.GracePeriod,
		StopTimeout: conf.StopTimeout,
		MaxWorkers:  conf.MaxWorkers,
		SharedEnv:   cfg.Environment.SharedEnv,
		Journal:     j,
	})
	if err != nil {
		_ = j.Close()
		return nil, nil, err
	}
	return sup, func() { _ = j.Close() }, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// printSummary prints batch counts and returns the batch error, if any.
func printSummary(succeeded, skipped, failed int, err error) error {
	out.Summary(succeeded, skipped, failed)
	return err
}
