//go:build unix

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/supervisor"
	"github.com/gurisko/workbench/internal/ui"
)

var downCmd = &cobra.Command{
	Use:   "down [service...]",
	Short: "Stop running services",
	Long: `Stop every running service (or only the named ones). Each process group
gets SIGTERM, then SIGKILL if it has not exited within the stop timeout.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	cfg := store.Config()
	for _, name := range args {
		if _, err := cfg.Repo(name); err != nil {
			return err
		}
	}

	sup, closeJournal, err := openSupervisor(store.Root(), cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	names := args
	if len(names) == 0 {
		records, err := sup.Records(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range records {
			names = append(names, r.Repo)
		}
	}
	if len(names) == 0 {
		out.Info("Nothing is running.")
		return nil
	}

	report := sup.StopAll(cmd.Context(), names)
	printStopReport(report)
	return printSummary(report.Summary.Succeeded, report.Summary.Skipped, report.Summary.Failed, report.Err())
}

func printStopReport(report supervisor.Report) {
	for _, o := range report.Outcomes {
		switch {
		case o.Err != nil:
			out.Line(ui.GlyphFail, o.Repo, o.Err.Error())
		case o.Action == supervisor.ActionNotRunning:
			out.Line(ui.GlyphPending, o.Repo, "not running")
		case o.Killed:
			out.Line(ui.GlyphOK, o.Repo, "killed after stop timeout")
		default:
			out.Line(ui.GlyphOK, o.Repo, "stopped")
		}
	}
}
