//go:build unix

package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/journal"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/ui"
)

var (
	historyLimit int
	historyRun   string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [service]",
	Short: "Show recent service lifecycle events",
	Long: `Show starts, crashes, health changes and stops recorded in the
workbench journal (.workbench/journal.db), oldest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "number of events to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "only events of this run id")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	q := journal.Query{RunID: historyRun, Limit: historyLimit}
	if len(args) == 1 {
		if _, err := store.Config().Repo(args[0]); err != nil {
			return err
		}
		q.Repo = args[0]
	}

	j, err := journal.Open(paths.JournalPath(store.Root()))
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.List(cmd.Context(), q)
	if err != nil {
		return err
	}
	if historyJSON {
		return out.JSON(events)
	}
	if len(events) == 0 {
		out.Info("No events recorded yet.")
		return nil
	}

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		pid, code := "-", "-"
		if e.PID != 0 {
			pid = strconv.Itoa(e.PID)
		}
		if e.ExitCode != nil {
			code = strconv.Itoa(*e.ExitCode)
		}
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		rows = append(rows, []string{e.At.Local().Format("2006-01-02 15:04:05"), ui.Ago(e.At), e.Repo, string(e.Kind), pid, code, ui.Dash(run), ui.Dash(e.Detail)})
	}
	out.Table([]string{"Time", "", "Repo", "Event", "PID", "Exit", "Run", "Detail"}, rows)
	return nil
}
