//go:build unix

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/logtail"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/ui"
)

var (
	logsFollow bool
	logsLines  int
)

var logsCmd = &cobra.Command{
	Use:   "logs <service...>",
	Short: "Print or follow service output",
	Long: `Print the last lines of a service's log under .workbench/logs and
optionally keep following it.

Examples:
  workbench logs api           # Last 50 lines
  workbench logs api -n 200    # Last 200 lines
  workbench logs api web -f    # Follow both, prefixed by name`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	root := store.Root()

	sources := make([]logtail.Source, 0, len(args))
	for _, name := range args {
		if _, err := store.Config().Repo(name); err != nil {
			return err
		}
		sources = append(sources, logtail.Source{Name: name, Path: paths.LogPath(root, name)})
	}

	single := len(sources) == 1
	px := out.NewPrefixer(args)
	emit := func(name, line string) {
		if single {
			fmt.Fprintln(out.Out(), line)
			return
		}
		px.Print(name, line)
	}

	for _, src := range sources {
		lines, err := logtail.Tail(src.Path, logsLines)
		if errors.Is(err, os.ErrNotExist) {
			if !logsFollow {
				out.Line(ui.GlyphPending, src.Name, "no logs yet (has it been started?)")
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src.Path, err)
		}
		for _, l := range lines {
			emit(src.Name, l)
		}
	}

	if !logsFollow {
		return nil
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return logtail.Follow(ctx, sources, emit)
}
