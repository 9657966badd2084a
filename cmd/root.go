package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/logging"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/settings"
	"github.com/gurisko/workbench/internal/ui"
)

var (
	flagVerbose    bool
	flagQuiet      bool
	flagLogLevel   string
	flagLogFormat  string
	flagMaxWorkers int

	v    = settings.New()
	conf *settings.Settings
	out  = ui.New(os.Stdout, os.Stderr)
)

var rootCmd = &cobra.Command{
	Use:   "workbench",
	Short: "Workbench - run a multi-repo product from one directory",
	Long: `Workbench manages a set of related git repositories from a single
workbench.yaml: it clones them, discovers how to run each one, starts and
stops their dev servers, checks their health and shows their status.`,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output and debug logs")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "only print results and errors")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")
	pf.IntVar(&flagMaxWorkers, "max-workers", 4, "maximum repos processed concurrently")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := settings.BindFlags(v, cmd.Flags(), map[string]string{
		settings.KeyMaxWorkers: "max-workers",
		settings.KeyLogLevel:   "log-level",
		settings.KeyLogFormat:  "log-format",
	}); err != nil {
		return err
	}
	s, err := settings.Load(v, paths.DefaultSettingsDir())
	if err != nil {
		return err
	}
	conf = s

	level := logging.ParseLevel(s.LogLevel)
	if !cmd.Flags().Changed("log-level") {
		switch {
		case flagVerbose:
			level = slog.LevelDebug
		case flagQuiet:
			level = slog.LevelError
		}
	}
	logging.Init(level, s.LogFormat, os.Stderr)
	out.SetQuiet(flagQuiet)

	logging.New("cli").Debug("settings resolved", "file", s.File, "max_workers", s.MaxWorkers, "command", cmd.CommandPath())
	return nil
}

func Execute() error {
	// Silence usage and errors to avoid cluttering output with Cobra defaults
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd.Execute()
}
