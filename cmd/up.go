//go:build unix

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/health"
	"github.com/gurisko/workbench/internal/logging"
	"github.com/gurisko/workbench/internal/logtail"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/supervisor"
	"github.com/gurisko/workbench/internal/ui"
)

var (
	upAttach   bool
	upNoHealth bool
)

var upCmd = &cobra.Command{
	Use:   "up [service...]",
	Short: "Start service repos",
	Long: `Start every service repo (or only the named ones), wait for each to
report healthy and print a summary. Infrastructure repos are skipped.

With --attach, logs of the started services are streamed with a coloured
prefix until Ctrl+C, which stops everything this run started.`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().BoolVarP(&upAttach, "attach", "a", false, "stream logs and stop services on Ctrl+C")
	upCmd.Flags().BoolVar(&upNoHealth, "no-health", false, "do not wait for health checks")
}

type healthVerdict struct {
	result  health.Result
	checked bool
}

func runUp(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	cfg := store.Config()
	repos := cfg.ServiceRepos()
	if len(args) > 0 {
		if repos, err = selectRepos(cfg, args); err != nil {
			return err
		}
	}
	if len(repos) == 0 {
		out.Info("No service repos to start.")
		return nil
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	sup, closeJournal, err := openSupervisor(store.Root(), cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	out.Title("Starting services")
	report := sup.StartAll(ctx, repos)

	verdicts := make([]healthVerdict, len(report.Outcomes))
	if !upNoHealth {
		verdicts = waitHealthy(ctx, sup, report.Outcomes)
	}
	printStartReport(report, verdicts)

	if ctx.Err() != nil {
		out.Info("")
		out.Title("Interrupted, stopping services")
		stopped, err := sup.Abort(ctx)
		printStopReport(stopped)
		return err
	}
	if !upAttach {
		return printSummary(report.Summary.Succeeded, report.Summary.Skipped, report.Summary.Failed, report.Err())
	}
	out.Summary(report.Summary.Succeeded, report.Summary.Skipped, report.Summary.Failed)
	return attach(ctx, sup, report)
}

// waitHealthy polls health endpoints of running services concurrently and
// records each verdict on the process record.
func waitHealthy(ctx context.Context, sup *supervisor.Supervisor, outcomes []supervisor.Outcome) []healthVerdict {
	checker := health.NewChecker(conf.HealthTimeout)
	procs := proc.NewManager()
	return batch.Run(ctx, conf.MaxWorkers, outcomes, func(ctx context.Context, o supervisor.Outcome) healthVerdict {
		if o.Err != nil || o.Record == nil || (o.Action != supervisor.ActionStarted && o.Action != supervisor.ActionAlreadyRunning) {
			return healthVerdict{}
		}
		target := health.TargetFor(o.Record)
		if target.URL() == "" {
			return healthVerdict{result: health.Result{Status: health.StatusUnknown}}
		}
		pid := o.Record.PID
		res := checker.WaitHealthy(ctx, target, health.WaitOptions{
			Timeout: conf.HealthWait,
			Alive:   func() bool { return procs.Alive(pid) },
		})
		if err := sup.MarkHealth(ctx, o.Repo, pid, res.Status == health.StatusHealthy, res.Message); err != nil {
			logging.New("up").Debug("failed to record health", "repo", o.Repo, "error", err)
		}
		return healthVerdict{result: res, checked: true}
	})
}

func printStartReport(report supervisor.Report, verdicts []healthVerdict) {
	for i, o := range report.Outcomes {
		switch {
		case o.Err != nil:
			out.Line(ui.GlyphFail, o.Repo, o.Err.Error())
			explainStartFailure(o)
		case o.Action == supervisor.ActionSkipped:
			out.Line(ui.GlyphPending, o.Repo, "infrastructure, skipped")
		default:
			var parts []string
			if o.Action == supervisor.ActionAlreadyRunning {
				parts = append(parts, "already running")
			}
			parts = append(parts, "pid "+strconv.Itoa(o.Record.PID))
			if o.Record.Port != 0 {
				parts = append(parts, fmt.Sprintf("http://localhost:%d", o.Record.Port))
			}
			glyph := ui.GlyphOK
			if v := verdicts[i]; v.checked {
				parts = append(parts, string(v.result.Status))
				if v.result.Status != health.StatusHealthy {
					glyph = ui.GlyphRunning
					if v.result.Message != "" {
						parts = append(parts, v.result.Message)
					}
				}
			}
			out.Line(glyph, o.Repo, strings.Join(parts, " · "))
		}
	}
}

// explainStartFailure prints an error panel with the log tail and a hint.
func explainStartFailure(o supervisor.Outcome) {
	var exit *supervisor.ImmediateExitError
	switch {
	case errors.As(o.Err, &exit):
		lines, _ := logtail.Tail(exit.LogPath, 10)
		hint := "Check the start_command in workbench.yaml or run 'workbench logs " + o.Repo + "'."
		for _, l := range lines {
			if strings.Contains(l, "EADDRINUSE") || strings.Contains(l, "address already in use") {
				hint = "The port looks taken. Stop whatever holds it or change the port in workbench.yaml."
				break
			}
		}
		body := append([]string{""}, lines...)
		out.Panel(fmt.Sprintf("%s exited immediately (code %d)", o.Repo, exit.ExitCode), append(body, "", hint)...)
	case errors.Is(o.Err, supervisor.ErrPortInUse):
		out.Panel(o.Repo+": port in use", "Another process is listening on the configured port.", "Run 'workbench down' or free the port, then try again.")
	case errors.Is(o.Err, supervisor.ErrNoStartCommand):
		out.Panel(o.Repo+": no start command", "Run 'workbench discover "+o.Repo+"' or set start_command in workbench.yaml.")
	}
}

// attach streams logs of running services until ctx is cancelled, then
// stops every process this run started.
func attach(ctx context.Context, sup *supervisor.Supervisor, report supervisor.Report) error {
	var sources []logtail.Source
	var names []string
	for _, o := range report.Outcomes {
		if o.Err == nil && o.Record != nil {
			sources = append(sources, logtail.Source{Name: o.Repo, Path: o.Record.LogPath})
			names = append(names, o.Repo)
		}
	}
	if len(sources) == 0 {
		return report.Err()
	}

	out.Muted("Attached to %s. Press Ctrl+C to stop.", strings.Join(names, ", "))
	px := out.NewPrefixer(names)
	if err := logtail.Follow(ctx, sources, px.Print); err != nil && !errors.Is(err, context.Canceled) {
		out.Warn("log follow stopped: %v", err)
	}

	out.Info("")
	out.Title("Stopping services")
	stopped := sup.StopRun(context.WithoutCancel(ctx))
	printStopReport(stopped)
	if err := stopped.Err(); err != nil {
		return err
	}
	return report.Err()
}
