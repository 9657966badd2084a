//go:build unix

// Package supervisor starts, tracks and stops the service processes of a
// workbench. Records survive the CLI invocation in .workbench/processes.yaml.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/journal"
	"github.com/gurisko/workbench/internal/logging"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/registry"
	"github.com/gurisko/workbench/internal/workbench"
)

const (
	DefaultGracePeriod  = 2 * time.Second
	DefaultStopTimeout  = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Recorder receives lifecycle events. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Event) error
}

// Options tunes a Supervisor. Zero values take the defaults.
type Options struct {
	GracePeriod  time.Duration
	StopTimeout  time.Duration
	PollInterval time.Duration
	MaxWorkers   int
	SharedEnv    map[string]string
	Manager      proc.Manager
	Journal      Recorder
	RunID        string
}

// Action is the per-repo result of a lifecycle operation.
type Action string

const (
	ActionStarted        Action = "started"
	ActionAlreadyRunning Action = "already-running"
	ActionSkipped        Action = "skipped"
	ActionFailed         Action = "failed"
	ActionStopped        Action = "stopped"
	ActionNotRunning     Action = "not-running"
)

// Outcome reports what happened to one repo.
type Outcome struct {
	Repo   string
	Action Action
	Record *registry.ProcessRecord
	Killed bool // stop escalated to SIGKILL
	Err    error
}

// Status classifies the outcome for batch summaries.
func (o Outcome) Status() batch.Status {
	switch {
	case o.Err != nil:
		return batch.Failed
	case o.Action == ActionSkipped:
		return batch.Skipped
	default:
		return batch.Succeeded
	}
}

// Report is the result of StartAll or StopAll, in input order.
type Report struct {
	Outcomes []Outcome
	Summary  batch.Summary
}

// Err is batch.ErrBatchFailed when any repo failed.
func (r Report) Err() error { return r.Summary.Err() }

func newReport(outcomes []Outcome) Report {
	return Report{
		Outcomes: outcomes,
		Summary:  batch.Summarize(outcomes, Outcome.Status),
	}
}

// Supervisor manages service processes for one workbench root.
type Supervisor struct {
	root     string
	opts     Options
	procs    proc.Manager
	reg      *registry.Registry
	log      *slog.Logger
	locks    keyedMutex
	portFree func(port int) bool

	mu      sync.Mutex
	handles map[int]*proc.Handle // children spawned by this instance, by PID
}

// New opens the process registry under root.
func New(root string, opts Options) (*Supervisor, error) {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = batch.DefaultWorkers
	}
	if opts.Manager == nil {
		opts.Manager = proc.NewManager()
	}
	if opts.RunID == "" {
		opts.RunID = registry.NewRunID()
	}

	reg, err := registry.New(paths.RegistryPath(root))
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		root:     root,
		opts:     opts,
		procs:    opts.Manager,
		reg:      reg,
		log:      logging.New("supervisor"),
		portFree: portFree,
		handles:  make(map[int]*proc.Handle),
	}, nil
}

// RunID identifies this invocation in records and journal events.
func (s *Supervisor) RunID() string { return s.opts.RunID }

// Records prunes dead entries and returns the live ones sorted by repo.
func (s *Supervisor) Records(ctx context.Context) ([]*registry.ProcessRecord, error) {
	pruned, err := s.reg.Prune(s.procs.Alive)
	if err != nil {
		return nil, err
	}
	for _, rec := range pruned {
		s.log.Debug("pruned stale record", "repo", rec.Repo, "pid", rec.PID)
		s.event(ctx, journal.Event{Repo: rec.Repo, Kind: journal.KindExited, PID: rec.PID, Detail: "process gone"})
	}
	return s.reg.List(), nil
}

// Start launches repo's start command unless it is already running.
func (s *Supervisor) Start(ctx context.Context, repo *workbench.RepoConfig) (Outcome, error) {
	out := Outcome{Repo: repo.Name}
	if repo.IsInfrastructure() {
		out.Action = ActionSkipped
		s.event(ctx, journal.Event{Repo: repo.Name, Kind: journal.KindSkipped, Detail: "infrastructure"})
		return out, nil
	}

	unlock := s.locks.lock(repo.Name)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return s.fail(out, err)
	}
	if err := s.reg.Load(); err != nil {
		return s.fail(out, err)
	}
	if rec, ok := s.reg.Get(repo.Name); ok {
		if s.procs.Alive(rec.PID) {
			out.Action = ActionAlreadyRunning
			out.Record = rec
			return out, nil
		}
		s.log.Info("removing stale record", "repo", repo.Name, "pid", rec.PID)
		if _, err := s.reg.RemoveAndSave(repo.Name, rec.PID); err != nil && !errors.Is(err, registry.ErrNotRunning) {
			return s.fail(out, err)
		}
		s.event(ctx, journal.Event{Repo: repo.Name, Kind: journal.KindExited, PID: rec.PID, Detail: "process gone"})
	}

	command := strings.TrimSpace(repo.StartCommand)
	if command == "" {
		return s.failEvent(ctx, out, fmt.Errorf("%s: %w", repo.Name, ErrNoStartCommand))
	}
	if repo.Port != 0 && !s.portFree(repo.Port) {
		return s.failEvent(ctx, out, fmt.Errorf("%s: %w: %d", repo.Name, ErrPortInUse, repo.Port))
	}
	dir := repo.Dir(s.root)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return s.failEvent(ctx, out, fmt.Errorf("%s: repo directory %s not found (run workbench init to clone)", repo.Name, dir))
	}

	logPath := paths.LogPath(s.root, repo.Name)
	logFile, err := openLog(logPath)
	if err != nil {
		return s.failEvent(ctx, out, err)
	}
	fmt.Fprintf(logFile, "\n=== %s starting %q (run %s) ===\n", time.Now().Format(time.RFC3339), command, s.opts.RunID)

	h, err := s.procs.Spawn(proc.Spec{
		Dir:     dir,
		Command: command,
		Env:     s.environ(repo),
		Output:  logFile,
	})
	_ = logFile.Close()
	if err != nil {
		return s.failEvent(ctx, out, fmt.Errorf("%s: %w", repo.Name, err))
	}

	rec := &registry.ProcessRecord{
		Repo:        repo.Name,
		PID:         h.PID,
		Port:        repo.Port,
		HealthCheck: repo.HealthCheck,
		Command:     command,
		State:       registry.StateStarting,
		StartedAt:   time.Now().UTC(),
		LogPath:     logPath,
		RunID:       s.opts.RunID,
	}
	s.track(h)
	if err := s.reg.PutAndSave(rec); err != nil {
		_ = s.procs.SignalGroup(h.PID, syscall.SIGKILL)
		return s.failEvent(ctx, out, fmt.Errorf("%s: record process: %w", repo.Name, err))
	}
	out.Record = rec

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()
	select {
	case <-h.Done():
		code := h.ExitCode()
		s.untrack(h.PID)
		if _, err := s.reg.RemoveAndSave(repo.Name, h.PID); err != nil && !errors.Is(err, registry.ErrNotRunning) {
			s.log.Warn("failed to remove crashed record", "repo", repo.Name, "error", err)
		}
		rec.State = registry.StateCrashed
		s.event(ctx, journal.Event{Repo: repo.Name, Kind: journal.KindCrashed, PID: h.PID, ExitCode: &code, Detail: "exited during grace period"})
		return s.fail(out, &ImmediateExitError{Repo: repo.Name, ExitCode: code, LogPath: logPath})
	case <-ctx.Done():
		if _, err := s.stopLocked(context.WithoutCancel(ctx), rec); err != nil {
			s.log.Warn("failed to stop process after cancellation", "repo", repo.Name, "error", err)
		}
		return s.fail(out, ctx.Err())
	case <-grace.C:
	}

	if err := s.reg.UpdateAndSave(repo.Name, h.PID, func(r *registry.ProcessRecord) {
		r.State = registry.StateRunning
	}); err != nil {
		s.log.Warn("failed to mark running", "repo", repo.Name, "error", err)
	}
	rec.State = registry.StateRunning
	s.event(ctx, journal.Event{Repo: repo.Name, Kind: journal.KindStarted, PID: h.PID, Detail: command})
	s.log.Info("started", "repo", repo.Name, "pid", h.PID, "port", repo.Port)

	out.Action = ActionStarted
	return out, nil
}

// Stop terminates the repo's process group: SIGTERM, then SIGKILL once
// the stop timeout elapses. A repo with no live process is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) (Outcome, error) {
	unlock := s.locks.lock(name)
	defer unlock()

	if err := s.reg.Load(); err != nil {
		return s.fail(Outcome{Repo: name}, err)
	}
	rec, ok := s.reg.Get(name)
	if !ok {
		return Outcome{Repo: name, Action: ActionNotRunning}, nil
	}
	return s.stopLocked(ctx, rec)
}

func (s *Supervisor) stopLocked(ctx context.Context, rec *registry.ProcessRecord) (Outcome, error) {
	out := Outcome{Repo: rec.Repo, Record: rec}
	if !s.procs.Alive(rec.PID) {
		if _, err := s.reg.RemoveAndSave(rec.Repo, rec.PID); err != nil && !errors.Is(err, registry.ErrNotRunning) {
			return s.fail(out, err)
		}
		s.untrack(rec.PID)
		s.event(ctx, journal.Event{Repo: rec.Repo, Kind: journal.KindExited, PID: rec.PID, Detail: "process gone"})
		out.Action = ActionNotRunning
		return out, nil
	}

	if err := s.procs.SignalGroup(rec.PID, syscall.SIGTERM); err != nil {
		return s.fail(out, fmt.Errorf("%s: %w", rec.Repo, err))
	}
	if !s.waitExit(ctx, rec.PID, s.opts.StopTimeout) {
		s.log.Warn("process did not exit after SIGTERM, sending SIGKILL", "repo", rec.Repo, "pid", rec.PID)
		if err := s.procs.SignalGroup(rec.PID, syscall.SIGKILL); err != nil {
			return s.fail(out, fmt.Errorf("%s: %w", rec.Repo, err))
		}
		out.Killed = true
		s.waitExit(context.Background(), rec.PID, time.Second)
	}

	if _, err := s.reg.RemoveAndSave(rec.Repo, rec.PID); err != nil && !errors.Is(err, registry.ErrNotRunning) {
		return s.fail(out, err)
	}
	s.untrack(rec.PID)

	kind := journal.KindStopped
	if out.Killed {
		kind = journal.KindKilled
	}
	s.event(ctx, journal.Event{Repo: rec.Repo, Kind: kind, PID: rec.PID})
	s.log.Info("stopped", "repo", rec.Repo, "pid", rec.PID, "killed", out.Killed)

	rec.State = registry.StateStopped
	out.Action = ActionStopped
	return out, nil
}

// waitExit reports whether pid exited within timeout.
func (s *Supervisor) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	var done <-chan struct{}
	if h := s.handle(pid); h != nil {
		done = h.Done()
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if done == nil && !s.procs.Alive(pid) {
			return true
		}
		select {
		case <-done:
			return true
		case <-ticker.C:
		case <-deadline.C:
			return done == nil && !s.procs.Alive(pid)
		case <-ctx.Done():
			return false
		}
	}
}

// StartAll starts every repo with at most MaxWorkers starts in flight.
// If ctx is cancelled, every process started by this call is stopped
// before returning.
func (s *Supervisor) StartAll(ctx context.Context, repos []*workbench.RepoConfig) Report {
	outcomes := batch.Run(ctx, s.opts.MaxWorkers, repos, func(ctx context.Context, r *workbench.RepoConfig) Outcome {
		o, _ := s.Start(ctx, r)
		return o
	})

	if err := ctx.Err(); err != nil {
		stopCtx := context.WithoutCancel(ctx)
		batch.Run(stopCtx, s.opts.MaxWorkers, indexesOf(outcomes, ActionStarted), func(ctx context.Context, i int) struct{} {
			if _, stopErr := s.Stop(ctx, outcomes[i].Repo); stopErr != nil {
				s.log.Warn("failed to stop after cancellation", "repo", outcomes[i].Repo, "error", stopErr)
			}
			outcomes[i].Action = ActionStopped
			outcomes[i].Err = fmt.Errorf("stopped after cancellation: %w", err)
			return struct{}{}
		})
	}
	return newReport(outcomes)
}

// StopAll stops the named repos concurrently.
func (s *Supervisor) StopAll(ctx context.Context, names []string) Report {
	outcomes := batch.Run(ctx, s.opts.MaxWorkers, names, func(ctx context.Context, name string) Outcome {
		o, _ := s.Stop(ctx, name)
		return o
	})
	return newReport(outcomes)
}

// StopRun stops every process started under this supervisor's run ID.
func (s *Supervisor) StopRun(ctx context.Context) Report {
	if err := s.reg.Load(); err != nil {
		s.log.Warn("failed to reload registry", "error", err)
	}
	var names []string
	for _, rec := range s.reg.List() {
		if rec.RunID == s.opts.RunID {
			names = append(names, rec.Repo)
		}
	}
	return s.StopAll(ctx, names)
}

// Abort stops every process of this run once ctx has been cancelled, for
// interrupts that arrive after StartAll returned. The error wraps both
// batch.ErrBatchFailed and the cancellation cause.
func (s *Supervisor) Abort(ctx context.Context) (Report, error) {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	report := s.StopRun(context.WithoutCancel(ctx))
	return report, fmt.Errorf("%w: interrupted: %w", batch.ErrBatchFailed, cause)
}

// MarkHealth records the latest health verdict on a live record.
func (s *Supervisor) MarkHealth(ctx context.Context, repo string, pid int, healthy bool, detail string) error {
	state, kind := registry.StateHealthy, journal.KindHealthy
	if !healthy {
		state, kind = registry.StateUnhealthy, journal.KindUnhealthy
	}
	unlock := s.locks.lock(repo)
	defer unlock()
	if err := s.reg.UpdateAndSave(repo, pid, func(r *registry.ProcessRecord) { r.State = state }); err != nil {
		return err
	}
	s.event(ctx, journal.Event{Repo: repo, Kind: kind, PID: pid, Detail: detail})
	return nil
}

// Wait blocks until the tracked child pid exits or ctx is done. It
// returns false when pid was not spawned by this supervisor.
func (s *Supervisor) Wait(ctx context.Context, pid int) (exitCode int, ok bool) {
	h := s.handle(pid)
	if h == nil {
		return 0, false
	}
	select {
	case <-h.Done():
		return h.ExitCode(), true
	case <-ctx.Done():
		return 0, false
	}
}

func (s *Supervisor) environ(repo *workbench.RepoConfig) []string {
	env := os.Environ()
	keys := make([]string, 0, len(s.opts.SharedEnv))
	for k := range s.opts.SharedEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.opts.SharedEnv[k])
	}
	if repo.Port != 0 {
		env = append(env, fmt.Sprintf("PORT=%d", repo.Port))
	}
	return env
}

func (s *Supervisor) fail(out Outcome, err error) (Outcome, error) {
	out.Action = ActionFailed
	out.Err = err
	return out, err
}

func (s *Supervisor) failEvent(ctx context.Context, out Outcome, err error) (Outcome, error) {
	s.event(ctx, journal.Event{Repo: out.Repo, Kind: journal.KindFailed, Detail: err.Error()})
	return s.fail(out, err)
}

func (s *Supervisor) event(ctx context.Context, e journal.Event) {
	if s.opts.Journal == nil {
		return
	}
	if e.RunID == "" {
		e.RunID = s.opts.RunID
	}
	if err := s.opts.Journal.Record(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("failed to record journal event", "repo", e.Repo, "kind", e.Kind, "error", err)
	}
}

func (s *Supervisor) track(h *proc.Handle) {
	s.mu.Lock()
	s.handles[h.PID] = h
	s.mu.Unlock()
}

func (s *Supervisor) untrack(pid int) {
	s.mu.Lock()
	delete(s.handles, pid)
	s.mu.Unlock()
}

func (s *Supervisor) handle(pid int) *proc.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[pid]
}

func indexesOf(outcomes []Outcome, action Action) []int {
	var out []int
	for i, o := range outcomes {
		if o.Action == action {
			out = append(out, i)
		}
	}
	return out
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

// portFree reports whether nothing is listening on port.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
