//go:build unix

package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/workbench/internal/batch"
	"github.com/gurisko/workbench/internal/dashboard"
	"github.com/gurisko/workbench/internal/journal"
	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/proc"
	"github.com/gurisko/workbench/internal/registry"
	"github.com/gurisko/workbench/internal/workbench"
)

type memJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (m *memJournal) Record(_ context.Context, e journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memJournal) kinds(repo string) []journal.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Kind
	for _, e := range m.events {
		if e.Repo == repo {
			out = append(out, e.Kind)
		}
	}
	return out
}

func newTestSupervisor(t *testing.T, opts Options) (*Supervisor, string, *memJournal) {
	t.Helper()
	root := t.TempDir()
	j := &memJournal{}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 200 * time.Millisecond
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}
	opts.PollInterval = 20 * time.Millisecond
	opts.Journal = j
	s, err := New(root, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.StopAll(context.Background(), namesOf(s.reg.List()))
	})
	return s, root, j
}

func namesOf(recs []*registry.ProcessRecord) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Repo)
	}
	return out
}

func service(t *testing.T, root, name, command string) *workbench.RepoConfig {
	t.Helper()
	r := &workbench.RepoConfig{Name: name, Type: workbench.TypeService, StartCommand: command}
	require.NoError(t, os.MkdirAll(r.Dir(root), 0o755))
	return r
}

func TestStartStop_Lifecycle(t *testing.T) {
	s, root, j := newTestSupervisor(t, Options{})
	ctx := context.Background()
	repo := service(t, root, "api", "echo booting; sleep 30")

	out, err := s.Start(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, ActionStarted, out.Action)
	require.NotNil(t, out.Record)
	assert.Equal(t, registry.StateRunning, out.Record.State)
	assert.Equal(t, s.RunID(), out.Record.RunID)
	pid := out.Record.PID
	assert.True(t, proc.Alive(pid))

	again, err := s.Start(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, ActionAlreadyRunning, again.Action)
	assert.Equal(t, pid, again.Record.PID)

	// A second supervisor sees the same record through the registry file.
	other, err := New(root, Options{})
	require.NoError(t, err)
	recs, err := other.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, pid, recs[0].PID)

	stopped, err := s.Stop(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, ActionStopped, stopped.Action)
	assert.False(t, stopped.Killed)
	assert.Eventually(t, func() bool { return !proc.Alive(pid) }, 2*time.Second, 20*time.Millisecond)

	_, ok := s.reg.Get("api")
	assert.False(t, ok)

	noop, err := s.Stop(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, ActionNotRunning, noop.Action)

	logData, err := os.ReadFile(paths.LogPath(root, "api"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "booting")

	assert.Equal(t, []journal.Kind{journal.KindStarted, journal.KindStopped}, j.kinds("api"))
}

func TestStart_ImmediateExit(t *testing.T) {
	s, root, j := newTestSupervisor(t, Options{GracePeriod: time.Second})
	repo := service(t, root, "broken", "echo fatal >&2; exit 3")

	out, err := s.Start(context.Background(), repo)
	require.Error(t, err)

	var exitErr *ImmediateExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Equal(t, registry.StateCrashed, out.Record.State)

	_, ok := s.reg.Get("broken")
	assert.False(t, ok, "crashed process must not stay registered")
	assert.Equal(t, []journal.Kind{journal.KindCrashed}, j.kinds("broken"))
}

func TestStart_Preconditions(t *testing.T) {
	s, root, _ := newTestSupervisor(t, Options{})
	ctx := context.Background()

	t.Run("infrastructure is skipped", func(t *testing.T) {
		repo := &workbench.RepoConfig{Name: "tf", Type: workbench.TypeInfrastructure, StartCommand: "sleep 30"}
		out, err := s.Start(ctx, repo)
		require.NoError(t, err)
		assert.Equal(t, ActionSkipped, out.Action)
		assert.Nil(t, out.Record)
	})

	t.Run("missing start command", func(t *testing.T) {
		repo := service(t, root, "empty", "  ")
		_, err := s.Start(ctx, repo)
		assert.ErrorIs(t, err, ErrNoStartCommand)
	})

	t.Run("port in use", func(t *testing.T) {
		ln, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		defer ln.Close()

		repo := service(t, root, "web", "sleep 30")
		repo.Port = ln.Addr().(*net.TCPAddr).Port
		_, err = s.Start(ctx, repo)
		assert.ErrorIs(t, err, ErrPortInUse)
	})

	t.Run("not cloned", func(t *testing.T) {
		repo := &workbench.RepoConfig{Name: "ghost", StartCommand: "sleep 30"}
		out, err := s.Start(ctx, repo)
		require.Error(t, err)
		assert.Equal(t, ActionFailed, out.Action)
	})
}

func TestStart_Environment(t *testing.T) {
	s, root, _ := newTestSupervisor(t, Options{SharedEnv: map[string]string{"SHARED": "yes"}})
	s.portFree = func(int) bool { return true }
	repo := service(t, root, "env", `echo "$PORT $SHARED" > env.out; sleep 30`)
	repo.Port = 45678

	_, err := s.Start(context.Background(), repo)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(repo.Dir(root), "env.out"))
	require.NoError(t, err)
	assert.Equal(t, "45678 yes", strings.TrimSpace(string(data)))
}

func TestStop_EscalatesToSIGKILL(t *testing.T) {
	s, root, j := newTestSupervisor(t, Options{StopTimeout: 300 * time.Millisecond})
	repo := service(t, root, "stubborn", "trap '' TERM; sleep 30")

	out, err := s.Start(context.Background(), repo)
	require.NoError(t, err)
	pid := out.Record.PID

	stopped, err := s.Stop(context.Background(), "stubborn")
	require.NoError(t, err)
	assert.True(t, stopped.Killed)
	assert.Eventually(t, func() bool { return !proc.Alive(pid) }, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, j.kinds("stubborn"), journal.KindKilled)
}

func TestStartAll_IsolatesFailures(t *testing.T) {
	s, root, _ := newTestSupervisor(t, Options{MaxWorkers: 2})
	repos := []*workbench.RepoConfig{
		service(t, root, "good", "sleep 30"),
		service(t, root, "bad", "exit 1"),
		{Name: "infra", Type: workbench.TypeInfrastructure},
		service(t, root, "nocmd", ""),
	}

	report := s.StartAll(context.Background(), repos)

	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, ActionStarted, report.Outcomes[0].Action)
	assert.Equal(t, ActionFailed, report.Outcomes[1].Action)
	assert.Equal(t, ActionSkipped, report.Outcomes[2].Action)
	assert.Equal(t, ActionFailed, report.Outcomes[3].Action)
	assert.Equal(t, batch.Summary{Succeeded: 1, Skipped: 1, Failed: 2}, report.Summary)
	assert.ErrorIs(t, report.Err(), batch.ErrBatchFailed)

	stopReport := s.StopAll(context.Background(), []string{"good", "bad"})
	assert.Equal(t, ActionStopped, stopReport.Outcomes[0].Action)
	assert.Equal(t, ActionNotRunning, stopReport.Outcomes[1].Action)
	assert.NoError(t, stopReport.Err())
}

func TestStartAll_CancellationStopsStarted(t *testing.T) {
	s, root, _ := newTestSupervisor(t, Options{GracePeriod: 500 * time.Millisecond})
	repos := []*workbench.RepoConfig{
		service(t, root, "a", "sleep 30"),
		service(t, root, "b", "sleep 30"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	report := s.StartAll(ctx, repos)

	for _, o := range report.Outcomes {
		assert.Error(t, o.Err, o.Repo)
		if o.Record != nil {
			pid := o.Record.PID
			assert.Eventually(t, func() bool { return !proc.Alive(pid) }, 3*time.Second, 20*time.Millisecond)
		}
	}
	assert.Empty(t, s.reg.List())
}

func TestRecords_PrunesDeadPIDs(t *testing.T) {
	s, _, j := newTestSupervisor(t, Options{})
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPID := cmd.ProcessState.Pid()

	require.NoError(t, s.reg.PutAndSave(&registry.ProcessRecord{Repo: "old", PID: deadPID, State: registry.StateRunning}))

	recs, err := s.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, []journal.Kind{journal.KindExited}, j.kinds("old"))
}

func TestMarkHealth(t *testing.T) {
	s, root, j := newTestSupervisor(t, Options{})
	repo := service(t, root, "api", "sleep 30")
	out, err := s.Start(context.Background(), repo)
	require.NoError(t, err)

	require.NoError(t, s.MarkHealth(context.Background(), "api", out.Record.PID, true, "200 OK"))
	rec, ok := s.reg.Get("api")
	require.True(t, ok)
	assert.Equal(t, registry.StateHealthy, rec.State)
	assert.Contains(t, j.kinds("api"), journal.KindHealthy)

	assert.Error(t, s.MarkHealth(context.Background(), "api", out.Record.PID+100000, false, ""))
}

func TestStopRun_OnlyStopsOwnRun(t *testing.T) {
	s, root, _ := newTestSupervisor(t, Options{})
	_, err := s.Start(context.Background(), service(t, root, "mine", "sleep 30"))
	require.NoError(t, err)
	other := exec.Command("sleep", "30")
	other.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, other.Start())
	go func() { _ = other.Wait() }()
	require.NoError(t, s.reg.PutAndSave(&registry.ProcessRecord{Repo: "theirs", PID: other.Process.Pid, RunID: "other-run"}))

	report := s.StopRun(context.Background())
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "mine", report.Outcomes[0].Repo)
	assert.True(t, proc.Alive(other.Process.Pid))
}

func TestAbort_StopsRunAfterInterrupt(t *testing.T) {
	s, root, j := newTestSupervisor(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report := s.StartAll(ctx, []*workbench.RepoConfig{service(t, root, "api", "sleep 30")})
	require.NoError(t, report.Err())
	pid := report.Outcomes[0].Record.PID

	// Interrupt while the caller is still waiting on health checks.
	cancel()
	stopped, err := s.Abort(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrBatchFailed)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, stopped.Outcomes, 1)
	assert.Equal(t, ActionStopped, stopped.Outcomes[0].Action)
	assert.NoError(t, stopped.Err())
	assert.Eventually(t, func() bool { return !proc.Alive(pid) }, 2*time.Second, 20*time.Millisecond)
	assert.Empty(t, s.reg.List())
	assert.Equal(t, []journal.Kind{journal.KindStarted, journal.KindStopped}, j.kinds("api"))
}

func TestStop_DashboardShowsNotRunning(t *testing.T) {
	s, root, _ := newTestSupervisor(t, Options{})
	ctx := context.Background()
	repo := service(t, root, "api", "sleep 30")
	cfg := workbench.New("acme")
	_, err := cfg.UpsertRepo(*repo)
	require.NoError(t, err)

	_, err = s.Start(ctx, repo)
	require.NoError(t, err)
	recs, err := s.Records(ctx)
	require.NoError(t, err)
	rows := dashboard.Build(ctx, cfg, recs, dashboard.Options{Root: root})
	require.Len(t, rows, 1)
	assert.Equal(t, string(registry.StateRunning), rows[0].State)

	_, err = s.Stop(ctx, "api")
	require.NoError(t, err)
	recs, err = s.Records(ctx)
	require.NoError(t, err)
	rows = dashboard.Build(ctx, cfg, recs, dashboard.Options{Root: root})
	require.Len(t, rows, 1)
	assert.Equal(t, dashboard.StateNotRunning, rows[0].State)
	assert.Zero(t, rows[0].PID)
}
