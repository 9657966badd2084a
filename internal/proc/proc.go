//go:build unix

// Package proc runs external commands and owns the low-level details of
// spawning and signalling service process groups.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gurisko/workbench/internal/limits"
)

// Manager abstracts process execution so callers can be tested without
// touching the system.
type Manager interface {
	// Run executes a command to completion and returns its stdout.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// Spawn starts a shell command in its own process group and returns
	// immediately.
	Spawn(spec Spec) (*Handle, error)
	// Alive reports whether a process with this PID exists.
	Alive(pid int) bool
	// SignalGroup delivers sig to every process in the group led by pgid.
	SignalGroup(pgid int, sig syscall.Signal) error
}

// Spec describes a long-running service command.
type Spec struct {
	Dir     string
	Command string
	Env     []string
	Output  io.Writer
}

// Handle tracks a spawned process until it exits.
type Handle struct {
	PID int

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	err      error
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode is valid after Done is closed. -1 means killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Err is the wait error, if any, after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// NewHandle builds a handle for a process the caller manages itself.
// finish must be called exactly once with the exit status.
func NewHandle(pid int) (*Handle, func(code int, err error)) {
	h := &Handle{PID: pid, done: make(chan struct{})}
	return h, func(code int, err error) {
		h.mu.Lock()
		h.exitCode, h.err = code, err
		h.mu.Unlock()
		close(h.done)
	}
}

// CommandError describes a command that ran and exited non-zero.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: exit status %d", e.Name, strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// DefaultManager is the production Manager.
type DefaultManager struct{}

func NewManager() *DefaultManager { return &DefaultManager{} }

func (m *DefaultManager) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout bytes.Buffer
	stderr := &cappedBuffer{max: limits.CommandOutput}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	return stdout.Bytes(), fmt.Errorf("run %s: %w", name, err)
}

func (m *DefaultManager) Spawn(spec Spec) (*Handle, error) {
	cmd := exec.Command("sh", "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = nil
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", spec.Command, err)
	}

	h, finish := NewHandle(cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		finish(code, err)
	}()
	return h, nil
}

func (m *DefaultManager) Alive(pid int) bool {
	return Alive(pid)
}

func (m *DefaultManager) SignalGroup(pgid int, sig syscall.Signal) error {
	return SignalGroup(pgid, sig)
}

// Alive checks process existence with signal 0. EPERM still means the
// process exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// SignalGroup signals the process group; a group that is already gone is
// not an error.
func SignalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid process group %d", pgid)
	}
	err := unix.Kill(-pgid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %v to group %d: %w", sig, pgid, err)
}

type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }
