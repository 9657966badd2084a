package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStartCommand indicates the repo has no start_command configured or discovered
	ErrNoStartCommand = errors.New("no start command")
	// ErrPortInUse indicates the configured port is already bound by another process
	ErrPortInUse = errors.New("port already in use")
)

// ImmediateExitError reports a child that exited inside the grace window.
type ImmediateExitError struct {
	Repo     string
	ExitCode int
	LogPath  string
}

func (e *ImmediateExitError) Error() string {
	return fmt.Sprintf("%s exited immediately with code %d (see %s)", e.Repo, e.ExitCode, e.LogPath)
}
