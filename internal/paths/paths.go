package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the name of the workbench configuration at the root.
const ConfigFileName = "workbench.yaml"

// StateDirName holds per-workbench runtime state (process registry, logs, journal).
const StateDirName = ".workbench"

// ErrNoWorkbench indicates no workbench.yaml was found walking up from a directory.
var ErrNoWorkbench = errors.New("workbench.yaml not found")

// FindRoot walks upward from start until a directory containing
// workbench.yaml is found and returns that directory.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		dir = real
	}
	for {
		fi, err := os.Stat(filepath.Join(dir, ConfigFileName))
		if err == nil && fi.Mode().IsRegular() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w in %s or any parent directory", ErrNoWorkbench, start)
		}
		dir = parent
	}
}

func ConfigPath(root string) string   { return filepath.Join(root, ConfigFileName) }
func StateDir(root string) string     { return filepath.Join(root, StateDirName) }
func RegistryPath(root string) string { return filepath.Join(StateDir(root), "processes.yaml") }
func JournalPath(root string) string  { return filepath.Join(StateDir(root), "journal.db") }
func LogDir(root string) string       { return filepath.Join(StateDir(root), "logs") }
func DocsDir(root string) string      { return filepath.Join(root, "docs") }

// LogPath is the append-only output artifact for one repo's service process.
func LogPath(root, repo string) string { return filepath.Join(LogDir(root), repo+".log") }

// DefaultSettingsDir is where optional user-level tool settings live.
func DefaultSettingsDir() string {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "workbench")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "workbench")
}
