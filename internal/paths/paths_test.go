package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindRoot_WalksUpward(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte("workbench:\n  name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "repos", "api", "src")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	if got != want {
		t.Errorf("Expected root %q, got %q", want, got)
	}
}

func TestFindRoot_NotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := FindRoot(dir)
	if !errors.Is(err, ErrNoWorkbench) {
		t.Fatalf("Expected ErrNoWorkbench, got %v", err)
	}
}

func TestStatePaths(t *testing.T) {
	root := "/srv/wb"
	if got := LogPath(root, "api"); got != "/srv/wb/.workbench/logs/api.log" {
		t.Errorf("unexpected log path %q", got)
	}
	if got := RegistryPath(root); got != "/srv/wb/.workbench/processes.yaml" {
		t.Errorf("unexpected registry path %q", got)
	}
}
