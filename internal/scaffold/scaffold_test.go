package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/workbench"
)

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	created, err := Create(dir, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"workbench.yaml", ".gitignore", "docs/index.md", "repos/.gitkeep"}, created)

	cfg, err := workbench.Load(paths.ConfigPath(dir))
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Name)
	assert.Equal(t, 0, cfg.Len())

	index, err := os.ReadFile(filepath.Join(dir, "docs", "index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "# acme")
}

func TestCreate_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("custom\n"), 0o644))

	created, err := Create(dir, "")
	require.NoError(t, err)
	assert.NotContains(t, created, ".gitignore")

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(data))

	cfg, err := workbench.Load(paths.ConfigPath(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), cfg.Name)
}

func TestCreate_AlreadyInitialized(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, "acme")
	require.NoError(t, err)
	_, err = Create(dir, "acme")
	assert.ErrorIs(t, err, ErrExists)
}
