package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(New(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 4, s.MaxWorkers)
	assert.Equal(t, 2*time.Second, s.GracePeriod)
	assert.Equal(t, 5*time.Second, s.StopTimeout)
	assert.Equal(t, 2*time.Second, s.HealthTimeout)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "text", s.LogFormat)
	assert.Empty(t, s.File)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("max_workers: 8\nstop_timeout: 10s\nlog_format: json\n"), 0o644))
	t.Setenv("WORKBENCH_STOP_TIMEOUT", "3s")

	v := New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("max-workers", 4, "")
	require.NoError(t, BindFlags(v, fs, map[string]string{KeyMaxWorkers: "max-workers", KeyLogLevel: "log-level"}))

	s, err := Load(v, dir)
	require.NoError(t, err)
	assert.Equal(t, 8, s.MaxWorkers, "file beats unset flag default")
	assert.Equal(t, 3*time.Second, s.StopTimeout, "env beats file")
	assert.Equal(t, "json", s.LogFormat)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), s.File)

	require.NoError(t, fs.Parse([]string{"--max-workers=2"}))
	s, err = Load(v, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxWorkers, "explicit flag wins")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env, value, want string
	}{
		{"WORKBENCH_MAX_WORKERS", "0", "max_workers"},
		{"WORKBENCH_LOG_FORMAT", "xml", "log_format"},
		{"WORKBENCH_STOP_TIMEOUT", "0s", "stop_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load(New(), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("max_workers: [\n"), 0o644))
	_, err := Load(New(), dir)
	assert.Error(t, err)
}
