package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "taskflow.db", cfg.Database.Path)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, 3, cfg.ESign.MaxAttempts)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/taskflow/tasks.db
http:
  listen: ":9090"
esign:
  base_url: https://esign.example.com/api
  backoff_base: 250ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/taskflow/tasks.db", cfg.Database.Path)
	assert.Equal(t, ":9090", cfg.HTTP.Listen)
	assert.Equal(t, "https://esign.example.com/api", cfg.ESign.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.ESign.BackoffBase)
	// Untouched values keep their defaults.
	assert.Equal(t, 200, cfg.ESign.ScanLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  listen: \":9090\"\n"), 0o644))

	t.Setenv("TASKFLOW_HTTP_LISTEN", ":7070")
	t.Setenv("TASKFLOW_ESIGN_MAX_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Listen)
	assert.Equal(t, 5, cfg.ESign.MaxAttempts)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ESign.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())
}
