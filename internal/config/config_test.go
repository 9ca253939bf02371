package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ".", cfg.BackupDir)
	assert.Equal(t, 30*time.Minute, cfg.Timeout.Std())
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 4, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay.Std())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay.Std())
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("HOST_MOVER_LOG_LEVEL", "debug")
	t.Setenv("HOST_MOVER_TIMEOUT", "5m")
	t.Setenv("HOST_MOVER_RETRY_ATTEMPTS", "2")

	cfg, err := New("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.Timeout.Std())
	assert.Equal(t, 2, cfg.Retry.Attempts)
}

func TestNewFileOverridesEnvironment(t *testing.T) {
	t.Setenv("HOST_MOVER_BACKUP_DIR", "/from-env")

	path := writeConfigFile(t, `
logLevel: warn
backupDir: /var/backups/hosts
timeout: 45m
retry:
  attempts: 6
  maxDelay: 1m
`)

	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/var/backups/hosts", cfg.BackupDir)
	assert.Equal(t, 45*time.Minute, cfg.Timeout.Std())
	assert.Equal(t, 6, cfg.Retry.Attempts)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay.Std())
	// Keys absent from the file keep their environment values.
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay.Std())
}

func TestNewRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, "timeout: soon\n")

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var out Duration
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, d, out)

	// Integer nanoseconds stay readable for hand-written JSON.
	require.NoError(t, out.UnmarshalJSON([]byte("1000000000")))
	assert.Equal(t, time.Second, out.Std())
}

func TestNewRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "logLeve1: debug\n")

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logLeve1")
}

func TestNewMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewRejectsZeroRetryAttempts(t *testing.T) {
	path := writeConfigFile(t, "retry:\n  attempts: 0\n")

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry attempts")
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
