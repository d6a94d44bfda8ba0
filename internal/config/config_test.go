package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ERRORPARTY_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "migrations", cfg.MigrationDir)
	assert.Equal(t, VendorLoopback, cfg.Vendor)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Coordinator.SyncTimeout)
	assert.Equal(t, 60*time.Second, cfg.Coordinator.ReadyTimeout)
	assert.Equal(t, 60*time.Second, cfg.Coordinator.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Coordinator.BackoffCeiling)
	assert.Equal(t, time.Hour, cfg.Coordinator.RateLimitCooldown)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.SwitchDelay)
	assert.Equal(t, 3*time.Second, cfg.Roster.RequestDelay)
	assert.Equal(t, "us-east-1", cfg.ObjectStore.Region)
	assert.Empty(t, cfg.ObjectStore.Bucket)
	assert.False(t, cfg.HasBackup())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ERRORPARTY_CONFIG", "")
	t.Setenv("ERRORPARTY_PORT", "9090")
	t.Setenv("ERRORPARTY_BOT_ACCOUNT", "partybot")
	t.Setenv("ERRORPARTY_BOT_PASSWORD", "hunter2")
	t.Setenv("ERRORPARTY_BOT_BACKUP_ACCOUNT", "partybot2")
	t.Setenv("ERRORPARTY_BOT_BACKUP_PASSWORD", "hunter3")
	t.Setenv("ERRORPARTY_COORDINATOR_REQUEST_TIMEOUT", "10s")
	t.Setenv("ERRORPARTY_ROSTER_REQUEST_DELAY", "500ms")
	t.Setenv("ERRORPARTY_S3_BUCKET", "raw-matches")
	t.Setenv("ERRORPARTY_RECORDER_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.AppPort)
	assert.Equal(t, Credentials{AccountName: "partybot", Password: "hunter2"}, cfg.Primary)
	assert.True(t, cfg.HasBackup())
	assert.Equal(t, "partybot2", cfg.Backup.AccountName)
	assert.Equal(t, 10*time.Second, cfg.Coordinator.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Roster.RequestDelay)
	assert.Equal(t, "raw-matches", cfg.ObjectStore.Bucket)
	assert.Equal(t, 4, cfg.Recorder.Workers)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "errorparty.yaml")
	contents := []byte("port: 7070\ncoordinator:\n  welcome_message: hi there\nroster:\n  pass_interval: 1m\n")
	require.NoError(t, os.WriteFile(file, contents, 0o600))

	t.Setenv("ERRORPARTY_CONFIG", file)
	t.Setenv("ERRORPARTY_PORT", "7171")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7171, cfg.AppPort, "environment wins over the file")
	assert.Equal(t, "hi there", cfg.Coordinator.WelcomeMessage)
	assert.Equal(t, time.Minute, cfg.Roster.PassInterval)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ERRORPARTY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"port":           {"ERRORPARTY_PORT": "70000"},
		"vendor":         {"ERRORPARTY_VENDOR": "carrier-pigeon"},
		"backup":         {"ERRORPARTY_BOT_BACKUP_ACCOUNT": "partybot2"},
		"subject slot":   {"ERRORPARTY_COORDINATOR_SUBJECT_SLOT": "-1"},
		"timeout":        {"ERRORPARTY_COORDINATOR_REQUEST_TIMEOUT": "0s"},
		"backoff bounds": {"ERRORPARTY_COORDINATOR_BACKOFF_CEILING": "1s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ERRORPARTY_CONFIG", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}
