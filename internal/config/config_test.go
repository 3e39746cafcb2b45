package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every HERALD_ env var that Load() reads.
var allConfigKeys = []string{
	"HERALD_LISTEN",
	"HERALD_DB_PATH",
	"HERALD_LOG_LEVEL",
	"HERALD_VAULT_PATH",
	"HERALD_VAULT_KEY_FILE",
	"HERALD_NATS_URL",
	"HERALD_NATS_SUBJECT",
	"HERALD_RATELIMIT_ENABLED",
	"HERALD_VAULT_ENABLED",
	"HERALD_NATS_ENABLED",
}

// isolateConfigEnv saves and unsets all HERALD_ env vars so tests don't
// inherit values from the host environment. t.Cleanup restores original
// values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "herald.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "herald.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.Vault.Enabled)
	assert.Equal(t, "herald.vault", cfg.Vault.Path)
	assert.Equal(t, "herald.key", cfg.Vault.KeyFile)
	assert.Equal(t, []string{"log"}, cfg.Handlers)
	assert.False(t, cfg.Notify.NATS.Enabled)

	assert.False(t, cfg.GitHub.Enabled)
	assert.Equal(t, 30*time.Second, cfg.GitHub.MinInterval)
	assert.Equal(t, time.Minute, cfg.GitHub.PollInterval)
	assert.Equal(t, 3, cfg.GitHub.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.GitHub.ErrorBaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.GitHub.MaxBackoff)
	assert.Equal(t, 10, cfg.GitHub.MaxMentionsPerCycle)
}

func TestLoad_FromFile(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfig(t, `
listen: 0.0.0.0:9090
db_path: /var/lib/herald/herald.db
log_level: debug
handlers: [log]
vault:
  path: /etc/herald/herald.vault
  key_file: /etc/herald/herald.key
notify:
  nats:
    enabled: true
    url: nats://bus:4222
    subject: chat.events
github:
  enabled: true
  default_target: owner/repo#1
  min_interval: 45s
  poll_interval: 2m
matrix:
  enabled: true
  homeserver: https://matrix.example.org
  default_target: "#ops:example.org"
  max_retries: 5
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, "/var/lib/herald/herald.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Vault.Enabled, "file omits enabled, default stays")
	assert.Equal(t, "/etc/herald/herald.vault", cfg.Vault.Path)

	assert.True(t, cfg.Notify.NATS.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.Notify.NATS.URL)
	assert.Equal(t, "chat.events", cfg.Notify.NATS.Subject)

	assert.True(t, cfg.GitHub.Enabled)
	assert.Equal(t, "owner/repo#1", cfg.GitHub.DefaultTarget)
	assert.Equal(t, 45*time.Second, cfg.GitHub.MinInterval)
	assert.Equal(t, 2*time.Minute, cfg.GitHub.PollInterval)
	assert.Equal(t, 3, cfg.GitHub.MaxRetries, "unset field keeps default")

	assert.True(t, cfg.Matrix.Enabled)
	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, 5, cfg.Matrix.MaxRetries)

	assert.False(t, cfg.Relay.Enabled)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfig(t, "listen: [not\na scalar")

	cfg, err := Load(path)

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolateConfigEnv(t)
	path := writeConfig(t, "listen: 0.0.0.0:9090\ndb_path: file.db\n")
	t.Setenv("HERALD_LISTEN", "127.0.0.1:7777")
	t.Setenv("HERALD_DB_PATH", "/tmp/env.db")
	t.Setenv("HERALD_VAULT_ENABLED", "false")
	t.Setenv("HERALD_NATS_ENABLED", "true")
	t.Setenv("HERALD_NATS_URL", "nats://env:4222")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Listen)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.False(t, cfg.Vault.Enabled)
	assert.True(t, cfg.Notify.NATS.Enabled)
	assert.Equal(t, "nats://env:4222", cfg.Notify.NATS.URL)
}

func TestLoad_InvalidBooleanOverride(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("HERALD_RATELIMIT_ENABLED", "maybe")

	cfg, err := Load("")

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HERALD_RATELIMIT_ENABLED")
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "matrix without homeserver",
			yaml:    "matrix:\n  enabled: true\n",
			wantErr: "homeserver",
		},
		{
			name:    "relay without url",
			yaml:    "relay:\n  enabled: true\n",
			wantErr: "url",
		},
		{
			name:    "zero poll interval",
			yaml:    "github:\n  enabled: true\n  poll_interval: 0s\n",
			wantErr: "poll_interval",
		},
		{
			name:    "backoff below base delay",
			yaml:    "github:\n  enabled: true\n  error_base_delay: 1m\n  max_backoff: 30s\n",
			wantErr: "max_backoff",
		},
		{
			name:    "zero mention cap",
			yaml:    "github:\n  enabled: true\n  max_mentions_per_cycle: 0\n",
			wantErr: "max_mentions_per_cycle",
		},
		{
			name:    "disabled platform is not validated",
			yaml:    "github:\n  poll_interval: 0s\n",
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			path := writeConfig(t, tt.yaml)

			cfg, err := Load(path)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, cfg)
				return
			}
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.key")
	// 64 hex chars = 32 bytes; trailing newline is tolerated.
	require.NoError(t, os.WriteFile(path,
		[]byte("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20\n"), 0o600))

	key, err := LoadKeyFile(path)

	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Equal(t, byte(0x01), key[0])
	assert.Equal(t, byte(0x20), key[31])
}

func TestLoadKeyFile_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKeyFile(filepath.Join(dir, "absent.key"))
		assert.Error(t, err)
	})

	t.Run("not hex", func(t *testing.T) {
		path := filepath.Join(dir, "bad.key")
		require.NoError(t, os.WriteFile(path, []byte("zz"), 0o600))
		_, err := LoadKeyFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid hex")
	})

	t.Run("wrong length", func(t *testing.T) {
		path := filepath.Join(dir, "short.key")
		require.NoError(t, os.WriteFile(path, []byte("deadbeef"), 0o600))
		_, err := LoadKeyFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "need 32")
	})
}
