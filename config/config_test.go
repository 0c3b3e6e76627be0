package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kanban.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "default-board", cfg.BoardID)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 25*time.Second, cfg.Stream.Heartbeat)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DeduperTTL)
	assert.Equal(t, "@every 10m", cfg.Integrity.Schedule)
	assert.False(t, cfg.Auth.AuthEnabled())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `port: "9000"
board_id: team-board
storage:
  driver: SQLite
  database_url: file:board.db
redis:
  cache_ttl: 1m
stream:
  heartbeat: 10s
  subscriber_buffer: 16
integrity:
  schedule: "*/5 * * * *"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "team-board", cfg.BoardID)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "file:board.db", cfg.Storage.DatabaseURL)
	assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DeduperTTL, "unset keys keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Stream.Heartbeat)
	assert.Equal(t, 16, cfg.Stream.SubscriberBuffer)
	assert.Equal(t, "*/5 * * * *", cfg.Integrity.Schedule)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `board_id: from-file
storage:
  driver: memory
`)
	t.Setenv("BOARD_ID", "from-env")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/kanban")
	t.Setenv("DEDUPER_TTL", "2h")
	t.Setenv("SUBSCRIBER_BUFFER", "8")
	t.Setenv("DEBUG", "true")
	t.Setenv("INTEGRITY_SCHEDULE", "")
	t.Setenv("LOCAL_AUTH_MODE", "hs256")
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.BoardID)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/kanban", cfg.Storage.DatabaseURL)
	assert.Equal(t, 2*time.Hour, cfg.Redis.DeduperTTL)
	assert.Equal(t, 8, cfg.Stream.SubscriberBuffer)
	assert.True(t, cfg.Debug)
	assert.Empty(t, cfg.Integrity.Schedule, "empty schedule disables the sweeper")
	assert.True(t, cfg.Auth.AuthEnabled())
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("STREAM_HEARTBEAT", "soon")
	t.Setenv("SUBSCRIBER_BUFFER", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid STREAM_HEARTBEAT")
	assert.Contains(t, err.Error(), "invalid SUBSCRIBER_BUFFER")
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load("/nonexistent/kanban.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	path := writeConfig(t, "storage: [not, a, map\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestFromEnv(t *testing.T) {
	path := writeConfig(t, "board_id: env-file\n")
	t.Setenv(EnvConfigPath, path)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-file", cfg.BoardID)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "invalid storage.driver"},
		{"sqlite without dsn", func(c *Config) { c.Storage.Driver = DriverSQLite }, "database_url is required"},
		{"tables without account", func(c *Config) { c.Storage.Driver = DriverTables }, "connection_string is required"},
		{"queue without account", func(c *Config) { c.Stream.EventsQueue = "board-events" }, "events_queue"},
		{"half auth0", func(c *Config) { c.Auth.Domain = "tenant.auth0.com" }, "must be set together"},
		{"local without secret", func(c *Config) { c.Auth.LocalMode = "hs256" }, "local_secret is required"},
		{"unknown local mode", func(c *Config) { c.Auth.LocalMode = "none" }, "unsupported auth.local_mode"},
		{"zero heartbeat", func(c *Config) { c.Stream.Heartbeat = 0 }, "heartbeat"},
		{"zero buffer", func(c *Config) { c.Stream.SubscriberBuffer = 0 }, "subscriber_buffer"},
		{"zero ttl", func(c *Config) { c.Redis.CacheTTL = 0 }, "ttls"},
		{"blank board", func(c *Config) { c.BoardID = " " }, "board_id"},
		{"bad redis", func(c *Config) { c.Redis.ConnectionString = ",password=x" }, "invalid redis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	cfg := Default()
	cfg.Storage.Driver = DriverTables
	cfg.Storage.ConnectionString = "UseDevelopmentStorage=true"
	cfg.Stream.EventsQueue = "board-events"
	cfg.Auth.Domain = "tenant.auth0.com"
	cfg.Auth.Audience = "https://kanban"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://tenant.auth0.com/", cfg.Auth.Issuer())
	assert.Equal(t, "https://tenant.auth0.com/.well-known/jwks.json", cfg.Auth.JWKSURL())
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisConfig{ConnectionString: "redis://:pw@localhost:6380/2"}.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = RedisConfig{ConnectionString: "cache.example.net:6380,password=secret,ssl=True,abortConnect=False"}.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.example.net:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.NotNil(t, opts.TLSConfig)

	opts, err = RedisConfig{ConnectionString: "localhost:6379"}.Options()
	require.NoError(t, err)
	assert.Nil(t, opts.TLSConfig)

	_, err = RedisConfig{}.Options()
	assert.Error(t, err)
}
