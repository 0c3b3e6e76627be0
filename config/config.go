// Package config loads board-api settings from an optional YAML file and
// environment overrides.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file read by FromEnv.
const EnvConfigPath = "KANBAN_CONFIG"

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverTables   = "tables"

	LocalModeHS256 = "hs256"
)

type Config struct {
	Port      string          `yaml:"port"`
	Debug     bool            `yaml:"debug"`
	BoardID   string          `yaml:"board_id"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Stream    StreamConfig    `yaml:"stream"`
	Integrity IntegrityConfig `yaml:"integrity"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connection_string"` // Azure Storage, used by tables and the event queue
	SectionsTable    string `yaml:"sections_table"`
	TasksTable       string `yaml:"tasks_table"`
	DatabaseURL      string `yaml:"database_url"` // postgres URL or sqlite DSN
}

type RedisConfig struct {
	// ConnectionString is a redis:// URL or "host:port,password=...,ssl=true".
	// Empty runs without Redis on a single instance.
	ConnectionString string        `yaml:"connection_string"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
}

type AuthConfig struct {
	Domain      string `yaml:"domain"`
	Audience    string `yaml:"audience"`
	LocalMode   string `yaml:"local_mode"`
	LocalSecret string `yaml:"local_secret"`
}

type StreamConfig struct {
	Heartbeat        time.Duration `yaml:"heartbeat"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	EventsQueue      string        `yaml:"events_queue"`
}

type IntegrityConfig struct {
	// Schedule is a cron spec for the repair sweeper; empty disables it.
	Schedule string `yaml:"schedule"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Port:    "8080",
		BoardID: "default-board",
		Storage: StorageConfig{
			Driver:        DriverMemory,
			SectionsTable: "Sections",
			TasksTable:    "Tasks",
		},
		Redis: RedisConfig{
			CacheTTL:   30 * time.Second,
			DeduperTTL: 24 * time.Hour,
		},
		Stream: StreamConfig{
			Heartbeat:        25 * time.Second,
			SubscriberBuffer: 64,
		},
		Integrity: IntegrityConfig{Schedule: "@every 10m"},
	}
}

// FromEnv loads the file named by KANBAN_CONFIG, if any.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	if v, ok := lookup("DEBUG"); ok && v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DEBUG: %w", err))
		} else {
			c.Debug = dbg
		}
	}
	str("BOARD_ID", &c.BoardID)

	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("STORAGE_CONNECTION_STRING", &c.Storage.ConnectionString)
	str("SECTIONS_TABLE", &c.Storage.SectionsTable)
	str("TASKS_TABLE", &c.Storage.TasksTable)
	str("DATABASE_URL", &c.Storage.DatabaseURL)

	str("REDIS_CONNECTION_STRING", &c.Redis.ConnectionString)
	dur("BOARD_CACHE_TTL", &c.Redis.CacheTTL)
	dur("DEDUPER_TTL", &c.Redis.DeduperTTL)

	str("AUTH0_DOMAIN", &c.Auth.Domain)
	str("AUTH0_AUDIENCE", &c.Auth.Audience)
	str("LOCAL_AUTH_MODE", &c.Auth.LocalMode)
	str("LOCAL_AUTH_SHARED_SECRET", &c.Auth.LocalSecret)

	dur("STREAM_HEARTBEAT", &c.Stream.Heartbeat)
	if v, ok := lookup("SUBSCRIBER_BUFFER"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SUBSCRIBER_BUFFER: %w", err))
		} else {
			c.Stream.SubscriberBuffer = n
		}
	}
	str("BOARD_EVENTS_QUEUE", &c.Stream.EventsQueue)

	if v, ok := lookup("INTEGRITY_SCHEDULE"); ok {
		c.Integrity.Schedule = strings.TrimSpace(v)
	}
	return errors.Join(errs...)
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if strings.TrimSpace(c.BoardID) == "" {
		return errors.New("board_id is required")
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the %s driver", c.Storage.Driver)
		}
	case DriverTables:
		if c.Storage.ConnectionString == "" {
			return errors.New("storage.connection_string is required for the tables driver")
		}
		if c.Storage.SectionsTable == "" || c.Storage.TasksTable == "" {
			return errors.New("storage.sections_table and storage.tasks_table are required for the tables driver")
		}
	default:
		return fmt.Errorf("invalid storage.driver: %s (must be 'memory', 'sqlite', 'postgres' or 'tables')", c.Storage.Driver)
	}
	if c.Stream.EventsQueue != "" && c.Storage.ConnectionString == "" {
		return errors.New("storage.connection_string is required when stream.events_queue is set")
	}

	if c.Redis.CacheTTL <= 0 || c.Redis.DeduperTTL <= 0 {
		return errors.New("redis ttls must be greater than zero")
	}
	if c.Redis.ConnectionString != "" {
		if _, err := c.Redis.Options(); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Auth.LocalMode) {
	case "":
		if (c.Auth.Domain == "") != (c.Auth.Audience == "") {
			return errors.New("auth.domain and auth.audience must be set together")
		}
	case LocalModeHS256:
		if c.Auth.LocalSecret == "" {
			return errors.New("auth.local_secret is required when auth.local_mode is hs256")
		}
	default:
		return fmt.Errorf("unsupported auth.local_mode: %s", c.Auth.LocalMode)
	}

	if c.Stream.Heartbeat <= 0 {
		return errors.New("stream.heartbeat must be greater than zero")
	}
	if c.Stream.SubscriberBuffer <= 0 {
		return errors.New("stream.subscriber_buffer must be greater than zero")
	}
	return nil
}

// AuthEnabled reports whether requests must carry a bearer token.
func (a AuthConfig) AuthEnabled() bool {
	return a.LocalMode != "" || a.Domain != ""
}

// Issuer is the expected token issuer for the configured Auth0 tenant.
func (a AuthConfig) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// JWKSURL is where the tenant publishes its signing keys.
func (a AuthConfig) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Options parses the connection string, accepting either a redis:// URL or
// the "host:port,password=...,ssl=true" form.
func (r RedisConfig) Options() (*redis.Options, error) {
	if r.ConnectionString == "" {
		return nil, errors.New("redis connection string is empty")
	}
	if opts, err := redis.ParseURL(r.ConnectionString); err == nil {
		return opts, nil
	}
	parts := strings.Split(r.ConnectionString, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "://") {
		return nil, errors.New("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
