package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrMissingDatabaseDSN  = errors.New("DB_DSN is required")
	ErrMissingListenAddr   = errors.New("HTTP_LISTEN_ADDR is required")
	ErrInvalidTimeout      = errors.New("TEST_TIMEOUT and PROBE_TIMEOUT must be > 0")
	ErrMissingSecretsKeyID = errors.New("SECRETS_KEY_ID is required when SECRETS_KEYS is set")
)

type Config struct {
	HTTP    HTTPConfig
	DB      DBConfig
	Redis   RedisConfig
	Run     RunConfig
	Catalog CatalogConfig
	Secrets SecretsConfig
	Log     LogConfig

	ProvidersFile string
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	MaxRetries  int
	BackoffBase time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// Enabled reports whether a redis cache was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type RunConfig struct {
	TestTimeout   time.Duration
	ProbeTimeout  time.Duration
	ProbeDebounce time.Duration
}

type CatalogConfig struct {
	Timeout time.Duration
	// TranslatePerHour caps translation calls per hour when redis is
	// configured. Zero disables the cap.
	TranslatePerHour int64
}

// SecretsConfig enables sealing of stored API keys. Keys is a comma list of
// id:base64 pairs.
type SecretsConfig struct {
	CurrentKeyID string
	Keys         string
}

func (s SecretsConfig) Enabled() bool {
	return strings.TrimSpace(s.Keys) != ""
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("HTTP_LISTEN_ADDR", "127.0.0.1:8787"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			MaxRetries:  mustInt("HTTP_MAX_RETRIES", 0),
			BackoffBase: mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", DriverSQLite)),
			DSN:         mustEnv("DB_DSN", "file:llmtester.db"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
			CacheTTL: mustDuration("CACHE_TTL", time.Hour),
		},
		Run: RunConfig{
			TestTimeout:   mustDuration("TEST_TIMEOUT", 60*time.Second),
			ProbeTimeout:  mustDuration("PROBE_TIMEOUT", 10*time.Second),
			ProbeDebounce: mustDuration("PROBE_DEBOUNCE", 5*time.Second),
		},
		Catalog: CatalogConfig{
			Timeout:          mustDuration("CATALOG_TIMEOUT", 15*time.Second),
			TranslatePerHour: int64(mustInt("TRANSLATE_PER_HOUR", 0)),
		},
		Secrets: SecretsConfig{
			CurrentKeyID: mustEnv("SECRETS_KEY_ID", ""),
			Keys:         mustEnv("SECRETS_KEYS", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
		ProvidersFile: mustEnv("PROVIDERS_FILE", ""),
	}

	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.HTTP.ListenAddr == "" {
		return nil, ErrMissingListenAddr
	}
	if cfg.DB.Driver != DriverSQLite && cfg.DB.Driver != DriverPostgres && cfg.DB.Driver != "pgx" && cfg.DB.Driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	if cfg.Run.TestTimeout <= 0 || cfg.Run.ProbeTimeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if cfg.Secrets.Enabled() && cfg.Secrets.CurrentKeyID == "" {
		return nil, ErrMissingSecretsKeyID
	}
	if cfg.HTTP.MaxRetries < 0 {
		cfg.HTTP.MaxRetries = 0
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
