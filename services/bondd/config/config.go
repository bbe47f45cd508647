package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	nativecommon "bondledger/native/common"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"

	defaultListen = ":8080"

	defaultAuthSecretEnv = "BONDD_JWT_SECRET"
)

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress string               `yaml:"listen"`
	Environment   string               `yaml:"environment"`
	Genesis       string               `yaml:"genesis"`
	Storage       StorageConfig        `yaml:"storage"`
	Journal       JournalConfig        `yaml:"journal"`
	TLS           TLSConfig            `yaml:"tls"`
	Logging       LoggingConfig        `yaml:"logging"`
	Telemetry     TelemetryConfig      `yaml:"telemetry"`
	RateLimits    map[string]RateLimit `yaml:"rate_limits"`
	CORS          CORSConfig           `yaml:"cors"`
	Auth          AuthConfig           `yaml:"auth"`
	Stream        StreamConfig         `yaml:"stream"`
	// Pauses lists native modules (vault, bond, redemption) that reject
	// mutations.
	Pauses []string `yaml:"pauses"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JournalConfig points at the event journal: a SQLite DSN, or a postgres://
// URL. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// StreamConfig tunes the websocket event stream. Backlog is the number of
// events buffered per subscriber before it is disconnected.
type StreamConfig struct {
	Backlog int `yaml:"backlog"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Requests   bool   `yaml:"requests"`
}

type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
}

type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig enables bearer token checks on envelope submission. The HMAC
// secret is read from the named environment variable.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretEnv string `yaml:"secret_env"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// Secret resolves the HMAC secret from the environment.
func (cfg AuthConfig) Secret() string {
	return strings.TrimSpace(os.Getenv(cfg.SecretEnv))
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

var pausableModules = map[string]struct{}{
	"vault":      {},
	"bond":       {},
	"redemption": {},
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
		Storage:       StorageConfig{Backend: BackendLevelDB, Path: "data/bondledger"},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendLevelDB
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Logging.Level = strings.TrimSpace(cfg.Logging.Level)
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Auth.SecretEnv = strings.TrimSpace(cfg.Auth.SecretEnv)
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = defaultAuthSecretEnv
	}
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)

	pauses := make([]string, 0, len(cfg.Pauses))
	for _, module := range cfg.Pauses {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			pauses = append(pauses, trimmed)
		}
	}
	cfg.Pauses = pauses

	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, origin := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Storage.Backend {
	case BackendLevelDB, BackendBolt:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if _, err := cfg.Logging.SlogLevel(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for name, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limits.%s: requests_per_minute must be positive", name)
		}
		if limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: burst must not be negative", name)
		}
	}
	if cfg.Stream.Backlog < 0 {
		return fmt.Errorf("stream: backlog must not be negative")
	}
	for _, module := range cfg.Pauses {
		if _, ok := pausableModules[module]; !ok {
			return fmt.Errorf("pauses: unknown module %q", module)
		}
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether TLS material is configured.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

// SlogLevel parses the configured level, defaulting to info.
func (cfg LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if cfg.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// PauseSet converts the configured pauses into a module pause view.
func (cfg Config) PauseSet() nativecommon.Pauses {
	return nativecommon.NewPauses(cfg.Pauses...)
}
