// Package config loads the top-level process configuration (HTTP server,
// database, logging, FAPI security settings) from an optional YAML file plus
// environment variable overrides, using the same decode/merge strategy the
// teacher used for its own service entry points.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence (event store, outbox, idempotency
// store, key-material store — all backed by the same Postgres connection
// pool; saga state is held in memory by the composition root).
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// FAPIConfig controls the security envelope (C8): the JWT audiences the
// gateway accepts, the trust-framework JWKS endpoint, and mTLS enforcement.
// The DPoP replay window lives on PlatformSettings below; the PAR lifetime
// cap is the fapi.MaxPARTTL constant.
type FAPIConfig struct {
	OpenBankingAudience string `json:"open_banking_audience" env:"FAPI_OPEN_BANKING_AUDIENCE"`
	InternalAudience    string `json:"internal_audience" env:"FAPI_INTERNAL_AUDIENCE"`
	JWKSEndpoint        string `json:"jwks_endpoint" env:"FAPI_JWKS_ENDPOINT"`
	RequireMTLS         bool   `json:"require_mtls" env:"FAPI_REQUIRE_MTLS"`
}

// DirectoryConfig controls the Participant Directory Client (C2).
type DirectoryConfig struct {
	BaseURL string `json:"base_url" env:"DIRECTORY_BASE_URL"`
	APIKey  string `json:"api_key" env:"DIRECTORY_API_KEY"`
}

// PlatformSettings aggregates the operator-tunable limits the use-case
// services, rate limiter, saga orchestrator, and security envelope read
// at startup (durations are expressed in seconds, matching
// DatabaseConfig.ConnMaxLifetime's convention, since envdecode has no
// special-cased time.Duration support in this module).
type PlatformSettings struct {
	RateLimitDefaultRPM     int `json:"rate_limit_default_rpm" env:"PLATFORM_RATE_LIMIT_DEFAULT_RPM"`
	RateLimitAISRPM         int `json:"rate_limit_ais_rpm" env:"PLATFORM_RATE_LIMIT_AIS_RPM"`
	BulkConcurrentCap       int `json:"bulk_concurrent_cap" env:"PLATFORM_BULK_CONCURRENT_CAP"`
	DefaultPageSize         int `json:"default_page_size" env:"PLATFORM_DEFAULT_PAGE_SIZE"`
	MaxPageSize             int `json:"max_page_size" env:"PLATFORM_MAX_PAGE_SIZE"`
	MaxFileSizeBytes        int `json:"max_file_size_bytes" env:"PLATFORM_MAX_FILE_SIZE_BYTES"`
	StatusPollsToComplete   int `json:"status_polls_to_complete" env:"PLATFORM_STATUS_POLLS_TO_COMPLETE"`
	QuoteTTLSeconds         int `json:"quote_ttl_seconds" env:"PLATFORM_QUOTE_TTL_SECONDS"`
	SnapshotInterval        int `json:"snapshot_interval" env:"PLATFORM_SNAPSHOT_INTERVAL"`
	SagaTimeoutSeconds      int `json:"saga_timeout_seconds" env:"PLATFORM_SAGA_TIMEOUT_SECONDS"`
	DPoPReplayWindowSeconds int `json:"dpop_replay_window_seconds" env:"PLATFORM_DPOP_REPLAY_WINDOW_SECONDS"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Database  DatabaseConfig   `json:"database"`
	Logging   LoggingConfig    `json:"logging"`
	FAPI      FAPIConfig       `json:"fapi"`
	Directory DirectoryConfig  `json:"directory"`
	Platform  PlatformSettings `json:"platform"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8443,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePrefix: "openfinance-core",
		},
		FAPI: FAPIConfig{
			OpenBankingAudience: "open-banking-api",
			InternalAudience:    "banking-api",
			RequireMTLS:         true,
		},
		Platform: PlatformSettings{
			RateLimitDefaultRPM:     1000,
			RateLimitAISRPM:         500,
			BulkConcurrentCap:       10,
			DefaultPageSize:         25,
			MaxPageSize:             100,
			MaxFileSizeBytes:        10 * 1024 * 1024,
			StatusPollsToComplete:   3,
			QuoteTTLSeconds:         30,
			SnapshotInterval:        100,
			SagaTimeoutSeconds:      60,
			DPoPReplayWindowSeconds: 300,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads a JSON configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride lets DATABASE_URL override any file-based DSN,
// matching the env-var precedence used throughout the composition root.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
