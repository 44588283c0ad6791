// Package config provides unified configuration loading helpers for the
// platform's services. This package eliminates duplication across service
// entry points by providing:
// - Environment variable loading with typed fallbacks
// - CSV parsing
// - Byte size parsing
// - Port configuration
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Environment Loading Helpers
// =============================================================================

// GetEnv retrieves an environment variable with optional default.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// RequireEnv retrieves a required environment variable.
// Returns empty string and logs a critical message if not found.
func RequireEnv(key string) string {
	value := GetEnv(key, "")
	if value == "" {
		log.Printf("CRITICAL: %s is required but not configured", key)
	}
	return value
}

// GetEnvBool retrieves a boolean environment variable with optional default.
// Accepts: "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	lower := strings.ToLower(val)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvInt retrieves an integer environment variable with optional default.
// Returns the default if the value is invalid.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration retrieves a duration environment variable with optional default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// ParseEnvInt parses an integer from the environment variable with the given key.
// Returns the parsed value and true if successful, or 0 and false if not set or invalid.
func ParseEnvInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseEnvDuration parses a duration from the environment variable with the given key.
// Returns the parsed duration and true if successful, or 0 and false if not set or invalid.
func ParseEnvDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// =============================================================================
// CSV Parsing
// =============================================================================

// SplitAndTrimCSV splits a CSV string and trims each part.
// Empty values are filtered out.
func SplitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// =============================================================================
// Byte Size Parsing
// =============================================================================

// ParseByteSize parses a size string like "1GB", "512MB" into bytes.
// Supported suffixes (case-insensitive, all 1024-based): b, k/kb/kib,
// m/mb/mib, g/gb/gib. A bare number is taken as bytes.
func ParseByteSize(raw string) (int64, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return 0, fmt.Errorf("empty size")
	}

	type suffix struct {
		value      string
		multiplier int64
	}

	suffixes := []suffix{
		{"gib", 1024 * 1024 * 1024},
		{"gb", 1024 * 1024 * 1024},
		{"g", 1024 * 1024 * 1024},
		{"mib", 1024 * 1024},
		{"mb", 1024 * 1024},
		{"m", 1024 * 1024},
		{"kib", 1024},
		{"kb", 1024},
		{"k", 1024},
		{"b", 1},
	}

	const maxInt64 = int64(^uint64(0) >> 1)

	for _, entry := range suffixes {
		if !strings.HasSuffix(value, entry.value) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(value, entry.value))
		if num == "" {
			return 0, fmt.Errorf("missing size value")
		}
		parsed, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, err
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("size must be positive")
		}
		if parsed > maxInt64/entry.multiplier {
			return 0, fmt.Errorf("size too large")
		}
		return parsed * entry.multiplier, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return parsed, nil
}

// =============================================================================
// Duration Parsing
// =============================================================================

// ParseDurationOrDefault parses a duration string or returns the default.
func ParseDurationOrDefault(raw string, defaultDuration time.Duration) time.Duration {
	if raw == "" {
		return defaultDuration
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed
	}
	return defaultDuration
}

// =============================================================================
// Bool Parsing
// =============================================================================

// ParseBoolOrDefault parses a boolean string or returns the default.
// Accepts: "true", "1", "yes", "y" (case-insensitive) as true.
func ParseBoolOrDefault(raw string, defaultValue bool) bool {
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// =============================================================================
// Integer Parsing
// =============================================================================

// ParseIntOrDefault parses an integer string or returns the default.
func ParseIntOrDefault(raw string, defaultValue int) int {
	if raw == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		return parsed
	}
	return defaultValue
}

// ParseInt64OrDefault parses an int64 string or returns the default.
func ParseInt64OrDefault(raw string, defaultValue int64) int64 {
	if raw == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return parsed
	}
	return defaultValue
}

// ParseUint32OrDefault parses a uint32 string or returns the default.
func ParseUint32OrDefault(raw string, defaultValue uint32) uint32 {
	if raw == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err == nil {
		return uint32(parsed)
	}
	return defaultValue
}

// =============================================================================
// Port Configuration
// =============================================================================

// GetPort retrieves the service port from environment, falling back to
// the services config file and finally to defaultPort.
func GetPort(serviceID string, defaultPort int) int {
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && parsed > 0 {
			return parsed
		}
	}

	cfg := LoadServicesConfigOrDefault()
	if settings := cfg.GetSettings(serviceID); settings != nil && settings.Port > 0 {
		return settings.Port
	}

	return defaultPort
}

// =============================================================================
// Timeouts
// =============================================================================

// DefaultTimeouts returns standard timeout values for different operations.
type DefaultTimeouts struct {
	HTTP     time.Duration
	Database time.Duration
	Outbound time.Duration
	Service  time.Duration
}

// GetDefaultTimeouts returns default timeout values.
func GetDefaultTimeouts() DefaultTimeouts {
	return DefaultTimeouts{
		HTTP:     30 * time.Second,
		Database: 10 * time.Second,
		Outbound: 15 * time.Second,
		Service:  15 * time.Second,
	}
}

// =============================================================================
// Platform Settings (SPEC_FULL ambient Configuration)
// =============================================================================

// PlatformSettings aggregates the tunables the core services read at
// startup, loaded from environment variables with sane production-safe
// defaults. A single instance is constructed once in the composition root
// and passed explicitly to each service constructor.
type PlatformSettings struct {
	// RateLimitDefaultRPS is the default requests-per-second budget per
	// (participantId, scope) admission-control bucket (C9).
	RateLimitDefaultRPS float64
	// RateLimitBurst is the token-bucket burst size for the same bucket.
	RateLimitBurst int
	// MaxPageSize bounds list-endpoint pagination.
	MaxPageSize int
	// DefaultPageSize is used when a caller omits a page size.
	DefaultPageSize int
	// MaxFileSizeBytes bounds bulk-payments CSV file uploads (C10).
	MaxFileSizeBytes int64
	// StatusPollsToComplete is the number of poll-driven status checks a
	// BulkFile must receive before autotransitioning (Open Question 1).
	StatusPollsToComplete int
	// QuoteTTL bounds how long an FX quote remains acceptable (C10).
	QuoteTTL time.Duration
	// SnapshotInterval is N in "snapshot every N events" for the event
	// store (C5/C7), clamped to [50,200] by LoadPlatformSettings.
	SnapshotInterval int
	// SagaTimeoutPollInterval is the ticker cadence for the saga timeout
	// monitor (C11).
	SagaTimeoutPollInterval time.Duration
	// DPoPProofWindow bounds how far a DPoP proof's iat may drift from now.
	DPoPProofWindow time.Duration
	// PARRequestTTL bounds how long a pushed authorization request URI is
	// redeemable before expiring unconsumed.
	PARRequestTTL time.Duration
	// IdempotencyKeyTTL bounds how long a recorded idempotency key is
	// honored before it may be reused (C3).
	IdempotencyKeyTTL time.Duration
}

// LoadPlatformSettings loads PlatformSettings from the environment, applying
// the defaults below for anything unset.
func LoadPlatformSettings() PlatformSettings {
	snapshotInterval := GetEnvInt("SNAPSHOT_INTERVAL", 100)
	if snapshotInterval < 50 {
		snapshotInterval = 50
	}
	if snapshotInterval > 200 {
		snapshotInterval = 200
	}

	rateLimitRPS, _ := strconv.ParseFloat(GetEnv("RATE_LIMIT_DEFAULT_RPS", "10"), 64)
	if rateLimitRPS <= 0 {
		rateLimitRPS = 10
	}

	return PlatformSettings{
		RateLimitDefaultRPS:     rateLimitRPS,
		RateLimitBurst:          GetEnvInt("RATE_LIMIT_BURST", 20),
		MaxPageSize:             GetEnvInt("MAX_PAGE_SIZE", 200),
		DefaultPageSize:         GetEnvInt("DEFAULT_PAGE_SIZE", 25),
		MaxFileSizeBytes:        int64(GetEnvInt("MAX_FILE_SIZE_BYTES", 10*1024*1024)),
		StatusPollsToComplete:   GetEnvInt("STATUS_POLLS_TO_COMPLETE", 3),
		QuoteTTL:                GetEnvDuration("QUOTE_TTL", 30*time.Second),
		SnapshotInterval:        snapshotInterval,
		SagaTimeoutPollInterval: GetEnvDuration("SAGA_TIMEOUT_POLL_INTERVAL", 5*time.Second),
		DPoPProofWindow:         GetEnvDuration("DPOP_PROOF_WINDOW", 60*time.Second),
		PARRequestTTL:           GetEnvDuration("PAR_REQUEST_TTL", 90*time.Second),
		IdempotencyKeyTTL:       GetEnvDuration("IDEMPOTENCY_KEY_TTL", 24*time.Hour),
	}
}
