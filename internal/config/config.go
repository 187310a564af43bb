package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string

	PostgresDSN string
	AutoMigrate bool

	RedisURL string
	RedisTTL time.Duration

	KafkaBrokers     []string
	KafkaTopicPrefix string

	AuthSecret string
	DevTokens  bool

	LogLevel  string
	LogFormat string

	WeightsFile string
	BulkWorkers int
	LoginTZ     string

	RateBurst  int
	RatePerSec int
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Env:              strings.ToLower(getEnv("AWARERISK_ENV", "development")),
		HTTPAddr:         getEnv("AWARERISK_HTTP_ADDR", ":8080"),
		GRPCAddr:         getEnv("AWARERISK_GRPC_ADDR", ":9090"),
		PostgresDSN:      os.Getenv("AWARERISK_PG_DSN"),
		AutoMigrate:      parseBoolEnv("AWARERISK_AUTO_MIGRATE", false),
		RedisURL:         os.Getenv("AWARERISK_REDIS_URL"),
		RedisTTL:         parseDurationEnv("AWARERISK_REDIS_TTL", 10*time.Minute),
		KafkaBrokers:     parseListEnv("AWARERISK_KAFKA_BROKERS"),
		KafkaTopicPrefix: getEnv("AWARERISK_KAFKA_TOPIC_PREFIX", "awarerisk."),
		AuthSecret:       os.Getenv("AWARERISK_AUTH_SECRET"),
		DevTokens:        parseBoolEnv("AWARERISK_DEV_TOKENS", false),
		LogLevel:         getEnv("AWARERISK_LOG_LEVEL", "info"),
		LogFormat:        getEnv("AWARERISK_LOG_FORMAT", "json"),
		WeightsFile:      os.Getenv("AWARERISK_WEIGHTS_FILE"),
		BulkWorkers:      parseIntEnv("AWARERISK_BULK_WORKERS", 8),
		LoginTZ:          getEnv("AWARERISK_LOGIN_TZ", "UTC"),
		RateBurst:        parseIntEnv("AWARERISK_RATE_BURST", 50),
		RatePerSec:       parseIntEnv("AWARERISK_RATE_PER_SEC", 20),
	}

	if cfg.BulkWorkers <= 0 {
		return nil, fmt.Errorf("AWARERISK_BULK_WORKERS must be positive, got %d", cfg.BulkWorkers)
	}
	if _, err := time.LoadLocation(cfg.LoginTZ); err != nil {
		return nil, fmt.Errorf("AWARERISK_LOGIN_TZ: %w", err)
	}
	if cfg.IsProduction() && cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AWARERISK_AUTH_SECRET is required in production")
	}
	if cfg.IsProduction() && cfg.DevTokens {
		return nil, fmt.Errorf("AWARERISK_DEV_TOKENS cannot be enabled in production")
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoginLocation returns the zone used to evaluate login hours.
func (c *Config) LoginLocation() *time.Location {
	loc, err := time.LoadLocation(c.LoginTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseIntEnv(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseListEnv(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
