// Package config provides configuration management for the wallet scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Blockfrost BlockfrostConfig
	Token      TokenConfig
	Sync       SyncConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// BlockfrostConfig holds blockchain data provider configuration
type BlockfrostConfig struct {
	BaseURL           string
	ProjectID         string
	RequestsPerSecond int
	PageSize          int
	Timeout           time.Duration
}

// TokenConfig holds token registry configuration
type TokenConfig struct {
	CacheTTL       time.Duration // positive-result cache lifetime
	NegativeTTL    time.Duration // how long failed resolutions are suppressed
	FetchBatchSize int           // max units per metadata batch request
}

// SyncConfig holds sync orchestrator configuration
type SyncConfig struct {
	MaxRetries    int           // retry budget per fetch/persist step
	RetryBaseWait time.Duration // initial backoff delay
	Workers       int           // concurrent sync jobs across wallets
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "wallet_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "wallet_scanner"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Blockfrost: BlockfrostConfig{
			BaseURL:           getEnv("BLOCKFROST_BASE_URL", "https://cardano-mainnet.blockfrost.io/api/v0"),
			ProjectID:         getEnv("BLOCKFROST_PROJECT_ID", ""),
			RequestsPerSecond: getEnvAsInt("BLOCKFROST_REQUESTS_PER_SECOND", 10),
			PageSize:          getEnvAsInt("BLOCKFROST_PAGE_SIZE", 100),
			Timeout:           getEnvAsDuration("BLOCKFROST_TIMEOUT", 30*time.Second),
		},
		Token: TokenConfig{
			CacheTTL:       getEnvAsDuration("TOKEN_CACHE_TTL", time.Hour),
			NegativeTTL:    getEnvAsDuration("TOKEN_NEGATIVE_TTL", 10*time.Minute),
			FetchBatchSize: getEnvAsInt("TOKEN_FETCH_BATCH_SIZE", 100),
		},
		Sync: SyncConfig{
			MaxRetries:    getEnvAsInt("SYNC_MAX_RETRIES", 3),
			RetryBaseWait: getEnvAsDuration("SYNC_RETRY_BASE_WAIT", time.Second),
			Workers:       getEnvAsInt("SYNC_WORKERS", 4),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
