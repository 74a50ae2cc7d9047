// Package config loads server settings from the environment. A .env file
// in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/pos-engine/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	// HTTP
	Port           string
	AllowedOrigins []string
	JWTSecret      string

	// Storage
	DBDriver string
	DBDSN    string

	// Engine
	Timezone      string
	CommitRetries int
	UsageBuffer   int

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	config := &Config{
		Port:           getEnv("POS_PORT", "8080"),
		AllowedOrigins: splitList(getEnv("POS_ALLOWED_ORIGINS", "*")),
		JWTSecret:      getEnv("POS_JWT_SECRET", ""),
		DBDriver:       strings.ToLower(getEnv("POS_DB_DRIVER", DriverSQLite)),
		DBDSN:          getEnv("POS_DB_DSN", "pos.db"),
		Timezone:       getEnv("POS_TIMEZONE", "Local"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogTimeFormat:  getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:      getEnv("LOG_OUTPUT", "stdout"),
	}

	var err error
	if config.CommitRetries, err = getEnvInt("POS_COMMIT_RETRIES", 3); err != nil {
		return nil, err
	}
	if config.UsageBuffer, err = getEnvInt("POS_USAGE_BUFFER", 256); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
		return fmt.Errorf("POS_DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("POS_DB_DSN is required")
	}
	if c.CommitRetries < 1 {
		return fmt.Errorf("POS_COMMIT_RETRIES must be at least 1")
	}
	if c.UsageBuffer < 1 {
		return fmt.Errorf("POS_USAGE_BUFFER must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("POS_TIMEZONE: %w", err)
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("POS_JWT_SECRET is required")
	}
	if c.Port == "" {
		return fmt.Errorf("POS_PORT is required")
	}
	return nil
}

// Location resolves the shop time zone used for receipt days and reports.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
