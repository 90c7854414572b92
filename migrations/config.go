package main

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// MigrationTable is the name of the table tracking applied migrations
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String returns a representation of the configuration safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// maskDatabaseURL replaces the password in a database URL for logging.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	rest := url[schemeEnd+3:]

	// Last "@" before the path separates userinfo from host; passwords may
	// themselves contain "@".
	hostStart := strings.IndexAny(rest, "/?#")
	authority := rest
	if hostStart != -1 {
		authority = rest[:hostStart]
	}

	atPos := strings.LastIndex(authority, "@")
	if atPos == -1 {
		return url
	}

	userInfo := authority[:atPos]

	colonPos := strings.Index(userInfo, ":")
	if colonPos == -1 || colonPos == len(userInfo)-1 {
		return url
	}

	masked := userInfo[:colonPos+1] + "***"

	return url[:schemeEnd+3] + masked + rest[atPos:]
}
