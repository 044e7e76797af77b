package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the tool configuration loaded from environment variables.
// Command-line flags override it.
type Config struct {
	Backend  string // memory, bolt, dynamodb
	Path     string // blob file for memory, database file for bolt
	Database string
	Table    string // DynamoDB table
	Journal  string // change journal directory, empty to disable

	CaseInsensitive bool
	Compress        bool
	Verbose         bool
}

// LoadConfig loads configuration from environment variables.
// It loads a .env file if present (silent fail if not found).
func LoadConfig() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Backend:         getEnvOrDefault("FASTLS_BACKEND", "bolt"),
		Path:            getEnvOrDefault("FASTLS_PATH", "fastls.db"),
		Database:        getEnvOrDefault("FASTLS_DATABASE", "default"),
		Table:           getEnvOrDefault("FASTLS_TABLE", "fastls"),
		Journal:         os.Getenv("FASTLS_JOURNAL"),
		CaseInsensitive: getEnvBoolOrDefault("FASTLS_CASE_INSENSITIVE", false),
		Compress:        getEnvBoolOrDefault("FASTLS_COMPRESS", false),
		Verbose:         getEnvBoolOrDefault("FASTLS_VERBOSE", false),
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("FASTLS_DATABASE must not be empty")
	}
	switch c.Backend {
	case "memory", "bolt":
		if c.Path == "" {
			return fmt.Errorf("FASTLS_PATH is required for %s backend", c.Backend)
		}
	case "dynamodb":
		if c.Table == "" {
			return fmt.Errorf("FASTLS_TABLE is required for dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown backend: %s (must be memory, bolt, or dynamodb)", c.Backend)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
