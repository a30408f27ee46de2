package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Odoo      OdooConfig
	Dispatch  DispatchConfig
	Log       LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // postgres, sqlite
	Path     string // sqlite file
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// OdooConfig holds the ERP connection settings
type OdooConfig struct {
	Simulate     bool
	URL          string
	Database     string
	Username     string
	Password     string
	APIKey       string
	Currency     string
	Timeout      time.Duration
	PullInterval int // minutes, 0 disables the scheduled pull

	// Simulated client tuning
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Secret returns the API key when present, otherwise the password.
func (c OdooConfig) Secret() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.Password
}

// DispatchConfig selects the deferred push transport
type DispatchConfig struct {
	Driver string // inline, memory, redis, kafka
	Redis  RedisConfig
	Kafka  KafkaConfig
}

// RedisConfig holds Redis connection settings for the dispatch queue
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// KafkaConfig holds Kafka settings for the dispatch queue
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string // json, console
}

var (
	dispatchDrivers = map[string]bool{"inline": true, "memory": true, "redis": true, "kafka": true}
	databaseDrivers = map[string]bool{"postgres": true, "sqlite": true}
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3210"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Path:     getEnv("DB_PATH", "pricesync.db"),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "pricesync"),
			Alter:    getBoolEnv("DB_ALTER", false),
		},
		Odoo: OdooConfig{
			Simulate:     getBoolEnv("ODOO_SIMULATE", true),
			URL:          strings.TrimRight(os.Getenv("ODOO_URL"), "/"),
			Database:     os.Getenv("ODOO_DB"),
			Username:     os.Getenv("ODOO_USERNAME"),
			Password:     os.Getenv("ODOO_PASSWORD"),
			APIKey:       os.Getenv("ODOO_API_KEY"),
			Currency:     strings.ToUpper(getEnv("ODOO_CURRENCY", "USD")),
			Timeout:      time.Duration(getIntEnv("ODOO_TIMEOUT", 15)) * time.Second,
			PullInterval: getIntEnv("ODOO_PULL_INTERVAL", 0),
			FailureRate:  getFloatEnv("ODOO_SIMULATE_FAILURE_RATE", 0.1),
			MinDelay:     time.Duration(getIntEnv("ODOO_SIMULATE_MIN_DELAY_MS", 150)) * time.Millisecond,
			MaxDelay:     time.Duration(getIntEnv("ODOO_SIMULATE_MAX_DELAY_MS", 300)) * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			Driver: getEnv("DISPATCH_DRIVER", "memory"),
			Redis: RedisConfig{
				Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
				Password: os.Getenv("REDIS_PASSWORD"),
				DB:       getIntEnv("REDIS_DB", 0),
				Key:      getEnv("REDIS_DISPATCH_KEY", "pricesync:push"),
			},
			Kafka: KafkaConfig{
				Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
				Topic:   getEnv("KAFKA_PUSH_TOPIC", "pricesync.product.push"),
				GroupID: getEnv("KAFKA_GROUP_ID", "pricesync-push"),
			},
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if !dispatchDrivers[cfg.Dispatch.Driver] {
		return nil, fmt.Errorf("DISPATCH_DRIVER %q is not supported", cfg.Dispatch.Driver)
	}
	if !databaseDrivers[cfg.Database.Driver] {
		return nil, fmt.Errorf("DB_DRIVER %q is not supported", cfg.Database.Driver)
	}
	if cfg.Odoo.FailureRate < 0 || cfg.Odoo.FailureRate > 1 {
		return nil, fmt.Errorf("ODOO_SIMULATE_FAILURE_RATE must be between 0 and 1")
	}

	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
