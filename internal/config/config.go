package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/providers"
)

// Config holds all configuration for the rates service
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	RedisURL       string
	NATSURL        string
	Providers      ProvidersConfig
	Quotes         QuotesConfig
	Reconciliation ReconciliationConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ProvidersConfig holds configuration for all courier providers
type ProvidersConfig struct {
	Delhivery  providers.Config
	Shiprocket providers.Config

	// Per-provider budgets for the quote fan-out
	Timeouts map[models.ProviderType]time.Duration
}

// QuotesConfig controls quote session behavior
type QuotesConfig struct {
	SessionTTL time.Duration
}

// ReconciliationConfig controls variance handling
type ReconciliationConfig struct {
	ThresholdPct float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8088"),
			Env:  getEnv("NODE_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "shipping_rates"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:  getEnv("NATS_URL", ""),
		// Provider env vars are optional - quoting degrades to table rates
		// when a provider is disabled or unreachable
		Providers: ProvidersConfig{
			Delhivery: providers.Config{
				APIKey:       getEnv("DELHIVERY_API_KEY", ""),
				APISecret:    "",
				BaseURL:      getEnv("DELHIVERY_BASE_URL", "https://track.delhivery.com/api"),
				Enabled:      getEnvBool("DELHIVERY_ENABLED", false),
				IsProduction: getEnvBool("DELHIVERY_IS_PRODUCTION", false),
			},
			Shiprocket: providers.Config{
				APIKey:       getEnv("SHIPROCKET_API_KEY", ""),
				APISecret:    getEnv("SHIPROCKET_API_SECRET", ""),
				BaseURL:      getEnv("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in"),
				Enabled:      getEnvBool("SHIPROCKET_ENABLED", false),
				IsProduction: getEnvBool("SHIPROCKET_IS_PRODUCTION", false),
			},
			Timeouts: map[models.ProviderType]time.Duration{
				models.ProviderDelhivery:  getEnvAsDuration("DELHIVERY_TIMEOUT", 3*time.Second),
				models.ProviderShiprocket: getEnvAsDuration("SHIPROCKET_TIMEOUT", 5*time.Second),
			},
		},
		Quotes: QuotesConfig{
			SessionTTL: getEnvAsDuration("QUOTE_SESSION_TTL", 30*time.Minute),
		},
		Reconciliation: ReconciliationConfig{
			ThresholdPct: getEnvAsFloat("VARIANCE_THRESHOLD_PCT", 5.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Providers.Delhivery.Enabled && c.Providers.Delhivery.APIKey == "" {
		return fmt.Errorf("DELHIVERY_API_KEY is required when DELHIVERY_ENABLED=true")
	}

	if c.Providers.Shiprocket.Enabled {
		if c.Providers.Shiprocket.APIKey == "" || c.Providers.Shiprocket.APISecret == "" {
			return fmt.Errorf("SHIPROCKET_API_KEY and SHIPROCKET_API_SECRET are required when SHIPROCKET_ENABLED=true")
		}
	}

	if c.Reconciliation.ThresholdPct < 0 {
		return fmt.Errorf("VARIANCE_THRESHOLD_PCT must not be negative")
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an integer environment variable or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets a float environment variable or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets a duration environment variable or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}
