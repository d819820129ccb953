package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Development bool
	// API configuration
	APIPort int
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	// Payment provider configuration
	ProviderAPIURL string
	PaymentBaseURL string
	// LegacyWebhookSecret gates the unscoped legacy webhook endpoint.
	LegacyWebhookSecret string
	// EncryptionKey is the hex-encoded 32-byte key used to encrypt provider
	// API tokens at rest.
	EncryptionKey string
	// PublicBaseURL is the externally reachable base of this service, used
	// to build per-streamer webhook URLs.
	PublicBaseURL string
	// TTSVoice is the default narration voice code.
	TTSVoice string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:         getEnvAsBool("DEVELOPMENT", false),
		PostgresUser:        getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:    getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:        getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:        getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:          getEnv("POSTGRES_DB", "kitsune"),
		ProviderAPIURL:      getEnv("PROVIDER_API_URL", "https://api.monobank.ua"),
		PaymentBaseURL:      getEnv("PAYMENT_BASE_URL", "https://send.monobank.ua"),
		LegacyWebhookSecret: getEnv("LEGACY_WEBHOOK_SECRET", ""),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		PublicBaseURL:       getEnv("PUBLIC_BASE_URL", "http://localhost:4009"),
		TTSVoice:            getEnv("TTS_VOICE", "uk"),

		APIPort: getEnvAsInt("API_PORT", 4009),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}

	if c.ProviderAPIURL == "" {
		return fmt.Errorf("PROVIDER_API_URL is required")
	}

	if c.PaymentBaseURL == "" {
		return fmt.Errorf("PAYMENT_BASE_URL is required")
	}

	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
