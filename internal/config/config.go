package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port     string
	Mode     string
	LogLevel string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Stripe configuration
	StripeSecretKey     string
	StripeWebhookSecret string

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// Downstream change webhook
	ChangeWebhookURL    string
	ChangeWebhookSecret string

	// Subscription engine configuration
	TrialDuration time.Duration
	PairingTTL    time.Duration
	SweepInterval time.Duration
	ServiceName   string
}

var AppConfig *Config

func InitConfig() error {
	// .env is optional
	_ = godotenv.Load()

	AppConfig = Load()
	return nil
}

// Load reads the configuration from the environment without touching AppConfig.
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		Mode:                getEnv("GIN_MODE", "debug"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		BrevoAPIKey:         getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:      getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:       getEnv("BREVO_FROM_NAME", "Subscription Service"),
		ChangeWebhookURL:    getEnv("CHANGE_WEBHOOK_URL", ""),
		ChangeWebhookSecret: getEnv("CHANGE_WEBHOOK_SECRET", ""),
		TrialDuration:       getEnvDuration("TRIAL_DURATION", 48*time.Hour),
		PairingTTL:          getEnvDuration("PAIRING_TTL", 24*time.Hour),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Hour),
		ServiceName:         getEnv("SERVICE_NAME", "subscription-service"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("48h") or a bare number of minutes.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		if minutes := getEnvInt(key, 0); minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}
