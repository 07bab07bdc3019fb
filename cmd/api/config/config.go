package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type AppConfig struct {
	Port           int
	Storage        string
	DatabaseURL    string
	MigrationsPath string
	LogLevel       string

	RequestTimeout     time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int

	NotificationsEnabled bool
	NotificationsBaseURL string
	NotificationsTimeout time.Duration

	PaymentGatewayURL     string
	PaymentGatewayTimeout time.Duration

	CirculationAtomic bool
}

// Load reads the configuration from the environment, after loading a .env file when
// one exists. Malformed values fall back to their default with a warning.
func Load() AppConfig {
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file loaded, relying on the environment", "error", err)
	}

	storage := strings.ToLower(getEnv("STORAGE", StoragePostgres))
	if storage != StoragePostgres && storage != StorageMemory {
		slog.Warn("invalid STORAGE, using default", "value", storage, "default", StoragePostgres)
		storage = StoragePostgres
	}

	return AppConfig{
		Port:           getEnvAsInt("PORT", 8080),
		Storage:        storage,
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrationsPath: getEnv("DATABASE_MIGRATIONS_PATH", "migrations"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		RequestTimeout:     getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 5*time.Second),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 30),

		NotificationsEnabled: getEnvAsBool("NOTIFICATIONS_ENABLED", false),
		NotificationsBaseURL: getEnv("NOTIFICATIONS_BASE_URL", "https://ntfy.sh"),
		NotificationsTimeout: getEnvAsDuration("NOTIFICATIONS_TIMEOUT", 2*time.Second),

		PaymentGatewayURL:     getEnv("PAYMENT_GATEWAY_URL", ""),
		PaymentGatewayTimeout: getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 5*time.Second),

		CirculationAtomic: getEnvAsBool("CIRCULATION_ATOMIC", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", valueStr, "default", defaultValue.String())
		return defaultValue
	}
	return value
}
