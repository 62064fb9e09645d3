package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	DatabaseURL      string
	UseMemoryBackend bool
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	AuthJWTSecret    string

	// Booking rules
	ClinicTimezone     string
	BookingHorizonDays int
	SlotMinutes        int
	DefaultShiftStart  string
	DefaultShiftEnd    string

	// Per-call timeout and compensation retry policy
	CallTimeout             time.Duration
	CompensationMaxAttempts int
	CompensationBaseDelay   time.Duration

	// Wallet ledger service
	WalletBaseURL string
	WalletAPIKey  string

	// Notifications
	NotificationQueueURL string
	SESFromEmail         string
	SESFromName          string
	OutboxInterval       time.Duration
	OutboxMaxAttempts    int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Saga repair worker
	ReconcileInterval   time.Duration
	ReconcileBatchSize  int
	ReconcileStaleAfter time.Duration

	CacheMaxTTL time.Duration
	SignalTTL   time.Duration

	// HTTP edge
	CORSAllowedOrigins []string
	BookingRateLimit   int
	BookingRateWindow  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		UseMemoryBackend: getEnvAsBool("USE_MEMORY_BACKEND", false),
		RedisAddr:        getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		AuthJWTSecret:    getEnv("AUTH_JWT_SECRET", ""),

		ClinicTimezone:     getEnv("CLINIC_TIMEZONE", "UTC"),
		BookingHorizonDays: getEnvAsInt("BOOKING_HORIZON_DAYS", 30),
		SlotMinutes:        getEnvAsInt("SLOT_MINUTES", 30),
		DefaultShiftStart:  getEnv("DEFAULT_SHIFT_START", "08:00"),
		DefaultShiftEnd:    getEnv("DEFAULT_SHIFT_END", "17:00"),

		CallTimeout:             getEnvAsDuration("CALL_TIMEOUT", 5*time.Second),
		CompensationMaxAttempts: getEnvAsInt("COMPENSATION_MAX_ATTEMPTS", 3),
		CompensationBaseDelay:   getEnvAsDuration("COMPENSATION_BASE_DELAY", 200*time.Millisecond),

		WalletBaseURL: getEnv("WALLET_BASE_URL", ""),
		WalletAPIKey:  getEnv("WALLET_API_KEY", ""),

		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		SESFromEmail:         getEnv("SES_FROM_EMAIL", ""),
		SESFromName:          getEnv("SES_FROM_NAME", "Consult Desk"),
		OutboxInterval:       getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:    getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ReconcileInterval:   getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileBatchSize:  getEnvAsInt("RECONCILE_BATCH_SIZE", 25),
		ReconcileStaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 2*time.Minute),

		CacheMaxTTL: getEnvAsDuration("CACHE_MAX_TTL", 15*time.Minute),
		SignalTTL:   getEnvAsDuration("SIGNAL_TTL", 24*time.Hour),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		BookingRateLimit:   getEnvAsInt("BOOKING_RATE_LIMIT", 10),
		BookingRateWindow:  getEnvAsDuration("BOOKING_RATE_WINDOW", time.Minute),
	}
}

// Location resolves ClinicTimezone, falling back to UTC for unknown zones.
func (c *Config) Location() *time.Location {
	name := strings.TrimSpace(c.ClinicTimezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
