package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Ticket token configuration
	TokenSecret string
	TokenTTL    time.Duration

	// Payment webhook configuration
	WebhookSecret string

	// Queue configuration
	WorkerCount         int
	PollInterval        time.Duration
	VisibilityTimeout   time.Duration
	MaxDeliveryAttempts int

	// Idempotency configuration
	IdempotencyLease     time.Duration
	IdempotencyRetention time.Duration

	// Check-in configuration
	ScanEchoWindow  time.Duration
	ScanBurstPerMin int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Tokens
		TokenSecret: getEnv("TOKEN_SECRET", "dev-only-secret"),
		TokenTTL:    getEnvAsDuration("TOKEN_TTL", "72h"),

		// Webhooks
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		// Queue
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 4),
		PollInterval:        getEnvAsDuration("POLL_INTERVAL", "250ms"),
		VisibilityTimeout:   getEnvAsDuration("VISIBILITY_TIMEOUT", "30s"),
		MaxDeliveryAttempts: getEnvAsInt("MAX_DELIVERY_ATTEMPTS", 5),

		// Idempotency
		IdempotencyLease:     getEnvAsDuration("IDEMPOTENCY_LEASE", "60s"),
		IdempotencyRetention: getEnvAsDuration("IDEMPOTENCY_RETENTION", "24h"),

		// Check-in
		ScanEchoWindow:  getEnvAsDuration("SCAN_ECHO_WINDOW", "30s"),
		ScanBurstPerMin: getEnvAsInt("SCAN_BURST_PER_MIN", 120),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
