package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration; empty URL selects the in-memory store
	RedisURL string

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Marketplace
	CommissionRate        decimal.Decimal
	CallbackSecret        string
	PendingTransactionTTL time.Duration
	ReaperInterval        time.Duration

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string
	NotifyWorkers      int
	NotifyQueueSize    int

	// MoMo gateway
	Momo MomoConfig

	// Rate limiting, requests per minute per client IP
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics bool

	// Gateway sandbox
	SandboxPort string
}

type MomoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	ReturnURL   string
	NotifyURL   string
}

// Enabled reports whether enough credentials are set to create orders.
func (m MomoConfig) Enabled() bool {
	return m.PartnerCode != "" && m.AccessKey != "" && m.SecretKey != "" && m.Endpoint != ""
}

// LoadConfig reads the environment, after loading an optional .env file.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Auth
		JWTSecret:       getEnv("JWT_SECRET", "change-me"),
		AccessTokenTTL:  getEnvAsDuration("ACCESS_TOKEN_TTL", "15m"),
		RefreshTokenTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", "168h"),

		// Marketplace
		CommissionRate:        getEnvAsDecimal("COMMISSION_RATE", "0.05"),
		CallbackSecret:        getEnv("CALLBACK_SECRET", ""),
		PendingTransactionTTL: getEnvAsDuration("PENDING_TRANSACTION_TTL", "0s"),
		ReaperInterval:        getEnvAsDuration("REAPER_INTERVAL", "1m"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "ticket-resale-backend"),
		NotifyWorkers:      getEnvAsInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize:    getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),

		// MoMo
		Momo: MomoConfig{
			PartnerCode: getEnv("MOMO_PARTNER_CODE", ""),
			AccessKey:   getEnv("MOMO_ACCESS_KEY", ""),
			SecretKey:   getEnv("MOMO_SECRET_KEY", ""),
			Endpoint:    getEnv("MOMO_API_ENDPOINT", ""),
			ReturnURL:   getEnv("MOMO_RETURN_URL", "http://localhost:3000/payment/result"),
			NotifyURL:   getEnv("MOMO_NOTIFY_URL", "http://localhost:8090/api/payments/momo/ipn"),
		},

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),

		SandboxPort: getEnv("SANDBOX_PORT", "8091"),
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
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)
	if value, err := decimal.NewFromString(valueStr); err == nil {
		return value
	}
	return decimal.RequireFromString(defaultValue)
}
