package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// Database
	DatabaseURL    string
	DatabaseDriver string
	SQLitePath     string
	LocalMode      bool

	// Redis
	RedisURL string

	// RabbitMQ
	RabbitMQURL string

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxStatsInterval    time.Duration
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// Worker
	WorkerHealthAddr string

	// API
	APIAddr       string
	PublicBaseURL string
	JWTSigningKey string
	JWTIssuer     string

	// Payment provider (Orange Money web payment)
	ProviderBaseURL      string
	ProviderTokenURL     string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderMerchantKey  string
	ProviderCurrency     string
	ProviderLang         string
	ProviderTimeout      time.Duration

	// Pricing, keyed "<SUBSCRIBER_TYPE>_<PLAN>" with decimal string values.
	PriceCurrency string
	Prices        map[string]string

	// Checkout
	CheckoutAbandonAfter time.Duration
	CheckoutLockTTL      time.Duration
	SweepInterval        time.Duration
}

// DefaultPrices are the monthly unit prices used when no PRICE_* override is set.
var DefaultPrices = map[string]string{
	"DOCTOR_STANDARD":   "10000",
	"DOCTOR_PREMIUM":    "25000",
	"HOSPITAL_STANDARD": "50000",
	"HOSPITAL_PREMIUM":  "120000",
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	driver := getEnv("DATABASE_DRIVER", "")
	if driver == "" {
		if databaseURL == "" {
			driver = "sqlite"
		} else {
			driver = "postgres"
		}
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    databaseURL,
		DatabaseDriver: driver,
		SQLitePath:     getEnv("SQLITE_PATH", getDefaultSQLitePath()),
		LocalMode:      driver == "sqlite",

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxStatsInterval:    getDurationEnv("OUTBOX_STATS_INTERVAL", 30*time.Second),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 14),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", 24*time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),

		APIAddr:       getEnv("API_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),
		JWTIssuer:     getEnv("JWT_ISSUER", ""),

		ProviderBaseURL:      strings.TrimRight(getEnv("OM_BASE_URL", "https://api.orange.com/orange-money-webpay/dev/v1"), "/"),
		ProviderTokenURL:     getEnv("OM_TOKEN_URL", "https://api.orange.com/oauth/v3/token"),
		ProviderClientID:     getEnv("OM_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("OM_CLIENT_SECRET", ""),
		ProviderMerchantKey:  getEnv("OM_MERCHANT_KEY", ""),
		ProviderCurrency:     getEnv("OM_CURRENCY", "XOF"),
		ProviderLang:         getEnv("OM_LANG", "fr"),
		ProviderTimeout:      getDurationEnv("OM_TIMEOUT", 20*time.Second),

		PriceCurrency: getEnv("PRICE_CURRENCY", "XOF"),
		Prices:        loadPrices(),

		CheckoutAbandonAfter: getDurationEnv("CHECKOUT_ABANDON_AFTER", 30*time.Minute),
		CheckoutLockTTL:      getDurationEnv("CHECKOUT_LOCK_TTL", 45*time.Second),
		SweepInterval:        getDurationEnv("SWEEP_INTERVAL", 5*time.Minute),
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func loadPrices() map[string]string {
	prices := make(map[string]string, len(DefaultPrices))
	for key, value := range DefaultPrices {
		prices[key] = getEnv("PRICE_"+key, value)
	}
	return prices
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".medplan/data.db"
	}
	return home + "/.medplan/data.db"
}
