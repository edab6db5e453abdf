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
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string
	NodeID      int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	MigrateOnStart    bool

	Redis     RedisConfig
	AMQP      AMQPConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig

	PolicyConfigDir string
	// SchedulerJobs is a comma separated allow list; empty runs every job.
	SchedulerJobs string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

func (c AMQPConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// BillingConfig selects the billing provider and carries its credentials.
type BillingConfig struct {
	Provider        string
	ProviderTimeout time.Duration
	Stripe          StripeConfig
	Razorpay        RazorpayConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

type RateLimitConfig struct {
	Enabled        bool
	ReconcileRate  float64
	ReconcileBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "entitlementd"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("NODE_ID", 1),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "entitlements"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "entitlements.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		MigrateOnStart:    getenvBool("MIGRATE_ON_START", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "entitlements"),
		},
		Billing: BillingConfig{
			Provider:        strings.ToLower(strings.TrimSpace(getenv("BILLING_PROVIDER", "stripe"))),
			ProviderTimeout: getenvDuration("BILLING_PROVIDER_TIMEOUT", 10*time.Second),
			Stripe: StripeConfig{
				SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
				WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			},
			Razorpay: RazorpayConfig{
				KeyID:         strings.TrimSpace(getenv("RAZORPAY_KEY_ID", "")),
				KeySecret:     strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET", "")),
				WebhookSecret: strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
				BaseURL:       strings.TrimSpace(getenv("RAZORPAY_BASE_URL", "https://api.razorpay.com")),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			ReconcileRate:  getenvFloat("RATE_LIMIT_RECONCILE_RATE", 0.2),
			ReconcileBurst: getenvInt("RATE_LIMIT_RECONCILE_BURST", 3),
		},
		PolicyConfigDir: strings.TrimSpace(getenv("ENTITLEMENT_CONFIG_DIR", "")),
		SchedulerJobs:   getenv("SCHEDULER_JOBS", ""),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
