package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Payment      PaymentConfig
	Cancellation CancellationConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Jobs         JobsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	LogFile     string // optional rotating log file, stdout only when empty
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "pgx" or "postgres" (lib/pq)
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectAttempts    int
	ConnectBackoff     time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	Provider       string // "payable", "razorpay" or "sandbox"
	Environment    string // "sandbox" or "production" for PAYable
	Currency       string
	GatewayTimeout time.Duration
	LockTTL        time.Duration

	// PAYable IPG
	MerchantKey   string
	MerchantToken string // SECRET - only used for checkValue
	BaseURL       string // overrides the environment URL when set

	// Razorpay
	RazorpayKeyID     string
	RazorpayKeySecret string
}

// CancellationConfig holds the fee tiers of the cancellation policy
type CancellationConfig struct {
	Timezone       string
	ShortNoticeFee string // fee when the trip is less than ShortNoticeHours away
	MidNoticeFee   string // fee when the trip is less than MidNoticeHours away
	ShortNotice    time.Duration
	MidNotice      time.Duration
}

// RedisConfig holds Redis configuration. Empty URL disables Redis.
type RedisConfig struct {
	URL string
}

// KafkaConfig holds the booking event relay configuration. No brokers disables the relay.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

// NotificationConfig holds notification channel configuration
type NotificationConfig struct {
	Mode        string // "log", "smtp" or "amqp"
	Workers     int
	QueueSize   int
	FromEmail   string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	AMQPURL     string
	AMQPQueue   string
	SendTimeout time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PaymentRate string // ulule format, e.g. "10-M"
	GeneralRate string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	ReconciliationSchedule string
	ReconciliationGrace    time.Duration
	ReconciliationBatch    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFile:     getEnv("LOG_FILE", ""),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "pgx"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			ConnectAttempts:    getEnvAsInt("DATABASE_CONNECT_ATTEMPTS", 5),
			ConnectBackoff:     time.Duration(getEnvAsInt("DATABASE_CONNECT_BACKOFF_MS", 500)) * time.Millisecond,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "tripmarket-auth"),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Payment: PaymentConfig{
			Provider:          getEnv("PAYMENT_PROVIDER", "sandbox"),
			Environment:       getEnv("PAYABLE_ENVIRONMENT", "sandbox"),
			Currency:          getEnv("PAYMENT_CURRENCY", "LKR"),
			GatewayTimeout:    time.Duration(getEnvAsInt("PAYMENT_GATEWAY_TIMEOUT", 20)) * time.Second,
			LockTTL:           time.Duration(getEnvAsInt("PAYMENT_LOCK_TTL", 60)) * time.Second,
			MerchantKey:       getEnv("PAYABLE_MERCHANT_KEY", ""),
			MerchantToken:     getEnv("PAYABLE_MERCHANT_TOKEN", ""),
			BaseURL:           getEnv("PAYABLE_BASE_URL", ""),
			RazorpayKeyID:     getEnv("RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret: getEnv("RAZORPAY_KEY_SECRET", ""),
		},
		Cancellation: CancellationConfig{
			Timezone:       getEnv("TRIP_TIMEZONE", "UTC"),
			ShortNoticeFee: getEnv("CANCELLATION_SHORT_NOTICE_FEE", "50.00"),
			MidNoticeFee:   getEnv("CANCELLATION_MID_NOTICE_FEE", "20.00"),
			ShortNotice:    time.Duration(getEnvAsInt("CANCELLATION_SHORT_NOTICE_HOURS", 24)) * time.Hour,
			MidNotice:      time.Duration(getEnvAsInt("CANCELLATION_MID_NOTICE_HOURS", 72)) * time.Hour,
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_BOOKING_TOPIC", "booking-events"),
			PollInterval: time.Duration(getEnvAsInt("OUTBOX_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
			BatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 20),
		},
		Notification: NotificationConfig{
			Mode:        getEnv("NOTIFICATION_MODE", "log"),
			Workers:     getEnvAsInt("NOTIFICATION_WORKERS", 4),
			QueueSize:   getEnvAsInt("NOTIFICATION_QUEUE_SIZE", 256),
			FromEmail:   getEnv("FROM_EMAIL", "no-reply@tripmarket.local"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USERNAME", ""),
			SMTPPass:    getEnv("SMTP_PASSWORD", ""),
			AMQPURL:     getEnv("AMQP_URL", ""),
			AMQPQueue:   getEnv("AMQP_NOTIFICATION_QUEUE", "booking-notifications"),
			SendTimeout: time.Duration(getEnvAsInt("NOTIFICATION_SEND_TIMEOUT", 15)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			PaymentRate: getEnv("RATE_LIMIT_PAYMENTS", "10-M"),
			GeneralRate: getEnv("RATE_LIMIT_GENERAL", "120-M"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Request-ID"}),
		},
		Jobs: JobsConfig{
			ReconciliationSchedule: getEnv("RECONCILIATION_SCHEDULE", "0 */5 * * * *"),
			ReconciliationGrace:    time.Duration(getEnvAsInt("RECONCILIATION_GRACE_SECONDS", 600)) * time.Second,
			ReconciliationBatch:    getEnvAsInt("RECONCILIATION_BATCH_SIZE", 50),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'pgx' or 'postgres')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if _, err := time.LoadLocation(c.Cancellation.Timezone); err != nil {
		return fmt.Errorf("invalid TRIP_TIMEZONE %q: %w", c.Cancellation.Timezone, err)
	}

	if c.Cancellation.ShortNotice >= c.Cancellation.MidNotice {
		return fmt.Errorf("CANCELLATION_SHORT_NOTICE_HOURS must be less than CANCELLATION_MID_NOTICE_HOURS")
	}

	switch c.Payment.Provider {
	case "sandbox":
	case "payable":
		if c.Payment.MerchantKey == "" || c.Payment.MerchantToken == "" {
			return fmt.Errorf("PAYABLE_MERCHANT_KEY and PAYABLE_MERCHANT_TOKEN are required for the payable provider")
		}
	case "razorpay":
		if c.Payment.RazorpayKeyID == "" || c.Payment.RazorpayKeySecret == "" {
			return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required for the razorpay provider")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_PROVIDER: %s (must be 'sandbox', 'payable' or 'razorpay')", c.Payment.Provider)
	}

	switch c.Notification.Mode {
	case "log":
	case "smtp":
		if c.Notification.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for smtp notification mode")
		}
	case "amqp":
		if c.Notification.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for amqp notification mode")
		}
	default:
		return fmt.Errorf("invalid NOTIFICATION_MODE: %s (must be 'log', 'smtp' or 'amqp')", c.Notification.Mode)
	}

	return nil
}

// TripLocation returns the location trip dates and times are interpreted in
func (c *Config) TripLocation() *time.Location {
	loc, err := time.LoadLocation(c.Cancellation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
