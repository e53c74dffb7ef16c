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
	FrontendURL string
	BackendURL  string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	Payment PaymentConfig
	Lyrics  ProviderConfig
	Audio   ProviderConfig
	Video   ProviderConfig
	Storage StorageConfig

	Generation GenerationConfig
}

// PaymentConfig carries the checkout API and webhook credentials for the
// payment providers. WebhookSecret signs inbound events; an empty secret
// disables the provider.
type PaymentConfig struct {
	DodoAPIURL        string
	DodoAPIKey        string
	DodoWebhookSecret string

	GumroadSellerID string
	GumroadSecret   string
}

// ProviderConfig is the shape shared by the AI generation providers.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type StorageConfig struct {
	Endpoint string
	Bucket   string
	APIKey   string
	Timeout  time.Duration
}

// GenerationConfig controls the background generation orchestrator.
type GenerationConfig struct {
	RunInterval  time.Duration
	BatchSize    int
	MaxAttempts  int
	StageTimeout time.Duration
	BackoffBase  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "songcraft"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		FrontendURL: strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
		BackendURL:  strings.TrimRight(getenv("BACKEND_URL", "http://localhost:8080"), "/"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "songcraft"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenvInt("SMTP_PORT", 587),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", "no-reply@songcraft.app"),

		Payment: PaymentConfig{
			DodoAPIURL:        getenv("DODO_API_URL", "https://api.dodopayments.com"),
			DodoAPIKey:        strings.TrimSpace(getenv("DODO_API_KEY", "")),
			DodoWebhookSecret: strings.TrimSpace(getenv("DODO_WEBHOOK_SECRET", "")),
			GumroadSellerID:   strings.TrimSpace(getenv("GUMROAD_SELLER_ID", "")),
			GumroadSecret:     strings.TrimSpace(getenv("GUMROAD_SECRET", "")),
		},
		Lyrics: ProviderConfig{
			BaseURL: getenv("LYRICS_API_URL", "https://api.openai.com/v1"),
			APIKey:  strings.TrimSpace(getenv("LYRICS_API_KEY", "")),
			Model:   getenv("LYRICS_MODEL", "gpt-4"),
			Timeout: getenvDuration("LYRICS_TIMEOUT", 3*time.Minute),
		},
		Audio: ProviderConfig{
			BaseURL: getenv("AUDIO_API_URL", ""),
			APIKey:  strings.TrimSpace(getenv("AUDIO_API_KEY", "")),
			Model:   getenv("AUDIO_MODEL", "chirp-v3"),
			Timeout: getenvDuration("AUDIO_TIMEOUT", 5*time.Minute),
		},
		Video: ProviderConfig{
			BaseURL: getenv("VIDEO_API_URL", ""),
			APIKey:  strings.TrimSpace(getenv("VIDEO_API_KEY", "")),
			Timeout: getenvDuration("VIDEO_TIMEOUT", 10*time.Minute),
		},
		Storage: StorageConfig{
			Endpoint: strings.TrimRight(getenv("STORAGE_ENDPOINT", ""), "/"),
			Bucket:   getenv("STORAGE_BUCKET", "songs"),
			APIKey:   strings.TrimSpace(getenv("STORAGE_API_KEY", "")),
			Timeout:  getenvDuration("STORAGE_TIMEOUT", time.Minute),
		},
		Generation: GenerationConfig{
			RunInterval:  getenvDuration("GENERATION_RUN_INTERVAL", 5*time.Second),
			BatchSize:    getenvInt("GENERATION_BATCH_SIZE", 10),
			MaxAttempts:  getenvInt("GENERATION_MAX_ATTEMPTS", 3),
			StageTimeout: getenvDuration("GENERATION_STAGE_TIMEOUT", 5*time.Minute),
			BackoffBase:  getenvDuration("GENERATION_BACKOFF_BASE", time.Minute),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
