package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Provider ProviderConfig
	AWS      AWSConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/streamhive?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are minted by the identity
// service; this backend only validates them.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// ProviderConfig holds settings for the external video processing provider
// (Mux-compatible API: direct uploads, assets, signed webhooks).
type ProviderConfig struct {
	BaseURL            string // REST API base, e.g. https://api.mux.com
	ImageBaseURL       string // thumbnail host, e.g. https://image.mux.com
	TokenID            string
	TokenSecret        string
	WebhookSecret      string
	WebhookTolerance   int  // seconds a webhook timestamp may lag before rejection
	SkipTimestampCheck bool // dev-only escape hatch; HMAC is always enforced
	RequestTimeout     int  // seconds for synchronous provider API calls
	UploadCORSOrigin   string
}

// AWSConfig holds AWS credentials and the thumbnail cache bucket.
type AWSConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ThumbnailsBucket string
}

// WorkerConfig holds reconciliation sweeper settings.
type WorkerConfig struct {
	SweepInterval int // seconds between sweeps for stuck records
	StuckAfter    int // minutes before a non-terminal record is re-checked against the provider
	GiveUpAfter   int // minutes before a record with no provider-side progress is marked errored
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	env := getEnv("APP_ENV", "development")
	skipTimestamp := getEnvBool("PROVIDER_WEBHOOK_SKIP_TIMESTAMP", false)
	if env == "production" {
		// Never honor the bypass in production, whatever the env says.
		skipTimestamp = false
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/streamhive?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "streamhive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Provider: ProviderConfig{
			BaseURL:            getEnv("PROVIDER_BASE_URL", "https://api.mux.com"),
			ImageBaseURL:       getEnv("PROVIDER_IMAGE_BASE_URL", "https://image.mux.com"),
			TokenID:            getEnv("PROVIDER_TOKEN_ID", ""),
			TokenSecret:        getEnv("PROVIDER_TOKEN_SECRET", ""),
			WebhookSecret:      getEnv("PROVIDER_WEBHOOK_SECRET", ""),
			WebhookTolerance:   getEnvInt("PROVIDER_WEBHOOK_TOLERANCE_SEC", 300),
			SkipTimestampCheck: skipTimestamp,
			RequestTimeout:     getEnvInt("PROVIDER_REQUEST_TIMEOUT_SEC", 10),
			UploadCORSOrigin:   getEnv("PROVIDER_UPLOAD_CORS_ORIGIN", "*"),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ThumbnailsBucket: getEnv("AWS_S3_THUMBNAILS_BUCKET", ""),
		},
		Worker: WorkerConfig{
			SweepInterval: getEnvInt("WORKER_SWEEP_INTERVAL_SEC", 300),
			StuckAfter:    getEnvInt("WORKER_STUCK_AFTER_MIN", 10),
			GiveUpAfter:   getEnvInt("WORKER_GIVE_UP_AFTER_MIN", 1440),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
