package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Sync     SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/attendlens?sslmode=disable)
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

// AuthConfig holds service-to-service API auth settings.
type AuthConfig struct {
	JWTSecret string
}

// ProviderConfig holds webinar provider API settings.
type ProviderConfig struct {
	BaseURL        string
	AuthURL        string
	RequestTimeout time.Duration
	RetryAttempts  int
	PageSize       int
	PageCeiling    int           // hard cap on pages per listing, guards against runaway pagination
	CallDelay      time.Duration // inter-request delay to respect provider rate limits
}

// SyncConfig holds sync date-window defaults.
type SyncConfig struct {
	LookbackDays       int           // manual sync: how far back to enumerate
	LookaheadDays      int           // manual sync: how far forward (scheduled webinars)
	IncrementalOverlap time.Duration // incremental sync: re-scan window before last completed sync
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
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/attendlens?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "attendlens"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("PROVIDER_BASE_URL", "https://api.zoom.us/v2"),
			AuthURL:        getEnv("PROVIDER_AUTH_URL", "https://zoom.us/oauth/token"),
			RequestTimeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_SEC", 30)) * time.Second,
			RetryAttempts:  getEnvInt("PROVIDER_RETRY_ATTEMPTS", 3),
			PageSize:       getEnvInt("PROVIDER_PAGE_SIZE", 300),
			PageCeiling:    getEnvInt("PROVIDER_PAGE_CEILING", 30),
			CallDelay:      time.Duration(getEnvInt("PROVIDER_CALL_DELAY_MS", 200)) * time.Millisecond,
		},
		Sync: SyncConfig{
			LookbackDays:       getEnvInt("SYNC_LOOKBACK_DAYS", 90),
			LookaheadDays:      getEnvInt("SYNC_LOOKAHEAD_DAYS", 30),
			IncrementalOverlap: time.Duration(getEnvInt("SYNC_OVERLAP_HOURS", 24)) * time.Hour,
		},
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET must not be empty")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
