package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Store     StoreConfig
	Surreal   SurrealConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Jobs      JobsConfig
	Backup    BackupConfig
	LogLevel  string
	LogPretty bool
}

type ServerConfig struct {
	Port      string
	PublicDir string
}

type DatabaseConfig struct {
	Driver     string // sqlite or postgres
	URL        string
	SQLitePath string
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

type StoreConfig struct {
	Primary         string // sql, surreal or memory
	Secondary       string // file or none
	LocalPath       string
	LocalQuotaBytes int64
	Timeout         time.Duration
}

type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

type AdminConfig struct {
	Password     string
	PasswordHash string
	Email        string
}

type RateLimitConfig struct {
	GlobalMax       int
	GlobalWindow    time.Duration
	SubscribeMax    int
	SubscribeWindow time.Duration
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

type JobsConfig struct {
	DigestCron    string
	ReconcileCron string
	BackupCron    string
}

type BackupConfig struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Enabled reports whether enough R2 settings are present to upload backups.
func (b BackupConfig) Enabled() bool {
	return b.AccountID != "" && b.AccessKey != "" && b.SecretKey != "" && b.Bucket != ""
}

func Load() *Config {
	godotenv.Load() // .env is optional

	return &Config{
		Server: ServerConfig{
			Port:      getEnv("PORT", "3000"),
			PublicDir: getEnv("PUBLIC_DIR", ""),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			URL:        getEnv("DATABASE_URL", ""),
			SQLitePath: getEnv("SQLITE_PATH", "database/game_subscribers.db"),
		},
		Store: StoreConfig{
			Primary:         strings.ToLower(getEnv("PRIMARY_STORE", "sql")),
			Secondary:       strings.ToLower(getEnv("SECONDARY_STORE", "file")),
			LocalPath:       getEnv("LOCAL_STORE_PATH", "database/fallback_subscribers.json"),
			LocalQuotaBytes: int64(getInt("LOCAL_STORE_QUOTA_BYTES", 5*1024*1024)),
			Timeout:         getDuration("STORE_TIMEOUT", 3*time.Second),
		},
		Surreal: SurrealConfig{
			URL:       getEnv("SURREAL_URL", "ws://localhost:8000"),
			Namespace: getEnv("SURREAL_NS", "shadowrealms"),
			Database:  getEnv("SURREAL_DB", "landing"),
			Username:  getEnv("SURREAL_USER", ""),
			Password:  getEnv("SURREAL_PASS", ""),
		},
		Admin: AdminConfig{
			Password:     getEnv("ADMIN_PASSWORD", ""),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			Email:        getEnv("ADMIN_EMAIL", ""),
		},
		RateLimit: RateLimitConfig{
			GlobalMax:       getInt("RATE_LIMIT_MAX", 100),
			GlobalWindow:    getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			SubscribeMax:    getInt("SUBSCRIBE_RATE_LIMIT_MAX", 5),
			SubscribeWindow: getDuration("SUBSCRIBE_RATE_LIMIT_WINDOW", time.Hour),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "Shadow Realms <noreply@shadowrealms.game>"),
		},
		Jobs: JobsConfig{
			DigestCron:    getEnv("DIGEST_CRON", "0 19 * * *"),
			ReconcileCron: getEnv("RECONCILE_CRON", "*/5 * * * *"),
			BackupCron:    getEnv("BACKUP_CRON", "30 3 * * *"),
		},
		Backup: BackupConfig{
			AccountID: getEnv("R2_ACCOUNT_ID", ""),
			AccessKey: getEnv("R2_ACCESS_KEY", ""),
			SecretKey: getEnv("R2_SECRET_KEY", ""),
			Bucket:    getEnv("R2_BUCKET_NAME", ""),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_FORMAT", "pretty") != "json",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("15m") or a bare number of seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
