package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"lms-calendar-api/core/logger"
)

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// ProviderAPIConfig holds one calendar provider's OAuth endpoints and credentials.
// Base URLs are configurable so staging and tests can point at any host.
type ProviderAPIConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RevokeURL    string
	APIBaseURL   string
	Scopes       []string
}

type CryptoConfig struct {
	TokenEncryptionKey string // 32 bytes, hex or raw
	StateSigningKey    string
}

type SyncConfig struct {
	WindowDays        int
	PageSize          int
	WorkerConcurrency int
	CronSpec          string
}

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	GoogleAPI  ProviderAPIConfig
	OutlookAPI ProviderAPIConfig
	Crypto     CryptoConfig
	Sync       SyncConfig
}

var (
	instance *Config
	mu       sync.RWMutex
)

// Load reads .env (if present) and environment variables into the config singleton.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("Config:Load:NoDotEnv", "reason", err.Error())
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", 7070)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "lms_calendar")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("GOOGLE_USERINFO_URL", "https://www.googleapis.com/oauth2/v2/userinfo")
	v.SetDefault("GOOGLE_REVOKE_URL", "https://oauth2.googleapis.com/revoke")
	v.SetDefault("GOOGLE_API_BASE_URL", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("GOOGLE_SCOPES", "https://www.googleapis.com/auth/calendar https://www.googleapis.com/auth/userinfo.email")

	v.SetDefault("OUTLOOK_AUTH_URL", "https://login.microsoftonline.com/common/oauth2/v2.0/authorize")
	v.SetDefault("OUTLOOK_TOKEN_URL", "https://login.microsoftonline.com/common/oauth2/v2.0/token")
	v.SetDefault("OUTLOOK_USERINFO_URL", "https://graph.microsoft.com/v1.0/me")
	v.SetDefault("OUTLOOK_REVOKE_URL", "")
	v.SetDefault("OUTLOOK_API_BASE_URL", "https://graph.microsoft.com/v1.0")
	v.SetDefault("OUTLOOK_SCOPES", "offline_access Calendars.ReadWrite User.Read")

	v.SetDefault("SYNC_WINDOW_DAYS", 30)
	v.SetDefault("SYNC_PAGE_SIZE", 100)
	v.SetDefault("SYNC_WORKER_CONCURRENCY", 4)
	v.SetDefault("SYNC_CRON_SPEC", "*/15 * * * *")

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		GoogleAPI: ProviderAPIConfig{
			ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
			ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
			RedirectURI:  v.GetString("GOOGLE_REDIRECT_URI"),
			AuthURL:      v.GetString("GOOGLE_AUTH_URL"),
			TokenURL:     v.GetString("GOOGLE_TOKEN_URL"),
			UserInfoURL:  v.GetString("GOOGLE_USERINFO_URL"),
			RevokeURL:    v.GetString("GOOGLE_REVOKE_URL"),
			APIBaseURL:   v.GetString("GOOGLE_API_BASE_URL"),
			Scopes:       strings.Fields(v.GetString("GOOGLE_SCOPES")),
		},
		OutlookAPI: ProviderAPIConfig{
			ClientID:     v.GetString("OUTLOOK_CLIENT_ID"),
			ClientSecret: v.GetString("OUTLOOK_CLIENT_SECRET"),
			RedirectURI:  v.GetString("OUTLOOK_REDIRECT_URI"),
			AuthURL:      v.GetString("OUTLOOK_AUTH_URL"),
			TokenURL:     v.GetString("OUTLOOK_TOKEN_URL"),
			UserInfoURL:  v.GetString("OUTLOOK_USERINFO_URL"),
			RevokeURL:    v.GetString("OUTLOOK_REVOKE_URL"),
			APIBaseURL:   v.GetString("OUTLOOK_API_BASE_URL"),
			Scopes:       strings.Fields(v.GetString("OUTLOOK_SCOPES")),
		},
		Crypto: CryptoConfig{
			TokenEncryptionKey: v.GetString("TOKEN_ENCRYPTION_KEY"),
			StateSigningKey:    v.GetString("STATE_SIGNING_KEY"),
		},
		Sync: SyncConfig{
			WindowDays:        v.GetInt("SYNC_WINDOW_DAYS"),
			PageSize:          v.GetInt("SYNC_PAGE_SIZE"),
			WorkerConcurrency: v.GetInt("SYNC_WORKER_CONCURRENCY"),
			CronSpec:          v.GetString("SYNC_CRON_SPEC"),
		},
	}

	if cfg.Crypto.TokenEncryptionKey == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	if cfg.Crypto.StateSigningKey == "" {
		return nil, fmt.Errorf("STATE_SIGNING_KEY is required")
	}

	mu.Lock()
	instance = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the loaded config. Panics if Load was never called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("config not initialized")
	}
	return instance
}

// GetSafe returns the loaded config without panicking.
func GetSafe() (*Config, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return instance, instance != nil
}

// Set replaces the config singleton. Test use only.
func Set(cfg *Config) {
	mu.Lock()
	instance = cfg
	mu.Unlock()
}
