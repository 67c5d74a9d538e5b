package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, assembled once at bind time
// and passed explicitly into every constructor that needs it.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Embed     EmbedConfig
}

type AppConfig struct {
	Env      string
	Debug    bool
	LogLevel string
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type JWTConfig struct {
	Secret         string
	Expiry         time.Duration // access_ttl
	RefreshExpiry  time.Duration // refresh_ttl
	SessionIdleTTL time.Duration // session_idle_ttl
	PasswordKDFWork int          // bcrypt work factor, >=10
}

// RateLimitConfig holds the limits for auth vs general API routes, applied
// to the token-bucket middleware.RateLimiter. Both are expressed as attempts
// per window.
type RateLimitConfig struct {
	AuthAttempts int
	AuthWindow   time.Duration
	APIAttempts  int
	APIWindow    time.Duration
}

// EmbedConfig governs the cross-origin-iframe embedding policy.
type EmbedConfig struct {
	AllowedHosts []string // hosts permitted as frame ancestors
}

// Load reads configuration from environment variables, falling back to a
// local .env file in development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", "development")
	isProduction := appEnv == "production"

	defaultLogLevel := "debug"
	if isProduction {
		defaultLogLevel = "info"
	}

	cfg := &Config{
		App: AppConfig{
			Env:      appEnv,
			Debug:    getEnvBool("APP_DEBUG", !isProduction),
			LogLevel: getEnv("LOG_LEVEL", defaultLogLevel),
		},
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "clockframe"),
			User:     getEnv("DB_USER", "clockframe"),
			Password: getEnvOrSecret("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvOrSecret("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:          getEnvOrSecret("JWT_SECRET", "change-me-in-production"),
			Expiry:          getEnvDuration("ACCESS_TTL", 15*time.Minute),
			RefreshExpiry:   getEnvDuration("REFRESH_TTL", 30*24*time.Hour),
			SessionIdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
			PasswordKDFWork: getEnvInt("PASSWORD_KDF_WORK", 12),
		},
		RateLimit: RateLimitConfig{
			AuthAttempts: getEnvInt("RATE_LIMIT_AUTH_ATTEMPTS", 5),
			AuthWindow:   getEnvDuration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			APIAttempts:  getEnvInt("RATE_LIMIT_API_ATTEMPTS", 100),
			APIWindow:    getEnvDuration("RATE_LIMIT_API_WINDOW", 15*time.Minute),
		},
		Embed: EmbedConfig{
			AllowedHosts: getEnvList("ALLOWED_EMBED_HOSTS", nil),
		},
	}

	if isProduction {
		if err := validateProduction(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// validateProduction refuses to start with missing or placeholder secrets
// when running in production.
func validateProduction(cfg *Config) error {
	var missing []string

	if cfg.JWT.Secret == "" || cfg.JWT.Secret == "change-me-in-production" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.Database.Password == "" {
		missing = append(missing, "DB_PASSWORD")
	}
	if cfg.JWT.PasswordKDFWork < 10 {
		return fmt.Errorf("PASSWORD_KDF_WORK must be >= 10 in production, got %d", cfg.JWT.PasswordKDFWork)
	}

	if len(missing) > 0 {
		return fmt.Errorf("production mode requires the following secrets to be set: %v", missing)
	}
	return nil
}

// getEnvOrSecret reads from a Docker secret file (/run/secrets/<key>) first,
// then falls back to the environment variable.
func getEnvOrSecret(key, fallback string) string {
	secretPath := "/run/secrets/" + strings.ToLower(key)
	if data, err := os.ReadFile(secretPath); err == nil {
		v := strings.TrimSpace(string(data))
		if v != "" {
			return v
		}
	}
	return getEnv(key, fallback)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}
