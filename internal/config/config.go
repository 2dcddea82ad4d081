package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Profile selects how strictly security configuration is enforced.
type Profile string

const (
	// ProfileHardened refuses to start on weak or missing key material
	// and issues short-lived access tokens.
	ProfileHardened Profile = "hardened"
	// ProfileRelaxed substitutes development fallbacks with a warning
	// and issues long-lived access tokens.
	ProfileRelaxed Profile = "relaxed"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Profile               Profile
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token and credential parameters.
type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	EncryptionKey   string
	BcryptCost      int
	ResetTokenTTL   time.Duration
}

// SessionConfig defines session lifecycle parameters.
type SessionConfig struct {
	InactivityTimeout  time.Duration
	MaxLifetime        time.Duration
	MaxSessionsPerUser int
	CleanupInterval    time.Duration
	CacheStaleness     time.Duration
	CacheBackend       string // "memory" or "redis"
}

// RateLimitConfig defines limiter housekeeping parameters.
type RateLimitConfig struct {
	Backend       string // "memory" or "redis"
	SweepInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	profile := Profile(getEnv("APP_PROFILE", string(ProfileRelaxed)))
	if profile != ProfileHardened && profile != ProfileRelaxed {
		return nil, fmt.Errorf("invalid APP_PROFILE %q: must be hardened or relaxed", profile)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	// Access tokens are short-lived under the hardened profile and
	// long-lived for low-friction deployments.
	accessTTL := 30 * 24 * time.Hour
	if profile == ProfileHardened {
		accessTTL = time.Hour
	}
	if v := getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 0); v > 0 {
		accessTTL = time.Duration(v) * time.Minute
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "sitework-service"),
			Profile:               profile,
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("AUTH_JWT_SECRET"),
			AccessTokenTTL:  accessTTL,
			RefreshTokenTTL: time.Duration(getEnvAsInt("AUTH_REFRESH_TOKEN_TTL_HOURS", 7*24)) * time.Hour,
			EncryptionKey:   os.Getenv("AUTH_ENCRYPTION_KEY"),
			BcryptCost:      getEnvAsInt("AUTH_BCRYPT_COST", 12),
			ResetTokenTTL:   time.Duration(getEnvAsInt("AUTH_PASSWORD_RESET_TTL_MINUTES", 30)) * time.Minute,
		},
		Session: SessionConfig{
			InactivityTimeout:  time.Duration(getEnvAsInt("SESSION_INACTIVITY_TIMEOUT_MINUTES", 30)) * time.Minute,
			MaxLifetime:        time.Duration(getEnvAsInt("SESSION_MAX_LIFETIME_HOURS", 24)) * time.Hour,
			MaxSessionsPerUser: getEnvAsInt("SESSION_MAX_PER_USER", 5),
			CleanupInterval:    time.Duration(getEnvAsInt("SESSION_CLEANUP_INTERVAL_MINUTES", 5)) * time.Minute,
			CacheStaleness:     time.Duration(getEnvAsInt("SESSION_CACHE_STALENESS_SECONDS", 30)) * time.Second,
			CacheBackend:       getEnv("SESSION_CACHE_BACKEND", "memory"),
		},
		RateLimit: RateLimitConfig{
			Backend:       getEnv("RATELIMIT_BACKEND", "memory"),
			SweepInterval: time.Duration(getEnvAsInt("RATELIMIT_SWEEP_INTERVAL_MINUTES", 10)) * time.Minute,
		},
	}

	return cfg, nil
}

// Hardened reports whether strict security enforcement applies.
func (a AppConfig) Hardened() bool {
	return a.Profile == ProfileHardened
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
