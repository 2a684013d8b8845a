package config

import (
	"os"
	"strconv"
	"time"
)

// Backend modes selectable at startup.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendDirectory = "directory"
)

// Audit sink modes.
const (
	AuditMemory   = "memory"
	AuditFile     = "file"
	AuditPostgres = "postgres"
)

// Config captures process-level configuration. It is built once at startup
// and passed by value; nothing mutates it afterwards.
type Config struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string

	BackendMode   string
	PostgresDSN   string
	DirectoryRoot string

	AuditSink     string
	AuditFilePath string
	AuditBuffer   int

	Redis    RedisConfig
	CacheTTL time.Duration

	// Lock acquisition and backend call deadline for mutating operations.
	LockTimeout time.Duration
	// Bounded retry for transient backend unavailability.
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// RedisConfig holds the optional read cache settings. An empty URL disables
// the cache entirely.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:          getEnv("PROMPTVAULT_ADDR", ":8080"),
		JWTSigningKey: getEnv("PROMPTVAULT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getEnv("PROMPTVAULT_JWT_ISSUER", "promptvault"),

		BackendMode:   getEnv("PROMPTVAULT_BACKEND", BackendMemory),
		PostgresDSN:   os.Getenv("PROMPTVAULT_POSTGRES_DSN"),
		DirectoryRoot: getEnv("PROMPTVAULT_DIRECTORY_ROOT", "./data/prompts"),

		AuditSink:     getEnv("PROMPTVAULT_AUDIT_SINK", AuditMemory),
		AuditFilePath: getEnv("PROMPTVAULT_AUDIT_FILE", "./data/audit.jsonl"),
		AuditBuffer:   getEnvInt("PROMPTVAULT_AUDIT_BUFFER", 256),

		Redis: RedisConfig{
			URL:          os.Getenv("PROMPTVAULT_REDIS_URL"),
			PoolSize:     getEnvInt("PROMPTVAULT_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("PROMPTVAULT_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("PROMPTVAULT_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("PROMPTVAULT_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("PROMPTVAULT_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		CacheTTL: getEnvDuration("PROMPTVAULT_CACHE_TTL", 5*time.Minute),

		LockTimeout:    getEnvDuration("PROMPTVAULT_LOCK_TIMEOUT", 10*time.Second),
		RetryAttempts:  getEnvInt("PROMPTVAULT_RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDuration("PROMPTVAULT_RETRY_BASE_DELAY", 100*time.Millisecond),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
