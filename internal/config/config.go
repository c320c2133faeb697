package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backend constants
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	// Server settings
	ServerAddr string
	BaseURL    string

	// Encryption settings
	EncryptionKeys      map[int]string // key version -> secret
	EncryptionActiveKey int
	StateSecret         string
	StateLifetime       time.Duration
	InternalAPISecret   string

	// Token lifecycle
	TokenExpiryBuffer time.Duration

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string // Database connection string (DSN or path)

	// Status cache
	CacheBackend  string // "memory" or "redis"
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRate    string // limiter format, e.g. "60-M"

	// Observability
	MetricsEnabled bool

	// Audit
	AuditEnabled    bool
	AuditBufferSize int
	AuditRetention  time.Duration

	// Provider OAuth settings
	// Google
	GoogleOAuthEnabled bool
	GoogleClientID     string
	GoogleClientSecret string
	GoogleOAuthScopes  []string

	// Slack
	SlackOAuthEnabled bool
	SlackClientID     string
	SlackClientSecret string
	SlackOAuthScopes  []string

	// Provider HTTP client settings
	ProviderTimeout time.Duration
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Determine database driver and DSN
	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", getEnv("DATABASE_PATH", "connections.db"))
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),

		EncryptionKeys:      getEnvKeyMap("ENCRYPTION_KEYS"),
		EncryptionActiveKey: getEnvInt("ENCRYPTION_ACTIVE_KEY_VERSION", 1),
		StateSecret:         getEnv("STATE_SECRET", ""),
		StateLifetime:       getEnvDuration("STATE_LIFETIME", 10*time.Minute),
		InternalAPISecret:   getEnv("INTERNAL_API_SECRET", ""),

		TokenExpiryBuffer: getEnvDuration("TOKEN_EXPIRY_BUFFER", 5*time.Minute),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		CacheBackend:  getEnv("CACHE_BACKEND", CacheBackendMemory),
		CacheTTL:      getEnvDuration("CACHE_TTL", 30*time.Second),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRate:    getEnv("RATE_LIMIT_RATE", "60-M"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		AuditEnabled:    getEnvBool("AUDIT_ENABLED", true),
		AuditBufferSize: getEnvInt("AUDIT_BUFFER_SIZE", 1000),
		AuditRetention:  getEnvDuration("AUDIT_RETENTION", 90*24*time.Hour),

		// Google OAuth
		GoogleOAuthEnabled: getEnvBool("GOOGLE_OAUTH_ENABLED", false),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleOAuthScopes: getEnvSlice("GOOGLE_SCOPES", []string{
			"openid", "email", "profile",
		}),

		// Slack OAuth
		SlackOAuthEnabled: getEnvBool("SLACK_OAUTH_ENABLED", false),
		SlackClientID:     getEnv("SLACK_CLIENT_ID", ""),
		SlackClientSecret: getEnv("SLACK_CLIENT_SECRET", ""),
		SlackOAuthScopes:  getEnvSlice("SLACK_SCOPES", []string{"identity.basic"}),

		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
	}
}

// Validate checks required settings. Called once during bootstrap, after
// Load, so misconfiguration fails fast instead of at first request.
func (c *Config) Validate() error {
	if len(c.EncryptionKeys) == 0 {
		return fmt.Errorf("ENCRYPTION_KEYS is required (format \"1:secret,2:secret\")")
	}
	if _, ok := c.EncryptionKeys[c.EncryptionActiveKey]; !ok {
		return fmt.Errorf("ENCRYPTION_ACTIVE_KEY_VERSION %d has no matching key", c.EncryptionActiveKey)
	}
	if c.StateSecret == "" {
		return fmt.Errorf("STATE_SECRET is required")
	}
	if c.DatabaseDriver == "postgres" && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required for postgres")
	}
	if c.CacheBackend != CacheBackendMemory && c.CacheBackend != CacheBackendRedis {
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := splitAndTrim(value, ",")
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// getEnvKeyMap parses versioned secrets of the form "1:secret,2:secret"
// into a version -> secret map. Entries with a bad version are skipped.
func getEnvKeyMap(key string) map[int]string {
	keys := make(map[int]string)
	for _, part := range splitAndTrim(os.Getenv(key), ",") {
		version, secret, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(version))
		if err != nil || v <= 0 || secret == "" {
			continue
		}
		keys[v] = secret
	}
	return keys
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
