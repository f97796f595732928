package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// StoreDriver is "sqlite" (local file, default) or "postgres".
	StoreDriver string
	StoreDSN    string

	// RedisURL enables the read-through record cache when set.
	RedisURL      string
	CacheTTL      time.Duration
	JWTSecret     string
	EnableDevAPIs bool

	AutosaveDebounce    time.Duration
	AutosaveMaxWait     time.Duration
	RestartGuardTTL     time.Duration
	RestartSettle       time.Duration
	WritingStaleAfter   time.Duration
	JanitorInterval     time.Duration
	RateLimitPerMinute  int
	WebSocketReadExpiry time.Duration

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "auto"),
		StoreDriver:         getEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:            getEnv("STORE_DSN", "./data/sessions.db"),
		RedisURL:            getEnv("REDIS_URL", ""),
		CacheTTL:            getEnvDuration("CACHE_TTL", 30*time.Minute),
		JWTSecret:           getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		EnableDevAPIs:       getEnvBool("ENABLE_DEV_TOOLS", false),
		AutosaveDebounce:    getEnvDuration("AUTOSAVE_DEBOUNCE", time.Second),
		AutosaveMaxWait:     getEnvDuration("AUTOSAVE_MAX_WAIT", 5*time.Second),
		RestartGuardTTL:     getEnvDuration("RESTART_GUARD_TTL", 2*time.Second),
		RestartSettle:       getEnvDuration("RESTART_SETTLE", 100*time.Millisecond),
		WritingStaleAfter:   getEnvDuration("WRITING_STALE_AFTER", 24*time.Hour),
		JanitorInterval:     getEnvDuration("JANITOR_INTERVAL", time.Hour),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		WebSocketReadExpiry: getEnvDuration("WS_READ_EXPIRY", 5*time.Minute),
		AllowedOrigins:      parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
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

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration accepts Go duration strings ("750ms", "24h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
