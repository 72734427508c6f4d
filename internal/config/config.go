package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values. It is built once at startup
// and passed by value into constructors; nothing re-reads the environment at
// call time.
type Config struct {
	Environment        string
	HTTPPort           string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	// Two-tier admin credential scheme. Either secret may be absent, in
	// which case that credential class can never authorize.
	AdminAPIKey string
	AdminUIKey  string

	// Google OAuth delegation.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// BuilderURL is the form-builder UI base the redirect flow lands on.
	BuilderURL string

	ProviderTimeout  time.Duration
	LivenessCacheTTL time.Duration

	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// GoogleConfigured reports whether the OAuth client credentials are present.
// Flow initiation fails with a configuration error when they are not.
func (c Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		AdminAPIKey:          strings.TrimSpace(os.Getenv("ADMIN_API_KEY")),
		AdminUIKey:           strings.TrimSpace(os.Getenv("ADMIN_UI_KEY")),
		GoogleClientID:       strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret:   strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		GoogleRedirectURL:    strings.TrimSpace(os.Getenv("GOOGLE_REDIRECT_URL")),
		BuilderURL:           getEnv("BUILDER_URL", "http://localhost:3000"),
		ProviderTimeout:      getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		LivenessCacheTTL:     getDuration("LIVENESS_CACHE_TTL", time.Minute),
		ServiceName:          getEnv("SERVICE_NAME", "formdee-auth"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "x-admin-key"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AdminAPIKey == "" && cfg.AdminUIKey == "" {
		return Config{}, fmt.Errorf("at least one of ADMIN_API_KEY or ADMIN_UI_KEY is required")
	}
	if cfg.GoogleConfigured() && cfg.GoogleRedirectURL == "" {
		return Config{}, fmt.Errorf("GOOGLE_REDIRECT_URL is required when Google OAuth is configured")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
