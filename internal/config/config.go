package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	// DatabaseURL is optional; when empty the gateway keeps the token record
	// in process memory (dev mode only, tokens do not survive restarts).
	DatabaseURL string

	// RedisAddr is optional; when empty OAuth states live in process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Podio credentials. Their absence is a configuration error surfaced as
	// needs_setup at request time, not a startup failure, so the portal can
	// render a "contact support" screen instead of crash-looping.
	PodioClientID     string
	PodioClientSecret string
	PodioAuthURL      string
	PodioTokenURL     string
	PodioAPIBaseURL   string
	PodioRedirectURI  string

	// PodioAppTokens maps Podio app IDs to their app-scoped tokens. The
	// proxy attaches the matching token when the forwarded endpoint path
	// touches one of these apps.
	PodioAppTokens map[string]string

	// ClientCredentialsScope, when set, lets the lifecycle manager acquire an
	// app-level token via the client_credentials grant when no user token
	// exists. Empty means user authorization is required.
	ClientCredentialsScope string

	TokenBufferWindow time.Duration
	RefreshTimeout    time.Duration
	StateTTL          time.Duration

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:            getEnv("APP_ENV", "development"),
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		ServiceName:            getEnv("SERVICE_NAME", "podio-gateway"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0),
		PodioClientID:          strings.TrimSpace(os.Getenv("PODIO_CLIENT_ID")),
		PodioClientSecret:      strings.TrimSpace(os.Getenv("PODIO_CLIENT_SECRET")),
		PodioAuthURL:           getEnv("PODIO_AUTH_URL", "https://podio.com/oauth/authorize"),
		PodioTokenURL:          getEnv("PODIO_TOKEN_URL", "https://podio.com/oauth/token"),
		PodioAPIBaseURL:        getEnv("PODIO_API_BASE_URL", "https://api.podio.com"),
		PodioRedirectURI:       strings.TrimSpace(os.Getenv("PODIO_REDIRECT_URI")),
		PodioAppTokens:         getTokenMap("PODIO_APP_TOKENS"),
		ClientCredentialsScope: strings.TrimSpace(os.Getenv("PODIO_CC_SCOPE")),
		TokenBufferWindow:      getDuration("TOKEN_BUFFER_WINDOW", 5*time.Minute),
		RefreshTimeout:         getDuration("REFRESH_TIMEOUT", 10*time.Second),
		StateTTL:               getDuration("OAUTH_STATE_TTL", 5*time.Minute),
		RateLimitRPM:           getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:      getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:     getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:     getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:     getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials:   getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.TokenBufferWindow <= 0 {
		cfg.TokenBufferWindow = 5 * time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}

	if cfg.Environment == "production" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required in production")
	}

	return cfg, nil
}

// PodioConfigured reports whether client credentials are present. When false
// every auth operation fails with a configuration error, never an
// authentication one.
func (c Config) PodioConfigured() bool {
	return c.PodioClientID != "" && c.PodioClientSecret != ""
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

// getTokenMap parses "appID:token,appID:token" pairs.
func getTokenMap(key string) map[string]string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		id, token, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found {
			continue
		}
		id = strings.TrimSpace(id)
		token = strings.TrimSpace(token)
		if id != "" && token != "" {
			out[id] = token
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
