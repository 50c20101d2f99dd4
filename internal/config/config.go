package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar session service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	StopTimeout              time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	// AvatarClientMode is one of auto, http or mock. auto picks http when an
	// API key or token endpoint is configured.
	AvatarClientMode string
	AvatarAPIKey     string
	AvatarAPIBaseURL string
	TokenEndpointURL string
	AvatarDefaults   string

	TranscriptPartialMode string
	Greeting              string
	GreetingDelay         time.Duration

	DatabaseURL string
	RedisURL    string
	ArchiveTTL  time.Duration
}

// Load reads environment variables and applies safe defaults.
// DefaultGreeting is spoken shortly after a session connects. Set GREETING
// to an empty value to disable it.
const DefaultGreeting = "Hello! I'm your assistant. How can I help you today?"

func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "parlor"),
		AllowAnyOrigin:           false,
		LogLevel:                 envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                envOrDefault("LOG_FORMAT", "json"),
		AvatarClientMode:         strings.ToLower(envOrDefault("AVATAR_CLIENT_MODE", "auto")),
		AvatarAPIKey:             stringsTrimSpace("AVATAR_API_KEY"),
		AvatarAPIBaseURL:         envOrDefault("AVATAR_API_BASE_URL", "https://api.heygen.com"),
		TokenEndpointURL:         stringsTrimSpace("TOKEN_ENDPOINT_URL"),
		AvatarDefaults:           stringsTrimSpace("AVATAR_DEFAULTS_FILE"),
		TranscriptPartialMode:    envOrDefault("TRANSCRIPT_PARTIAL_MODE", "replace"),
		Greeting:                 lookupOrDefault("GREETING", DefaultGreeting),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		RedisURL:                 stringsTrimSpace("REDIS_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		StopTimeout:              10 * time.Second,
		GreetingDelay:            300 * time.Millisecond,
		ArchiveTTL:               7 * 24 * time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StopTimeout, err = durationFromEnv("AVATAR_STOP_TIMEOUT", cfg.StopTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GreetingDelay, err = durationFromEnv("GREETING_DELAY", cfg.GreetingDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ArchiveTTL, err = durationFromEnv("ARCHIVE_TTL", cfg.ArchiveTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.GreetingDelay < 0 {
		return Config{}, fmt.Errorf("GREETING_DELAY must be >= 0")
	}
	switch cfg.AvatarClientMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("AVATAR_CLIENT_MODE must be one of auto, http, mock")
	}
	switch strings.ToLower(cfg.TranscriptPartialMode) {
	case "replace", "append":
	default:
		return Config{}, fmt.Errorf("TRANSCRIPT_PARTIAL_MODE must be replace or append")
	}
	if cfg.AvatarClientMode == "http" && cfg.AvatarAPIKey == "" && cfg.TokenEndpointURL == "" {
		return Config{}, fmt.Errorf("AVATAR_CLIENT_MODE=http requires AVATAR_API_KEY or TOKEN_ENDPOINT_URL")
	}

	return cfg, nil
}

// UseMockClient reports whether sessions run against the in-process mock.
func (c Config) UseMockClient() bool {
	switch c.AvatarClientMode {
	case "mock":
		return true
	case "http":
		return false
	default:
		return c.AvatarAPIKey == "" && c.TokenEndpointURL == ""
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// lookupOrDefault is envOrDefault except that a variable set to the empty
// string stays empty.
func lookupOrDefault(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return trimSpace(v)
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
