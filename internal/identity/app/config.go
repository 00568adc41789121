package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
)

// DefaultAuthRateLimit applies to credential-accepting endpoints.
var DefaultAuthRateLimit = httpx.RateLimitConfig{
	Window:      15 * time.Minute,
	MaxRequests: 20,
}

type Config struct {
	JWTSecret string // Required: HS256 signing secret, at least 32 bytes (JWT_SECRET or JWT_SECRET_FILE)
	JWTIssuer string // Optional: issuer claim (default: vaultgate)
	APIKey    string // Optional: static service API key, empty disables API-key auth

	DatabaseFile string // Optional: path to SQLite database file (default: ./identity.db)
	PepperFile   string // Optional: path to the password pepper file (default: ./pepper)
	RedisURL     string // Optional: challenge store, in-memory when empty

	RootEmail    string // Optional: root account seeded at startup
	RootPassword string

	IdPClientID     string
	IdPClientSecret string
	IdPIssuer       string
	IdPAuthURL      string
	IdPTokenURL     string
	IdPUserInfoURL  string
	IdPJWKSURL      string
	IdPLookupURL    string
	IdPPortalURL    string // where ineligible identities are sent

	// DefaultRedirectURI is the last fallback of the federated redirect URI.
	DefaultRedirectURI string

	WalletURL    string // Optional: wallet provisioning disabled when empty
	WalletAPIKey string

	UpstreamTimeout time.Duration // Per-call timeout of IdP and wallet calls (default: 5s)
	UpstreamRPS     float64       // Outbound pacing per upstream (default: 20)

	GlobalRateLimit httpx.RateLimitConfig
	AuthRateLimit   httpx.RateLimitConfig
	Lockout         challenge.LockoutConfig

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1m)
}

func LoadConfig() (Config, error) {
	cfg := Config{
		JWTIssuer:    getEnvOrDefault("JWT_ISSUER", "vaultgate"),
		DatabaseFile: getEnvOrDefault("DATABASE_FILE", "identity.db"),
		PepperFile:   getEnvOrDefault("PEPPER_FILE", "pepper"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RootEmail:    os.Getenv("ROOT_EMAIL"),

		IdPClientID:    os.Getenv("IDP_CLIENT_ID"),
		IdPIssuer:      os.Getenv("IDP_ISSUER"),
		IdPAuthURL:     os.Getenv("IDP_AUTH_URL"),
		IdPTokenURL:    os.Getenv("IDP_TOKEN_URL"),
		IdPUserInfoURL: os.Getenv("IDP_USERINFO_URL"),
		IdPJWKSURL:     os.Getenv("IDP_JWKS_URL"),
		IdPLookupURL:   os.Getenv("IDP_LOOKUP_URL"),
		IdPPortalURL:   os.Getenv("IDP_PORTAL_URL"),

		DefaultRedirectURI: os.Getenv("DEFAULT_REDIRECT_URI"),

		WalletURL: os.Getenv("WALLET_SERVICE_URL"),

		UpstreamTimeout: getEnvDurationOrDefault("UPSTREAM_TIMEOUT", 5*time.Second),
		UpstreamRPS:     getEnvFloatOrDefault("UPSTREAM_RPS", 20),

		GlobalRateLimit: httpx.ParseRateLimitFromEnv("", httpx.DefaultRateLimit),
		AuthRateLimit:   httpx.ParseRateLimitFromEnv("AUTH_", DefaultAuthRateLimit),
		Lockout: challenge.LockoutConfig{
			MaxAttempts: getEnvIntOrDefault("MFA_MAX_ATTEMPTS", challenge.DefaultMaxAttempts),
			Window:      getEnvDurationOrDefault("MFA_LOCKOUT_WINDOW", challenge.DefaultLockoutWindow),
		},

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Minute),
	}

	// Secrets may come from mounted files.
	secrets := []struct {
		key  string
		dest *string
	}{
		{"JWT_SECRET", &cfg.JWTSecret},
		{"SERVICE_API_KEY", &cfg.APIKey},
		{"ROOT_PASSWORD", &cfg.RootPassword},
		{"IDP_CLIENT_SECRET", &cfg.IdPClientSecret},
		{"WALLET_API_KEY", &cfg.WalletAPIKey},
	}
	for _, s := range secrets {
		v, err := getSecret(s.key)
		if err != nil {
			return Config{}, err
		}
		*s.dest = v
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.IdPClientID == "" {
		errs = append(errs, errors.New("IDP_CLIENT_ID is required"))
	}
	if (c.RootEmail == "") != (c.RootPassword == "") {
		errs = append(errs, errors.New("ROOT_EMAIL and ROOT_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// getSecret reads key, or the file named by key_FILE when key is unset.
func getSecret(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s_FILE: %w", key, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
