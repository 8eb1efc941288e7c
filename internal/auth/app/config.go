package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/planfold/planfold/pkg/passwordx"
)

type Config struct {
	Issuer   string   // Issuer claim for tokens (default: planfold-auth)
	Audience []string // Audience claim for tokens (default: planfold-api)

	DatabaseFile   string // Path to SQLite database file (default: ./auth.db)
	PepperFile     string // Path to file containing pepper for password hashing (default: ./pepper)
	SigningKeyFile string // Path to Ed25519 PKCS#8 PEM signing key (default: ./signing.pem, generated if missing)

	AccessTTL    time.Duration // Access token lifetime (default: 15m)
	RefreshTTL   time.Duration // Refresh token lifetime (default: 168h)
	ChallengeTTL time.Duration // MFA login challenge lifetime (default: 5m)

	MFAIssuer string // Issuer name shown in authenticator apps (default: Planfold)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	TokenRetention       time.Duration // How long expired refresh token rows are kept (default: 720h)
	AuditRetention       time.Duration // How long audit entries are kept (default: 2160h)

	// Anomaly heuristics.
	FailedLoginThreshold   int           // Failed logins per email before flagging (default: 5)
	FailedLoginWindow      time.Duration // Window for the failed login burst heuristic (default: 15m)
	DistinctEmailThreshold int           // Distinct emails per IP before flagging (default: 3)
	DistinctIPThreshold    int           // Distinct login IPs per user before flagging (default: 5)
	SuspiciousWindow       time.Duration // Window for the IP spread heuristic (default: 24h)

	// Password policy.
	PasswordMinLength      int  // Minimum password length (default: 10)
	PasswordExpirationDays int  // Force password change after N days; 0 disables (default: 0)
	PasswordRejectCommon   bool // Reject passwords from the common-password list (default: true)
}

func LoadConfig() Config {
	// A missing .env file is fine; env vars win either way.
	_ = godotenv.Load()

	return Config{
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "planfold-auth"),
		Audience:       splitAndTrim(getEnvOrDefault("AUTH_AUDIENCE", "planfold-api")),
		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:     getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		SigningKeyFile: getEnvOrDefault("AUTH_SIGNING_KEY_FILE", "signing.pem"),

		AccessTTL:    getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:   getEnvDurationOrDefault("AUTH_REFRESH_TTL", 7*24*time.Hour),
		ChallengeTTL: getEnvDurationOrDefault("AUTH_CHALLENGE_TTL", 5*time.Minute),

		MFAIssuer: getEnvOrDefault("AUTH_MFA_ISSUER", "Planfold"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		TokenRetention:       getEnvDurationOrDefault("TOKEN_RETENTION", 30*24*time.Hour),
		AuditRetention:       getEnvDurationOrDefault("AUDIT_RETENTION", 90*24*time.Hour),

		FailedLoginThreshold:   getEnvIntOrDefault("AUDIT_FAILED_LOGIN_THRESHOLD", 5),
		FailedLoginWindow:      getEnvDurationOrDefault("AUDIT_FAILED_LOGIN_WINDOW", 15*time.Minute),
		DistinctEmailThreshold: getEnvIntOrDefault("AUDIT_DISTINCT_EMAIL_THRESHOLD", 3),
		DistinctIPThreshold:    getEnvIntOrDefault("AUDIT_DISTINCT_IP_THRESHOLD", 5),
		SuspiciousWindow:       getEnvDurationOrDefault("AUDIT_SUSPICIOUS_WINDOW", 24*time.Hour),

		PasswordMinLength:      getEnvIntOrDefault("PASSWORD_MIN_LENGTH", 10),
		PasswordExpirationDays: getEnvIntOrDefault("PASSWORD_EXPIRATION_DAYS", 0),
		PasswordRejectCommon:   getEnvBoolOrDefault("PASSWORD_REJECT_COMMON", true),
	}
}

// Validate catches configuration mistakes at boot that would otherwise
// surface as confusing runtime failures.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Issuer == "" {
		return errors.New("token issuer must not be empty")
	}
	if len(c.Audience) == 0 {
		return errors.New("at least one token audience is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive (access=%s refresh=%s)", c.AccessTTL, c.RefreshTTL)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("access token lifetime %s must be shorter than refresh lifetime %s", c.AccessTTL, c.RefreshTTL)
	}
	return nil
}

// PasswordSettings maps the config onto a passwordx policy, starting from
// the package defaults so untouched knobs keep their baseline.
func (c Config) PasswordSettings() passwordx.Settings {
	s := passwordx.DefaultSettings()
	if c.PasswordMinLength > 0 {
		s.MinLength = c.PasswordMinLength
	}
	s.ExpirationDays = c.PasswordExpirationDays
	s.RejectCommonPasswords = c.PasswordRejectCommon
	return s
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
