// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerHost is the host address the HTTP server binds to.
	ServerHost string
	// ServerPort is the port the HTTP server listens on.
	ServerPort int

	// DataDir holds store.db and master.key.
	DataDir string

	// APIKey is the bearer token required on gated endpoints. Empty disables auth.
	APIKey string

	// MasterKeyHex is a 64-character hex-encoded 32-byte master key, an
	// alternative to a master.key file under DataDir.
	MasterKeyHex string

	// LicenseKey is the offline/online license string, if any.
	LicenseKey string

	// LicenseMaxFreeSecrets is the admission ceiling when no valid license key
	// is configured.
	LicenseMaxFreeSecrets int

	// LicenseValidationURL, when set, enables online license validation against
	// an issuer endpoint in addition to the offline checksum validation.
	LicenseValidationURL string
	// LicenseValidationTTL is how long an online validation result is cached.
	LicenseValidationTTL time.Duration

	// SweepInterval is the period between Sweeper ticks.
	SweepInterval time.Duration

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// requests before the HTTP and metrics servers are forced closed.
	ShutdownTimeout time.Duration

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// CORSEnabled indicates whether CORS is enabled.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the exported metrics.
	MetricsNamespace string
	// MetricsHost/MetricsPort is where /metrics is served, separately from
	// the main API listener so it is never gated by the bearer middleware.
	MetricsHost string
	MetricsPort int

	// WebhookAllowedOrigins, when non-empty, restricts webhook registration
	// URLs to this comma-separated allowlist in addition to the SSRF guard.
	WebhookAllowedOrigins string
}

// Load loads configuration from environment variables and an optional .env file.
func Load() *Config {
	loadDotEnv()

	return &Config{
		ServerHost: env.GetString("HOST", "0.0.0.0"),
		ServerPort: env.GetInt("PORT", 8080),

		DataDir: env.GetString("DATA_DIR", defaultDataDir()),

		APIKey:       env.GetString("API_KEY", ""),
		MasterKeyHex: env.GetString("MASTER_KEY", ""),

		LicenseKey:            env.GetString("LICENSE_KEY", ""),
		LicenseMaxFreeSecrets: env.GetInt("LICENSE_MAX_FREE_SECRETS", 100),
		LicenseValidationURL:  env.GetString("LICENSE_VALIDATION_URL", ""),
		LicenseValidationTTL:  env.GetDuration("LICENSE_VALIDATION_TTL_SECONDS", 300, time.Second),

		SweepInterval:   env.GetDuration("SWEEP_INTERVAL_SECONDS", 60, time.Second),
		ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT_SECONDS", 15, time.Second),

		LogLevel: env.GetString("LOG_LEVEL", "info"),

		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),

		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "vault"),
		MetricsHost:      env.GetString("METRICS_HOST", "0.0.0.0"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8081),

		WebhookAllowedOrigins: env.GetString("WEBHOOK_ALLOWED_ORIGINS", ""),
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sirrvault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".sirrvault")
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	switch c.LogLevel {
	case "debug":
		return "debug"
	default:
		return "release"
	}
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
