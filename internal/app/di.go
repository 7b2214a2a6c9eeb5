// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/allisson/sirrvault/internal/config"
	"github.com/allisson/sirrvault/internal/crypto"
	"github.com/allisson/sirrvault/internal/http"
	"github.com/allisson/sirrvault/internal/keymaterial"
	"github.com/allisson/sirrvault/internal/license"
	"github.com/allisson/sirrvault/internal/metrics"
	"github.com/allisson/sirrvault/internal/sweeper"
	"github.com/allisson/sirrvault/internal/vault/store"
	"github.com/allisson/sirrvault/internal/vaulthttp"
	"github.com/allisson/sirrvault/internal/webhook"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger      *slog.Logger
	keyMaterial *keymaterial.KeyMaterial
	cipher      *crypto.Cipher
	store       *store.Store
	license     *license.Gate
	webhook     *webhook.Registry

	// Observability
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	// Workers and Servers
	sweeper       *sweeper.Sweeper
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	keyMaterialInit     sync.Once
	cipherInit          sync.Once
	storeInit           sync.Once
	licenseInit         sync.Once
	webhookInit         sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	sweeperInit         sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// KeyMaterial returns the loaded master key, resolving it from DataDir/MASTER_KEY
// on first access.
func (c *Container) KeyMaterial() (*keymaterial.KeyMaterial, error) {
	var err error
	c.keyMaterialInit.Do(func() {
		c.keyMaterial, err = keymaterial.Load(c.config.DataDir, c.config.MasterKeyHex)
		if err != nil {
			c.initErrors["keyMaterial"] = err
		}
	})
	if storedErr, exists := c.initErrors["keyMaterial"]; exists {
		return nil, storedErr
	}
	return c.keyMaterial, nil
}

// Cipher returns the AEAD cipher built from the master key.
func (c *Container) Cipher() (*crypto.Cipher, error) {
	var err error
	c.cipherInit.Do(func() {
		var km *keymaterial.KeyMaterial
		km, err = c.KeyMaterial()
		if err != nil {
			c.initErrors["cipher"] = fmt.Errorf("failed to get key material for cipher: %w", err)
			return
		}
		c.cipher, err = crypto.New(km.Bytes())
		if err != nil {
			c.initErrors["cipher"] = err
		}
	})
	if storedErr, exists := c.initErrors["cipher"]; exists {
		return nil, storedErr
	}
	return c.cipher, nil
}

// License returns the license gate.
func (c *Container) License() *license.Gate {
	c.licenseInit.Do(func() {
		c.license = license.New(license.Config{
			MaxFreeSecrets: c.config.LicenseMaxFreeSecrets,
			LicenseKey:     c.config.LicenseKey,
			ValidationURL:  c.config.LicenseValidationURL,
			ValidationTTL:  c.config.LicenseValidationTTL,
		})
	})
	return c.license
}

// Store returns the bbolt-backed secret engine.
func (c *Container) Store() (*store.Store, error) {
	var err error
	c.storeInit.Do(func() {
		var cipher *crypto.Cipher
		cipher, err = c.Cipher()
		if err != nil {
			c.initErrors["store"] = fmt.Errorf("failed to get cipher for store: %w", err)
			return
		}
		dbPath := filepath.Join(c.config.DataDir, "store.db")
		c.store, err = store.Open(dbPath, cipher, c.License())
		if err != nil {
			c.initErrors["store"] = err
		}
	})
	if storedErr, exists := c.initErrors["store"]; exists {
		return nil, storedErr
	}
	return c.store, nil
}

// Webhook returns the webhook registry, opened against the store's bbolt handle.
func (c *Container) Webhook() (*webhook.Registry, error) {
	var err error
	c.webhookInit.Do(func() {
		var s *store.Store
		s, err = c.Store()
		if err != nil {
			c.initErrors["webhook"] = fmt.Errorf("failed to get store for webhook registry: %w", err)
			return
		}
		origins := splitAndTrim(c.config.WebhookAllowedOrigins)
		c.webhook, err = webhook.Open(s.DB(), c.Logger(), origins)
		if err != nil {
			c.initErrors["webhook"] = err
		}
	})
	if storedErr, exists := c.initErrors["webhook"]; exists {
		return nil, storedErr
	}
	return c.webhook, nil
}

// MetricsProvider returns the OpenTelemetry Prometheus-backed metrics provider,
// or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the vault operation metrics recorder, or a no-op
// implementation when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// Sweeper returns the expiry sweeper bound to the store.
func (c *Container) Sweeper() (*sweeper.Sweeper, error) {
	var err error
	c.sweeperInit.Do(func() {
		var s *store.Store
		s, err = c.Store()
		if err != nil {
			c.initErrors["sweeper"] = fmt.Errorf("failed to get store for sweeper: %w", err)
			return
		}
		c.sweeper = sweeper.New(c.config.SweepInterval, s, c.Logger())
	})
	if storedErr, exists := c.initErrors["sweeper"]; exists {
		return nil, storedErr
	}
	return c.sweeper, nil
}

// HTTPServer returns the main API HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the standalone /metrics HTTP server instance.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		var provider *metrics.Provider
		provider, err = c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
			return
		}
		c.metricsServer = http.NewMetricsServer(c.config.MetricsHost, c.config.MetricsPort, c.Logger(), provider)
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("store close: %w", err))
		}
	}
	if c.keyMaterial != nil {
		c.keyMaterial.Close()
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initBusinessMetrics creates the vault operation metrics recorder, falling
// back to a no-op implementation when metrics are disabled.
func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	if !c.config.MetricsEnabled {
		return metrics.NewNoOpBusinessMetrics(), nil
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for business metrics: %w", err)
	}
	return metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	s, err := c.Store()
	if err != nil {
		return nil, fmt.Errorf("failed to get store for http server: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for http server: %w", err)
	}
	engine := store.WithMetrics(s, businessMetrics)

	webhookRegistry, err := c.Webhook()
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook registry for http server: %w", err)
	}

	secretHandler := vaulthttp.NewSecretHandler(engine, webhookRegistry, logger)
	webhookHandler := vaulthttp.NewWebhookHandler(webhookRegistry, logger)

	var meterProvider otelmetric.MeterProvider
	if c.config.MetricsEnabled {
		provider, err := c.MetricsProvider()
		if err != nil {
			return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
		}
		if provider != nil {
			meterProvider = provider.MeterProvider()
		}
	}

	server := http.NewServer(
		http.Config{
			Host:             c.config.ServerHost,
			Port:             c.config.ServerPort,
			APIKey:           c.config.APIKey,
			CORSEnabled:      c.config.CORSEnabled,
			CORSAllowOrigins: c.config.CORSAllowOrigins,
			MetricsEnabled:   c.config.MetricsEnabled,
			MetricsNamespace: c.config.MetricsNamespace,
			MeterProvider:    meterProvider,
		},
		http.Handlers{Secret: secretHandler, Webhook: webhookHandler},
		logger,
	)

	return server, nil
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
