package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/sirrvault/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:              "debug",
		DataDir:               t.TempDir(),
		LicenseMaxFreeSecrets: 100,
		SweepInterval:         time.Second,
		MetricsEnabled:        false,
		ServerHost:            "localhost",
		ServerPort:            0,
	}
}

// TestNewContainer verifies that a new container can be created with a valid configuration.
func TestNewContainer(t *testing.T) {
	cfg := newTestConfig(t)
	container := NewContainer(cfg)

	require.NotNil(t, container)
	assert.Same(t, cfg, container.Config())
}

// TestContainerLogger verifies that the logger is a lazily-initialized singleton.
func TestContainerLogger(t *testing.T) {
	container := NewContainer(newTestConfig(t))

	logger := container.Logger()
	require.NotNil(t, logger)
	assert.Same(t, logger, container.Logger())
}

// TestContainerLoggerDefaultLevel verifies that an unrecognized log level falls back to info.
func TestContainerLoggerDefaultLevel(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.LogLevel = "nonsense"
	container := NewContainer(cfg)

	assert.NotNil(t, container.Logger())
}

// TestContainerLicense verifies the license gate is a lazily-initialized singleton.
func TestContainerLicense(t *testing.T) {
	container := NewContainer(newTestConfig(t))

	gate := container.License()
	require.NotNil(t, gate)
	assert.Same(t, gate, container.License())
}

// TestContainerStore_GeneratesMasterKeyAndOpensStore verifies the full
// KeyMaterial -> Cipher -> Store chain wires up end to end against a fresh
// data directory.
func TestContainerStore_GeneratesMasterKeyAndOpensStore(t *testing.T) {
	container := NewContainer(newTestConfig(t))

	s, err := container.Store()
	require.NoError(t, err)
	require.NotNil(t, s)

	// Calling Store() again returns the same singleton instance.
	s2, err := container.Store()
	require.NoError(t, err)
	assert.Same(t, s, s2)

	require.NoError(t, container.Shutdown(t.Context()))
}

// TestContainerWebhook verifies the webhook registry opens against the
// store's shared bbolt handle.
func TestContainerWebhook(t *testing.T) {
	container := NewContainer(newTestConfig(t))

	registry, err := container.Webhook()
	require.NoError(t, err)
	require.NotNil(t, registry)

	require.NoError(t, container.Shutdown(t.Context()))
}

// TestContainerSweeper verifies the sweeper is bound to the container's store.
func TestContainerSweeper(t *testing.T) {
	container := NewContainer(newTestConfig(t))

	sw, err := container.Sweeper()
	require.NoError(t, err)
	require.NotNil(t, sw)

	require.NoError(t, container.Shutdown(t.Context()))
}

// TestContainerHTTPServer verifies the HTTP server assembles from the store,
// business metrics, and webhook registry without error.
func TestContainerHTTPServer(t *testing.T) {
	container := NewContainer(newTestConfig(t))

	srv, err := container.HTTPServer()
	require.NoError(t, err)
	require.NotNil(t, srv)

	require.NoError(t, container.Shutdown(t.Context()))
}

// TestContainerBusinessMetrics_NoOpWhenDisabled verifies metrics-disabled
// configs get the no-op recorder rather than failing to build a provider.
func TestContainerBusinessMetrics_NoOpWhenDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MetricsEnabled = false
	container := NewContainer(cfg)

	bm, err := container.BusinessMetrics()
	require.NoError(t, err)
	assert.NotNil(t, bm)

	provider, err := container.MetricsProvider()
	require.NoError(t, err)
	assert.Nil(t, provider)
}

// TestContainerMasterKeyDisagreement verifies a container fails closed when
// MASTER_KEY disagrees with an existing master.key file.
func TestContainerMasterKeyDisagreement(t *testing.T) {
	cfg := newTestConfig(t)
	container := NewContainer(cfg)

	_, err := container.Store()
	require.NoError(t, err)
	require.NoError(t, container.Shutdown(t.Context()))

	cfg2 := *cfg
	cfg2.MasterKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	container2 := NewContainer(&cfg2)

	_, err = container2.Store()
	assert.Error(t, err)
}
