package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "load default configuration",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.ServerHost)
				assert.Equal(t, 8080, cfg.ServerPort)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, 100, cfg.LicenseMaxFreeSecrets)
				assert.Equal(t, 60*time.Second, cfg.SweepInterval)
				assert.Equal(t, "", cfg.APIKey)
				assert.Equal(t, 8081, cfg.MetricsPort)
			},
		},
		{
			name: "load custom server configuration",
			envVars: map[string]string{
				"HOST": "localhost",
				"PORT": "9090",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost", cfg.ServerHost)
				assert.Equal(t, 9090, cfg.ServerPort)
			},
		},
		{
			name: "load custom data dir and keys",
			envVars: map[string]string{
				"DATA_DIR":   "/tmp/sirrvault-test",
				"API_KEY":    "s3cr3t",
				"MASTER_KEY": "00",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/sirrvault-test", cfg.DataDir)
				assert.Equal(t, "s3cr3t", cfg.APIKey)
				assert.Equal(t, "00", cfg.MasterKeyHex)
			},
		},
		{
			name: "load custom sweep interval",
			envVars: map[string]string{
				"SWEEP_INTERVAL_SECONDS": "10",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10*time.Second, cfg.SweepInterval)
			},
		},
		{
			name: "load custom log level",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "debug", cfg.GetGinMode())
			},
		},
		{
			name: "load license configuration",
			envVars: map[string]string{
				"LICENSE_KEY":               "lic_0000000000000000000000000000000000000000",
				"LICENSE_MAX_FREE_SECRETS":  "5",
				"LICENSE_VALIDATION_URL":    "https://issuer.example.com/validate",
				"LICENSE_VALIDATION_TTL_SECONDS": "120",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "lic_0000000000000000000000000000000000000000", cfg.LicenseKey)
				assert.Equal(t, 5, cfg.LicenseMaxFreeSecrets)
				assert.Equal(t, "https://issuer.example.com/validate", cfg.LicenseValidationURL)
				assert.Equal(t, 120*time.Second, cfg.LicenseValidationTTL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()

			for key, value := range tt.envVars {
				err := os.Setenv(key, value)
				require.NoError(t, err)
			}

			cfg := Load()

			tt.validate(t, cfg)
		})
	}
}
