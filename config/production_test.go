package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFrom(newEnv())
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "mock", cfg.WhatsApp.Provider)
	assert.Equal(t, "log", cfg.Messaging.Provider)
	assert.Equal(t, 5*time.Minute, cfg.Dispatcher.ClaimLeaseTTL)
	assert.Equal(t, "586.33", cfg.Wallet.Prices["marketing"])
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DISPATCHER_INTERVAL", "2s")
	t.Setenv("SERVER_TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2")
	t.Setenv("PRICE_BOOK", "Marketing=600, utility=300.5")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := loadFrom(newEnv())
	require.NoError(t, err)

	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Server.TrustedProxies)
	assert.Equal(t, map[string]string{"marketing": "600", "utility": "300.5"}, cfg.Wallet.Prices)
	assert.False(t, cfg.Cache.Enabled)
}

func TestParsePricesRejectsMalformedEntry(t *testing.T) {
	_, err := parsePrices("marketing=600,utility")
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WHATSAPP_PHONE_NUMBER_ID=1122334455\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("WHATSAPP_PHONE_NUMBER_ID") })

	require.NoError(t, loadEnvFile(path))
	cfg, err := loadFrom(newEnv())
	require.NoError(t, err)
	assert.Equal(t, "1122334455", cfg.WhatsApp.PhoneNumberID)

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func validConfig(t *testing.T) *ProductionConfig {
	t.Helper()
	cfg, err := loadFrom(newEnv())
	require.NoError(t, err)
	cfg.Database.Password = "db-password"
	cfg.JWT.SecretKey = "0123456789abcdef0123456789abcdef"
	cfg.Payment.WebhookSecret = "payment-secret"
	cfg.WhatsApp.AppSecret = "app-secret"
	return cfg
}

func TestValidateProductionConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProductionConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*ProductionConfig) {},
		},
		{
			name:    "missing payment secret in production",
			mutate:  func(c *ProductionConfig) { c.Payment.WebhookSecret = "" },
			wantErr: "PAYMENT_WEBHOOK_SECRET",
		},
		{
			name: "secrets optional outside production",
			mutate: func(c *ProductionConfig) {
				c.Deployment.Environment = "development"
				c.Payment.WebhookSecret = ""
				c.JWT.SecretKey = ""
			},
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *ProductionConfig) { c.JWT.SecretKey = "short" },
			wantErr: "JWT_SECRET_KEY",
		},
		{
			name:    "cloud sender without token",
			mutate:  func(c *ProductionConfig) { c.WhatsApp.Provider = "cloud"; c.WhatsApp.PhoneNumberID = "1" },
			wantErr: "WHATSAPP_ACCESS_TOKEN",
		},
		{
			name:    "unknown event provider",
			mutate:  func(c *ProductionConfig) { c.Messaging.Provider = "kafka" },
			wantErr: "EVENTS_PROVIDER",
		},
		{
			name:    "zero workers",
			mutate:  func(c *ProductionConfig) { c.Dispatcher.Workers = 0 },
			wantErr: "DISPATCHER_WORKERS",
		},
		{
			name:    "bad log level",
			mutate:  func(c *ProductionConfig) { c.Logging.Level = "verbose" },
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "empty price book",
			mutate:  func(c *ProductionConfig) { c.Wallet.Prices = nil },
			wantErr: "PRICE_BOOK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := ValidateProductionConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
