package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Load()
	cfg.SessionUsername = "qbwc"
	cfg.SessionPassword = "secret"
	cfg.CommerceStore = "example"
	cfg.Timezone = "UTC"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SKU_FIELD_PRIORITY", "")
	t.Setenv("INBOUND_OVERLAP_SEC", "")

	cfg := Load()
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, []string{"ManufacturerPartNumber", "BarCodeValue", "Name"}, cfg.SKUFieldPriority)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimitSpacing)
	assert.Equal(t, 5*time.Minute, cfg.InboundOverlap)
	assert.True(t, cfg.QueryOnConnect)
	assert.Equal(t, "file", cfg.LockBackend)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SKU_FIELD_PRIORITY", " Name , ,$.CustomFields.SKU")
	t.Setenv("RATE_LIMIT_SPACING_MS", "250")
	t.Setenv("AUTO_SYNC_INTERVAL_SEC", "not-a-number")
	t.Setenv("OUTBOUND_AUTO_APPLY", "false")

	cfg := Load()
	assert.Equal(t, []string{"Name", "$.CustomFields.SKU"}, cfg.SKUFieldPriority)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimitSpacing)
	assert.Equal(t, 300*time.Second, cfg.AutoSyncInterval, "invalid values fall back to the default")
	assert.False(t, cfg.OutboundAutoApply)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing credentials", func(c *Config) { c.SessionPassword = "" }, "QBWC_USERNAME"},
		{"missing store", func(c *Config) { c.CommerceStore = "" }, "COMMERCE_STORE"},
		{"mongo lock without uri", func(c *Config) { c.LockBackend = "mongo"; c.MongoURI = "" }, "MONGO_URI"},
		{"unknown lock backend", func(c *Config) { c.LockBackend = "redis" }, "LOCK_BACKEND"},
		{"bad zone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "SYNC_TIMEZONE"},
		{"tiny interval", func(c *Config) { c.AutoSyncInterval = time.Millisecond }, "AUTO_SYNC_INTERVAL_SEC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCommerceURL(t *testing.T) {
	cfg := validConfig()
	cfg.CommerceAPIVersion = "2024-07"
	assert.Equal(t, "https://example.myshopify.com/admin/api/2024-07", cfg.CommerceURL())

	cfg.CommerceBaseURL = "http://localhost:9000/"
	assert.Equal(t, "http://localhost:9000", cfg.CommerceURL())
}

func TestSyncSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.AutoSyncInterval = 90 * time.Second
	assert.Equal(t, "@every 1m30s", cfg.SyncSchedule())

	cfg.AutoSyncSchedule = "*/5 * * * *"
	assert.Equal(t, "*/5 * * * *", cfg.SyncSchedule())
}
