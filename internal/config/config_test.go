package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Sync.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Sync.BackoffMax)
	assert.Equal(t, "ayende-pos", cfg.Integration.Issuer)
	assert.Equal(t, "sync-events", cfg.Redis.Channel)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("INTEGRATION_SECRET", "s3cret")
	t.Setenv("CRM_BASE_URL", "http://crm.internal")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/pos?sslmode=disable")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("ADMIN_TOKEN", "admin")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Integration.Secret)
	assert.Equal(t, "http://crm.internal", cfg.Integration.CRMBaseURL)
	assert.Equal(t, "postgres://u:p@db:5432/pos?sslmode=disable", cfg.Database.DSN())
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.ToBrokerConfig().URL)
	assert.Equal(t, "admin", cfg.Admin.Token)
}

func TestDatabaseDSNFromParts(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "pos", Password: "pw", Name: "pos", SSLMode: "disable"}
	assert.Equal(t, "postgres://pos:pw@db:5432/pos?sslmode=disable", d.DSN())
}
