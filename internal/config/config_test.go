package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, SessionBackendMemory, cfg.Sessions.Backend)
	assert.Zero(t, cfg.Sessions.TTL, "sessions never expire unless configured")
	assert.Equal(t, 20, cfg.Engine.MaxQuantity)
	assert.Equal(t, 9, cfg.Engine.PageSize)
	assert.Equal(t, 8*time.Second, cfg.Engine.IOTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Submission.BaseDelay)
	assert.True(t, cfg.Server.ValidateSignature)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orderbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[engine]
max_quantity = 5
page_size = 4

[submission]
base_url = "https://orders.test"
`), 0644))

	t.Setenv("ORDERBOT_ENGINE__MAX_QUANTITY", "7")
	t.Setenv("TWILIO_AUTH_TOKEN", "legacy-token")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Engine.MaxQuantity, "environment beats file")
	assert.Equal(t, 4, cfg.Engine.PageSize)
	assert.Equal(t, "https://orders.test", cfg.Submission.BaseURL)
	assert.Equal(t, "legacy-token", cfg.Twilio.AuthToken)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "etcd" }},
		{"redis without url", func(c *Config) { c.Sessions.Backend = SessionBackendRedis; c.Redis.URL = "" }},
		{"zero max quantity", func(c *Config) { c.Engine.MaxQuantity = 0 }},
		{"page too large", func(c *Config) { c.Engine.PageSize = 10 }},
		{"no io timeout", func(c *Config) { c.Engine.IOTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	var c Config
	c.Database.Host = "db"
	c.Database.Port = 5432
	c.Database.User = "u"
	c.Database.Password = "p"
	c.Database.Name = "orderbot"
	assert.Equal(t, "host=db user=u password=p dbname=orderbot port=5432 sslmode=disable", c.PostgresDSN())

	c.Database.InstanceConnectionName = "proj:region:inst"
	assert.Contains(t, c.PostgresDSN(), "host=/cloudsql/proj:region:inst")

	c.Database.DSN = "postgres://x"
	assert.Equal(t, "postgres://x", c.PostgresDSN())
}
