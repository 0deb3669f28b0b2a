package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithPath_Defaults(t *testing.T) {
	path := writeEnvFile(t, "APP_NAME=desk-hub-test\n")

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "desk-hub-test", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Query.StaleTime)
	assert.Equal(t, 10*time.Minute, cfg.Query.GCTime)
	assert.Equal(t, 3, cfg.Query.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, "online-users", cfg.Presence.Channel)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "hub.table-changes", cfg.Kafka.ChangeTopic)
	assert.False(t, cfg.StripeEnabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadWithPath_Overrides(t *testing.T) {
	path := writeEnvFile(t, `SERVER_PORT=9090
KAFKA_BROKERS=k1:9092, k2:9092
QUERY_STALE_TIME=1m
QUERY_GC_TIME=2m
STRIPE_SECRET_KEY=sk_test_123
`)

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Minute, cfg.Query.StaleTime)
	assert.True(t, cfg.StripeEnabled())
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:      AppConfig{Name: "hub", Environment: "development"},
			Server:   ServerConfig{Port: 8080},
			JWT:      JWTConfig{Secret: "secret"},
			Query:    QueryConfig{StaleTime: 5 * time.Minute, GCTime: 10 * time.Minute, MaxRetries: 3},
			Presence: PresenceConfig{HeartbeatInterval: 30 * time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing jwt secret", func(c *Config) { c.JWT.Secret = "" }, true},
		{"default secret in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = defaultJWTSecret
		}, true},
		{"gc shorter than stale", func(c *Config) { c.Query.GCTime = time.Minute }, true},
		{"negative retries", func(c *Config) { c.Query.MaxRetries = -1 }, true},
		{"zero heartbeat", func(c *Config) { c.Presence.HeartbeatInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := &DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "hub", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=hub sslmode=disable", d.DSN())
}
