package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 9090
storage:
  driver: memory
database:
  host: db.internal
  password: from-file
outbox:
  poll_interval: 2s
`), 0o600))

	t.Setenv("HMS_CONFIG", file)
	t.Setenv("HMS_JWT_SECRET", "s3cret")
	t.Setenv("HMS_DB_PASSWORD", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Cache.WardTTL)
	assert.Equal(t, 30, cfg.Billing.DefaultDueDays)
	assert.Equal(t, 8081, cfg.Worker.Port)
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(file, []byte("storage:\n  driver: memory\n"), 0o600))
	t.Setenv("HMS_CONFIG", file)
	t.Setenv("HMS_JWT_SECRET", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "jwt secret is required")
}

func TestValidate_StorageDriver(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080},
		Storage: StorageConfig{Driver: "mongo"},
		JWT:     JWTConfig{Secret: "x"},
		Outbox: OutboxConfig{
			BatchSize: 1, PollInterval: time.Second, RetryAttempts: 1, RetryDelay: time.Second,
			Retention: time.Hour, CleanupInterval: time.Hour,
		},
	}
	assert.ErrorContains(t, cfg.Validate(), "invalid storage driver")

	cfg.Storage.Driver = "postgres"
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}
