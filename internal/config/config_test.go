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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "money_api", cfg.Telemetry.MetricsNamespace)
	assert.Empty(t, cfg.Telemetry.Endpoint)
	assert.False(t, cfg.Telemetry.CommandSpans)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BIZTRACE_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("BIZTRACE_LOG_LEVEL", "debug")
	t.Setenv("BIZTRACE_TELEMETRY_OTLP_ENDPOINT", "localhost:4318")
	t.Setenv("BIZTRACE_TELEMETRY_OTLP_INSECURE", "true")
	t.Setenv("BIZTRACE_TELEMETRY_COMMAND_SPANS", "true")
	t.Setenv("BIZTRACE_DB_DRIVER", "postgres")
	t.Setenv("BIZTRACE_DB_DSN", "postgres://money@localhost/money")
	t.Setenv("BIZTRACE_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.True(t, cfg.Telemetry.CommandSpans)
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, "postgres://money@localhost/money", cfg.DB.DSN)
	assert.Equal(t, "secret", cfg.Auth.Secret)
}

func TestLoadInvalid(t *testing.T) {
	t.Run("driver", func(t *testing.T) {
		t.Setenv("BIZTRACE_DB_DRIVER", "oracle")

		_, err := Load()
		assert.ErrorContains(t, err, `unsupported database driver "oracle"`)
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("BIZTRACE_SERVER_SHUTDOWN_TIMEOUT", "soon")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  invoices: invoice
  Payments: payment
controllers:
  reports: reporting
`), 0o600))

	m, err := LoadMappings(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"invoices": "invoice", "Payments": "payment"}, m.Tables)
	assert.Equal(t, map[string]string{"reports": "reporting"}, m.Controllers)
}

func TestLoadMappingsErrors(t *testing.T) {
	_, err := LoadMappings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tables: [a, b"), 0o600))

	_, err = LoadMappings(path)
	assert.ErrorContains(t, err, "parse mappings")
}
