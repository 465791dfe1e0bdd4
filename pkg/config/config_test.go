package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abraham-ai/mintmodifier/pkg/config"
)

// validEnv sets the minimum environment for a valid mongo + pinata setup.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("EDEN_API_KEY", "key")
	t.Setenv("EDEN_API_SECRET", "secret")
	t.Setenv("PINATA_API_KEY", "pkey")
	t.Setenv("PINATA_API_SECRET", "psecret")
	t.Setenv("PROVIDER_URL", "http://localhost:8545")
	t.Setenv("SIGNER_PK", "0xabc")
	t.Setenv("CONTRACT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(config.FileEnv, "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.Store.Backend)
	assert.Equal(t, "pinata", cfg.Artifacts.Backend)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 1, cfg.Engine.Concurrency)
	assert.Equal(t, 1, cfg.Engine.LedgerMaxAttempts)
	assert.Equal(t, "Eden Livemint", cfg.Engine.MetadataName)
	assert.Equal(t, "https://garden.eden.art/creation", cfg.Engine.CreationBaseURL)
	assert.Equal(t, uint64(10_000_000), cfg.Chain.GasLimit)
	assert.Equal(t, 5*time.Minute, cfg.Chain.ReceiptTimeout)
	assert.False(t, cfg.TelemetryEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/mint")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("CONCURRENCY", "4")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 4, cfg.Engine.Concurrency)
	assert.True(t, cfg.TelemetryEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mintmodifier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
store:
  backend: sqlite
  sqlite_path: /var/lib/mint.db
engine:
  poll_interval: 10s
  ledger_max_attempts: 3
artifacts:
  backend: fs
  gateway: cas.example.com
`), 0o600))

	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/mint.db", cfg.Store.SQLitePath)
	assert.Equal(t, 10*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 5, cfg.Engine.LedgerMaxAttempts, "environment wins over the file")
	assert.Equal(t, "cas.example.com", cfg.Artifacts.Gateway)
	assert.Equal(t, "Eden Livemint", cfg.Engine.MetadataName, "defaults survive a partial file")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o600))

	_, err := config.LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_SecretsIgnoredInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain:
  signer_key: "0xdeadbeef"
`), 0o600))
	t.Setenv("SIGNER_PK", "")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Chain.SignerKey)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "redis"
	cfg.Artifacts.Backend = "s3"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unsupported store backend "redis"`)
	assert.Contains(t, msg, "EDEN_API_KEY")
	assert.Contains(t, msg, "ARTIFACT_GATEWAY")
	assert.Contains(t, msg, "ARTIFACT_S3_BUCKET")
	assert.Contains(t, msg, "PROVIDER_URL")
	assert.Contains(t, msg, "SIGNER_PK")
	assert.Contains(t, msg, "CONTRACT_ADDRESS or BROADCAST_FILE")
}

func TestValidate_LeaseTTL(t *testing.T) {
	validEnv(t)
	cfg, err := config.LoadFile("")
	require.NoError(t, err)

	cfg.Lease.RedisAddr = "localhost:6379"
	cfg.Lease.TTL = time.Second
	assert.ErrorContains(t, cfg.Validate(), "LEASE_TTL")

	cfg.Lease.TTL = 30 * time.Second
	assert.NoError(t, cfg.Validate())
}
