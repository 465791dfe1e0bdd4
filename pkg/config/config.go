// Package config loads process configuration.
//
// Values come from three layers, later layers winning:
//   - built-in defaults (Default)
//   - an optional YAML file named by MINTMODIFIER_CONFIG
//   - environment variables
//
// Secrets (API keys, the signer key) are read from the environment only.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at the YAML config file.
const FileEnv = "MINTMODIFIER_CONFIG"

// Config is the complete process configuration.
type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT"`

	Store     StoreConfig     `yaml:"store"`
	Eden      EdenConfig      `yaml:"eden"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Chain     ChainConfig     `yaml:"chain"`
	Engine    EngineConfig    `yaml:"engine"`
	Lease     LeaseConfig     `yaml:"lease"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects the mint event store.
type StoreConfig struct {
	// Backend is one of mongo, postgres, sqlite, memory.
	Backend         string `yaml:"backend" env:"STORE_BACKEND"`
	MongoURL        string `yaml:"-" env:"MONGO_URL"`
	MongoDatabase   string `yaml:"mongo_database" env:"MONGO_DB_NAME"`
	MongoCollection string `yaml:"mongo_collection" env:"MONGO_COLLECTION_NAME"`
	DatabaseURL     string `yaml:"-" env:"DATABASE_URL"`
	SQLitePath      string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// EdenConfig configures the task service client.
type EdenConfig struct {
	BaseURL       string        `yaml:"base_url" env:"EDEN_API_URL"`
	APIKey        string        `yaml:"-" env:"EDEN_API_KEY"`
	APISecret     string        `yaml:"-" env:"EDEN_API_SECRET"`
	RatePerSecond float64       `yaml:"rate_per_second" env:"EDEN_RATE_LIMIT"`
	Timeout       time.Duration `yaml:"timeout" env:"EDEN_TIMEOUT"`
}

// ArtifactsConfig configures the artifact publisher.
type ArtifactsConfig struct {
	// Backend is one of pinata, fs, s3, gcs.
	Backend         string        `yaml:"backend" env:"ARTIFACT_BACKEND"`
	Gateway         string        `yaml:"gateway" env:"ARTIFACT_GATEWAY"`
	MaxSize         int64         `yaml:"max_size" env:"ARTIFACT_MAX_SIZE"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"ARTIFACT_DOWNLOAD_TIMEOUT"`

	PinataAPIURL    string `yaml:"pinata_api_url" env:"PINATA_API_URL"`
	PinataAPIKey    string `yaml:"-" env:"PINATA_API_KEY"`
	PinataAPISecret string `yaml:"-" env:"PINATA_API_SECRET"`
	PinataJWT       string `yaml:"-" env:"PINATA_JWT"`

	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	S3Bucket   string `yaml:"s3_bucket" env:"ARTIFACT_S3_BUCKET"`
	S3Region   string `yaml:"s3_region" env:"ARTIFACT_S3_REGION"`
	S3Endpoint string `yaml:"s3_endpoint" env:"ARTIFACT_S3_ENDPOINT"`
	S3Prefix   string `yaml:"s3_prefix" env:"ARTIFACT_S3_PREFIX"`
	GCSBucket  string `yaml:"gcs_bucket" env:"ARTIFACT_GCS_BUCKET"`
	GCSPrefix  string `yaml:"gcs_prefix" env:"ARTIFACT_GCS_PREFIX"`
}

// ChainConfig configures the ledger writer.
type ChainConfig struct {
	RPCURL              string        `yaml:"rpc_url" env:"PROVIDER_URL"`
	SignerKey           string        `yaml:"-" env:"SIGNER_PK"`
	ContractAddress     string        `yaml:"contract_address" env:"CONTRACT_ADDRESS"`
	BroadcastFile       string        `yaml:"broadcast_file" env:"BROADCAST_FILE"`
	ABIPath             string        `yaml:"abi_path" env:"CONTRACT_ABI_PATH"`
	GasLimit            uint64        `yaml:"gas_limit" env:"GAS_LIMIT"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval" env:"RECEIPT_POLL_INTERVAL"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout" env:"RECEIPT_TIMEOUT"`
}

// EngineConfig configures the reconciliation loop.
type EngineConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	Concurrency       int           `yaml:"concurrency" env:"CONCURRENCY"`
	LedgerMaxAttempts int           `yaml:"ledger_max_attempts" env:"LEDGER_MAX_ATTEMPTS"`
	MetadataName      string        `yaml:"metadata_name" env:"METADATA_NAME"`
	CreationBaseURL   string        `yaml:"creation_base_url" env:"CREATION_BASE_URL"`
}

// LeaseConfig configures the optional Redis poller lease. An empty address
// disables it.
type LeaseConfig struct {
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"-" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	Key           string        `yaml:"key" env:"LEASE_KEY"`
	TTL           time.Duration `yaml:"ttl" env:"LEASE_TTL"`
}

// TelemetryConfig configures OpenTelemetry export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"OTEL_TRACES_SAMPLE_RATE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "json",
		Store: StoreConfig{
			Backend:         "mongo",
			MongoDatabase:   "eden",
			MongoCollection: "mintevents",
			SQLitePath:      "mintmodifier.db",
		},
		Eden: EdenConfig{
			BaseURL:       "https://api.eden.art",
			RatePerSecond: 2,
			Timeout:       30 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Backend:         "pinata",
			MaxSize:         64 << 20,
			DownloadTimeout: 2 * time.Minute,
			DataDir:         "data",
		},
		Chain: ChainConfig{
			GasLimit:            10_000_000,
			ReceiptPollInterval: 2 * time.Second,
			ReceiptTimeout:      5 * time.Minute,
		},
		Engine: EngineConfig{
			PollInterval:      2 * time.Second,
			Concurrency:       1,
			LedgerMaxAttempts: 1,
			MetadataName:      "Eden Livemint",
			CreationBaseURL:   "https://garden.eden.art/creation",
		},
		Lease: LeaseConfig{
			Key: "mintmodifier:poller",
			TTL: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "mintmodifier",
			SampleRate:  1.0,
		},
	}
}

// Load builds the configuration from defaults, the file named by
// MINTMODIFIER_CONFIG (if set) and the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Unset variables leave the file and default values in place.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Artifacts.Backend = strings.ToLower(strings.TrimSpace(cfg.Artifacts.Backend))
	return cfg, nil
}

// Validate reports every missing or inconsistent setting needed by run.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Store.Backend {
	case "mongo":
		if c.Store.MongoURL == "" {
			add("MONGO_URL is required for the mongo store")
		}
		if c.Store.MongoDatabase == "" || c.Store.MongoCollection == "" {
			add("MONGO_DB_NAME and MONGO_COLLECTION_NAME are required for the mongo store")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("SQLITE_PATH is required for the sqlite store")
		}
	case "memory":
	default:
		add("unsupported store backend %q", c.Store.Backend)
	}

	if c.Eden.APIKey == "" || c.Eden.APISecret == "" {
		add("EDEN_API_KEY and EDEN_API_SECRET are required")
	}

	switch c.Artifacts.Backend {
	case "pinata":
		if c.Artifacts.PinataJWT == "" && (c.Artifacts.PinataAPIKey == "" || c.Artifacts.PinataAPISecret == "") {
			add("PINATA_JWT or PINATA_API_KEY and PINATA_API_SECRET are required for the pinata backend")
		}
	case "fs", "s3", "gcs":
		if c.Artifacts.Gateway == "" {
			add("ARTIFACT_GATEWAY is required for the %s backend", c.Artifacts.Backend)
		}
		if c.Artifacts.Backend == "s3" && c.Artifacts.S3Bucket == "" {
			add("ARTIFACT_S3_BUCKET is required for the s3 backend")
		}
		if c.Artifacts.Backend == "gcs" && c.Artifacts.GCSBucket == "" {
			add("ARTIFACT_GCS_BUCKET is required for the gcs backend")
		}
	default:
		add("unsupported artifact backend %q", c.Artifacts.Backend)
	}

	if c.Chain.RPCURL == "" {
		add("PROVIDER_URL is required")
	}
	if c.Chain.SignerKey == "" {
		add("SIGNER_PK is required")
	}
	if c.Chain.ContractAddress == "" && c.Chain.BroadcastFile == "" {
		add("CONTRACT_ADDRESS or BROADCAST_FILE is required")
	}

	if c.Engine.PollInterval <= 0 {
		add("POLL_INTERVAL must be positive")
	}
	if c.Engine.Concurrency < 1 {
		add("CONCURRENCY must be at least 1")
	}
	if c.Lease.RedisAddr != "" && c.Lease.TTL <= c.Engine.PollInterval {
		add("LEASE_TTL (%s) must exceed POLL_INTERVAL (%s)", c.Lease.TTL, c.Engine.PollInterval)
	}

	return errors.Join(errs...)
}

// TelemetryEnabled reports whether an OTLP endpoint is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry.OTLPEndpoint != ""
}
