// Package config loads process configuration. Defaults come first,
// then an optional YAML file, then environment variables. Components
// receive their own sub-config; nothing reads the environment after
// startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chainml/asset-registry/internal/ledger"
	"github.com/chainml/asset-registry/internal/logging"
	"github.com/chainml/asset-registry/internal/metrics"
	"github.com/chainml/asset-registry/internal/store"
)

type Config struct {
	Log       logging.Config       `yaml:"log"`
	Database  store.DatabaseConfig `yaml:"database"`
	Payloads  store.PayloadConfig  `yaml:"payloads"`
	Ledger    ledger.Config        `yaml:"ledger"`
	Registry  RegistryConfig       `yaml:"registry"`
	Reconcile ReconcileConfig      `yaml:"reconcile"`
	Metrics   metrics.Config       `yaml:"metrics"`
}

// RegistryConfig tunes the registration orchestrator.
type RegistryConfig struct {
	// Owner is this node's organization identity, recorded on every
	// locally created asset.
	Owner string `yaml:"owner"`

	// PublicURL is the base URL under which this node serves cached
	// payloads to peers; it is registered on-chain as the asset's
	// storage address.
	PublicURL string `yaml:"public_url"`

	// AsyncWorkers sizes the background registration pool. Zero
	// disables the queue; registrations then run inline.
	AsyncWorkers int `yaml:"async_workers"`

	// QueueCapacity bounds the pending registration backlog.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ReconcileConfig tunes the unvalidated-record sweeper.
type ReconcileConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between sweeps.
	Interval time.Duration `yaml:"interval"`

	// Grace is how old a pending record must be before the sweeper
	// queries the ledger for it.
	Grace time.Duration `yaml:"grace"`

	// AbandonAfter is how old a pending record may grow before a
	// ledger miss deletes it.
	AbandonAfter time.Duration `yaml:"abandon_after"`
}

// defaults returns the baseline configuration.
func defaults() Config {
	return Config{
		Log: logging.Config{Format: "text", Level: "info"},
		Database: store.DatabaseConfig{
			DSN:      "postgres://localhost:5432/assets?sslmode=disable",
			MaxConns: 5,
		},
		Payloads: store.PayloadConfig{
			Backend:  "local",
			LocalDir: "./data",
			Prefix:   "assets/",
		},
		Ledger: ledger.Config{
			Endpoint:      "http://localhost:7059",
			Channel:       "mychannel",
			Chaincode:     "assetcc",
			InvokeTimeout: 45 * time.Second,
			QueryTimeout:  10 * time.Second,
		},
		Registry: RegistryConfig{
			Owner:         "org-1",
			PublicURL:     "http://localhost:8000/assets",
			AsyncWorkers:  4,
			QueueCapacity: 64,
		},
		Reconcile: ReconcileConfig{
			Enabled:      true,
			Interval:     5 * time.Minute,
			Grace:        2 * time.Minute,
			AbandonAfter: 72 * time.Hour,
		},
		Metrics: metrics.Config{Enabled: true, Address: ":9090"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (if non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func applyEnv(cfg *Config) {
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	setString(&cfg.Database.DSN, "DATABASE_DSN")

	setString(&cfg.Payloads.Backend, "PAYLOAD_BACKEND")
	setString(&cfg.Payloads.LocalDir, "PAYLOAD_LOCAL_DIR")
	setString(&cfg.Payloads.GCSBucket, "PAYLOAD_GCS_BUCKET")
	setString(&cfg.Payloads.S3Bucket, "PAYLOAD_S3_BUCKET")
	setString(&cfg.Payloads.S3Endpoint, "PAYLOAD_S3_ENDPOINT")
	setString(&cfg.Payloads.S3Region, "PAYLOAD_S3_REGION")
	setString(&cfg.Payloads.Prefix, "PAYLOAD_PREFIX")

	setString(&cfg.Ledger.Endpoint, "LEDGER_ENDPOINT")
	setString(&cfg.Ledger.Channel, "LEDGER_CHANNEL")
	setString(&cfg.Ledger.Chaincode, "LEDGER_CHAINCODE")
	setString(&cfg.Ledger.MSPID, "LEDGER_MSP_ID")
	setString(&cfg.Ledger.Identity, "LEDGER_IDENTITY")
	setDuration(&cfg.Ledger.InvokeTimeout, "LEDGER_INVOKE_TIMEOUT")
	setDuration(&cfg.Ledger.QueryTimeout, "LEDGER_QUERY_TIMEOUT")

	setString(&cfg.Registry.Owner, "REGISTRY_OWNER")
	setString(&cfg.Registry.PublicURL, "REGISTRY_PUBLIC_URL")
	setInt(&cfg.Registry.AsyncWorkers, "REGISTRY_ASYNC_WORKERS")
	setInt(&cfg.Registry.QueueCapacity, "REGISTRY_QUEUE_CAPACITY")

	setDuration(&cfg.Reconcile.Interval, "RECONCILE_INTERVAL")
	setDuration(&cfg.Reconcile.Grace, "RECONCILE_GRACE")
	setDuration(&cfg.Reconcile.AbandonAfter, "RECONCILE_ABANDON_AFTER")
	if v := os.Getenv("RECONCILE_ENABLED"); v != "" {
		cfg.Reconcile.Enabled = v == "true"
	}

	setString(&cfg.Metrics.Address, "METRICS_ADDRESS")
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
