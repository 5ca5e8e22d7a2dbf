// Package config loads the tracker's runtime configuration from the
// environment, following the getEnv/getEnvInt idiom throughout this
// codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// ErrConfigInvalid indicates a fatal startup configuration error; re-exported
// for callers that only import config.
var ErrConfigInvalid = model.ErrConfigInvalid

// Config is the fully-resolved runtime configuration for cmd/tracker.
type Config struct {
	Node     NodeConfig
	Mongo    MongoConfig
	API      APIConfig
	Network  string
	Tracker  TrackerConfig
	Explorer ExplorerConfig
	Webhook  WebhookConfig
	Log      LogConfig
}

// NodeConfig is the BSV node's RPC and ZMQ transport.
type NodeConfig struct {
	RPCHost          string
	RPCPort          int
	RPCUser          string
	RPCPassword      string
	ZMQRawTxAddr     string
	ZMQHashBlockAddr string
}

// RPCURL builds the node's JSON-RPC HTTP endpoint.
func (n NodeConfig) RPCURL() string {
	return fmt.Sprintf("http://%s:%d", n.RPCHost, n.RPCPort)
}

// MongoConfig is the persistent store's connection string.
type MongoConfig struct {
	URL string
}

// APIConfig configures the control surface's HTTP listener and auth.
type APIConfig struct {
	Port       int
	Host       string
	RequireKey bool
	Key        string
}

// TrackerConfig configures the confirmation tracker (C7) and backfill (C8).
type TrackerConfig struct {
	ArchiveThreshold     int64
	ConfirmationBatch    int
	RPCConcurrency       int
	MaxHistoryPerAddress int
	MaxTxSizeBytes       int
}

// ExplorerConfig configures the block explorer client (C5).
type ExplorerConfig struct {
	APIKey          string
	RateLimit       time.Duration
}

// WebhookConfig configures the webhook dispatcher (C9).
type WebhookConfig struct {
	Enabled            bool
	BatchSize          int
	ProcessingInterval time.Duration
	Timeout            time.Duration
	MaxRetries         int
	CleanupAfter       time.Duration
}

// LogConfig configures the slog logger.
type LogConfig struct {
	Level string
}

// Load reads every environment variable named in the tracker's external
// interface contract and returns a fully-defaulted Config. It returns an
// error (never panics) on an invalid combination, e.g. REQUIRE_API_KEY=true
// with no API_KEY set.
func Load() (*Config, error) {
	cfg := &Config{
		Node: NodeConfig{
			RPCHost:          getEnv("SVNODE_RPC_HOST", "localhost"),
			RPCPort:          getEnvInt("SVNODE_RPC_PORT", 8332),
			RPCUser:          getEnv("SVNODE_RPC_USER", ""),
			RPCPassword:      getEnv("SVNODE_RPC_PASSWORD", ""),
			ZMQRawTxAddr:     getEnv("SVNODE_ZMQ_RAWTX", "tcp://127.0.0.1:28332"),
			ZMQHashBlockAddr: getEnv("SVNODE_ZMQ_HASHBLOCK", "tcp://127.0.0.1:28333"),
		},
		Mongo: MongoConfig{
			URL: getEnv("MONGODB_URL", "mongodb://localhost:27017/bsv-address-tracker"),
		},
		API: APIConfig{
			Port:       getEnvInt("API_PORT", 3000),
			Host:       getEnv("API_HOST", "0.0.0.0"),
			RequireKey: getEnvBool("REQUIRE_API_KEY", false),
			Key:        getEnv("API_KEY", ""),
		},
		Network: getEnv("BSV_NETWORK", "mainnet"),
		Tracker: TrackerConfig{
			ArchiveThreshold:     int64(getEnvInt("AUTO_ARCHIVE_AFTER", 144)),
			ConfirmationBatch:    getEnvInt("CONFIRMATION_BATCH_SIZE", 100),
			RPCConcurrency:       getEnvInt("RPC_CONCURRENCY", 4),
			MaxHistoryPerAddress: getEnvInt("MAX_HISTORY_PER_ADDRESS", 500),
			MaxTxSizeBytes:       getEnvInt("MAX_TX_SIZE_BYTES", 4194304),
		},
		Explorer: ExplorerConfig{
			APIKey:    getEnv("WOC_API_KEY", ""),
			RateLimit: time.Duration(getEnvInt("WOC_RATE_LIMIT_MS", 1000)) * time.Millisecond,
		},
		Webhook: WebhookConfig{
			Enabled:            getEnvBool("ENABLE_WEBHOOKS", false),
			BatchSize:          getEnvInt("WEBHOOK_BATCH_SIZE", 10),
			ProcessingInterval: getEnvDurationMs("WEBHOOK_PROCESSING_INTERVAL", 5000),
			Timeout:            getEnvDurationMs("WEBHOOK_TIMEOUT", 10000),
			MaxRetries:         getEnvInt("WEBHOOK_MAX_RETRIES", 5),
			CleanupAfter:       time.Duration(getEnvInt("WEBHOOK_CLEANUP_DAYS", 7)) * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.API.RequireKey && c.API.Key == "" {
		return fmt.Errorf("%w: REQUIRE_API_KEY is true but API_KEY is not set", ErrConfigInvalid)
	}
	if c.Mongo.URL == "" {
		return fmt.Errorf("%w: MONGODB_URL is required", ErrConfigInvalid)
	}
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: BSV_NETWORK must be mainnet or testnet, got %q", ErrConfigInvalid, c.Network)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDurationMs(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}
