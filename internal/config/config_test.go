package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAPIKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REQUIRE_API_KEY", "")
	t.Setenv("API_KEY", "")
	t.Setenv("MONGODB_URL", "mongodb://localhost:27017/bsv-address-tracker")
	t.Setenv("BSV_NETWORK", "")
}

func TestLoad_Defaults(t *testing.T) {
	clearAPIKeyEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Node.RPCHost)
	assert.Equal(t, 8332, cfg.Node.RPCPort)
	assert.Equal(t, "http://localhost:8332", cfg.Node.RPCURL())
	assert.Equal(t, "mongodb://localhost:27017/bsv-address-tracker", cfg.Mongo.URL)
	assert.Equal(t, 3000, cfg.API.Port)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.False(t, cfg.API.RequireKey)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, int64(144), cfg.Tracker.ArchiveThreshold)
	assert.Equal(t, 100, cfg.Tracker.ConfirmationBatch)
	assert.Equal(t, 4, cfg.Tracker.RPCConcurrency)
	assert.Equal(t, 500, cfg.Tracker.MaxHistoryPerAddress)
	assert.Equal(t, 4194304, cfg.Tracker.MaxTxSizeBytes)
	assert.Equal(t, time.Second, cfg.Explorer.RateLimit)
	assert.False(t, cfg.Webhook.Enabled)
	assert.Equal(t, 10, cfg.Webhook.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Webhook.ProcessingInterval)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 5, cfg.Webhook.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.Webhook.CleanupAfter)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	clearAPIKeyEnv(t)
	t.Setenv("SVNODE_RPC_HOST", "node.example")
	t.Setenv("SVNODE_RPC_PORT", "18332")
	t.Setenv("BSV_NETWORK", "testnet")
	t.Setenv("AUTO_ARCHIVE_AFTER", "200")
	t.Setenv("ENABLE_WEBHOOKS", "true")
	t.Setenv("WEBHOOK_BATCH_SIZE", "25")
	t.Setenv("REQUIRE_API_KEY", "true")
	t.Setenv("API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "node.example", cfg.Node.RPCHost)
	assert.Equal(t, 18332, cfg.Node.RPCPort)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, int64(200), cfg.Tracker.ArchiveThreshold)
	assert.True(t, cfg.Webhook.Enabled)
	assert.Equal(t, 25, cfg.Webhook.BatchSize)
	assert.True(t, cfg.API.RequireKey)
	assert.Equal(t, "secret", cfg.API.Key)
}

func TestLoad_RequireAPIKeyWithoutKeyIsInvalid(t *testing.T) {
	clearAPIKeyEnv(t)
	t.Setenv("REQUIRE_API_KEY", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoad_RejectsUnknownNetwork(t *testing.T) {
	clearAPIKeyEnv(t)
	t.Setenv("BSV_NETWORK", "regtest")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BSV_NETWORK")
}

func TestGetEnvInt_InvalidValueFallsBack(t *testing.T) {
	t.Setenv("TEST_INT", "not_a_number")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))
}

func TestGetEnvBool_InvalidValueFallsBack(t *testing.T) {
	t.Setenv("TEST_BOOL", "not_a_bool")
	assert.Equal(t, true, getEnvBool("TEST_BOOL", true))
}
