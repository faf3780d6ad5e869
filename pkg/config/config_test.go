package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Root()
	log.SetDefault(log.NewLogger(log.JSONHandler(&buf)))
	t.Cleanup(func() { log.SetDefault(prev) })
	return &buf
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
protocol: ethereum
host: node.local
port: 8546
user: alice
password: secret
start_height: 100
granularity: contract
interval: 5s
rpc:
  call_timeout: 10s
  rate_limit: 20
checkpoint:
  type: redis
  redis_addr: localhost:6379
ethereum:
  contracts_dir: ./contracts
  deployer_contract: Factory
  watched_events: [TaskCreated, TaskCloned]
  network_id: "3"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ethereum", cfg.Protocol)
	assert.Equal(t, "node.local", cfg.Host)
	assert.Equal(t, 8546, cfg.Port)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, uint64(100), cfg.StartHeight)
	assert.Equal(t, "contract", cfg.Granularity)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.RPC.CallTimeout)
	assert.Equal(t, float64(20), cfg.RPC.RateLimit)
	assert.Equal(t, "redis", cfg.Checkpoint.Type)
	assert.Equal(t, "block_height", cfg.Checkpoint.Key)

	e := cfg.Ethereum
	assert.Equal(t, "./contracts", e.ContractsDir)
	assert.Equal(t, "Factory", e.DeployerContract)
	assert.Equal(t, DefaultDeployeeContract, e.DeployeeContract)
	assert.Equal(t, []string{"TaskCreated", "TaskCloned"}, e.WatchedEvents)
	assert.Equal(t, "3", e.NetworkID)
	assert.Equal(t, "Factory", e.EventContract)
	assert.Equal(t, "TaskCreated", e.EventName)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("non_existent_file.yaml")
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "invalid_yaml: [ unclosed bracket"))
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "user: bob\n"))
	require.NoError(t, err)

	assert.Equal(t, "bitcoin", cfg.Protocol)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, 8332, cfg.Port)
	assert.Equal(t, uint64(0), cfg.StartHeight)
	assert.Equal(t, "block", cfg.Granularity)
	assert.Equal(t, 10*time.Minute, cfg.Interval)
	assert.Equal(t, "http", cfg.RPC.Scheme)
	assert.Equal(t, 1, cfg.RPC.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.RPC.RetryBackoff)
	assert.Equal(t, StoreFile, cfg.Checkpoint.Type)
	assert.Equal(t, "block_height", cfg.Checkpoint.Key)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "terminal", cfg.Log.Format)

	e := cfg.Ethereum
	assert.Equal(t, DefaultDeployerContract, e.DeployerContract)
	assert.Equal(t, DefaultDeployeeContract, e.DeployeeContract)
	assert.Equal(t, []string{DefaultCreationEvent}, e.WatchedEvents)
	assert.Equal(t, DefaultCreationField, e.CreationField)
	assert.Equal(t, DefaultNetworkID, e.NetworkID)
}

func TestLoad_EnvVars(t *testing.T) {
	path := writeConfig(t, `
protocol: bitcoin
port: 8332
`)
	t.Setenv("SCANNER_PROTOCOL", "ethereum")
	t.Setenv("SCANNER_PORT", "9545")
	t.Setenv("SCANNER_RPC_CALL_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ethereum", cfg.Protocol)
	assert.Equal(t, 9545, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.RPC.CallTimeout)
}

func TestLoad_IntervalSeconds(t *testing.T) {
	cfg, err := Load(writeConfig(t, "interval: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Interval)

	cfg, err = Load(writeConfig(t, "interval: 0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval)

	cfg, err = Load(writeConfig(t, "interval: 250ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
}

func TestLoad_IntervalFromEnv(t *testing.T) {
	t.Setenv("SCANNER_INTERVAL", "5")

	cfg, err := Load(writeConfig(t, "protocol: bitcoin\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Interval)
}

func TestLoad_IntervalZeroMeansNoWait(t *testing.T) {
	cfg, err := Load(writeConfig(t, "protocol: bitcoin\ninterval: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Interval)
}

func TestLoad_IntervalInvalid(t *testing.T) {
	buf := captureLogs(t)

	cfg, err := Load(writeConfig(t, "protocol: bitcoin\ninterval: soon\n"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Interval)
	assert.Contains(t, buf.String(), "interval")
}

func TestNormalize_ChainPreset(t *testing.T) {
	cfg := &Config{Chain: "polygon-mainnet"}
	assert.Empty(t, cfg.Normalize())

	assert.Equal(t, "ethereum", cfg.Protocol)
	assert.Equal(t, 8545, cfg.Port)
	assert.Equal(t, "137", cfg.Ethereum.NetworkID)
	assert.Equal(t, 2*time.Second, cfg.Interval)
}

func TestNormalize_BogusGranularity(t *testing.T) {
	buf := captureLogs(t)

	cfg := &Config{Granularity: "bogus"}
	errs := cfg.Normalize()

	assert.Equal(t, "block", cfg.Granularity)
	require.Len(t, errs, 1)
	assert.Equal(t, "granularity", errs[0].Key)
	assert.Equal(t, "bogus", errs[0].Value)
	assert.Contains(t, errs[0].Error(), "using block")
	assert.Contains(t, buf.String(), "Invalid configuration")
	assert.Contains(t, buf.String(), "bogus")
}

func TestNormalize_InvalidValues(t *testing.T) {
	captureLogs(t)

	cfg := &Config{
		Protocol:   "dogecoin",
		Chain:      "nowhere",
		Port:       70000,
		Interval:   -time.Second,
		RPC:        RPCConfig{Scheme: "ftp", CallTimeout: -1, RateLimit: -2},
		Checkpoint: CheckpointConfig{Type: "etcd"},
		Log:        LogConfig{Level: "loud", Format: "xml"},
	}
	errs := cfg.Normalize()

	keys := make([]string, 0, len(errs))
	for _, e := range errs {
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, []string{
		"chain", "protocol", "port", "interval",
		"rpc.scheme", "rpc.call_timeout", "rpc.rate_limit",
		"checkpoint.type", "log.level", "log.format",
	}, keys)

	assert.Equal(t, "bitcoin", cfg.Protocol)
	assert.Equal(t, 8332, cfg.Port)
	assert.Equal(t, "http", cfg.RPC.Scheme)
	assert.Equal(t, StoreFile, cfg.Checkpoint.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}
