package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Uint64("from", 0, "")
	flags.StringSlice("address", nil, "")
	flags.Uint64("batch-size", 2000, "")
	flags.Bool("follow", false, "")
	return flags
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`), runFlags())
	require.NoError(t, err)

	assert.Equal(t, uint64(2000), cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, "bounty.events", cfg.NATSSubject)
	assert.True(t, cfg.CheckpointEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Deployments)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `{"rpc": "http://file", "batch-size": 50, "confirmations": 12}`)
	t.Setenv("INDEXER_RPC", "http://env")

	flags := runFlags()
	require.NoError(t, flags.Parse([]string{"--batch-size=10", "--address=0xabc, 0xdef", "--follow"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.RPCURL)
	assert.Equal(t, uint64(10), cfg.BatchSize)
	assert.Equal(t, uint64(12), cfg.Confirmations)
	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.Addresses)
	assert.True(t, cfg.Follow)
}

func TestDeploymentsResolveTarget(t *testing.T) {
	path := writeConfig(t, `{
		"deployments": {
			"137": {"address": "0x00000000000000000000000000000000000000b0", "start_block": 5000},
			"80001": {"address": "0x00000000000000000000000000000000000000b1", "start_block": 10}
		}
	}`)
	cfg, err := Load(path, runFlags())
	require.NoError(t, err)
	require.Len(t, cfg.Deployments, 2)

	addresses, from, err := cfg.Target(137)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000b0"}, addresses)
	assert.Equal(t, uint64(5000), from)

	cfg.FromBlock = 6000
	_, from, err = cfg.Target(137)
	require.NoError(t, err)
	assert.Equal(t, uint64(6000), from)

	_, _, err = cfg.Target(1)
	assert.Error(t, err)

	cfg.Addresses = []string{"0x01"}
	addresses, _, err = cfg.Target(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01"}, addresses)
}

func TestDeploymentsRejectBadChainID(t *testing.T) {
	path := writeConfig(t, `{"deployments": {"polygon": {"address": "0x01"}}}`)
	_, err := Load(path, runFlags())
	assert.Error(t, err)
}

func TestLoadStatus(t *testing.T) {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	flags.String("profile-id", "", "")
	require.NoError(t, flags.Parse([]string{"--profile-id=7"}))

	cfg, err := LoadStatus(writeConfig(t, `{"pg-dsn": "postgres://localhost/bounty", "chain-id": 137, "address": "0xb0b0"}`), flags)
	require.NoError(t, err)
	assert.Equal(t, "7", cfg.ProfileID)
	assert.Equal(t, uint64(137), cfg.ChainID)
	assert.Equal(t, "0xb0b0", cfg.Address)
	assert.Equal(t, "postgres://localhost/bounty", cfg.PGDSN)
	assert.Equal(t, "./data/events.jsonl", cfg.In)
}
