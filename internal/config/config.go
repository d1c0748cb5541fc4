package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Deployment is where the bounty module lives on one chain.
type Deployment struct {
	Address    string `mapstructure:"address"`
	StartBlock uint64 `mapstructure:"start_block"`
}

// Config holds configuration for the run command.
type Config struct {
	RPCURL            string
	FromBlock         uint64
	ToBlock           uint64
	Addresses         []string
	BatchSize         uint64
	Confirmations     uint64
	Follow            bool
	PollInterval      time.Duration
	PGDSN             string
	Out               string
	Errors            string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	NATSURL           string
	NATSSubject       string
	MetricsAddr       string
	DedupeCacheSize   int
	LogLevel          string
	Deployments       map[uint64]Deployment
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"batch-size":         uint64(2000),
		"confirmations":      uint64(0),
		"poll-interval":      5 * time.Second,
		"out":                "./data/events.jsonl",
		"errors":             "./data/decode_errors.jsonl",
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"nats-subject":       "bounty.events",
		"dedupe-cache-size":  65536,
		"log-level":          "info",
	})
	if err != nil {
		return Config{}, err
	}

	deployments, err := getDeployments(v, "deployments")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		Addresses:         getStringSlice(v, "address"),
		BatchSize:         v.GetUint64("batch-size"),
		Confirmations:     v.GetUint64("confirmations"),
		Follow:            v.GetBool("follow"),
		PollInterval:      v.GetDuration("poll-interval"),
		PGDSN:             v.GetString("pg-dsn"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		NATSURL:           v.GetString("nats-url"),
		NATSSubject:       v.GetString("nats-subject"),
		MetricsAddr:       v.GetString("metrics-addr"),
		DedupeCacheSize:   v.GetInt("dedupe-cache-size"),
		LogLevel:          v.GetString("log-level"),
		Deployments:       deployments,
	}

	return cfg, nil
}

// Target returns the contract addresses and first block to index on
// chainID. Explicit addresses win; otherwise the deployment table is used,
// and its start block applies when no from block was given.
func (c Config) Target(chainID uint64) ([]string, uint64, error) {
	if len(c.Addresses) > 0 {
		return c.Addresses, c.FromBlock, nil
	}
	deployment, ok := c.Deployments[chainID]
	if !ok || deployment.Address == "" {
		return nil, 0, fmt.Errorf("no address given and no deployment configured for chain %d", chainID)
	}
	from := c.FromBlock
	if from == 0 {
		from = deployment.StartBlock
	}
	return []string{deployment.Address}, from, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getDeployments(v *viper.Viper, key string) (map[uint64]Deployment, error) {
	out := make(map[uint64]Deployment)
	if !v.IsSet(key) {
		return out, nil
	}
	var raw map[string]Deployment
	if err := v.UnmarshalKey(key, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	for chain, deployment := range raw {
		id, err := strconv.ParseUint(strings.TrimSpace(chain), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: invalid chain id %q", key, chain)
		}
		deployment.Address = strings.TrimSpace(deployment.Address)
		out[id] = deployment
	}
	return out, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
