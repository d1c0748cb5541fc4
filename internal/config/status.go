package config

import "github.com/spf13/pflag"

// StatusConfig holds configuration for the status command. Events are read
// from Postgres when PGDSN is set, otherwise from the JSONL file In.
type StatusConfig struct {
	PGDSN     string
	In        string
	ChainID   uint64
	Address   string
	ProfileID string
	PubID     string
	LogLevel  string
}

// LoadStatus merges config file, environment variables, and flags into StatusConfig.
func LoadStatus(cfgFile string, flags *pflag.FlagSet) (StatusConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":        "./data/events.jsonl",
		"log-level": "info",
	})
	if err != nil {
		return StatusConfig{}, err
	}

	return StatusConfig{
		PGDSN:     v.GetString("pg-dsn"),
		In:        v.GetString("in"),
		ChainID:   v.GetUint64("chain-id"),
		Address:   v.GetString("address"),
		ProfileID: v.GetString("profile-id"),
		PubID:     v.GetString("pub-id"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}
