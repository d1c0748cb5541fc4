package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bountyScope/internal/config"
	"bountyScope/internal/model"
	"bountyScope/internal/projection"
	"bountyScope/internal/storage"
	"bountyScope/internal/storage/postgres"
)

func runStatus(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStatus(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var events []model.IndexedEvent
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		events, err = store.LoadEvents(ctx)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
	} else {
		if cfg.In == "" {
			return fmt.Errorf("input path or pg dsn is required")
		}
		events, err = storage.ReadEvents(cfg.In)
		if err != nil {
			return err
		}
	}

	// Each chain is ordered on its own, so rows from several chains and
	// modules fold into one projection without clashing.
	proj, err := projection.Fold(events)
	if err != nil {
		return err
	}

	filter := statusFilter{
		chainID:   cfg.ChainID,
		contract:  cfg.Address,
		profileID: cfg.ProfileID,
		pubID:     cfg.PubID,
	}
	shown, err := writeStatus(cmd.OutOrStdout(), proj, filter)
	if err != nil {
		return err
	}

	logger.Info("status complete",
		zap.Int("events", len(events)),
		zap.Int("bounties", len(proj.Bounties())),
		zap.Int("shown", shown),
		zap.Int("anomalies", len(proj.Anomalies())),
	)
	return nil
}

type statusLine struct {
	Bounty  *projection.Bounty  `json:"bounty,omitempty"`
	Anomaly *projection.Anomaly `json:"anomaly,omitempty"`
}

// statusFilter selects bounties; zero fields match everything.
type statusFilter struct {
	chainID   uint64
	contract  string
	profileID string
	pubID     string
}

func (f statusFilter) matches(key projection.Key) bool {
	if f.chainID != 0 && key.ChainID != f.chainID {
		return false
	}
	if f.contract != "" && !strings.EqualFold(key.Contract, f.contract) {
		return false
	}
	if f.profileID != "" && key.ProfileID != f.profileID {
		return false
	}
	if f.pubID != "" && key.PubID != f.pubID {
		return false
	}
	return true
}

// writeStatus prints one JSON line per matching bounty followed by one per
// matching anomaly, and returns how many bounties it printed.
func writeStatus(w io.Writer, proj *projection.Projection, filter statusFilter) (int, error) {
	enc := json.NewEncoder(w)
	shown := 0
	for _, b := range proj.Bounties() {
		if !filter.matches(b.Key) {
			continue
		}
		b := b
		if err := enc.Encode(statusLine{Bounty: &b}); err != nil {
			return shown, err
		}
		shown++
	}
	for _, an := range proj.Anomalies() {
		if !filter.matches(an.Key) {
			continue
		}
		an := an
		if err := enc.Encode(statusLine{Anomaly: &an}); err != nil {
			return shown, err
		}
	}
	return shown, nil
}
