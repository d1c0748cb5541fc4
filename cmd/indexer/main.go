package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bountyScope/internal/chain"
	"bountyScope/internal/config"
	"bountyScope/internal/indexer"
	"bountyScope/internal/metrics"
	"bountyScope/internal/publish"
	"bountyScope/internal/storage"
	"bountyScope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Bounty module event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index bounty events from the chain",
		RunE:  runIndexer,
	}

	runCmd.Flags().String("rpc", "", "RPC URL")
	runCmd.Flags().Uint64("from", 0, "start block (inclusive), 0 means the deployment start block")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	runCmd.Flags().StringSlice("address", nil, "bounty module addresses (comma-separated), default from deployments")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	runCmd.Flags().Uint64("confirmations", 0, "blocks to stay behind the head")
	runCmd.Flags().Bool("follow", false, "keep polling for new blocks")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "poll interval in follow mode")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN; when set events and cursor go to Postgres")
	runCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL path")
	runCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL path")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("nats-url", "", "NATS URL for event fan-out")
	runCmd.Flags().String("nats-subject", "bounty.events", "NATS subject prefix")
	runCmd.Flags().String("metrics-addr", "", "address for the /metrics endpoint, e.g. :9100")
	runCmd.Flags().Int("dedupe-cache-size", 65536, "recently committed event ids kept for dedupe")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw log JSONL into indexed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Fold stored events into bounty status",
		RunE:  runStatus,
	}

	statusCmd.Flags().String("pg-dsn", "", "Postgres DSN to read events from")
	statusCmd.Flags().String("in", "./data/events.jsonl", "events JSONL to read when no DSN is set")
	statusCmd.Flags().Uint64("chain-id", 0, "only show this chain, 0 means all")
	statusCmd.Flags().String("address", "", "only show this bounty module address")
	statusCmd.Flags().String("profile-id", "", "only show this profile id")
	statusCmd.Flags().String("pub-id", "", "only show this publication id")
	statusCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	rawAddresses, from, err := cfg.Target(chainID)
	if err != nil {
		return err
	}
	addresses, err := indexer.ParseAddresses(rawAddresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}

	var (
		sink   storage.Storage
		cursor indexer.CursorStore
	)
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = store
		if cfg.CheckpointEnabled {
			cursor = &indexer.DBCursorStore{Store: store, Name: indexer.StateName(chainID, addresses)}
		}
	} else {
		sink = storage.NewJsonlStorage(cfg.Out)
		cursor = indexer.NewFileCursorStore(cfg.Checkpoint, cfg.CheckpointEnabled)
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	runner, err := indexer.NewRunner(indexer.RunConfig{
		FromBlock:       from,
		ToBlock:         cfg.ToBlock,
		Addresses:       addresses,
		BatchSize:       cfg.BatchSize,
		Confirmations:   cfg.Confirmations,
		Follow:          cfg.Follow,
		PollInterval:    cfg.PollInterval,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		DedupeCacheSize: cfg.DedupeCacheSize,
	}, chainClient, sink, cursor, logger)
	if err != nil {
		return err
	}
	runner.WithMetrics(m)
	if cfg.Errors != "" {
		runner.WithErrorSink(storage.NewJsonlErrorSink(cfg.Errors))
	}
	if cfg.NATSURL != "" {
		publisher, err := publish.NewPublisher(publish.Config{
			URL:           cfg.NATSURL,
			Subject:       cfg.NATSSubject,
			MaxReconnects: -1,
		}, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		runner.WithPublisher(publisher)
	}

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID),
		zap.Uint64("from", from),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("addresses", len(addresses)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Bool("follow", cfg.Follow),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.Bool("nats", cfg.NATSURL != ""),
	)

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("indexer stopped")
		return nil
	}
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
