package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"bountyScope/internal/contract"
	"bountyScope/internal/metrics"
	"bountyScope/internal/model"
	"bountyScope/internal/projection"
	"bountyScope/internal/storage"
)

const defaultDedupeCacheSize = 65536

// LogSource is the chain access the runner needs. *chain.Client satisfies it.
type LogSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Publisher receives events after they are durably stored.
type Publisher interface {
	Publish(ctx context.Context, events []model.IndexedEvent) error
}

// DecodeErrorSink records logs that could not be decoded.
type DecodeErrorSink interface {
	PutDecodeErrors(records []model.DecodeError) error
}

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	FromBlock       uint64
	ToBlock         uint64
	Addresses       []common.Address
	BatchSize       uint64
	Confirmations   uint64
	Follow          bool
	PollInterval    time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	DedupeCacheSize int
}

// Runner polls bounty module logs, materializes them and commits a cursor
// after every stored and published batch. Everything at or before the
// committed cursor has been stored and handed to the publisher.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	decoder    *contract.Decoder
	storage    storage.Storage
	cursor     CursorStore
	publisher  Publisher
	errors     DecodeErrorSink
	metrics    *metrics.Metrics
	logger     *zap.Logger
	seen       *lru.Cache[string, struct{}]
	projection *projection.Projection
	pending    []model.IndexedEvent
	committed  model.Cursor
	hasCursor  bool
	chainID    uint64
}

// NewRunner builds a Runner with its dependencies. cursor may be nil, in
// which case every run starts at FromBlock.
func NewRunner(cfg RunConfig, source LogSource, sink storage.Storage, cursor CursorStore, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	decoder, err := contract.NewDecoder()
	if err != nil {
		return nil, err
	}
	size := cfg.DedupeCacheSize
	if size <= 0 {
		size = defaultDedupeCacheSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		decoder:    decoder,
		storage:    sink,
		cursor:     cursor,
		metrics:    metrics.New(),
		logger:     logger,
		seen:       seen,
		projection: projection.New(),
	}, nil
}

func (r *Runner) WithPublisher(p Publisher) *Runner {
	r.publisher = p
	return r
}

func (r *Runner) WithErrorSink(s DecodeErrorSink) *Runner {
	r.errors = s
	return r
}

func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Projection exposes the materialized bounty state.
func (r *Runner) Projection() *projection.Projection {
	return r.projection
}

// Run executes the indexing loop. It returns when ToBlock is reached, when
// the chain head is reached outside follow mode, on cancellation, or on
// the first error that must not be skipped.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}

	var chainID uint64
	err := r.retry(ctx, "chain id", nil, func(ctx context.Context) error {
		var err error
		chainID, err = r.source.ChainID(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	r.chainID = chainID

	if err := r.restore(ctx); err != nil {
		return err
	}
	if err := r.republish(ctx); err != nil {
		return err
	}

	from := r.cfg.FromBlock
	if r.hasCursor && r.committed.Block >= from {
		from = r.committed.Block
		r.logger.Info("resume from cursor", zap.Stringer("cursor", r.committed), zap.Uint64("from", from))
	}

	for {
		to, ok, err := r.target(ctx)
		if err != nil {
			return err
		}
		if ok && from <= to {
			next, err := r.syncRange(ctx, from, to)
			if err != nil {
				return err
			}
			from = next
		}

		if r.cfg.ToBlock != 0 && from > r.cfg.ToBlock {
			r.logger.Info("reached end block", zap.Uint64("to", r.cfg.ToBlock))
			return nil
		}
		if !r.cfg.Follow {
			if !ok || from > to {
				r.logger.Info("nothing left to sync", zap.Uint64("from", from))
			}
			return nil
		}

		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// restore rebuilds the projection from storage and loads the cursor.
func (r *Runner) restore(ctx context.Context) error {
	stored, err := r.storage.LoadEvents(ctx)
	if err != nil {
		return fmt.Errorf("load stored events: %w", err)
	}
	r.projection = projection.New()
	for _, ev := range stored {
		if ev.ChainID != r.chainID || !r.watches(ev.Contract) {
			continue
		}
		if _, err := r.projection.Apply(ev); err != nil {
			return fmt.Errorf("replay stored events: %w", err)
		}
	}
	for _, an := range r.projection.Anomalies() {
		r.metrics.Anomalies.WithLabelValues(an.Reason).Inc()
	}
	if n := r.projection.Applied(); n > 0 {
		r.logger.Info("projection restored", zap.Int("events", n), zap.Int("anomalies", len(r.projection.Anomalies())))
	}

	r.committed, r.hasCursor = model.Cursor{}, false
	if r.cursor == nil {
		r.pending = r.unpublished(stored)
		return nil
	}
	cursor, ok, err := r.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	r.committed, r.hasCursor = cursor, ok
	if ok {
		r.metrics.CursorBlock.Set(float64(cursor.Block))
	}
	r.pending = r.unpublished(stored)
	return nil
}

// unpublished returns the stored events past the committed cursor. A failed
// publish leaves them stored but never sent, and replay would treat them as
// duplicates.
func (r *Runner) unpublished(stored []model.IndexedEvent) []model.IndexedEvent {
	if r.publisher == nil {
		return nil
	}
	var out []model.IndexedEvent
	for _, ev := range stored {
		if ev.ChainID != r.chainID || !r.watches(ev.Contract) {
			continue
		}
		if r.hasCursor && !r.committed.Less(ev.Position()) {
			continue
		}
		if !r.hasCursor && ev.BlockNumber < r.cfg.FromBlock {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// republish sends the events restore found stored past the cursor. The
// cursor stays put; the next sync sees them as duplicates.
func (r *Runner) republish(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	r.logger.Info("republish stored events", zap.Int("events", len(r.pending)))
	err := r.retry(ctx, "republish events", r.metrics.PublishRetries.Inc, func(ctx context.Context) error {
		return r.publisher.Publish(ctx, r.pending)
	})
	if err != nil {
		return fmt.Errorf("republish events: %w", err)
	}
	for _, event := range r.pending {
		r.seen.Add(event.ID, struct{}{})
	}
	r.pending = nil
	return nil
}

// target returns the last block the runner may index right now.
func (r *Runner) target(ctx context.Context) (uint64, bool, error) {
	var latest uint64
	err := r.retry(ctx, "latest block", nil, func(ctx context.Context) error {
		var err error
		latest, err = r.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("get latest block: %w", err)
	}
	head, ok := SafeHead(latest, r.cfg.Confirmations)
	if !ok {
		return 0, false, nil
	}
	if r.cfg.ToBlock != 0 && r.cfg.ToBlock < head {
		head = r.cfg.ToBlock
	}
	return head, true, nil
}

// syncRange indexes [from, to] in batches and returns the next block to
// fetch.
func (r *Runner) syncRange(ctx context.Context, from, to uint64) (uint64, error) {
	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return from, err
	}
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return blockRange.From, ctx.Err()
		default:
		}
		if err := r.syncBatch(ctx, blockRange); err != nil {
			return blockRange.From, err
		}
	}
	return to + 1, nil
}

func (r *Runner) syncBatch(ctx context.Context, blockRange BlockRange) error {
	r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	ingestedAt := time.Now().UTC()
	batch := make([]model.IndexedEvent, 0, len(logs))
	var decodeErrors []model.DecodeError
	var duplicates int
	for _, log := range logs {
		if log.Removed {
			r.logger.Warn("skip removed log", zap.Uint64("block_number", log.BlockNumber), zap.String("tx_hash", log.TxHash.Hex()), zap.Uint("log_index", log.Index))
			continue
		}
		position := model.Cursor{Block: log.BlockNumber, LogIndex: uint64(log.Index)}
		if r.hasCursor && !r.committed.Less(position) {
			duplicates++
			continue
		}
		id := model.EventID(log.TxHash.Hex(), uint64(log.Index))
		if _, ok := r.seen.Get(id); ok {
			duplicates++
			continue
		}
		if len(log.Topics) == 0 || !r.decoder.CanDecode(log.Topics[0].Hex()) {
			continue
		}

		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		record := buildLogRecord(r.chainID, log, ts, ingestedAt)

		event, err := r.decoder.Decode(record)
		if err != nil {
			r.metrics.DecodeFailures.Inc()
			r.logger.Warn("decode failed",
				zap.Error(err),
				zap.Uint64("block_number", record.BlockNumber),
				zap.String("tx_hash", record.TxHash),
				zap.Uint64("log_index", record.LogIndex),
			)
			decodeErrors = append(decodeErrors, decodeErrorFromRecord(record, err, ingestedAt))
			continue
		}

		outcome, err := r.projection.Apply(*event)
		if err != nil {
			if errors.Is(err, projection.ErrOutOfOrder) {
				r.logger.Error("ordering violation, halting",
					zap.Error(err),
					zap.String("id", event.ID),
					zap.Uint64("block_number", event.BlockNumber),
					zap.Uint64("log_index", event.LogIndex),
				)
			}
			return err
		}
		switch outcome {
		case projection.Duplicate:
			duplicates++
			continue
		case projection.Anomalous:
			anomalies := r.projection.Anomalies()
			an := anomalies[len(anomalies)-1]
			r.metrics.Anomalies.WithLabelValues(an.Reason).Inc()
			r.logger.Warn("bounty lifecycle anomaly",
				zap.String("reason", an.Reason),
				zap.String("profile_id", an.Key.ProfileID),
				zap.String("pub_id", an.Key.PubID),
				zap.String("id", an.EventID),
			)
		}
		batch = append(batch, *event)
	}

	if r.errors != nil && len(decodeErrors) > 0 {
		if err := r.errors.PutDecodeErrors(decodeErrors); err != nil {
			r.logger.Warn("write decode errors failed", zap.Error(err))
		}
	}

	if err := r.commit(ctx, batch); err != nil {
		return err
	}

	next := model.Cursor{Block: blockRange.To}
	if n := len(batch); n > 0 && batch[n-1].BlockNumber == blockRange.To {
		next = batch[n-1].Position()
	}
	if r.hasCursor && next.Less(r.committed) {
		next = r.committed
	}
	if err := r.saveCursor(ctx, next); err != nil {
		return err
	}

	r.metrics.Duplicates.Add(float64(duplicates))
	r.logger.Info("batch complete",
		zap.Int("logs", len(logs)),
		zap.Int("events", len(batch)),
		zap.Int("duplicates", duplicates),
		zap.Int("decode_failures", len(decodeErrors)),
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
	)
	return nil
}

// commit stores and publishes a batch. Neither step is skipped on failure:
// both are retried, and an exhausted retry fails the run before the cursor
// moves.
func (r *Runner) commit(ctx context.Context, batch []model.IndexedEvent) error {
	if len(batch) == 0 {
		return nil
	}

	var inserted int
	err := r.retry(ctx, "store events", r.metrics.PersistRetries.Inc, func(ctx context.Context) error {
		var err error
		inserted, err = r.storage.UpsertEvents(ctx, batch)
		return err
	})
	if err != nil {
		return fmt.Errorf("store events: %w", err)
	}

	if r.publisher != nil {
		err := r.retry(ctx, "publish events", r.metrics.PublishRetries.Inc, func(ctx context.Context) error {
			return r.publisher.Publish(ctx, batch)
		})
		if err != nil {
			return fmt.Errorf("publish events: %w", err)
		}
	}

	for _, event := range batch {
		r.seen.Add(event.ID, struct{}{})
		r.metrics.Indexed.WithLabelValues(event.Kind).Inc()
	}
	if skipped := len(batch) - inserted; skipped > 0 {
		r.metrics.Duplicates.Add(float64(skipped))
	}
	return nil
}

func (r *Runner) saveCursor(ctx context.Context, next model.Cursor) error {
	if r.cursor != nil {
		if err := r.cursor.Save(ctx, next); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	r.committed, r.hasCursor = next, true
	r.metrics.CursorBlock.Set(float64(next.Block))
	return nil
}

func (r *Runner) watches(contractAddress string) bool {
	for _, address := range r.cfg.Addresses {
		if strings.EqualFold(address.Hex(), contractAddress) {
			return true
		}
	}
	return false
}

func (r *Runner) retry(ctx context.Context, op string, count func(), fn func(context.Context) error) error {
	return withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, fn, func(err error, next time.Duration) {
		if count != nil {
			count()
		}
		r.logger.Warn(op+" failed, retrying", zap.Error(err), zap.Duration("next_retry_in", next))
	})
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := r.retry(ctx, "filter logs", nil, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Addresses, r.decoder.Topics())
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := r.retry(ctx, "block timestamp", nil, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, blockNumber)
		return err
	})
	return ts, err
}
