package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bountyScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS indexed_events (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	chain_id        BIGINT NOT NULL,
	contract        TEXT NOT NULL,
	profile_id      NUMERIC(78, 0) NOT NULL,
	pub_id          NUMERIC(78, 0) NOT NULL,
	currency        TEXT,
	amount          NUMERIC(78, 0) NOT NULL,
	asker           TEXT,
	expert_address  TEXT,
	block_number    BIGINT NOT NULL,
	block_hash      TEXT NOT NULL,
	block_timestamp BIGINT NOT NULL,
	tx_hash         TEXT NOT NULL,
	log_index       BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS indexed_events_chain_position ON indexed_events (chain_id, block_number, log_index);
CREATE INDEX IF NOT EXISTS indexed_events_bounty ON indexed_events (chain_id, contract, profile_id, pub_id);
CREATE TABLE IF NOT EXISTS indexer_state (
	name           TEXT PRIMARY KEY,
	last_block     BIGINT NOT NULL,
	last_log_index BIGINT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for indexed events and the indexer cursor.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the indexer writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertEvents inserts events keyed by id. Existing rows are left as they are.
func (s *Store) UpsertEvents(ctx context.Context, events []model.IndexedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO indexed_events (
				id, kind, chain_id, contract, profile_id, pub_id, currency, amount, asker,
				expert_address, block_number, block_hash, block_timestamp, tx_hash, log_index
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO NOTHING
		`,
			e.ID,
			e.Kind,
			int64(e.ChainID),
			e.Contract,
			e.ProfileID,
			e.PubID,
			nullable(e.Currency),
			e.Amount,
			nullable(e.Asker),
			nullable(e.ExpertAddress),
			int64(e.BlockNumber),
			e.BlockHash,
			int64(e.BlockTimestamp),
			e.TxHash,
			int64(e.LogIndex),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range events {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// LoadEvents returns every stored event in chain log order.
func (s *Store) LoadEvents(ctx context.Context) ([]model.IndexedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, chain_id, contract, profile_id::text, pub_id::text,
			COALESCE(currency, ''), amount::text, COALESCE(asker, ''), COALESCE(expert_address, ''),
			block_number, block_hash, block_timestamp, tx_hash, log_index
		FROM indexed_events
		ORDER BY chain_id, block_number, log_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IndexedEvent
	for rows.Next() {
		var e model.IndexedEvent
		var chainID, blockNumber, blockTimestamp, logIndex int64
		if err := rows.Scan(
			&e.ID,
			&e.Kind,
			&chainID,
			&e.Contract,
			&e.ProfileID,
			&e.PubID,
			&e.Currency,
			&e.Amount,
			&e.Asker,
			&e.ExpertAddress,
			&blockNumber,
			&e.BlockHash,
			&blockTimestamp,
			&e.TxHash,
			&logIndex,
		); err != nil {
			return nil, err
		}
		e.ChainID = uint64(chainID)
		e.BlockNumber = uint64(blockNumber)
		e.BlockTimestamp = uint64(blockTimestamp)
		e.LogIndex = uint64(logIndex)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadState returns the committed cursor for a name.
func (s *Store) LoadState(ctx context.Context, name string) (model.Cursor, bool, error) {
	if name == "" {
		return model.Cursor{}, false, fmt.Errorf("state name required")
	}
	var block, logIndex int64
	row := s.pool.QueryRow(ctx, `SELECT last_block, last_log_index FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block, &logIndex); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Cursor{}, false, nil
		}
		return model.Cursor{}, false, err
	}
	return model.Cursor{Block: uint64(block), LogIndex: uint64(logIndex)}, true, nil
}

// SaveState upserts the committed cursor for a name.
func (s *Store) SaveState(ctx context.Context, name string, cursor model.Cursor) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_block, last_log_index, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, last_log_index = EXCLUDED.last_log_index, updated_at = now()
	`, name, int64(cursor.Block), int64(cursor.LogIndex))
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
