package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountyScope/internal/model"
	"bountyScope/internal/storage/postgres"
)

// CursorStore persists the position of the last committed event.
type CursorStore interface {
	Load(ctx context.Context) (model.Cursor, bool, error)
	Save(ctx context.Context, cursor model.Cursor) error
}

// Checkpoint is the on-disk cursor format.
type Checkpoint struct {
	LastBlock    uint64 `json:"last_block"`
	LastLogIndex uint64 `json:"last_log_index"`
	UpdatedAt    string `json:"updated_at"`
}

// FileCursorStore keeps the cursor in a JSON file, replaced atomically.
type FileCursorStore struct {
	path    string
	enabled bool
}

func NewFileCursorStore(path string, enabled bool) *FileCursorStore {
	return &FileCursorStore{path: path, enabled: enabled}
}

func (c *FileCursorStore) Load(ctx context.Context) (model.Cursor, bool, error) {
	if !c.enabled || c.path == "" {
		return model.Cursor{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Cursor{}, false, nil
		}
		return model.Cursor{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return model.Cursor{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Cursor{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	return model.Cursor{Block: cp.LastBlock, LogIndex: cp.LastLogIndex}, true, nil
}

func (c *FileCursorStore) Save(ctx context.Context, cursor model.Cursor) error {
	if !c.enabled || c.path == "" {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		LastBlock:    cursor.Block,
		LastLogIndex: cursor.LogIndex,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// DBCursorStore keeps the cursor in the indexer_state table under Name.
type DBCursorStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBCursorStore) Load(ctx context.Context) (model.Cursor, bool, error) {
	if s == nil || s.Store == nil {
		return model.Cursor{}, false, nil
	}
	return s.Store.LoadState(ctx, s.Name)
}

func (s *DBCursorStore) Save(ctx context.Context, cursor model.Cursor) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, s.Name, cursor)
}

// StateName is the indexer_state key for a set of watched contracts on one
// chain. The name depends on the set only, not on the order or case the
// addresses were given in.
func StateName(chainID uint64, contracts []common.Address) string {
	seen := make(map[string]struct{}, len(contracts))
	names := make([]string, 0, len(contracts))
	for _, contract := range contracts {
		name := strings.ToLower(contract.Hex())
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("bounty:%d:%s", chainID, strings.Join(names, ","))
}
