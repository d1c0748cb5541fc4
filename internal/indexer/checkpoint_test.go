package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"bountyScope/internal/model"
)

func TestFileCursorStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cursor.json")
	store := NewFileCursorStore(path, true)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}

	want := model.Cursor{Block: 120, LogIndex: 7}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	got, ok, err := NewFileCursorStore(path, true).Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("cursor mismatch: %+v != %+v", got, want)
	}
}

func TestFileCursorStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	store := NewFileCursorStore(path, false)
	if err := store.Save(context.Background(), model.Cursor{Block: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled store wrote a file")
	}
}

func TestFileCursorStoreRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := NewFileCursorStore(dir, true).Load(context.Background()); err == nil {
		t.Fatalf("expected error for directory path")
	}
}

func TestStateNameDependsOnAddressSet(t *testing.T) {
	a := common.HexToAddress("0x000000000000000000000000000000000000B0B0")
	b := common.HexToAddress("0x000000000000000000000000000000000000b0b1")

	name := StateName(137, []common.Address{b, a})
	if name != StateName(137, []common.Address{a, b, a}) {
		t.Fatalf("order or repeats changed the name: %s", name)
	}
	want := "bounty:137:0x000000000000000000000000000000000000b0b0,0x000000000000000000000000000000000000b0b1"
	if name != want {
		t.Fatalf("unexpected name %s", name)
	}
	if StateName(137, []common.Address{a}) == name {
		t.Fatalf("a different address set must not share the cursor")
	}
	if StateName(1, []common.Address{a, b}) == name {
		t.Fatalf("a different chain must not share the cursor")
	}
}
