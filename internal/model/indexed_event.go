package model

import (
	"fmt"
	"strings"
)

const (
	KindBountyInitialized = "BountyInitialized"
	KindBountyPaid        = "BountyPaid"
)

// IndexedEvent is one materialized bounty event with its block provenance.
// Rows are written once and never updated.
type IndexedEvent struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	ChainID        uint64 `json:"chain_id"`
	Contract       string `json:"contract"`
	ProfileID      string `json:"profile_id"`
	PubID          string `json:"pub_id"`
	Currency       string `json:"currency,omitempty"`
	Amount         string `json:"amount"`
	Asker          string `json:"asker,omitempty"`
	ExpertAddress  string `json:"expert_address,omitempty"`
	BlockNumber    uint64 `json:"block_number"`
	BlockHash      string `json:"block_hash"`
	BlockTimestamp uint64 `json:"block_timestamp"`
	TxHash         string `json:"tx_hash"`
	LogIndex       uint64 `json:"log_index"`
}

// EventID derives the row key from the transaction hash followed by the log
// index as a fixed-width hex suffix.
func EventID(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s%08x", strings.ToLower(txHash), logIndex)
}

// Position returns where the event sits in the chain's log order.
func (e IndexedEvent) Position() Cursor {
	return Cursor{Block: e.BlockNumber, LogIndex: e.LogIndex}
}

// Cursor is a point in the chain's total log order.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex uint64 `json:"log_index"`
}

// Less reports whether c comes strictly before other.
func (c Cursor) Less(other Cursor) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}
	return c.LogIndex < other.LogIndex
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d", c.Block, c.LogIndex)
}
