package model

// LogRecord is the normalized representation of a raw chain log, before any
// event decoding. It is also the line format of raw log JSONL files.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
	IngestedAt  string   `json:"ingested_at"`
}

// ID is the key the decoded event will be stored under.
func (lr LogRecord) ID() string {
	return EventID(lr.TxHash, lr.LogIndex)
}

// Topic0 returns the event signature hash, or "" when the log has no topics.
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}

func (lr LogRecord) Position() Cursor {
	return Cursor{Block: lr.BlockNumber, LogIndex: lr.LogIndex}
}
