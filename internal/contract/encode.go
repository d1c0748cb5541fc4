package contract

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"bountyScope/internal/acceptance"
	"bountyScope/internal/bounty"
	"bountyScope/internal/events"
)

// EncodeLog builds the log the emitting contract at address would produce
// for evt. Provenance fields are left zero.
func EncodeLog(address common.Address, evt events.Event) (types.Log, error) {
	switch e := evt.(type) {
	case bounty.Initialized:
		parsed, err := BountyABI()
		if err != nil {
			return types.Log{}, err
		}
		event := parsed.Events[bounty.EventBountyInitialized]
		data, err := event.Inputs.NonIndexed().Pack(e.Currency, nonNil(e.Amount), e.Asker)
		if err != nil {
			return types.Log{}, fmt.Errorf("pack %s: %w", event.Name, err)
		}
		return types.Log{
			Address: address,
			Topics:  []common.Hash{event.ID, uintTopic(e.ProfileID), uintTopic(e.PubID)},
			Data:    data,
		}, nil
	case bounty.Paid:
		parsed, err := BountyABI()
		if err != nil {
			return types.Log{}, err
		}
		event := parsed.Events[bounty.EventBountyPaid]
		data, err := event.Inputs.NonIndexed().Pack(e.Expert, nonNil(e.Amount))
		if err != nil {
			return types.Log{}, fmt.Errorf("pack %s: %w", event.Name, err)
		}
		return types.Log{
			Address: address,
			Topics:  []common.Hash{event.ID, uintTopic(e.ProfileID), uintTopic(e.PubID)},
			Data:    data,
		}, nil
	case acceptance.Transfer:
		parsed, err := AcceptanceABI()
		if err != nil {
			return types.Log{}, err
		}
		event := parsed.Events[acceptance.EventTransfer]
		return types.Log{
			Address: address,
			Topics: []common.Hash{
				event.ID,
				common.BytesToHash(e.From.Bytes()),
				common.BytesToHash(e.To.Bytes()),
				uintTopic(e.TokenID),
			},
			Data: []byte{},
		}, nil
	default:
		return types.Log{}, fmt.Errorf("no log encoding for event %s", evt.EventName())
	}
}

func uintTopic(v *big.Int) common.Hash {
	return common.BigToHash(nonNil(v))
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// LogRecorder is an events.Emitter that turns ledger and registry events into
// chain logs with block provenance, in emission order.
type LogRecorder struct {
	BountyModule  common.Address
	AcceptanceNFT common.Address

	mu       sync.Mutex
	block    uint64
	txHash   common.Hash
	txIndex  uint
	logIndex uint
	started  bool
	logs     []types.Log
	err      error
}

// BeginTx makes subsequent events belong to txHash in the given block. Log
// indexes run across the whole block, as they do on-chain.
func (r *LogRecorder) BeginTx(block uint64, txHash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || block != r.block {
		r.block = block
		r.txIndex = 0
		r.logIndex = 0
		r.started = true
	} else {
		r.txIndex++
	}
	r.txHash = txHash
}

func (r *LogRecorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	address := r.BountyModule
	if _, ok := evt.(acceptance.Transfer); ok {
		address = r.AcceptanceNFT
	}
	log, err := EncodeLog(address, evt)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return
	}
	log.BlockNumber = r.block
	log.BlockHash = BlockHash(r.block)
	log.TxHash = r.txHash
	log.TxIndex = r.txIndex
	log.Index = r.logIndex
	r.logIndex++
	r.logs = append(r.logs, log)
}

// Logs returns every recorded log.
func (r *LogRecorder) Logs() []types.Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Log, len(r.logs))
	copy(out, r.logs)
	return out
}

// Err reports the first event that could not be encoded.
func (r *LogRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// BlockHash derives a stable placeholder hash for a block number.
func BlockHash(number uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash([]byte("block"), buf[:])
}
