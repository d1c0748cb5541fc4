package bounty

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle position of a bounty record.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusInitialized
	StatusPaid
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusInitialized:
		return "initialized"
	case StatusPaid:
		return "paid"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Key identifies a bounty by the publication it is attached to. Both ids are
// stored as 32-byte words, the same shape they take in event topics.
type Key struct {
	ProfileID common.Hash
	PubID     common.Hash
}

func NewKey(profileID, pubID *big.Int) Key {
	return Key{ProfileID: word(profileID), PubID: word(pubID)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s", k.ProfileID.Big(), k.PubID.Big())
}

func word(v *big.Int) common.Hash {
	if v == nil {
		return common.Hash{}
	}
	return common.BigToHash(v)
}

// Record is the escrow entry for one publication. Records are never deleted.
type Record struct {
	Currency    common.Address
	Amount      *big.Int
	Asker       common.Address
	Expert      common.Address
	TokenID     *big.Int
	Initialized bool
	Paid        bool
}

func (r Record) Status() Status {
	switch {
	case r.Paid:
		return StatusPaid
	case r.Initialized:
		return StatusInitialized
	default:
		return StatusEmpty
	}
}

// Clone returns a copy that shares no big.Int with the receiver.
func (r Record) Clone() Record {
	out := r
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	}
	if r.TokenID != nil {
		out.TokenID = new(big.Int).Set(r.TokenID)
	}
	return out
}

// InitData is the decoded payload of an initialize call.
type InitData struct {
	Currency common.Address
	Amount   *big.Int
}

// ActionData is the decoded payload of a process call.
type ActionData struct {
	Expert common.Address
}

// ProcessParams carries a publication action routed by the hub.
type ProcessParams struct {
	PublicationActedProfileID *big.Int
	PublicationActedID        *big.Int
	ActorProfileID            *big.Int
	ActorProfileOwner         common.Address
	TransactionExecutor       common.Address
	ActionModuleData          []byte
}

// Settlement describes a successful payout.
type Settlement struct {
	Key     Key
	Expert  common.Address
	Amount  *big.Int
	TokenID *big.Int
}
