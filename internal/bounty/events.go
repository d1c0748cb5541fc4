package bounty

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventBountyInitialized = "BountyInitialized"
	EventBountyPaid        = "BountyPaid"
)

// Initialized is emitted once per key when funds enter escrow.
type Initialized struct {
	ProfileID *big.Int
	PubID     *big.Int
	Currency  common.Address
	Amount    *big.Int
	Asker     common.Address
}

func (Initialized) EventName() string { return EventBountyInitialized }

// Paid is emitted once per key when escrow is released to the expert.
type Paid struct {
	ProfileID *big.Int
	PubID     *big.Int
	Expert    common.Address
	Amount    *big.Int
}

func (Paid) EventName() string { return EventBountyPaid }
