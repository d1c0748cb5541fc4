package acceptance

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bountyScope/internal/events"
)

var (
	ErrUnauthorized        = errors.New("acceptance: unauthorized")
	ErrModuleAlreadySet    = errors.New("acceptance: module already set")
	ErrZeroAddress         = errors.New("acceptance: zero address")
	ErrNonexistentToken    = errors.New("acceptance: nonexistent token")
	ErrNotOwnerNorApproved = errors.New("acceptance: caller is not token owner or approved")
	ErrWrongFrom           = errors.New("acceptance: transfer from incorrect owner")
)

const EventTransfer = "Transfer"

// Transfer mirrors the ERC-721 Transfer event. Mints have a zero From.
type Transfer struct {
	From    common.Address
	To      common.Address
	TokenID *big.Int
}

func (Transfer) EventName() string { return EventTransfer }

// Registry is a minimal non-fungible token whose only minter is the bounty
// module. Token ids are dense and start at zero.
type Registry struct {
	owner   common.Address
	emitter events.Emitter

	mu        sync.Mutex
	module    common.Address
	nextID    uint64
	owners    map[uint64]common.Address
	balances  map[common.Address]uint64
	approvals map[uint64]common.Address
}

func NewRegistry(owner common.Address, emitter events.Emitter) (*Registry, error) {
	if owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Registry{
		owner:     owner,
		emitter:   emitter,
		owners:    make(map[uint64]common.Address),
		balances:  make(map[common.Address]uint64),
		approvals: make(map[uint64]common.Address),
	}, nil
}

// SetModule binds the registry to its minter. Only the owner may call it;
// once bound, only the same address may be set again.
func (r *Registry) SetModule(caller, module common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrUnauthorized
	}
	if module == (common.Address{}) {
		return ErrZeroAddress
	}
	if r.module != (common.Address{}) && r.module != module {
		return ErrModuleAlreadySet
	}
	r.module = module
	return nil
}

func (r *Registry) Module() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.module
}

// Mint assigns the next token id to to.
func (r *Registry) Mint(caller, to common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.module == (common.Address{}) || caller != r.module {
		return nil, ErrUnauthorized
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	id := r.nextID
	r.nextID++
	r.owners[id] = to
	r.balances[to]++

	tokenID := new(big.Int).SetUint64(id)
	r.emitter.Emit(Transfer{To: to, TokenID: new(big.Int).Set(tokenID)})
	return tokenID, nil
}

func (r *Registry) TotalSupply() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

func (r *Registry) OwnerOf(tokenID uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return common.Address{}, ErrNonexistentToken
	}
	return owner, nil
}

func (r *Registry) BalanceOf(holder common.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[holder]
}

// Approve lets spender move a single token. Only the token owner may approve.
func (r *Registry) Approve(caller, spender common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return ErrNonexistentToken
	}
	if caller != owner {
		return ErrNotOwnerNorApproved
	}
	r.approvals[tokenID] = spender
	return nil
}

func (r *Registry) GetApproved(tokenID uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[tokenID]; !ok {
		return common.Address{}, ErrNonexistentToken
	}
	return r.approvals[tokenID], nil
}

// TransferFrom moves a token. The caller must own it or be approved for it.
func (r *Registry) TransferFrom(caller, from, to common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return ErrNonexistentToken
	}
	if owner != from {
		return ErrWrongFrom
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if caller != owner && r.approvals[tokenID] != caller {
		return ErrNotOwnerNorApproved
	}
	delete(r.approvals, tokenID)
	r.balances[from]--
	r.balances[to]++
	r.owners[tokenID] = to
	r.emitter.Emit(Transfer{From: from, To: to, TokenID: new(big.Int).SetUint64(tokenID)})
	return nil
}
