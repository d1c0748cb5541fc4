package hub

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bountyScope/internal/bounty"
)

var (
	ErrNoActionModule       = errors.New("hub: publication has no action module")
	ErrActionModuleConflict = errors.New("hub: publication already uses another action module")
	ErrNilModule            = errors.New("hub: action module is nil")
)

// ActionModule is a contract the hub can attach to a publication.
type ActionModule interface {
	Initialize(caller common.Address, profileID, pubID *big.Int, fundingActor common.Address, data []byte) error
	Process(caller common.Address, params bounty.ProcessParams) (bounty.Settlement, error)
}

// Hub routes publication actions to the module attached to each
// publication, calling it with the hub's own address.
type Hub struct {
	address common.Address

	mu      sync.RWMutex
	modules map[bounty.Key]ActionModule
}

func New(address common.Address) *Hub {
	return &Hub{
		address: address,
		modules: make(map[bounty.Key]ActionModule),
	}
}

func (h *Hub) Address() common.Address { return h.address }

// Post attaches module to a publication and initializes it. The attachment
// only sticks if initialization succeeds.
func (h *Hub) Post(profileID, pubID *big.Int, module ActionModule, executor common.Address, data []byte) error {
	if module == nil {
		return ErrNilModule
	}
	key := bounty.NewKey(profileID, pubID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.modules[key]; ok && existing != module {
		return ErrActionModuleConflict
	}
	if err := module.Initialize(h.address, profileID, pubID, executor, data); err != nil {
		return err
	}
	h.modules[key] = module
	return nil
}

// Act processes an action on a publication through its module.
func (h *Hub) Act(params bounty.ProcessParams) (bounty.Settlement, error) {
	key := bounty.NewKey(params.PublicationActedProfileID, params.PublicationActedID)

	h.mu.RLock()
	module, ok := h.modules[key]
	h.mu.RUnlock()
	if !ok {
		return bounty.Settlement{}, ErrNoActionModule
	}
	return module.Process(h.address, params)
}
