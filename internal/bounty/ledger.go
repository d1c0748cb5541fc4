package bounty

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bountyScope/internal/events"
)

// TokenBank is the token collaborator holding custody balances. Snapshot,
// RevertToSnapshot and DiscardSnapshot give each ledger call all-or-nothing
// semantics.
type TokenBank interface {
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int) error
}

// Minter issues acceptance tokens. The ledger passes its own address as the
// caller so the registry can check it is the configured module.
type Minter interface {
	Mint(caller, to common.Address) (*big.Int, error)
}

// Config binds a ledger to its custody address and the only caller it trusts.
type Config struct {
	Address common.Address
	Hub     common.Address
}

// Ledger is the bounty escrow state machine. Every key moves
// empty -> initialized -> paid and never back. Calls are serialized by mu,
// which plays the role the chain's transaction ordering plays on-chain.
type Ledger struct {
	cfg      Config
	tokens   TokenBank
	registry Minter
	emitter  events.Emitter

	mu       sync.Mutex
	records  map[Key]Record
	escrowed map[common.Address]*big.Int
}

func NewLedger(cfg Config, tokens TokenBank, registry Minter, emitter events.Emitter) (*Ledger, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("bounty: ledger address is required")
	}
	if cfg.Hub == (common.Address{}) {
		return nil, errors.New("bounty: hub address is required")
	}
	if tokens == nil {
		return nil, errors.New("bounty: token bank is required")
	}
	if registry == nil {
		return nil, errors.New("bounty: acceptance registry is required")
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Ledger{
		cfg:      cfg,
		tokens:   tokens,
		registry: registry,
		emitter:  emitter,
		records:  make(map[Key]Record),
		escrowed: make(map[common.Address]*big.Int),
	}, nil
}

func (l *Ledger) Address() common.Address { return l.cfg.Address }

func (l *Ledger) Hub() common.Address { return l.cfg.Hub }

// Initialize escrows the bounty described by data, pulling the funds from
// fundingActor. fundingActor must have approved the ledger beforehand.
func (l *Ledger) Initialize(caller common.Address, profileID, pubID *big.Int, fundingActor common.Address, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.cfg.Hub {
		return ErrNotHub
	}
	key := NewKey(profileID, pubID)
	if l.records[key].Initialized {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, key)
	}

	params, err := DecodeInitData(data)
	if err != nil {
		return err
	}
	if params.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if fundingActor == (common.Address{}) {
		return ErrInvalidExecutor
	}
	if params.Currency == (common.Address{}) {
		return ErrInvalidCurrency
	}

	if err := l.tokens.TransferFrom(params.Currency, l.cfg.Address, fundingActor, l.cfg.Address, params.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	amount := new(big.Int).Set(params.Amount)
	l.records[key] = Record{
		Currency:    params.Currency,
		Amount:      amount,
		Asker:       fundingActor,
		Initialized: true,
	}
	l.addEscrowed(params.Currency, amount)

	l.emitter.Emit(Initialized{
		ProfileID: key.ProfileID.Big(),
		PubID:     key.PubID.Big(),
		Currency:  params.Currency,
		Amount:    new(big.Int).Set(amount),
		Asker:     fundingActor,
	})
	return nil
}

// Process releases the escrow to the expert named in the action data and
// mints the acceptance token. Only the original asker may trigger it.
func (l *Ledger) Process(caller common.Address, params ProcessParams) (Settlement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.cfg.Hub {
		return Settlement{}, ErrNotHub
	}
	key := NewKey(params.PublicationActedProfileID, params.PublicationActedID)
	rec, ok := l.records[key]
	if !ok || !rec.Initialized {
		return Settlement{}, fmt.Errorf("%w: %s", ErrNotInitialized, key)
	}
	if rec.Paid {
		return Settlement{}, fmt.Errorf("%w: %s", ErrAlreadyPaid, key)
	}
	if params.TransactionExecutor != rec.Asker {
		return Settlement{}, ErrUnauthorized
	}
	action, err := DecodeActionData(params.ActionModuleData)
	if err != nil {
		return Settlement{}, err
	}
	if action.Expert == (common.Address{}) {
		return Settlement{}, ErrInvalidExpert
	}

	snapshot := l.tokens.Snapshot()
	if err := l.tokens.Transfer(rec.Currency, l.cfg.Address, action.Expert, rec.Amount); err != nil {
		l.revert(snapshot)
		return Settlement{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	tokenID, err := l.registry.Mint(l.cfg.Address, action.Expert)
	if err != nil {
		l.revert(snapshot)
		return Settlement{}, fmt.Errorf("mint acceptance token: %w", err)
	}
	l.commit(snapshot)

	rec.Paid = true
	rec.Expert = action.Expert
	rec.TokenID = new(big.Int).Set(tokenID)
	l.records[key] = rec
	l.subEscrowed(rec.Currency, rec.Amount)

	l.emitter.Emit(Paid{
		ProfileID: key.ProfileID.Big(),
		PubID:     key.PubID.Big(),
		Expert:    action.Expert,
		Amount:    new(big.Int).Set(rec.Amount),
	})

	return Settlement{
		Key:     key,
		Expert:  action.Expert,
		Amount:  new(big.Int).Set(rec.Amount),
		TokenID: new(big.Int).Set(tokenID),
	}, nil
}

// Bounty returns the record stored for a publication.
func (l *Ledger) Bounty(profileID, pubID *big.Int) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[NewKey(profileID, pubID)]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Escrowed returns the amount of currency held for unpaid bounties.
func (l *Ledger) Escrowed(currency common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.escrowed[currency]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// The snapshot was taken under mu, so it is always valid in revert and
// commit.
func (l *Ledger) revert(snapshot int) {
	_ = l.tokens.RevertToSnapshot(snapshot)
}

func (l *Ledger) commit(snapshot int) {
	_ = l.tokens.DiscardSnapshot(snapshot)
}

func (l *Ledger) addEscrowed(currency common.Address, amount *big.Int) {
	cur, ok := l.escrowed[currency]
	if !ok {
		cur = new(big.Int)
	}
	l.escrowed[currency] = new(big.Int).Add(cur, amount)
}

func (l *Ledger) subEscrowed(currency common.Address, amount *big.Int) {
	cur, ok := l.escrowed[currency]
	if !ok {
		return
	}
	l.escrowed[currency] = new(big.Int).Sub(cur, amount)
}
