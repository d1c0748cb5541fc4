package erc20

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("erc20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("erc20: insufficient allowance")
	ErrZeroAddress           = errors.New("erc20: zero address")
	ErrNegativeAmount        = errors.New("erc20: negative amount")
	ErrInvalidSnapshot       = errors.New("erc20: invalid snapshot id")
)

type balanceKey struct {
	token common.Address
	owner common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// journalEntry restores one slot to the value it held before a write.
type journalEntry struct {
	balance   *balanceKey
	allowance *allowanceKey
	prev      *big.Int
}

// revision ties a snapshot id to the journal length when it was taken.
type revision struct {
	id   int
	mark int
}

// Bank is an in-process ledger for any number of ERC-20-like tokens, keyed by
// token contract address. Writes are journaled so a caller can revert
// everything done after a snapshot. The journal is dropped whenever no
// snapshot is open.
type Bank struct {
	mu           sync.Mutex
	balances     map[balanceKey]*big.Int
	allowances   map[allowanceKey]*big.Int
	journal      []journalEntry
	revisions    []revision
	nextRevision int
}

func NewBank() *Bank {
	return &Bank{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits amount of token to the given owner.
func (b *Bank) Mint(token, to common.Address, amount *big.Int) error {
	if token == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.trim()
	key := balanceKey{token: token, owner: to}
	b.setBalance(key, new(big.Int).Add(b.balance(key), amount))
	return nil
}

// Approve sets the allowance of spender over owner's tokens.
func (b *Bank) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.trim()
	b.setAllowance(allowanceKey{token: token, owner: owner, spender: spender}, new(big.Int).Set(amount))
	return nil
}

func (b *Bank) BalanceOf(token, owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(balanceKey{token: token, owner: owner}))
}

func (b *Bank) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowance(allowanceKey{token: token, owner: owner, spender: spender}))
}

// Transfer moves amount from one holder to another without an allowance.
func (b *Bank) Transfer(token, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.trim()
	return b.move(token, from, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming spender's allowance.
func (b *Bank) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.trim()

	key := allowanceKey{token: token, owner: from, spender: spender}
	allowed := b.allowance(key)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowed, amount)
	}
	mark := len(b.journal)
	b.setAllowance(key, new(big.Int).Sub(allowed, amount))
	if err := b.move(token, from, to, amount); err != nil {
		b.revertTo(mark)
		return err
	}
	return nil
}

// Snapshot returns an identifier that RevertToSnapshot and
// DiscardSnapshot accept. Snapshots nest.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextRevision
	b.nextRevision++
	b.revisions = append(b.revisions, revision{id: id, mark: len(b.journal)})
	return id
}

// RevertToSnapshot undoes every write made after the snapshot was taken and
// closes it along with any snapshot taken later.
func (b *Bank) RevertToSnapshot(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.findRevision(id)
	if idx < 0 {
		return ErrInvalidSnapshot
	}
	b.revertTo(b.revisions[idx].mark)
	b.revisions = b.revisions[:idx]
	b.trim()
	return nil
}

// DiscardSnapshot keeps every write made since the snapshot and closes it
// along with any snapshot taken later.
func (b *Bank) DiscardSnapshot(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.findRevision(id)
	if idx < 0 {
		return ErrInvalidSnapshot
	}
	b.revisions = b.revisions[:idx]
	b.trim()
	return nil
}

func (b *Bank) findRevision(id int) int {
	for i := len(b.revisions) - 1; i >= 0; i-- {
		if b.revisions[i].id == id {
			return i
		}
	}
	return -1
}

// trim drops the journal once nothing can revert into it.
func (b *Bank) trim() {
	if len(b.revisions) == 0 {
		b.journal = nil
	}
}

func (b *Bank) move(token, from, to common.Address, amount *big.Int) error {
	if token == (common.Address{}) || from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromKey := balanceKey{token: token, owner: from}
	have := b.balance(fromKey)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount)
	}
	b.setBalance(fromKey, new(big.Int).Sub(have, amount))
	toKey := balanceKey{token: token, owner: to}
	b.setBalance(toKey, new(big.Int).Add(b.balance(toKey), amount))
	return nil
}

func (b *Bank) balance(key balanceKey) *big.Int {
	if v, ok := b.balances[key]; ok {
		return v
	}
	return new(big.Int)
}

func (b *Bank) allowance(key allowanceKey) *big.Int {
	if v, ok := b.allowances[key]; ok {
		return v
	}
	return new(big.Int)
}

func (b *Bank) setBalance(key balanceKey, value *big.Int) {
	k := key
	b.journal = append(b.journal, journalEntry{balance: &k, prev: b.balances[key]})
	b.balances[key] = value
}

func (b *Bank) setAllowance(key allowanceKey, value *big.Int) {
	k := key
	b.journal = append(b.journal, journalEntry{allowance: &k, prev: b.allowances[key]})
	b.allowances[key] = value
}

func (b *Bank) revertTo(mark int) {
	for i := len(b.journal) - 1; i >= mark; i-- {
		entry := b.journal[i]
		switch {
		case entry.balance != nil:
			if entry.prev == nil {
				delete(b.balances, *entry.balance)
			} else {
				b.balances[*entry.balance] = entry.prev
			}
		case entry.allowance != nil:
			if entry.prev == nil {
				delete(b.allowances, *entry.allowance)
			} else {
				b.allowances[*entry.allowance] = entry.prev
			}
		}
	}
	b.journal = b.journal[:mark]
}
