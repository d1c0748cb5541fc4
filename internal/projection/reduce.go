package projection

import (
	"errors"
	"fmt"
	"strings"

	"bountyScope/internal/model"
)

var (
	ErrPaidBeforeInitialized = errors.New("paid before initialized")
	ErrDoubleInitialized     = errors.New("initialized twice")
	ErrPaidTwice             = errors.New("paid twice")
	ErrAmountMismatch        = errors.New("paid amount differs from escrowed amount")
	ErrUnknownKind           = errors.New("unknown event kind")
)

type Status string

const (
	StatusNone        Status = "none"
	StatusInitialized Status = "initialized"
	StatusPaid        Status = "paid"
)

// Key identifies a bounty within one escrow instance: the module contract
// on a chain, then the publication ids as decimal strings. Contract is
// lower-case hex.
type Key struct {
	ChainID   uint64 `json:"chain_id"`
	Contract  string `json:"contract"`
	ProfileID string `json:"profile_id"`
	PubID     string `json:"pub_id"`
}

func KeyOf(ev model.IndexedEvent) Key {
	return Key{
		ChainID:   ev.ChainID,
		Contract:  strings.ToLower(ev.Contract),
		ProfileID: ev.ProfileID,
		PubID:     ev.PubID,
	}
}

func (k Key) String() string {
	if k.Contract == "" {
		return k.ProfileID + "-" + k.PubID
	}
	return fmt.Sprintf("%d/%s/%s-%s", k.ChainID, k.Contract, k.ProfileID, k.PubID)
}

// Bounty is the current state of one bounty as seen through the event log.
type Bounty struct {
	Key           Key    `json:"key"`
	Status        Status `json:"status"`
	Currency      string `json:"currency,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Asker         string `json:"asker,omitempty"`
	ExpertAddress string `json:"expert_address,omitempty"`
	InitializedTx string `json:"initialized_tx,omitempty"`
	PaidTx        string `json:"paid_tx,omitempty"`
	PaidAmount    string `json:"paid_amount,omitempty"`
	InitializedAt uint64 `json:"initialized_at,omitempty"`
	PaidAt        uint64 `json:"paid_at,omitempty"`
}

// Anomaly describes an event that does not fit the bounty lifecycle.
type Anomaly struct {
	EventID string       `json:"event_id"`
	Kind    string       `json:"kind"`
	Key     Key          `json:"key"`
	At      model.Cursor `json:"at"`
	Err     error        `json:"-"`
	Reason  string       `json:"reason"`
}

func (a *Anomaly) Error() string {
	return fmt.Sprintf("bounty %s: %s at %s (event %s)", a.Key, a.Reason, a.At, a.EventID)
}

func (a *Anomaly) Unwrap() error {
	return a.Err
}

// Reduce applies ev to prev and returns the next state. A lifecycle
// violation is returned as an *Anomaly together with the state the
// projection should keep.
func Reduce(prev Bounty, ev model.IndexedEvent) (Bounty, error) {
	if prev.Status == "" {
		prev.Status = StatusNone
	}
	prev.Key = KeyOf(ev)

	switch ev.Kind {
	case model.KindBountyInitialized:
		if prev.Status != StatusNone {
			return prev, anomaly(ev, ErrDoubleInitialized)
		}
		next := prev
		next.Status = StatusInitialized
		next.Currency = ev.Currency
		next.Amount = ev.Amount
		next.Asker = ev.Asker
		next.InitializedTx = ev.TxHash
		next.InitializedAt = ev.BlockNumber
		return next, nil
	case model.KindBountyPaid:
		switch prev.Status {
		case StatusNone:
			return prev, anomaly(ev, ErrPaidBeforeInitialized)
		case StatusPaid:
			return prev, anomaly(ev, ErrPaidTwice)
		}
		next := prev
		next.Status = StatusPaid
		next.ExpertAddress = ev.ExpertAddress
		next.PaidTx = ev.TxHash
		next.PaidAmount = ev.Amount
		next.PaidAt = ev.BlockNumber
		if ev.Amount != prev.Amount {
			return next, anomaly(ev, ErrAmountMismatch)
		}
		return next, nil
	default:
		return prev, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
}

func anomaly(ev model.IndexedEvent, err error) *Anomaly {
	return &Anomaly{
		EventID: ev.ID,
		Kind:    ev.Kind,
		Key:     KeyOf(ev),
		At:      ev.Position(),
		Err:     err,
		Reason:  err.Error(),
	}
}
