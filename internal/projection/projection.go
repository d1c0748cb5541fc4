package projection

import (
	"errors"
	"fmt"
	"sort"

	"bountyScope/internal/model"
)

var ErrOutOfOrder = errors.New("event out of order")

type Outcome int

const (
	Applied Outcome = iota
	Duplicate
	Anomalous
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Anomalous:
		return "anomalous"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Projection folds an ordered event log into per-bounty state. Events are
// deduplicated by ID, and a new event must sit strictly after the last one
// applied on the same chain. Chains are ordered independently.
type Projection struct {
	bounties  map[Key]Bounty
	applied   map[string]struct{}
	anomalies []Anomaly
	cursors   map[uint64]model.Cursor
}

func New() *Projection {
	return &Projection{
		bounties: make(map[Key]Bounty),
		applied:  make(map[string]struct{}),
		cursors:  make(map[uint64]model.Cursor),
	}
}

// Fold replays events from an empty projection.
func Fold(events []model.IndexedEvent) (*Projection, error) {
	p := New()
	for _, ev := range events {
		if _, err := p.Apply(ev); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Check reports how Apply would treat ev without changing the projection.
func (p *Projection) Check(ev model.IndexedEvent) (Outcome, error) {
	if _, ok := p.applied[ev.ID]; ok {
		return Duplicate, nil
	}
	if last, ok := p.cursors[ev.ChainID]; ok && !last.Less(ev.Position()) {
		return 0, fmt.Errorf("%w: event %s at %s on chain %d, last applied %s", ErrOutOfOrder, ev.ID, ev.Position(), ev.ChainID, last)
	}
	if ev.Kind != model.KindBountyInitialized && ev.Kind != model.KindBountyPaid {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	return Applied, nil
}

// Apply folds ev into the projection. Lifecycle anomalies are recorded and
// reported through the Anomalous outcome; only ordering violations and
// unknown kinds return an error, and leave the projection untouched.
func (p *Projection) Apply(ev model.IndexedEvent) (Outcome, error) {
	outcome, err := p.Check(ev)
	if err != nil || outcome == Duplicate {
		return outcome, err
	}

	key := KeyOf(ev)
	next, err := Reduce(p.bounties[key], ev)
	var an *Anomaly
	if err != nil && !errors.As(err, &an) {
		return 0, err
	}

	if next.Status != StatusNone {
		p.bounties[key] = next
	}
	p.applied[ev.ID] = struct{}{}
	p.cursors[ev.ChainID] = ev.Position()

	if an != nil {
		p.anomalies = append(p.anomalies, *an)
		return Anomalous, nil
	}
	return Applied, nil
}

func (p *Projection) Bounty(key Key) (Bounty, bool) {
	b, ok := p.bounties[key]
	return b, ok
}

// Bounties returns every known bounty ordered by chain, contract, then
// numeric profile and publication id.
func (p *Projection) Bounties() []Bounty {
	out := make([]Bounty, 0, len(p.bounties))
	for _, b := range p.bounties {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return keyLess(out[i].Key, out[j].Key)
	})
	return out
}

func (p *Projection) Anomalies() []Anomaly {
	out := make([]Anomaly, len(p.anomalies))
	copy(out, p.anomalies)
	return out
}

// Cursor returns the position of the last event applied on chainID.
func (p *Projection) Cursor(chainID uint64) (model.Cursor, bool) {
	c, ok := p.cursors[chainID]
	return c, ok
}

// Applied returns the number of distinct events folded in.
func (p *Projection) Applied() int {
	return len(p.applied)
}

func keyLess(a, b Key) bool {
	if a.ChainID != b.ChainID {
		return a.ChainID < b.ChainID
	}
	if a.Contract != b.Contract {
		return a.Contract < b.Contract
	}
	if a.ProfileID != b.ProfileID {
		return decimalLess(a.ProfileID, b.ProfileID)
	}
	return decimalLess(a.PubID, b.PubID)
}

func decimalLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
