package storage

import (
	"context"
	"sort"

	"bountyScope/internal/model"
)

// Storage is the durable home of materialized events. Rows are keyed by
// event ID and are never updated once written.
type Storage interface {
	// UpsertEvents writes events that are not stored yet and reports how many
	// were new. Re-delivered events are ignored.
	UpsertEvents(ctx context.Context, events []model.IndexedEvent) (int, error)
	// LoadEvents returns every stored event grouped by chain, each chain in
	// log order.
	LoadEvents(ctx context.Context) ([]model.IndexedEvent, error)
}

// SortEvents orders events by chain, then block and log index.
func SortEvents(events []model.IndexedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ChainID != events[j].ChainID {
			return events[i].ChainID < events[j].ChainID
		}
		return events[i].Position().Less(events[j].Position())
	})
}
