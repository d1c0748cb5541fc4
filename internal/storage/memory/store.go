package memory

import (
	"context"
	"sync"

	"bountyScope/internal/model"
	"bountyScope/internal/storage"
)

// Store keeps indexed events and the cursor in memory. FailNext makes the
// next n writes fail with Err, which lets tests drive the retry path.
type Store struct {
	mu       sync.Mutex
	events   map[string]model.IndexedEvent
	order    []string
	cursor   model.Cursor
	hasState bool
	failures int
	failErr  error
	writes   int
}

func NewStore() *Store {
	return &Store{events: make(map[string]model.IndexedEvent)}
}

// FailNext makes the next n UpsertEvents calls return err.
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

func (s *Store) UpsertEvents(ctx context.Context, events []model.IndexedEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.failures > 0 {
		s.failures--
		return 0, s.failErr
	}

	inserted := 0
	for _, event := range events {
		if _, ok := s.events[event.ID]; ok {
			continue
		}
		s.events[event.ID] = event
		s.order = append(s.order, event.ID)
		inserted++
	}
	return inserted, nil
}

func (s *Store) LoadEvents(ctx context.Context) ([]model.IndexedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.IndexedEvent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id])
	}
	storage.SortEvents(out)
	return out, nil
}

// Writes counts UpsertEvents calls, failed ones included.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Load(ctx context.Context) (model.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasState, nil
}

func (s *Store) Save(ctx context.Context, cursor model.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.hasState = true
	return nil
}
