// Package mintevents persists Mint Event records and exposes the two
// operations the reconciler relies on: selecting unacknowledged events and
// merging a typed patch into an event keyed by task id.
//
// Every backend honours the same contract:
//   - FindPending returns exactly the records with ack == false.
//   - UpsertByTaskID creates the record when absent and otherwise merges the
//     patch. Repeating a call with the same arguments leaves the same record.
//   - ack is never reset once true.
package mintevents

import (
	"context"
	"sync"
)

// Store is the durable interface for Mint Event records.
type Store interface {
	// Init creates tables, indexes or collections the backend needs.
	Init(ctx context.Context) error

	// FindPending returns every event with ack == false in insertion order.
	FindPending(ctx context.Context) ([]MintEvent, error)

	// UpsertByTaskID merges p into the event for taskID, creating it if absent.
	UpsertByTaskID(ctx context.Context, taskID string, p Patch) error

	// Get returns the event for taskID or ErrNotFound.
	Get(ctx context.Context, taskID string) (MintEvent, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*MintEvent
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*MintEvent),
	}
}

func (s *MemoryStore) Init(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) FindPending(ctx context.Context) ([]MintEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	//nolint:prealloc // pending count unknown until filtered
	var pending []MintEvent
	for _, id := range s.order {
		ev := s.events[id]
		if !ev.Ack {
			pending = append(pending, clone(*ev))
		}
	}
	return pending, nil
}

func (s *MemoryStore) UpsertByTaskID(ctx context.Context, taskID string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[taskID]
	if !ok {
		ev = &MintEvent{TaskID: taskID}
		s.events[taskID] = ev
		s.order = append(s.order, taskID)
	}
	p.Apply(ev)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, taskID string) (MintEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[taskID]
	if !ok {
		return MintEvent{}, ErrNotFound
	}
	return clone(*ev), nil
}

// clone copies the tri-state pointers so callers cannot mutate stored state.
func clone(ev MintEvent) MintEvent {
	if ev.EdenSuccess != nil {
		ev.EdenSuccess = Bool(*ev.EdenSuccess)
	}
	if ev.TxSuccess != nil {
		ev.TxSuccess = Bool(*ev.TxSuccess)
	}
	return ev
}
