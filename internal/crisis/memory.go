package crisis

import (
	"context"
	"sync"
)

// MemoryStore keeps events in insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	ev.Matched = append([]string(nil), ev.Matched...)
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	skipped := 0
	for i := len(s.events) - 1; i >= 0 && len(out) < f.Limit; i-- {
		ev := s.events[i]
		if f.RoomID != nil && (ev.RoomID == nil || *ev.RoomID != *f.RoomID) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
