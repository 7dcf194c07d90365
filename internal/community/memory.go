package community

import (
	"context"
	"sort"
	"sync"

	"github.com/meghan/community-chat/internal/apperr"
)

type membershipKey struct {
	userID int64
	roomID int64
}

// MemoryStore is an in-process Store used when no database is configured
// and in tests. Ids are assigned monotonically per record type.
type MemoryStore struct {
	mu          sync.RWMutex
	rooms       map[int64]Room
	memberships map[membershipKey]Membership
	messages    map[int64][]Message
	nextRoom    int64
	nextMessage int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[int64]Room),
		memberships: make(map[membershipKey]Membership),
		messages:    make(map[int64][]Message),
	}
}

func (s *MemoryStore) CountRooms(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, room Room) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRoom++
	room.ID = s.nextRoom
	s.rooms[room.ID] = room
	return room, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id int64) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, apperr.ErrRoomNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRooms(_ context.Context, topic string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if topic != "" && r.Topic != topic {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertMembership(_ context.Context, m Membership) (Membership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{m.UserID, m.RoomID}
	if existing, ok := s.memberships[key]; ok {
		existing.IsAnonymous = m.IsAnonymous
		s.memberships[key] = existing
		return existing, false, nil
	}
	s.memberships[key] = m
	return m, true, nil
}

func (s *MemoryStore) GetMembership(_ context.Context, userID, roomID int64) (Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{userID, roomID}]
	if !ok {
		return Membership{}, apperr.ErrNotMember
	}
	return m, nil
}

func (s *MemoryStore) ListMemberships(_ context.Context, userID int64) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Membership
	for k, m := range s.memberships {
		if k.userID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessage++
	msg.ID = s.nextMessage
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)
	return msg, nil
}

// ListMessages orders by CreatedAt descending with ties broken by id.
func (s *MemoryStore) ListMessages(_ context.Context, roomID int64, limit, offset int) ([]Message, int, error) {
	s.mu.RLock()
	all := make([]Message, len(s.messages[roomID]))
	copy(all, s.messages[roomID])
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []Message{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}
