// Package room tracks live connections per room and fans payloads out to
// them. A Registry is an explicit object handed to the sessions that use it;
// there is no package-level state.
package room

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/metrics"
)

// DefaultSendTimeout bounds a single peer write during broadcast.
const DefaultSendTimeout = 5 * time.Second

// Handle is a live connection as seen by the registry.
type Handle interface {
	ID() string
	// Send writes payload and must honour ctx's deadline.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type room struct {
	// order serializes broadcasts so every member sees them in issue order.
	order sync.Mutex

	mu      sync.RWMutex
	members map[string]Handle
}

// Registry owns the member sets of all rooms.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[int64]*room
	sendTimeout time.Duration
	log         logrus.FieldLogger
}

// NewRegistry creates an empty registry. A non-positive sendTimeout selects
// DefaultSendTimeout.
func NewRegistry(sendTimeout time.Duration, log logrus.FieldLogger) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Registry{
		rooms:       make(map[int64]*room),
		sendTimeout: sendTimeout,
		log:         log.WithField("component", "room"),
	}
}

func (r *Registry) get(roomID int64) *room {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	return rm
}

func (r *Registry) getOrCreate(roomID int64) *room {
	if rm := r.get(roomID); rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]Handle)}
		r.rooms[roomID] = rm
	}
	return rm
}

// Join registers h under roomID. Joining twice with the same handle id
// replaces the earlier registration.
func (r *Registry) Join(roomID int64, h Handle) {
	rm := r.getOrCreate(roomID)
	rm.mu.Lock()
	rm.members[h.ID()] = h
	n := len(rm.members)
	rm.mu.Unlock()

	metrics.RoomMembers.WithLabelValues(strconv.FormatInt(roomID, 10)).Set(float64(n))
	r.log.WithFields(logrus.Fields{"room_id": roomID, "conn_id": h.ID(), "members": n}).Debug("joined room")
}

// Leave removes h from roomID. Removing an absent handle is a no-op.
func (r *Registry) Leave(roomID int64, h Handle) {
	rm := r.get(roomID)
	if rm == nil {
		return
	}
	if r.remove(roomID, rm, h) {
		r.log.WithFields(logrus.Fields{"room_id": roomID, "conn_id": h.ID()}).Debug("left room")
	}
}

// remove deletes h only if it is still the registered handle for its id.
func (r *Registry) remove(roomID int64, rm *room, h Handle) bool {
	rm.mu.Lock()
	cur, ok := rm.members[h.ID()]
	if ok && cur == h {
		delete(rm.members, h.ID())
	}
	n := len(rm.members)
	rm.mu.Unlock()

	if ok && cur == h {
		metrics.RoomMembers.WithLabelValues(strconv.FormatInt(roomID, 10)).Set(float64(n))
		return true
	}
	return false
}

// Count returns the number of live handles in roomID.
func (r *Registry) Count(roomID int64) int {
	rm := r.get(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Broadcast delivers payload to every handle registered in roomID and
// returns how many deliveries succeeded. Peers whose send fails or exceeds
// the send timeout are removed and closed; that never fails the broadcast.
// Broadcasts to the same room are delivered in the order they were issued.
func (r *Registry) Broadcast(ctx context.Context, roomID int64, payload []byte) int {
	rm := r.get(roomID)
	if rm == nil {
		return 0
	}

	rm.order.Lock()
	defer rm.order.Unlock()

	rm.mu.RLock()
	peers := make([]Handle, 0, len(rm.members))
	for _, h := range rm.members {
		peers = append(peers, h)
	}
	rm.mu.RUnlock()

	if len(peers) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []Handle
	)
	for _, h := range peers {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()
			if err := h.Send(sendCtx, payload); err != nil {
				r.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "conn_id": h.ID()}).
					Info("dropping unreachable peer")
				failMu.Lock()
				failed = append(failed, h)
				failMu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	for _, h := range failed {
		if r.remove(roomID, rm, h) {
			metrics.BroadcastDrops.Inc()
		}
		h.Close()
	}
	return len(peers) - len(failed)
}

// CloseAll closes every registered handle and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[int64]*room)
	r.mu.Unlock()

	for id, rm := range rooms {
		rm.mu.Lock()
		for _, h := range rm.members {
			h.Close()
		}
		rm.members = make(map[string]Handle)
		rm.mu.Unlock()
		metrics.RoomMembers.WithLabelValues(strconv.FormatInt(id, 10)).Set(0)
	}
}
