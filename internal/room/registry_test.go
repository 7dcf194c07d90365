package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHandle records payloads. Closed handles fail every send; a blocking
// handle waits for its context to expire.
type fakeHandle struct {
	id       string
	closed   atomic.Bool
	blocking bool

	mu       sync.Mutex
	received []string
	closes   int
}

func newFake(id string) *fakeHandle { return &fakeHandle{id: id} }

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(ctx context.Context, payload []byte) error {
	if f.closed.Load() {
		return errors.New("use of closed connection")
	}
	if f.blocking {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	f.received = append(f.received, string(payload))
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) Close() error {
	f.closed.Store(true)
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func TestBroadcast_EmptyRoomIsNoop(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	require.Zero(t, r.Broadcast(context.Background(), 1, []byte("hi")))
}

func TestBroadcast_PartialFailurePrunesDeadPeer(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	live := []*fakeHandle{newFake("a"), newFake("b"), newFake("c")}
	dead := newFake("dead")
	dead.closed.Store(true)

	for _, h := range live {
		r.Join(1, h)
	}
	r.Join(1, dead)
	require.Equal(t, 4, r.Count(1))

	delivered := r.Broadcast(context.Background(), 1, []byte("hello"))
	require.Equal(t, 3, delivered)
	require.Equal(t, 3, r.Count(1))
	for _, h := range live {
		require.Equal(t, []string{"hello"}, h.messages())
	}
}

func TestBroadcast_SlowPeerIsDroppedWithinTimeout(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, nil)
	fast := newFake("fast")
	slow := newFake("slow")
	slow.blocking = true
	r.Join(1, fast)
	r.Join(1, slow)

	start := time.Now()
	delivered := r.Broadcast(context.Background(), 1, []byte("x"))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, delivered)
	require.Equal(t, 1, r.Count(1))
	require.True(t, slow.closed.Load())
}

func TestLeave_IsIdempotent(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	h := newFake("a")

	r.Leave(1, h) // unknown room
	r.Join(1, h)
	r.Leave(1, h)
	r.Leave(1, h)
	require.Zero(t, r.Count(1))
}

func TestLeave_DoesNotRemoveReplacement(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	old := newFake("same")
	replacement := newFake("same")

	r.Join(1, old)
	r.Join(1, replacement)
	r.Leave(1, old)
	require.Equal(t, 1, r.Count(1))
}

func TestBroadcast_RoomsAreIsolated(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	a, b := newFake("a"), newFake("b")
	r.Join(1, a)
	r.Join(2, b)

	r.Broadcast(context.Background(), 1, []byte("one"))
	require.Equal(t, []string{"one"}, a.messages())
	require.Empty(t, b.messages())
}

func TestBroadcast_PreservesIssueOrder(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	peers := make([]*fakeHandle, 5)
	for i := range peers {
		peers[i] = newFake(fmt.Sprintf("p%d", i))
		r.Join(1, peers[i])
	}

	want := make([]string, 100)
	for i := range want {
		want[i] = fmt.Sprintf("m%03d", i)
		r.Broadcast(context.Background(), 1, []byte(want[i]))
	}
	for _, p := range peers {
		require.Equal(t, want, p.messages())
	}
}

func TestRegistry_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h := newFake(fmt.Sprintf("c%d", i))
			r.Join(int64(i%3), h)
			if i%2 == 0 {
				r.Leave(int64(i%3), h)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			r.Broadcast(context.Background(), int64(i%3), []byte("x"))
		}(i)
	}
	wg.Wait()

	require.Equal(t, 25, r.Count(0)+r.Count(1)+r.Count(2))
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	a, b := newFake("a"), newFake("b")
	r.Join(1, a)
	r.Join(2, b)

	r.CloseAll()
	require.True(t, a.closed.Load())
	require.True(t, b.closed.Load())
	require.Zero(t, r.Count(1))
}
