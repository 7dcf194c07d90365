package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/meghan/community-chat/internal/metrics"
)

// ErrMessageTooLarge is returned by Read when a data frame exceeds the
// configured maximum size.
var ErrMessageTooLarge = errors.New("ws: message too large")

// Connection is a single upgraded WebSocket client. Writes are serialized by
// a mutex so that broadcasts, private replies and keepalive pings never
// interleave frame bytes. Read must only be called from one goroutine.
type Connection struct {
	id        string
	conn      net.Conn
	createdAt time.Time
	lastSeen  atomic.Int64 // unix nanos of the last frame received

	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize int64

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(*Connection)
}

func newConnection(id string, conn net.Conn, cfg Config, onClose func(*Connection)) *Connection {
	c := &Connection{
		id:             id,
		conn:           conn,
		createdAt:      time.Now(),
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		closed:         make(chan struct{}),
		onClose:        onClose,
	}
	c.lastSeen.Store(c.createdAt.UnixNano())
	return c
}

func (c *Connection) ID() string { return c.id }

// LastSeen returns when the client last sent any frame.
func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// Send writes a text frame. The write deadline is ctx's deadline, or the
// configured write timeout when ctx has none.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(ctx, func(w io.Writer) error {
		return wsutil.WriteServerMessage(w, ws.OpText, payload)
	})
}

// Ping writes a protocol-level ping frame.
func (c *Connection) Ping() error {
	return c.write(context.Background(), func(w io.Writer) error {
		return ws.WriteFrame(w, ws.NewPingFrame(nil))
	})
}

func (c *Connection) write(ctx context.Context, fn func(io.Writer) error) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := fn(c.conn); err != nil {
		return fmt.Errorf("ws: write %s: %w", c.id, err)
	}
	return nil
}

// Read blocks until the next data frame arrives and returns its payload.
// Pings are answered and pongs absorbed. A close frame from the client, or
// a local Close, yields io.EOF. Cancelling ctx does not interrupt a pending
// read; close the connection for that.
func (c *Connection) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		header, reader, err := wsutil.NextReader(c.conn, ws.StateServerSide)
		if err != nil {
			if c.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("ws: read %s: %w", c.id, err)
		}
		c.lastSeen.Store(time.Now().UnixNano())

		if header.OpCode.IsControl() {
			payload := make([]byte, header.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return nil, fmt.Errorf("ws: read control %s: %w", c.id, err)
			}
			switch header.OpCode {
			case ws.OpClose:
				c.closeWithFrame(ws.NewCloseFrame(payload))
				return nil, io.EOF
			case ws.OpPing:
				if err := c.write(ctx, func(w io.Writer) error {
					return ws.WriteFrame(w, ws.NewPongFrame(payload))
				}); err != nil {
					return nil, err
				}
			}
			continue
		}

		limit := c.maxMessageSize
		if limit <= 0 {
			limit = DefaultMaxMessageSize
		}
		data, err := io.ReadAll(io.LimitReader(reader, limit+1))
		if err != nil {
			return nil, fmt.Errorf("ws: read payload %s: %w", c.id, err)
		}
		if int64(len(data)) > limit {
			c.CloseWith(int(ws.StatusMessageTooBig), "message too large")
			return nil, ErrMessageTooLarge
		}
		return data, nil
	}
}

// CloseWith sends a close frame carrying code and reason, then closes the
// connection. Only the first close takes effect.
func (c *Connection) CloseWith(code int, reason string) error {
	return c.closeWithFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason)))
}

// Close closes the connection without a close frame.
func (c *Connection) Close() error {
	return c.closeWithFrame(ws.Frame{})
}

func (c *Connection) closeWithFrame(frame ws.Frame) error {
	var err error
	c.closeOnce.Do(func() {
		if frame.Header.OpCode == ws.OpClose {
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = ws.WriteFrame(c.conn, frame)
			c.writeMu.Unlock()
		}
		close(c.closed)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ConnectionManager is a thread-safe index of live connections, used for
// health reporting, heartbeats and shutdown.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers conn.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	if _, ok := cm.byID[conn.id]; !ok {
		metrics.ConnectionsTotal.Inc()
	}
	cm.byID[conn.id] = conn
	cm.mu.Unlock()
}

// Remove forgets the connection with id. It reports whether it was present.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	_, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		metrics.ConnectionsTotal.Dec()
	}
	cm.mu.Unlock()
	return ok
}

// Get returns the connection for id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of the current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// CloseAll sends a close frame with code to every connection.
func (cm *ConnectionManager) CloseAll(code int, reason string) {
	for _, c := range cm.All() {
		c.CloseWith(code, reason)
	}
}
