// Package client is a WebSocket load test client for community rooms. It
// dials with gobwas/ws, the same library the server uses, and records
// per-connection metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server frame types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// Server -> Client frame types.
const (
	TypeSystem = "system"
	TypeError  = "error"
	TypePong   = "pong"
)

// Metrics tracks per-connection counters.
type Metrics struct {
	ConnectLatency time.Duration
	Sent           int
	Broadcasts     int
	Errors         int
	SafetyReplies  int
	ReadFailures   int
}

// Broadcast is the subset of a message frame the load test inspects.
type Broadcast struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is one simulated member connected to a room.
type Client struct {
	conn net.Conn
	// rw reads through the handshake buffer when the server wrote frames
	// right after upgrading.
	rw io.ReadWriter

	writeMu sync.Mutex
	mu      sync.Mutex
	metrics Metrics

	onBroadcast func(Broadcast)
	onError     func(detail string)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a room socket. url must carry the token query parameter.
// Handlers must be registered through the options so no frame is missed.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &Client{conn: conn, done: make(chan struct{})}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	for _, o := range opts {
		o(c)
	}
	c.metrics.ConnectLatency = time.Since(start)
	go c.readLoop()
	return c, nil
}

type Option func(*Client)

func OnBroadcast(fn func(Broadcast)) Option { return func(c *Client) { c.onBroadcast = fn } }

func OnError(fn func(detail string)) Option { return func(c *Client) { c.onError = fn } }

// SendMessage posts content to the room.
func (c *Client) SendMessage(content string) error {
	err := c.write(map[string]string{"type": TypeMessage, "content": content})
	if err == nil {
		c.mu.Lock()
		c.metrics.Sent++
		c.mu.Unlock()
	}
	return err
}

func (c *Client) Ping() error {
	return c.write(map[string]string{"type": TypePing})
}

func (c *Client) write(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// lockedWriter lets the read loop answer control frames without
// interleaving with SendMessage.
type lockedWriter struct{ c *Client }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.metrics.ReadFailures++
				c.mu.Unlock()
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var frame struct {
		Type    string    `json:"type"`
		Detail  string    `json:"detail"`
		Message Broadcast `json:"message"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	c.mu.Lock()
	switch frame.Type {
	case TypeMessage:
		c.metrics.Broadcasts++
	case TypeError:
		c.metrics.Errors++
	case TypeSystem:
		c.metrics.SafetyReplies++
	}
	c.mu.Unlock()

	switch {
	case frame.Type == TypeMessage && c.onBroadcast != nil:
		c.onBroadcast(frame.Message)
	case frame.Type == TypeError && c.onError != nil:
		c.onError(frame.Detail)
	}
}
