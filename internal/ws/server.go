// Package ws upgrades HTTP requests to WebSocket connections with gobwas/ws
// and keeps an index of the live ones. Each connection is read by the single
// goroutine that serves its session.
package ws

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxMessageSize caps an inbound data frame.
const DefaultMaxMessageSize = 64 << 10

// Config holds tunable parameters for upgraded connections.
type Config struct {
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // max silence before a read fails
	WriteTimeout   time.Duration // write deadline when the caller sets none
	MaxMessageSize int64         // bytes per inbound data frame
}

// DefaultConfig returns production defaults. ReadTimeout is longer than the
// default heartbeat interval so that pongs keep healthy clients alive.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 100000,
		ReadTimeout:    75 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Upgrader turns HTTP requests into registered Connections.
type Upgrader struct {
	config Config
	conns  *ConnectionManager
	log    logrus.FieldLogger
}

func NewUpgrader(config Config, log logrus.FieldLogger) *Upgrader {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Upgrader{
		config: config,
		conns:  NewConnectionManager(),
		log:    log.WithField("component", "ws"),
	}
}

// Connections returns the index of live connections.
func (u *Upgrader) Connections() *ConnectionManager { return u.conns }

// Upgrade performs the WebSocket handshake on w and r. On failure the HTTP
// response has already been written. The returned connection removes
// itself from the index when closed.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	if u.config.MaxConnections > 0 && u.conns.Count() >= u.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return nil, fmt.Errorf("ws: connection limit %d reached", u.config.MaxConnections)
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		u.log.WithError(err).Debug("upgrade failed")
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}

	c := newConnection(uuid.New().String(), conn, u.config, func(c *Connection) {
		u.conns.Remove(c.id)
	})
	u.conns.Add(c)

	u.log.WithFields(logrus.Fields{"conn_id": c.id, "remote": r.RemoteAddr, "total": u.conns.Count()}).
		Debug("new connection")
	return c, nil
}
