package ws

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace period after a missed interval
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat pings every connection once per interval and closes those
// that have sent nothing within Interval + Timeout. It returns immediately;
// the goroutine exits when ctx is cancelled.
func (u *Upgrader) StartHeartbeat(ctx context.Context, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				u.checkConnections(now, config)
			}
		}
	}()
}

// checkConnections closes stale connections and pings the rest. Browsers
// answer pings automatically, and any answer refreshes LastSeen.
func (u *Upgrader) checkConnections(now time.Time, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout

	for _, c := range u.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			u.log.WithFields(logrus.Fields{"conn_id": c.id, "idle": idle.Round(time.Second)}).
				Info("heartbeat timeout")
			c.CloseWith(1001, "heartbeat timeout")
			continue
		}
		if err := c.Ping(); err != nil {
			u.log.WithError(err).WithField("conn_id", c.id).Debug("heartbeat ping failed")
			c.Close()
		}
	}
}
