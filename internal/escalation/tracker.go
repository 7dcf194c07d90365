// Package escalation counts crisis alerts per user in Redis and decides when
// a user's alerts warrant paging an on-call therapist. Records are plain
// keys with TTL-based expiry:
//
//	Key:   crisis:alerts:<user_id>     Value: alert count in the window
//	Key:   crisis:escalated:<user_id>  Value: level of the last escalation
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	CountPrefix     = "crisis:alerts:"
	EscalatedPrefix = "crisis:escalated:"
)

// Escalation back-off. Repeat escalations for the same user are suppressed
// for a period that grows with the alert count.
const (
	Cooldown15Min = 15 * time.Minute
	Cooldown1Hour = time.Hour
	Cooldown4Hour = 4 * time.Hour
)

type Config struct {
	// Window is how long the alert counter lives after the first alert.
	Window time.Duration
	// Threshold is the alert count that escalates regardless of level.
	Threshold int
}

func DefaultConfig() Config {
	return Config{Window: 24 * time.Hour, Threshold: 3}
}

// Decision is the outcome of Record.
type Decision struct {
	Count    int
	Escalate bool
	Cooldown time.Duration
}

// Tracker manages alert counters in Redis.
type Tracker struct {
	client redis.Cmdable
	cfg    Config
}

func NewTracker(client redis.Cmdable, cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Tracker{client: client, cfg: cfg}
}

func key(prefix string, userID int64) string {
	return prefix + strconv.FormatInt(userID, 10)
}

func (t *Tracker) cooldownFor(count int) time.Duration {
	switch {
	case count <= t.cfg.Threshold:
		return Cooldown15Min
	case count <= 2*t.cfg.Threshold:
		return Cooldown1Hour
	default:
		return Cooldown4Hour
	}
}

// Record counts one alert for userID. A high-level alert or reaching the
// threshold escalates, unless an escalation for the user is still cooling
// down.
func (t *Tracker) Record(ctx context.Context, userID int64, level string) (Decision, error) {
	countKey := key(CountPrefix, userID)

	count, err := t.client.Incr(ctx, countKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("escalation: incr: %w", err)
	}
	// TTL is set on the first increment only so the window does not slide.
	if count == 1 {
		if err := t.client.Expire(ctx, countKey, t.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("escalation: expire: %w", err)
		}
	}

	d := Decision{Count: int(count)}
	if level != "high" && int(count) < t.cfg.Threshold {
		return d, nil
	}

	cooldown := t.cooldownFor(int(count))
	ok, err := t.client.SetNX(ctx, key(EscalatedPrefix, userID), level, cooldown).Result()
	if err != nil {
		return d, fmt.Errorf("escalation: mark: %w", err)
	}
	d.Escalate = ok
	if ok {
		d.Cooldown = cooldown
	}
	return d, nil
}

// Count returns the alerts recorded for userID in the current window.
func (t *Tracker) Count(ctx context.Context, userID int64) (int, error) {
	n, err := t.client.Get(ctx, key(CountPrefix, userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("escalation: count: %w", err)
	}
	return n, nil
}

// Acknowledge clears the counter and cooldown once a therapist has reached
// out.
func (t *Tracker) Acknowledge(ctx context.Context, userID int64) error {
	if err := t.client.Del(ctx, key(CountPrefix, userID), key(EscalatedPrefix, userID)).Err(); err != nil {
		return fmt.Errorf("escalation: acknowledge: %w", err)
	}
	return nil
}
