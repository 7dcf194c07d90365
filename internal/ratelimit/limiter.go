// Package ratelimit throttles chat messages and connection attempts. The
// Redis limiter uses the INCR + EXPIRE fixed window so limits hold across
// restarts; the local limiter uses token buckets for single-process
// deployments without Redis.
package ratelimit

import (
	"context"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:msg:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 10 chat messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleConnect allows 20 WebSocket connection attempts per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: 1 * time.Minute}
)

// Limiter decides whether identifier may act now under a fixed rule.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client redis.Cmdable
	rule   Rule
	log    logrus.FieldLogger
}

// NewRedisLimiter creates a limiter enforcing rule with the given client.
func NewRedisLimiter(client redis.Cmdable, rule Rule, log logrus.FieldLogger) *RedisLimiter {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &RedisLimiter{client: client, rule: rule, log: log.WithField("component", "ratelimit")}
}

// Allow increments the counter for identifier and sets the expiry on first
// access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("redis INCR failed, failing open")
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("redis EXPIRE failed, failing open")
			// The key exists but has no TTL and would block the identifier
			// forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}
