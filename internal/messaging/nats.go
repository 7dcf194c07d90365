// Package messaging provides a NATS client wrapper for the crisis alert
// channel. The chat server publishes an alert per blocked message; any
// number of watchers (dashboards, pagers, cmd/crisiswatch) subscribe.
package messaging

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATS subjects.
const (
	SubjectCrisisAlert      = "crisis.alert"
	SubjectCrisisEscalation = "crisis.escalation"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  logrus.FieldLogger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "community-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It returns an
// error if the initial connection fails.
func NewNATSClient(config NATSConfig, log logrus.FieldLogger) (*NATSClient, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("component", "nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.WithField("url", nc.ConnectedUrl()).Info("connected")

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for subject and keeps the subscription for
// cleanup on Close.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// QueueSubscribe is Subscribe with a queue group, so that each alert is
// handled by exactly one member of the group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s/%s: %w", subject, queue, err)
	}

	c.mu.Lock()
	c.subs[subject+"#"+queue] = sub
	c.mu.Unlock()
	return nil
}

// PublishCrisisAlert publishes an encoded alert and flushes so that the
// alert has left the process before the caller moves on.
func (c *NATSClient) PublishCrisisAlert(data []byte) error {
	if err := c.Publish(SubjectCrisisAlert, data); err != nil {
		return err
	}
	if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// PublishEscalation publishes a repeated-alert escalation for paging.
func (c *NATSClient) PublishEscalation(data []byte) error {
	return c.Publish(SubjectCrisisEscalation, data)
}

// SubscribeCrisisAlerts delivers every crisis alert payload to handler.
// A non-empty queue joins a queue group.
func (c *NATSClient) SubscribeCrisisAlerts(queue string, handler func(data []byte)) error {
	h := func(msg *nats.Msg) { handler(msg.Data) }
	if queue != "" {
		return c.QueueSubscribe(SubjectCrisisAlert, queue, h)
	}
	return c.Subscribe(SubjectCrisisAlert, h)
}

// Connected reports whether the client currently holds a live connection.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.WithError(err).WithField("subject", subject).Warn("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("connection drain")
	}
	c.log.Info("client closed")
}
