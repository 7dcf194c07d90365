package crisis

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/metrics"
)

// SinkConfig holds dispatcher settings.
type SinkConfig struct {
	QueueSize     int           // pending notifications before new ones are dropped
	Workers       int           // concurrent notifier calls
	NotifyTimeout time.Duration // per notification
}

// DefaultSinkConfig returns sensible defaults.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		QueueSize:     256,
		Workers:       2,
		NotifyTimeout: 5 * time.Second,
	}
}

// Sink persists crisis events and dispatches notifications off the request
// path.
type Sink struct {
	store    Store
	notifier Notifier
	cfg      SinkConfig
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// NewSink creates a Sink and starts its dispatch workers. Call Close to
// drain pending notifications.
func NewSink(store Store, notifier Notifier, cfg SinkConfig, log logrus.FieldLogger) *Sink {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSinkConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultSinkConfig().NotifyTimeout
	}

	s := &Sink{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log.WithField("component", "crisis"),
		now:      time.Now,
		queue:    make(chan Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.dispatch()
	}
	return s
}

// Record persists a crisis event. The excerpt is capped to ExcerptLimit
// characters. A failure here is returned to the caller; it never prevents
// the caller from replying to the author.
func (s *Sink) Record(ctx context.Context, userID int64, source string, roomID *int64, content, level string, matched []string) (Event, error) {
	if matched == nil {
		matched = []string{}
	}
	ev := Event{
		UserID:    userID,
		Source:    source,
		RoomID:    roomID,
		Excerpt:   Excerpt(content),
		Level:     level,
		Matched:   matched,
		CreatedAt: s.now().UTC(),
	}

	stored, err := s.store.Insert(ctx, ev)
	if err != nil {
		return Event{}, apperr.Persistence("could not record crisis event", fmt.Errorf("crisis: insert: %w", err))
	}
	metrics.CrisisEvents.WithLabelValues(level).Inc()
	return stored, nil
}

// Notify enqueues ev for asynchronous delivery. It never blocks: when the
// queue is full or the sink is closed the notification is dropped and
// logged.
func (s *Sink) Notify(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(ev, "sink closed")
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.drop(ev, "queue full")
	}
}

// RecordAndNotify records the event and, only if that succeeded, enqueues
// its notification.
func (s *Sink) RecordAndNotify(ctx context.Context, userID int64, source string, roomID *int64, content, level string, matched []string) (Event, error) {
	ev, err := s.Record(ctx, userID, source, roomID, content, level, matched)
	if err != nil {
		return Event{}, err
	}
	s.Notify(ev)
	return ev, nil
}

// List returns events for privileged review, most recent first.
func (s *Sink) List(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	events, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("crisis: list: %w", err)
	}
	return events, nil
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sink) dispatch() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.deliver(ev)
	}
}

func (s *Sink) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
	defer cancel()

	entry := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "user_id": ev.UserID, "level": ev.Level})
	defer func() {
		if r := recover(); r != nil {
			metrics.CrisisNotifications.WithLabelValues("failed").Inc()
			entry.Errorf("crisis notifier panicked: %v", r)
		}
	}()

	if err := s.notifier.Notify(ctx, ev); err != nil {
		metrics.CrisisNotifications.WithLabelValues("failed").Inc()
		entry.WithError(err).Error("crisis notification failed")
		return
	}
	metrics.CrisisNotifications.WithLabelValues("sent").Inc()
}

func (s *Sink) drop(ev Event, why string) {
	metrics.CrisisNotifications.WithLabelValues("dropped").Inc()
	s.log.WithFields(logrus.Fields{"event_id": ev.ID, "user_id": ev.UserID, "reason": why}).
		Error("crisis notification dropped")
}
