//go:generate go run go.uber.org/mock/mockgen -source=notifier.go -destination=../mocks/mock_notifier.go -package=mocks

package crisis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a crisis event to a downstream collaborator.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Alert is the wire form of a crisis notification.
type Alert struct {
	AlertID   string    `json:"alert_id"`
	EventID   int64     `json:"event_id"`
	UserID    int64     `json:"user_id"`
	Source    string    `json:"source"`
	RoomID    *int64    `json:"community_id,omitempty"`
	Level     string    `json:"risk_level"`
	Excerpt   string    `json:"excerpt"`
	Matched   []string  `json:"matched_phrases"`
	CreatedAt time.Time `json:"created_at"`
}

const alertExcerptLimit = 100

// NewAlert builds the wire form of ev with a fresh alert id.
func NewAlert(ev Event) Alert {
	excerpt := ev.Excerpt
	if utf8.RuneCountInString(excerpt) > alertExcerptLimit {
		excerpt = string([]rune(excerpt)[:alertExcerptLimit])
	}
	return Alert{
		AlertID:   uuid.NewString(),
		EventID:   ev.ID,
		UserID:    ev.UserID,
		Source:    ev.Source,
		RoomID:    ev.RoomID,
		Level:     ev.Level,
		Excerpt:   excerpt,
		Matched:   ev.Matched,
		CreatedAt: ev.CreatedAt,
	}
}

// LogNotifier writes a WARN line per event. Therapists review the full
// record through the crisis events endpoint.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &LogNotifier{log: log.WithField("component", "crisis")}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	a := NewAlert(ev)
	n.log.WithFields(logrus.Fields{
		"alert_id": a.AlertID,
		"user_id":  a.UserID,
		"source":   a.Source,
		"level":    a.Level,
		"excerpt":  a.Excerpt,
	}).Warn("CRISIS ALERT")
	return nil
}

// Publisher is the subset of the NATS client the NATSNotifier needs.
type Publisher interface {
	PublishCrisisAlert(data []byte) error
}

// NATSNotifier publishes alerts on the crisis subject.
type NATSNotifier struct {
	pub Publisher
}

// NewNATSNotifier publishes alerts through pub.
func NewNATSNotifier(pub Publisher) *NATSNotifier {
	return &NATSNotifier{pub: pub}
}

func (n *NATSNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewAlert(ev))
	if err != nil {
		return fmt.Errorf("crisis: marshal alert: %w", err)
	}
	if err := n.pub.PublishCrisisAlert(data); err != nil {
		return fmt.Errorf("crisis: publish alert: %w", err)
	}
	return nil
}

// MultiNotifier calls every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
