package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/escalation"
)

type tracker interface {
	Record(ctx context.Context, userID int64, level string) (escalation.Decision, error)
}

type escalationPublisher interface {
	PublishEscalation(data []byte) error
}

// Escalation is published when a user's alerts cross the paging policy.
type Escalation struct {
	UserID      int64         `json:"user_id"`
	AlertCount  int           `json:"alert_count"`
	Level       string        `json:"risk_level"`
	LastAlertID string        `json:"last_alert_id"`
	Cooldown    time.Duration `json:"cooldown_ns"`
	RaisedAt    time.Time     `json:"raised_at"`
}

// watcher handles crisis alerts. tracker may be nil, in which case alerts are
// only logged.
type watcher struct {
	tracker tracker
	pub     escalationPublisher
	log     logrus.FieldLogger
	now     func() time.Time
}

func (w *watcher) handle(data []byte) {
	var alert crisis.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		w.log.WithError(err).Warn("discarding malformed crisis alert")
		return
	}

	entry := w.log.WithFields(logrus.Fields{
		"alert_id": alert.AlertID,
		"event_id": alert.EventID,
		"user_id":  alert.UserID,
		"source":   alert.Source,
		"level":    alert.Level,
		"matched":  alert.Matched,
	})
	if alert.RoomID != nil {
		entry = entry.WithField("community_id", *alert.RoomID)
	}
	entry.Warn("crisis alert received")

	if w.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := w.tracker.Record(ctx, alert.UserID, alert.Level)
	if err != nil {
		entry.WithError(err).Error("escalation tracking failed")
		return
	}
	if !d.Escalate {
		entry.WithField("count", d.Count).Debug("alert counted")
		return
	}

	esc := Escalation{
		UserID:      alert.UserID,
		AlertCount:  d.Count,
		Level:       alert.Level,
		LastAlertID: alert.AlertID,
		Cooldown:    d.Cooldown,
		RaisedAt:    w.now().UTC(),
	}
	entry.WithFields(logrus.Fields{"count": d.Count, "cooldown": d.Cooldown}).
		Error("ESCALATION: user needs therapist follow-up")

	if w.pub == nil {
		return
	}
	payload, err := json.Marshal(esc)
	if err != nil {
		entry.WithError(err).Error("marshal escalation")
		return
	}
	if err := w.pub.PublishEscalation(payload); err != nil {
		entry.WithError(err).Error("publish escalation")
	}
}
