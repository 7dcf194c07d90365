package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/escalation"
)

type stubTracker struct {
	decision escalation.Decision
	err      error
	calls    []string
}

func (s *stubTracker) Record(_ context.Context, _ int64, level string) (escalation.Decision, error) {
	s.calls = append(s.calls, level)
	return s.decision, s.err
}

type capturePublisher struct{ payloads [][]byte }

func (c *capturePublisher) PublishEscalation(data []byte) error {
	c.payloads = append(c.payloads, data)
	return nil
}

func alertJSON(t *testing.T, level string) []byte {
	t.Helper()
	room := int64(3)
	data, err := json.Marshal(crisis.NewAlert(crisis.Event{
		ID: 7, UserID: 42, Source: crisis.SourceCommunity, RoomID: &room,
		Excerpt: "I feel hopeless", Level: level, Matched: []string{"hopeless"},
	}))
	require.NoError(t, err)
	return data
}

func newWatcher(tr tracker, pub escalationPublisher) (*watcher, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &watcher{tracker: tr, pub: pub, log: log, now: func() time.Time { return fixed }}, hook
}

func TestHandle_LogsAlertWithoutTracker(t *testing.T) {
	w, hook := newWatcher(nil, nil)
	w.handle(alertJSON(t, "medium"))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Equal(t, int64(42), entry.Data["user_id"])
	require.Equal(t, int64(3), entry.Data["community_id"])
}

func TestHandle_MalformedAlert(t *testing.T) {
	tr := &stubTracker{}
	w, hook := newWatcher(tr, nil)
	w.handle([]byte("{not json"))

	require.Empty(t, tr.calls)
	require.Equal(t, "discarding malformed crisis alert", hook.LastEntry().Message)
}

func TestHandle_CountsWithoutEscalating(t *testing.T) {
	tr := &stubTracker{decision: escalation.Decision{Count: 1}}
	pub := &capturePublisher{}
	w, _ := newWatcher(tr, pub)
	w.handle(alertJSON(t, "medium"))

	require.Equal(t, []string{"medium"}, tr.calls)
	require.Empty(t, pub.payloads)
}

func TestHandle_EscalationIsPublished(t *testing.T) {
	tr := &stubTracker{decision: escalation.Decision{Count: 3, Escalate: true, Cooldown: escalation.Cooldown15Min}}
	pub := &capturePublisher{}
	w, hook := newWatcher(tr, pub)
	w.handle(alertJSON(t, "high"))

	require.Len(t, pub.payloads, 1)
	var esc Escalation
	require.NoError(t, json.Unmarshal(pub.payloads[0], &esc))
	require.Equal(t, int64(42), esc.UserID)
	require.Equal(t, 3, esc.AlertCount)
	require.Equal(t, "high", esc.Level)
	require.NotEmpty(t, esc.LastAlertID)
	require.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), esc.RaisedAt)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestHandle_TrackerFailureIsLogged(t *testing.T) {
	tr := &stubTracker{err: errors.New("redis down")}
	pub := &capturePublisher{}
	w, hook := newWatcher(tr, pub)
	w.handle(alertJSON(t, "high"))

	require.Empty(t, pub.payloads)
	require.Equal(t, "escalation tracking failed", hook.LastEntry().Message)
}
