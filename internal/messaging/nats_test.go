package messaging

import (
	"testing"
	"time"
)

// newTestClient connects to a local NATS server and skips when none is
// running.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCrisisAlertRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan string, 1)
	if err := c.SubscribeCrisisAlerts("", func(data []byte) { got <- string(data) }); err != nil {
		t.Fatalf("SubscribeCrisisAlerts() error: %v", err)
	}
	if err := c.PublishCrisisAlert([]byte(`{"alert_id":"a1"}`)); err != nil {
		t.Fatalf("PublishCrisisAlert() error: %v", err)
	}

	select {
	case data := <-got:
		if data != `{"alert_id":"a1"}` {
			t.Errorf("unexpected payload %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
}

func TestQueueGroupDeliversOnce(t *testing.T) {
	c := newTestClient(t)

	got := make(chan struct{}, 4)
	if err := c.SubscribeCrisisAlerts("watchers", func([]byte) { got <- struct{}{} }); err != nil {
		t.Fatalf("SubscribeCrisisAlerts() error: %v", err)
	}
	if err := c.PublishCrisisAlert([]byte(`{}`)); err != nil {
		t.Fatalf("PublishCrisisAlert() error: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered to queue group")
	}
	select {
	case <-got:
		t.Fatal("alert delivered twice")
	case <-time.After(100 * time.Millisecond):
	}
}
