package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meghan/community-chat/internal/apperr"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Message(t *testing.T) {
	input := []byte(`{"type":"message","content":"hello room","is_anonymous":false}`)

	frame, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.FrameType() != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, frame.FrameType())
	}

	m, ok := frame.(MessageFrame)
	if !ok {
		t.Fatalf("expected MessageFrame, got %T", frame)
	}
	if m.Content != "hello room" {
		t.Errorf("expected content %q, got %q", "hello room", m.Content)
	}
	if m.IsAnonymous == nil || *m.IsAnonymous {
		t.Errorf("expected is_anonymous=false, got %v", m.IsAnonymous)
	}
}

func TestParseClientMessage_AnonymityOmitted(t *testing.T) {
	frame, err := ParseClientMessage([]byte(`{"type":"message","content":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := frame.(MessageFrame); m.IsAnonymous != nil {
		t.Errorf("expected nil is_anonymous when omitted, got %v", *m.IsAnonymous)
	}
}

func TestParseClientMessage_Ping(t *testing.T) {
	frame, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := frame.(PingFrame); !ok {
		t.Fatalf("expected PingFrame, got %T", frame)
	}
}

// ---------------------------------------------------------------------------
// Test: Rejections are classified centrally
// ---------------------------------------------------------------------------

func TestParseClientMessage_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"invalid json", `{invalid json}`, apperr.ErrMalformed},
		{"not an object", `"just a string"`, apperr.ErrMalformed},
		{"content wrong type", `{"type":"message","content":42}`, apperr.ErrMalformed},
		{"anonymity wrong type", `{"type":"message","content":"x","is_anonymous":"yes"}`, apperr.ErrMalformed},
		{"unknown type", `{"type":"typing"}`, apperr.ErrUnknownType},
		{"missing type", `{"content":"hi"}`, apperr.ErrUnknownType},
		{"server-only type", `{"type":"system","content":"x"}`, apperr.ErrUnknownType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseClientMessage([]byte(tc.input))
			if err == nil {
				t.Fatalf("expected error, got frame %#v", frame)
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			if frame != nil {
				t.Errorf("expected nil frame, got %#v", frame)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Server frames
// ---------------------------------------------------------------------------

func TestNewBroadcast(t *testing.T) {
	name := "Anonymous"
	view := MessageView{
		ID:          7,
		RoomID:      3,
		AuthorID:    42,
		Content:     "we got this",
		IsAnonymous: true,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DisplayName: &name,
	}

	data, err := NewBroadcast(view)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeMessage {
		t.Errorf("expected type %q, got %v", TypeMessage, result["type"])
	}

	msg, ok := result["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message object, got %T", result["message"])
	}
	if msg["display_name"] != "Anonymous" {
		t.Errorf("expected display_name Anonymous, got %v", msg["display_name"])
	}
	if msg["author_id"].(float64) != 42 {
		t.Errorf("expected author_id 42, got %v", msg["author_id"])
	}
	if msg["created_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("unexpected created_at %v", msg["created_at"])
	}
}

func TestNewBroadcast_NullDisplayName(t *testing.T) {
	data, err := NewBroadcast(MessageView{ID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Message map[string]json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if string(result.Message["display_name"]) != "null" {
		t.Errorf("expected display_name null, got %s", result.Message["display_name"])
	}
}

func TestNewSafety(t *testing.T) {
	data, err := NewSafety("you are not alone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeSystem || decoded.Role != RoleSafety || decoded.Content != "you are not alone" {
		t.Errorf("unexpected safety frame: %+v", decoded)
	}
}

func TestNewError(t *testing.T) {
	data, err := NewError("Invalid JSON")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"detail":"Invalid JSON","type":"error"}` {
		t.Errorf("unexpected error frame %s", data)
	}
}

func TestNewPong(t *testing.T) {
	data, err := NewPong()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("unexpected pong frame %s", data)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"data":"no type field"}`), &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != "" {
		t.Errorf("expected empty type, got %q", env.Type)
	}
	if len(env.Raw) == 0 {
		t.Error("expected raw bytes to be captured")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{invalid json}`), &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}
