// Package protocol defines the WebSocket frames exchanged between community
// chat clients and the server. Every frame is a JSON object with a "type"
// discriminator; inbound frames are decoded into a closed set of structs at
// the boundary so that unknown tags are rejected in one place.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meghan/community-chat/internal/apperr"
)

// Client -> Server frame types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// Server -> Client frame types.
const (
	TypeSystem = "system"
	TypeError  = "error"
	TypePong   = "pong"
)

// RoleSafety marks a system frame carrying a safe reply.
const RoleSafety = "safety"

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the type discriminator and the raw JSON for deferred
// decoding into a concrete frame.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
// A missing type is not an error here; it is rejected as an unknown tag.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frames
// ---------------------------------------------------------------------------

// ClientFrame is implemented by every decoded inbound frame.
type ClientFrame interface {
	FrameType() string
}

// MessageFrame is a chat message posted to the room. IsAnonymous is nil when
// the client omitted the field.
type MessageFrame struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	IsAnonymous *bool  `json:"is_anonymous"`
}

func (MessageFrame) FrameType() string { return TypeMessage }

// PingFrame is a client keepalive.
type PingFrame struct {
	Type string `json:"type"`
}

func (PingFrame) FrameType() string { return TypePing }

// ParseClientMessage decodes raw frame bytes into a ClientFrame. Unparseable
// JSON and field type mismatches yield apperr.ErrMalformed; any tag outside
// the known set yields apperr.ErrUnknownType.
func ParseClientMessage(data []byte) (ClientFrame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: %w", apperr.ErrMalformed)
	}

	switch env.Type {
	case TypeMessage:
		var m MessageFrame
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: decode %q payload: %w", env.Type, apperr.ErrMalformed)
		}
		return m, nil
	case TypePing:
		return PingFrame{Type: TypePing}, nil
	default:
		return nil, fmt.Errorf("protocol: client type %q: %w", env.Type, apperr.ErrUnknownType)
	}
}

// ---------------------------------------------------------------------------
// Server -> Client frames
// ---------------------------------------------------------------------------

// MessageView is the display projection of a persisted message.
// DisplayName is null in history listings and when unresolved.
type MessageView struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"room_id"`
	AuthorID    int64     `json:"author_id"`
	Content     string    `json:"content"`
	IsAnonymous bool      `json:"is_anonymous"`
	CreatedAt   time.Time `json:"created_at"`
	DisplayName *string   `json:"display_name"`
}

// BroadcastMsg wraps an accepted message for fan-out.
type BroadcastMsg struct {
	Message MessageView `json:"message"`
}

// SystemMsg is a private frame to a single client.
type SystemMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrorMsg carries a structured error for the sender only.
type ErrorMsg struct {
	Detail string `json:"detail"`
}

// PongMsg answers a client ping.
type PongMsg struct{}

// NewServerMessage marshals payload and injects msgType under the "type"
// key, returning the final frame bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewBroadcast builds the {type:"message", message:{...}} frame.
func NewBroadcast(view MessageView) ([]byte, error) {
	return NewServerMessage(TypeMessage, BroadcastMsg{Message: view})
}

// NewSafety builds the private safe-reply frame.
func NewSafety(reply string) ([]byte, error) {
	return NewServerMessage(TypeSystem, SystemMsg{Role: RoleSafety, Content: reply})
}

// NewError builds the {type:"error", detail} frame.
func NewError(detail string) ([]byte, error) {
	return NewServerMessage(TypeError, ErrorMsg{Detail: detail})
}

// NewPong builds the keepalive answer.
func NewPong() ([]byte, error) {
	return NewServerMessage(TypePong, PongMsg{})
}
