// internal/relay/message.go
package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/surveypilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the envelope carried on the bus and over the surface socket.
// Payload holds the channel-specific JSON value, or is empty for signal-only
// channels such as "login-success".
type Message struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Channel   schemas.Channel     `json:"channel"`
	Payload   jsoniter.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps payload for channel ch. A nil payload produces a
// signal-only message; use NullPayload to send an explicit JSON null.
func NewMessage(ch schemas.Channel, payload interface{}) (Message, error) {
	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Channel:   ch,
	}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", ch, err)
	}
	msg.Payload = raw
	return msg, nil
}

// NullPayload marshals to JSON null. The captcha channel uses it as the
// explicit absent marker.
type NullPayload struct{}

// MarshalJSON implements json.Marshaler.
func (NullPayload) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message on %s carries no payload", m.Channel)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Channel, err)
	}
	return nil
}

// IsNull reports whether the payload is the explicit JSON null marker.
func (m Message) IsNull() bool {
	return string(m.Payload) == "null"
}

// Encode renders the envelope as a JSON frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeFrame parses a JSON frame received from the surface. Frames only need
// a channel; id and timestamp are filled in when missing.
func DecodeFrame(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}
	if m.Channel == "" {
		return Message{}, fmt.Errorf("frame has no channel")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m, nil
}
