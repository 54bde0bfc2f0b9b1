// Package gateway implements the real-time delivery gateway: the
// connection/session registry for browser WebSocket clients, the WS server
// surface, and the callback router that bridges bus callbacks to sessions.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType enumerates gateway-to-browser message kinds.
type MessageType string

const (
	MessageConnectionAck MessageType = "connection_ack"
	MessageTaskCreated   MessageType = "task_created"
	MessageResponse      MessageType = "response"
	MessageStreamChunk   MessageType = "stream_chunk"
	MessageTaskCompleted MessageType = "task_completed"
	MessageError         MessageType = "error"
	MessageStatusUpdate  MessageType = "status_update"
)

// Message is the WebSocket envelope exchanged with browser clients.
type Message struct {
	Type      MessageType     `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage builds a timestamped message; data may be nil, raw JSON or any
// marshalable value.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode message data: %w", err)
		}
		raw = encoded
	}
	return &Message{Type: msgType, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// ErrorMessage builds an error-typed message with a human-readable string.
func ErrorMessage(detail string) *Message {
	raw, _ := json.Marshal(map[string]string{"message": detail})
	return &Message{Type: MessageError, Data: raw, Timestamp: time.Now().UTC()}
}

// Encode serializes a message for the transport.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
