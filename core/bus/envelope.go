// Package bus implements the domain action bus: a JSON envelope protocol
// over Redis lists (queues) and TTL-bounded keys (reply slots). Services
// never talk to each other directly; everything crosses this substrate.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is one unit of cross-service work.
type Envelope struct {
	ActionID           string          `json:"action_id"`
	ActionType         string          `json:"action_type"`
	TenantID           string          `json:"tenant_id"`
	SessionID          string          `json:"session_id"`
	TaskID             string          `json:"task_id,omitempty"`
	AgentID            string          `json:"agent_id,omitempty"`
	UserID             string          `json:"user_id,omitempty"`
	CorrelationID      string          `json:"correlation_id,omitempty"`
	TraceID            string          `json:"trace_id,omitempty"`
	CallbackQueueName  string          `json:"callback_queue_name,omitempty"`
	CallbackActionType string          `json:"callback_action_type,omitempty"`
	OriginService      string          `json:"origin_service"`
	Data               json.RawMessage `json:"data,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope with a fresh action id and timestamp.
// data may be nil, a []byte/json.RawMessage of encoded JSON, or any
// JSON-marshalable value; the bus never interprets it.
func NewEnvelope(actionType, tenantID, sessionID, originService string, data any) (*Envelope, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		ActionID:      uuid.NewString(),
		ActionType:    actionType,
		TenantID:      tenantID,
		SessionID:     sessionID,
		OriginService: originService,
		Data:          raw,
		Timestamp:     time.Now().UTC(),
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate enforces the envelope invariants: tenant scoping, a
// "domain.verb" action type, and callback fields set together or not at all.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("nil envelope")
	}
	if strings.TrimSpace(e.ActionID) == "" {
		return fmt.Errorf("action_id required")
	}
	if e.Domain() == "" {
		return fmt.Errorf("action_type must be domain.verb, got %q", e.ActionType)
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("tenant_id required")
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("session_id required")
	}
	if (e.CallbackQueueName == "") != (e.CallbackActionType == "") {
		return fmt.Errorf("callback_queue_name and callback_action_type must be set together")
	}
	return nil
}

// Domain returns the action-type prefix before the dot, or "" when malformed.
func (e *Envelope) Domain() string {
	idx := strings.Index(e.ActionType, ".")
	if idx <= 0 || idx == len(e.ActionType)-1 {
		return ""
	}
	return e.ActionType[:idx]
}

// WantsReply reports whether the sender expects a pseudo-sync response.
func (e *Envelope) WantsReply() bool {
	return e.CorrelationID != ""
}

// WantsCallback reports whether the sender asked for an async callback envelope.
func (e *Envelope) WantsCallback() bool {
	return e.CallbackQueueName != "" && e.CallbackActionType != ""
}

// Callback derives the asynchronous reply envelope for e. The callback gets a
// fresh action id but carries the original correlation, task and trace ids so
// the caller can stitch hops together.
func (e *Envelope) Callback(data any) (*Envelope, error) {
	if !e.WantsCallback() {
		return nil, fmt.Errorf("envelope %s has no callback address", e.ActionID)
	}
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	cb := &Envelope{
		ActionID:      uuid.NewString(),
		ActionType:    e.CallbackActionType,
		TenantID:      e.TenantID,
		SessionID:     e.SessionID,
		TaskID:        e.TaskID,
		AgentID:       e.AgentID,
		UserID:        e.UserID,
		CorrelationID: e.CorrelationID,
		TraceID:       e.TraceID,
		OriginService: e.OriginService,
		Data:          raw,
		Timestamp:     time.Now().UTC(),
	}
	if err := cb.Validate(); err != nil {
		return nil, err
	}
	return cb, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses and validates a wire envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}

// Response is the reply to a pseudo-sync envelope, keyed by correlation id.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries the failure taxonomy entry and a human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OKResponse wraps a handler result in a success response.
func OKResponse(data any) (*Response, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Data: raw}, nil
}

// FailResponse builds a failure response with an error detail.
func FailResponse(errType, message string) *Response {
	return &Response{Success: false, Error: &ErrorDetail{Type: errType, Message: message}}
}

// DecodeResponse parses a wire response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode data payload: %w", err)
		}
		return raw, nil
	}
}
