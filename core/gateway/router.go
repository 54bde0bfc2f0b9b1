package gateway

import (
	"context"
	"encoding/json"

	"github.com/weftworks/weft/core/bus"
	"github.com/weftworks/weft/core/infra/logging"
)

// CallbackActionType is the handler-dispatch key the router registers under.
const CallbackActionType = "execution.callback"

// callbackPayload is the shape domain workers put in callback envelopes.
type callbackPayload struct {
	Status      string           `json:"status"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       *bus.ErrorDetail `json:"error,omitempty"`
	ExecutionMS float64          `json:"execution_time_ms,omitempty"`
}

// CallbackRouter bridges the bus and the gateway: it consumes
// execution.callback envelopes and forwards them to the originating
// browser session.
type CallbackRouter struct {
	registry *Registry
	usage    *UsageStore
}

// NewCallbackRouter wires the router to the connection registry and the
// usage store (usage may be nil to disable the bookkeeping side effect).
func NewCallbackRouter(registry *Registry, usage *UsageStore) *CallbackRouter {
	return &CallbackRouter{registry: registry, usage: usage}
}

// Register installs the router in a worker's handler registry.
func (cr *CallbackRouter) Register(registry *bus.HandlerRegistry) {
	registry.Register(CallbackActionType, cr.Handle)
}

// Handle routes one callback envelope to its session. Unknown statuses are
// delivered as generic status updates, never dropped silently.
func (cr *CallbackRouter) Handle(ctx context.Context, env *bus.Envelope) (any, error) {
	var payload callbackPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			logging.Error("gateway", "malformed callback payload",
				"action_id", env.ActionID, "session", env.SessionID, "error", err)
			payload = callbackPayload{Status: "malformed"}
		}
	}

	var (
		msg *Message
		err error
	)
	switch payload.Status {
	case "completed":
		msg, err = NewMessage(MessageResponse, payload.Result)
	case "failed":
		detail := "execution failed"
		if payload.Error != nil && payload.Error.Message != "" {
			detail = payload.Error.Message
		}
		msg = ErrorMessage(detail)
	default:
		logging.Warn("gateway", "unknown callback status",
			"status", payload.Status, "action_id", env.ActionID, "session", env.SessionID)
		msg, err = NewMessage(MessageStatusUpdate, map[string]string{"status": payload.Status})
	}
	if err != nil {
		return nil, err
	}
	msg.TaskID = env.TaskID
	msg.TenantID = env.TenantID

	delivered := cr.registry.SendToSession(env.SessionID, msg)
	if !delivered {
		logging.Info("gateway", "callback had no listener",
			"session", env.SessionID, "task", env.TaskID, "status", payload.Status)
	}

	// Usage bookkeeping is best-effort; failures never reach the reply path.
	if cr.usage != nil {
		if uerr := cr.usage.Record(ctx, env.TenantID, payload.Status, payload.ExecutionMS); uerr != nil {
			logging.Warn("gateway", "usage record failed",
				"tenant", env.TenantID, "error", uerr)
		}
	}

	return map[string]any{"delivered": delivered}, nil
}
