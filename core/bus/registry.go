package bus

import (
	"context"
	"sync"

	"github.com/weftworks/weft/core/infra/logging"
)

// HandlerFunc processes one envelope and returns the reply payload (or nil).
type HandlerFunc func(ctx context.Context, env *Envelope) (any, error)

// HandlerRegistry maps action types to handlers. Registration is
// runtime-mutable; the last registration for a type wins.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to an action type. Re-registering an existing
// type logs a warning (shadowing must be explicit, never silent) but is not
// an error.
func (r *HandlerRegistry) Register(actionType string, h HandlerFunc) {
	if actionType == "" || h == nil {
		return
	}
	r.mu.Lock()
	if _, exists := r.handlers[actionType]; exists {
		logging.Warn("bus", "handler shadowed", "action_type", actionType)
	}
	r.handlers[actionType] = h
	r.mu.Unlock()
}

// Lookup returns the handler for an action type.
func (r *HandlerRegistry) Lookup(actionType string) (HandlerFunc, bool) {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	r.mu.RUnlock()
	return h, ok
}

// Types returns the registered action types (for startup logging).
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
