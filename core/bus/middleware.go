package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/core/infra/logging"
)

// Middleware wraps a handler with optional behavior. Context loading and
// callback shaping are composed around plain handlers instead of being
// inherited from handler base types.
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies middlewares so the first listed is the outermost.
func Chain(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// WithLogging traces envelope entry/exit for a component.
func WithLogging(component string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *Envelope) (any, error) {
			logging.Debug(component, "envelope in",
				"action_type", env.ActionType, "action_id", env.ActionID,
				"tenant", env.TenantID, "trace_id", env.TraceID)
			start := time.Now()
			result, err := next(ctx, env)
			logging.Debug(component, "envelope out",
				"action_id", env.ActionID, "elapsed", time.Since(start), "ok", err == nil)
			return result, err
		}
	}
}

// Exchange is one stored request/response pair of session context.
type Exchange struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"`
}

type contextKey struct{}

// SessionContext returns the exchanges loaded by WithSessionContext, if any.
func SessionContext(ctx context.Context) []Exchange {
	if v, ok := ctx.Value(contextKey{}).([]Exchange); ok {
		return v
	}
	return nil
}

// ContextStore keeps a bounded per-session exchange history in Redis lists.
type ContextStore struct {
	client     redis.UniversalClient
	maxHistory int64
	ttl        time.Duration
}

// NewContextStore wraps a Redis client. maxHistory bounds the list length;
// ttl bounds abandoned sessions.
func NewContextStore(rc redis.UniversalClient, maxHistory int64, ttl time.Duration) *ContextStore {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ContextStore{client: rc, maxHistory: maxHistory, ttl: ttl}
}

// Load returns the most recent exchanges for a session.
func (s *ContextStore) Load(ctx context.Context, sessionID string) ([]Exchange, error) {
	raw, err := s.client.LRange(ctx, sessionContextKey(sessionID), -s.maxHistory, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Exchange, 0, len(raw))
	for _, item := range raw {
		var ex Exchange
		if err := json.Unmarshal([]byte(item), &ex); err == nil && ex.Content != "" {
			out = append(out, ex)
		}
	}
	return out, nil
}

// Append records exchanges and trims the history to its bound.
func (s *ContextStore) Append(ctx context.Context, sessionID string, exchanges ...Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}
	key := sessionContextKey(sessionID)
	pipe := s.client.TxPipeline()
	for _, ex := range exchanges {
		if ex.Timestamp == 0 {
			ex.Timestamp = time.Now().Unix()
		}
		data, err := json.Marshal(ex)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, -s.maxHistory, -1)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// WithSessionContext loads session exchanges before the handler runs and, when
// the handler returns a payload with "request"/"response" strings, appends the
// exchange afterwards. Load/save failures degrade to an empty context; they
// never fail the envelope.
func WithSessionContext(store *ContextStore) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *Envelope) (any, error) {
			history, err := store.Load(ctx, env.SessionID)
			if err != nil {
				logging.Warn("bus", "session context load failed",
					"session", env.SessionID, "error", err)
			}
			result, herr := next(context.WithValue(ctx, contextKey{}, history), env)
			if herr == nil {
				if req, resp, ok := exchangePair(result); ok {
					if err := store.Append(ctx, env.SessionID,
						Exchange{Role: "user", Content: req},
						Exchange{Role: "assistant", Content: resp},
					); err != nil {
						logging.Warn("bus", "session context save failed",
							"session", env.SessionID, "error", err)
					}
				}
			}
			return result, herr
		}
	}
}

func exchangePair(result any) (request, response string, ok bool) {
	m, isMap := result.(map[string]any)
	if !isMap {
		return "", "", false
	}
	req, _ := m["request"].(string)
	resp, _ := m["response"].(string)
	if req == "" && resp == "" {
		return "", "", false
	}
	return req, resp, true
}

func sessionContextKey(sessionID string) string {
	return "weft:session:" + sessionID + ":context"
}
