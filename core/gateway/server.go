package gateway

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weftworks/weft/core/bus"
	"github.com/weftworks/weft/core/infra/logging"
	"github.com/weftworks/weft/core/infra/schema"
)

const wsAPIKeyProtocol = "weft.api-key"

const (
	envAllowedOrigins = "WEFT_ALLOWED_ORIGINS"
	envGatewayAPIKey  = "WEFT_GATEWAY_API_KEY"
)

//go:embed task.schema.json
var taskSchema []byte

// Server exposes the WebSocket surface: it upgrades browser connections,
// registers them, reads pings and task submissions, and hands tasks to the
// bus with the gateway's own callback address.
type Server struct {
	registry      *Registry
	busClient     *bus.Client
	callbackQueue string
	taskValidator *schema.Validator
	upgrader      websocket.Upgrader
}

// NewServer wires the WS surface to the registry and the bus client. The
// callback queue is this gateway instance's own inbox.
func NewServer(registry *Registry, busClient *bus.Client, callbackQueue string) (*Server, error) {
	validator, err := schema.Compile("task-submission", taskSchema)
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	return &Server{
		registry:      registry,
		busClient:     busClient,
		callbackQueue: callbackQueue,
		taskValidator: validator,
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return isAllowedOrigin(r) },
			Subprotocols: []string{wsAPIKeyProtocol},
		},
	}, nil
}

// Routes returns the gateway HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if key := normalizeAPIKey(os.Getenv(envGatewayAPIKey)); key != "" {
		if apiKeyFromWebSocket(r) != key {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	query := r.URL.Query()
	sessionID := strings.TrimSpace(query.Get("session_id"))
	tenantID := strings.TrimSpace(query.Get("tenant_id"))
	if sessionID == "" || tenantID == "" {
		http.Error(w, "session_id and tenant_id required", http.StatusBadRequest)
		return
	}
	agentID := strings.TrimSpace(query.Get("agent_id"))
	userID := strings.TrimSpace(query.Get("user_id"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}

	transport := NewWSTransport(ws)
	if _, err := s.registry.Connect(transport, sessionID, tenantID, agentID, userID); err != nil {
		logging.Error("gateway", "connect failed", "session", sessionID, "error", err)
		_ = ws.Close()
		return
	}
	defer s.registry.Disconnect(transport, sessionID)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.handleClientMessage(r.Context(), sessionID, tenantID, agentID, userID, data)
	}
}

type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleClientMessage(ctx context.Context, sessionID, tenantID, agentID, userID string, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.registry.SendToSession(sessionID, ErrorMessage("malformed message"))
		return
	}
	switch msg.Type {
	case "ping":
		s.registry.Touch(sessionID)
	case "task":
		s.submitTask(ctx, sessionID, tenantID, agentID, userID, msg.Data)
	default:
		s.registry.SendToSession(sessionID, ErrorMessage("unknown message type: "+msg.Type))
	}
}

type taskSubmission struct {
	ActionType string          `json:"action_type"`
	TaskID     string          `json:"task_id"`
	Input      json.RawMessage `json:"input"`
}

// submitTask validates a browser task submission and places it on the bus
// with this gateway's callback address, so the result comes back through
// the callback router.
func (s *Server) submitTask(ctx context.Context, sessionID, tenantID, agentID, userID string, raw json.RawMessage) {
	if err := s.taskValidator.Validate(raw); err != nil {
		s.registry.SendToSession(sessionID, ErrorMessage("invalid task: "+err.Error()))
		return
	}
	var task taskSubmission
	if err := json.Unmarshal(raw, &task); err != nil {
		s.registry.SendToSession(sessionID, ErrorMessage("invalid task: "+err.Error()))
		return
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}

	env, err := s.busClient.Build(task.ActionType, tenantID, sessionID, task.Input)
	if err != nil {
		s.registry.SendToSession(sessionID, ErrorMessage("invalid task: "+err.Error()))
		return
	}
	env.TaskID = task.TaskID
	env.AgentID = agentID
	env.UserID = userID
	env.TraceID = uuid.NewString()

	if err := s.busClient.SendWithCallback(ctx, env, "", s.callbackQueue, CallbackActionType); err != nil {
		logging.Error("gateway", "task enqueue failed",
			"session", sessionID, "action_type", task.ActionType, "error", err)
		s.registry.SendToSession(sessionID, ErrorMessage("task submission failed, try later"))
		return
	}
	s.registry.TaskStarted(sessionID, task.TaskID)

	ack, err := NewMessage(MessageTaskCreated, map[string]string{"action_type": task.ActionType})
	if err == nil {
		ack.TaskID = task.TaskID
		ack.TenantID = tenantID
		s.registry.SendToSession(sessionID, ack)
	}
}

func isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin; treat as allowed.
		return true
	}

	allowed, allowAll := allowedOriginsFromEnv()
	if allowAll {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	if len(allowed) == 0 {
		host := strings.ToLower(u.Hostname())
		switch host {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		reqHost := strings.ToLower(requestHostname(r.Host))
		return reqHost != "" && host == reqHost
	}

	_, ok := allowed[origin]
	return ok
}

func allowedOriginsFromEnv() (map[string]struct{}, bool) {
	raw := strings.TrimSpace(os.Getenv(envAllowedOrigins))
	if raw == "" {
		return nil, false
	}
	if raw == "*" {
		return nil, true
	}
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			set[p] = struct{}{}
		}
	}
	return set, false
}

func requestHostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil && host != "" {
		return host
	}
	return hostport
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values.
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

func apiKeyFromWebSocket(r *http.Request) string {
	if r == nil {
		return ""
	}
	protocols := websocket.Subprotocols(r)
	for i, protocol := range protocols {
		if strings.EqualFold(protocol, wsAPIKeyProtocol) && i+1 < len(protocols) {
			return decodeWSAPIKey(protocols[i+1])
		}
		prefix := strings.ToLower(wsAPIKeyProtocol) + "."
		if strings.HasPrefix(strings.ToLower(protocol), prefix) {
			return decodeWSAPIKey(protocol[len(prefix):])
		}
	}
	return ""
}

func decodeWSAPIKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	return raw
}
