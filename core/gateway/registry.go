package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/core/infra/logging"
	"github.com/weftworks/weft/core/infra/metrics"
)

const (
	defaultPingInterval  = 30 * time.Second
	defaultStaleMultiple = 3
	defaultSweepInterval = 60 * time.Second
	defaultSessionTTL    = 30 * time.Minute

	// Advisory send-rate bookkeeping window; not an enforced limit.
	rateWindow = time.Minute
)

// Connection is one live transport connection for a session.
type Connection struct {
	ID          string
	SessionID   string
	TenantID    string
	AgentID     string
	UserID      string
	Transport   Transport
	ConnectedAt time.Time

	lastPing  time.Time
	sendTimes []time.Time
}

// RegistryConfig tunes liveness and sweeping.
type RegistryConfig struct {
	PingInterval  time.Duration
	StaleMultiple int
	SweepInterval time.Duration
	SessionTTL    time.Duration
	Metrics       metrics.GatewayMetrics
}

// Registry owns the live session -> connection mapping and the tenant ->
// sessions index. It is the only component allowed to mutate either; all
// access goes through its methods under one coarse lock.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection         // by session id
	tenants  map[string]map[string]struct{} // tenant id -> session ids
	sessions map[string]*SessionState

	cfg RegistryConfig
}

// NewRegistry builds an empty registry with defaults filled in.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.StaleMultiple <= 0 {
		cfg.StaleMultiple = defaultStaleMultiple
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopGateway{}
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		tenants:  make(map[string]map[string]struct{}),
		sessions: make(map[string]*SessionState),
		cfg:      cfg,
	}
}

// Connect registers a transport for a session. An existing connection for the
// same session is fully torn down first (graceful replace), then the new
// record is registered and a connection_ack is sent before returning.
func (r *Registry) Connect(transport Transport, sessionID, tenantID, agentID, userID string) (*Connection, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	if old, exists := r.conns[sessionID]; exists {
		if err := old.Transport.Close(); err != nil {
			logging.Warn("gateway", "old transport close failed", "session", sessionID, "error", err)
		}
		r.removeLocked(sessionID)
		logging.Info("gateway", "connection replaced", "session", sessionID, "old_conn", old.ID)
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		TenantID:    tenantID,
		AgentID:     agentID,
		UserID:      userID,
		Transport:   transport,
		ConnectedAt: now,
	}
	r.conns[sessionID] = conn
	if r.tenants[tenantID] == nil {
		r.tenants[tenantID] = make(map[string]struct{})
	}
	r.tenants[tenantID][sessionID] = struct{}{}

	state, exists := r.sessions[sessionID]
	if !exists {
		state = newSessionState(sessionID, tenantID, agentID, now)
		r.sessions[sessionID] = state
	}
	state.LastActivity = now
	count := len(r.conns)
	r.mu.Unlock()

	r.cfg.Metrics.SetLiveConnections(float64(count))

	ack, err := NewMessage(MessageConnectionAck, map[string]string{"connection_id": conn.ID})
	if err == nil {
		ack.SessionID = sessionID
		ack.TenantID = tenantID
		var data []byte
		data, err = ack.Encode()
		if err == nil {
			err = transport.Send(data)
		}
	}
	if err != nil {
		r.dropConnection(sessionID, conn)
		return nil, err
	}
	logging.Info("gateway", "connected",
		"session", sessionID, "tenant", tenantID, "conn", conn.ID)
	return conn, nil
}

// Disconnect removes the connection record only when the given transport is
// still the one on record, so a stale disconnect from an already-replaced
// connection cannot tear down its successor. Session state is retained.
func (r *Registry) Disconnect(transport Transport, sessionID string) {
	r.mu.Lock()
	conn, exists := r.conns[sessionID]
	if !exists || conn.Transport != transport {
		r.mu.Unlock()
		return
	}
	r.removeLocked(sessionID)
	count := len(r.conns)
	r.mu.Unlock()

	r.cfg.Metrics.SetLiveConnections(float64(count))
	logging.Info("gateway", "disconnected", "session", sessionID, "conn", conn.ID)
}

// SendToSession delivers a message to the session's live connection. A
// transport failure is treated as a disconnect and returns false; false
// means "nobody was listening", never a hard error.
func (r *Registry) SendToSession(sessionID string, msg *Message) bool {
	msg.SessionID = sessionID

	r.mu.Lock()
	conn, exists := r.conns[sessionID]
	if !exists {
		r.mu.Unlock()
		r.cfg.Metrics.IncSends("no_connection")
		return false
	}
	transport := conn.Transport
	now := time.Now().UTC()
	conn.sendTimes = pruneWindow(append(conn.sendTimes, now), now)
	if state, ok := r.sessions[sessionID]; ok {
		state.MessagesSent++
		state.LastActivity = now
	}
	r.mu.Unlock()

	data, err := msg.Encode()
	if err != nil {
		logging.Error("gateway", "message encode failed", "session", sessionID, "error", err)
		r.cfg.Metrics.IncSends("encode_error")
		return false
	}
	if err := transport.Send(data); err != nil {
		logging.Warn("gateway", "send failed, dropping connection",
			"session", sessionID, "error", err)
		r.dropConnection(sessionID, conn)
		r.cfg.Metrics.IncSends("failed")
		return false
	}
	r.cfg.Metrics.IncSends("ok")
	return true
}

// BroadcastToTenant fans a message out to every session indexed under the
// tenant, concurrently, tolerating individual failures. Returns the number
// of successful deliveries.
func (r *Registry) BroadcastToTenant(tenantID string, msg *Message, excludeSession string) int {
	r.mu.Lock()
	sessionIDs := make([]string, 0, len(r.tenants[tenantID]))
	for sessionID := range r.tenants[tenantID] {
		if sessionID != excludeSession {
			sessionIDs = append(sessionIDs, sessionID)
		}
	}
	r.mu.Unlock()

	r.cfg.Metrics.IncBroadcasts()

	var (
		wg        sync.WaitGroup
		countMu   sync.Mutex
		delivered int
	)
	for _, sessionID := range sessionIDs {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			copied := *msg
			if r.SendToSession(sid, &copied) {
				countMu.Lock()
				delivered++
				countMu.Unlock()
			}
		}(sessionID)
	}
	wg.Wait()
	return delivered
}

// Touch records a client ping for liveness and session activity.
func (r *Registry) Touch(sessionID string) {
	now := time.Now().UTC()
	r.mu.Lock()
	if conn, exists := r.conns[sessionID]; exists {
		conn.lastPing = now
	}
	if state, exists := r.sessions[sessionID]; exists {
		state.MessagesReceived++
		state.LastActivity = now
	}
	r.mu.Unlock()
}

// TaskStarted records a new task against the session.
func (r *Registry) TaskStarted(sessionID, taskID string) {
	now := time.Now().UTC()
	r.mu.Lock()
	if state, exists := r.sessions[sessionID]; exists {
		state.CurrentTaskID = taskID
		state.TaskCount++
		state.LastActivity = now
	}
	r.mu.Unlock()
}

// Session returns a copy of the session state, if tracked.
func (r *Registry) Session(sessionID string) (SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.sessions[sessionID]
	if !exists {
		return SessionState{}, false
	}
	return *state, true
}

// Connected reports whether a session currently has a live connection.
func (r *Registry) Connected(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.conns[sessionID]
	return exists
}

// TenantSessions returns the session ids currently indexed for a tenant.
func (r *Registry) TenantSessions(tenantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tenants[tenantID]))
	for sessionID := range r.tenants[tenantID] {
		out = append(out, sessionID)
	}
	return out
}

// SendRate returns the number of sends to the session inside the advisory
// one-minute window.
func (r *Registry) SendRate(sessionID string) int {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, exists := r.conns[sessionID]
	if !exists {
		return 0
	}
	conn.sendTimes = pruneWindow(conn.sendTimes, now)
	return len(conn.sendTimes)
}

// SweepStale force-disconnects connections whose inactivity ("now - last
// ping", or "now - connected_at" if never pinged) exceeds the configured
// multiple of the ping interval, and drops sessions idle past the session
// TTL. Returns the number of connections removed.
func (r *Registry) SweepStale(now time.Time) int {
	limit := time.Duration(r.cfg.StaleMultiple) * r.cfg.PingInterval

	r.mu.Lock()
	var stale []*Connection
	for _, conn := range r.conns {
		since := conn.lastPing
		if since.IsZero() {
			since = conn.ConnectedAt
		}
		if now.Sub(since) > limit {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		r.removeLocked(conn.SessionID)
	}
	for sessionID, state := range r.sessions {
		if _, live := r.conns[sessionID]; live {
			continue
		}
		if now.Sub(state.LastActivity) > r.cfg.SessionTTL {
			delete(r.sessions, sessionID)
		}
	}
	count := len(r.conns)
	r.mu.Unlock()

	for _, conn := range stale {
		if err := conn.Transport.Close(); err != nil {
			logging.Warn("gateway", "stale transport close failed",
				"session", conn.SessionID, "error", err)
		}
		r.cfg.Metrics.IncSweepDisconnects()
		logging.Info("gateway", "swept stale connection",
			"session", conn.SessionID, "conn", conn.ID)
	}
	if len(stale) > 0 {
		r.cfg.Metrics.SetLiveConnections(float64(count))
	}
	return len(stale)
}

// RunSweeper runs the staleness sweep on its configured interval until ctx
// is cancelled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepStale(time.Now().UTC())
		}
	}
}

// dropConnection removes the record after a send failure, guarding against
// the connection having been replaced concurrently.
func (r *Registry) dropConnection(sessionID string, conn *Connection) {
	r.mu.Lock()
	current, exists := r.conns[sessionID]
	if exists && current.ID == conn.ID {
		r.removeLocked(sessionID)
	}
	count := len(r.conns)
	r.mu.Unlock()
	r.cfg.Metrics.SetLiveConnections(float64(count))
}

// removeLocked deletes the connection record and its tenant-index entry.
// Callers hold r.mu.
func (r *Registry) removeLocked(sessionID string) {
	conn, exists := r.conns[sessionID]
	if !exists {
		return
	}
	delete(r.conns, sessionID)
	if set, ok := r.tenants[conn.TenantID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.tenants, conn.TenantID)
		}
	}
}

func pruneWindow(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	return times[idx:]
}
