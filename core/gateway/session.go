package gateway

import "time"

// SessionState tracks logical conversation continuity for a session,
// independent of whichever physical connection currently serves it. It
// survives connection replacement and dies only by inactivity sweep.
type SessionState struct {
	SessionID        string
	TenantID         string
	AgentID          string
	ConversationID   string
	CurrentTaskID    string
	MessagesSent     int64
	MessagesReceived int64
	TaskCount        int64
	CreatedAt        time.Time
	LastActivity     time.Time
}

func newSessionState(sessionID, tenantID, agentID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID:    sessionID,
		TenantID:     tenantID,
		AgentID:      agentID,
		CreatedAt:    now,
		LastActivity: now,
	}
}
