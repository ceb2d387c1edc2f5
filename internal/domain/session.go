package domain

import "time"

// Keys of the user-scoped state handed to the backend when a session is created.
// The bridge sets them and never reads them back from the backend.
const (
	StateKeyFirstSeen     = "user:first_seen"
	StateKeyTotalSessions = "user:total_sessions"
)

// UserSession maps a transport user onto a backend session
type UserSession struct {
	ExternalUserID   string    `json:"external_user_id"`
	BackendSessionID string    `json:"backend_session_id"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	FirstSeen        time.Time `json:"first_seen"`
	TotalSessions    int       `json:"total_sessions"`

	// IsReturningUser is set at lookup time and never persisted
	IsReturningUser bool `json:"-"`
}

// Touch records activity on the session
func (s *UserSession) Touch(now time.Time) {
	s.LastActivity = now
}

// IsStale reports whether the session has been idle for longer than maxAge
func (s *UserSession) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastActivity) > maxAge
}

// InitialState builds the opaque user-scoped state sent with a session creation request
func (s *UserSession) InitialState() map[string]any {
	return map[string]any{
		StateKeyFirstSeen:     s.FirstSeen.UTC().Format(time.RFC3339),
		StateKeyTotalSessions: s.TotalSessions,
	}
}
