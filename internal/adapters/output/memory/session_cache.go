package memory

import (
	"sync"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"
)

// Compile-time check to ensure SessionCache implements output.SessionCache interface
var _ output.SessionCache = (*SessionCache)(nil)

// SessionCache struct - Output adapter for the in-memory session fast path
// Uses sync.Map for thread-safe concurrent access keyed by external user ID.
// Entries are copies so callers never share a *UserSession with the cache.
type SessionCache struct {
	sessions sync.Map
	now      func() time.Time
}

// NewSessionCache creates an empty in-memory session cache
func NewSessionCache() *SessionCache {
	return &SessionCache{now: time.Now}
}

// Get returns the cached session and refreshes its LastActivity.
func (c *SessionCache) Get(externalUserID string) (*domain.UserSession, bool) {
	value, exists := c.sessions.Load(externalUserID)
	if !exists {
		return nil, false
	}

	session, ok := value.(*domain.UserSession)
	if !ok {
		// If data is malformed, delete and report a miss
		c.sessions.Delete(externalUserID)
		return nil, false
	}

	// Stored entries are never mutated in place
	touched := *session
	touched.Touch(c.now())
	c.sessions.CompareAndSwap(externalUserID, value, &touched)

	copied := touched
	copied.IsReturningUser = true
	return &copied, true
}

// Put stores a copy of the session keyed by its ExternalUserID
func (c *SessionCache) Put(session *domain.UserSession) {
	if session == nil || session.ExternalUserID == "" {
		return
	}
	copied := *session
	if copied.LastActivity.IsZero() {
		copied.LastActivity = c.now()
	}
	c.sessions.Store(copied.ExternalUserID, &copied)
}

// Delete removes a cached session. Deleting a missing entry is a no-op.
func (c *SessionCache) Delete(externalUserID string) {
	c.sessions.Delete(externalUserID)
}

// Sweep evicts entries idle for longer than maxAge.
func (c *SessionCache) Sweep(maxAge time.Duration) int {
	now := c.now()
	removed := 0
	c.sessions.Range(func(key, value any) bool {
		session, ok := value.(*domain.UserSession)
		if !ok || session.IsStale(now, maxAge) {
			c.sessions.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of cached sessions
func (c *SessionCache) Len() int {
	n := 0
	c.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
