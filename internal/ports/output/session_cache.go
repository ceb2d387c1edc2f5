package output

import (
	"time"

	"agent-bridge/internal/domain"
)

// SessionCache interface - Output port
// A fast-path mirror of the durable session directory. Losing an entry only costs
// one durable lookup, so implementations never write through.
type SessionCache interface {
	// Get returns a copy of the cached session for the user, if any.
	Get(externalUserID string) (*domain.UserSession, bool)

	// Put stores a copy of the session, keyed by its ExternalUserID.
	Put(session *domain.UserSession)

	// Delete drops the user's entry. Idempotent.
	Delete(externalUserID string)

	// Sweep evicts entries idle for longer than maxAge and returns how many were removed.
	Sweep(maxAge time.Duration) int
}
