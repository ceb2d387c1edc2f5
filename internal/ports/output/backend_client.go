package output

import (
	"context"
	"time"

	"agent-bridge/internal/domain"
)

// BackendClient interface - Output port
// Defines what the application needs from the stateful agent backend.
type BackendClient interface {
	// CreateSession asks the backend for a new session for the user, seeding it with
	// initialState. Returns the backend-issued session identifier.
	CreateSession(ctx context.Context, externalUserID string, initialState map[string]any) (string, error)

	// SubmitTurn sends one turn. A non-2xx status is returned as *domain.BackendStatusError
	// before any response data is consumed; 5xx unwraps to domain.ErrSessionFault.
	SubmitTurn(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error)

	// RequestTimeout is the per-request timeout the client applies to backend calls.
	RequestTimeout() time.Duration
}
