package input

import (
	"context"

	"agent-bridge/internal/domain"
)

// SessionDirectory interface - Input port
// Owns the durable mapping from transport users to backend sessions.
type SessionDirectory interface {
	// ResolveSession returns the user's backend session, creating one on first contact.
	// Durable store failures fail open to creating a new session; a backend creation
	// failure is returned wrapping domain.ErrSessionCreation.
	ResolveSession(ctx context.Context, externalUserID string) (*domain.UserSession, error)

	// CreateBackendSession asks the backend for a fresh session for the user, seeded with
	// the user's preserved initial state. It does not touch the stored mapping.
	CreateBackendSession(ctx context.Context, externalUserID string) (string, error)

	// ReplaceSession overwrites the user's mapping with a new backend session.
	ReplaceSession(ctx context.Context, externalUserID, newBackendSessionID string) (*domain.UserSession, error)

	// ForgetSession removes the mapping. Administrative use only.
	ForgetSession(ctx context.Context, externalUserID string) error
}

// MediaNormalizer interface - Input port
type MediaNormalizer interface {
	// Normalize resolves MIME type and filename for a payload and converts rich documents to text.
	Normalize(attachment domain.Attachment) (*domain.NormalizedMedia, error)
}

// ArtifactStore interface - Input port
// Versioned blob storage that hides the physical path conventions from callers.
type ArtifactStore interface {
	// Save stores a new version under the session-scoped convention and returns it.
	Save(ctx context.Context, key domain.ArtifactKey, mimeType string, payload []byte) (int, error)

	// LoadLatest returns the newest version of key located with the given strategy.
	LoadLatest(ctx context.Context, key domain.ArtifactKey, strategy domain.LatestStrategy) (*domain.Artifact, error)

	// LoadByFilenameWithVersionFallback finds the user's artifact by filename, tolerating
	// version suffixes appended to the name.
	LoadByFilenameWithVersionFallback(ctx context.Context, appName, userID, filename string) (*domain.Artifact, error)

	// ListFilenames returns every filename the user has artifacts under, across conventions.
	ListFilenames(ctx context.Context, appName, userID string) ([]string, error)
}

// ResponseAggregator interface - Input port
type ResponseAggregator interface {
	// Aggregate coalesces a backend response into one reply. artifactScope names the
	// app/user/session that artifact references are resolved against.
	Aggregate(ctx context.Context, response *domain.TurnResponse, artifactScope domain.ArtifactKey) *domain.AggregatedReply
}

// TurnDispatcher interface - Input port (use case)
type TurnDispatcher interface {
	// HandleTurn runs one inbound message through to a deliverable reply. The returned
	// reply is always non-nil and carries user-facing text; err reports the underlying
	// failure, if any, for logging.
	HandleTurn(ctx context.Context, externalUserID, text string, attachments []domain.Attachment) (*domain.TurnReply, error)

	// ResetSession drops the user's session mapping and cached entry so the next turn
	// starts a new backend session.
	ResetSession(ctx context.Context, externalUserID string) error
}
