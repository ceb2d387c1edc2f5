package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	"github.com/sirupsen/logrus"
)

const sessionPathPrefix = "sessions/"

// errUnreadableSession marks a stored mapping that exists but cannot be used
var errUnreadableSession = fmt.Errorf("%w: unreadable session mapping", domain.ErrDurableStore)

// SessionDirectory struct - Durable mapping of transport users to backend sessions
type SessionDirectory struct {
	store   output.DurableStore
	backend output.BackendClient
	now     func() time.Time
}

// NewSessionDirectory func - Creates new session directory
func NewSessionDirectory(store output.DurableStore, backend output.BackendClient) *SessionDirectory {
	return &SessionDirectory{
		store:   store,
		backend: backend,
		now:     time.Now,
	}
}

func sessionPath(externalUserID string) string {
	return sessionPathPrefix + externalUserID
}

// ResolveSession func - Use case: find or create the user's backend session
func (d *SessionDirectory) ResolveSession(ctx context.Context, externalUserID string) (*domain.UserSession, error) {
	if externalUserID == "" {
		return nil, fmt.Errorf("%w: external user id is required", domain.ErrInvalidRequest)
	}

	now := d.now()
	session, err := d.load(ctx, externalUserID)
	degraded := false
	switch {
	case err == nil:
		session.Touch(now)
		session.IsReturningUser = true
		if err := d.persist(ctx, session); err != nil {
			logrus.Warnf("Session directory degraded, lastActivity not saved: userID=%s, err=%v", externalUserID, err)
		}
		return session, nil

	case errors.Is(err, domain.ErrNotFound):
		logrus.Infof("No session mapping for userID=%s, creating one", externalUserID)

	case errors.Is(err, errUnreadableSession):
		logrus.Warnf("Replacing unreadable session mapping: userID=%s, err=%v", externalUserID, err)

	default:
		// The stored mapping may still be valid and is left untouched.
		degraded = true
		logrus.Warnf("Session directory degraded, treating user as new: userID=%s, err=%v", externalUserID, err)
	}

	session = &domain.UserSession{
		ExternalUserID: externalUserID,
		CreatedAt:      now,
		LastActivity:   now,
		FirstSeen:      now,
		TotalSessions:  1,
	}

	backendSessionID, err := d.backend.CreateSession(ctx, externalUserID, session.InitialState())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSessionCreation, err)
	}
	session.BackendSessionID = backendSessionID

	if degraded {
		logrus.Infof("Using unsaved backend session: userID=%s, sessionID=%s", externalUserID, backendSessionID)
		return session, nil
	}
	if err := d.persist(ctx, session); err != nil {
		logrus.Warnf("Session directory degraded, mapping not saved: userID=%s, err=%v", externalUserID, err)
	}

	logrus.Infof("Created backend session: userID=%s, sessionID=%s", externalUserID, backendSessionID)
	return session, nil
}

// CreateBackendSession func - Use case: ask the backend for a replacement session.
// The user's first-seen time is carried over and the session counter advanced.
func (d *SessionDirectory) CreateBackendSession(ctx context.Context, externalUserID string) (string, error) {
	next := d.successor(ctx, externalUserID, "")

	backendSessionID, err := d.backend.CreateSession(ctx, externalUserID, next.InitialState())
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSessionCreation, err)
	}
	return backendSessionID, nil
}

// ReplaceSession func - Use case: point the user's mapping at a new backend session
func (d *SessionDirectory) ReplaceSession(ctx context.Context, externalUserID, newBackendSessionID string) (*domain.UserSession, error) {
	if externalUserID == "" || newBackendSessionID == "" {
		return nil, fmt.Errorf("%w: user id and session id are required", domain.ErrInvalidRequest)
	}

	session := d.successor(ctx, externalUserID, newBackendSessionID)
	if err := d.persist(ctx, session); err != nil {
		logrus.Warnf("Session directory degraded, replacement not saved: userID=%s, err=%v", externalUserID, err)
	}

	logrus.Infof("Replaced backend session: userID=%s, sessionID=%s, total=%d",
		externalUserID, newBackendSessionID, session.TotalSessions)
	return session, nil
}

// ForgetSession func - Use case: administrative removal of the mapping
func (d *SessionDirectory) ForgetSession(ctx context.Context, externalUserID string) error {
	if err := d.store.Delete(ctx, sessionPath(externalUserID)); err != nil {
		return fmt.Errorf("%w: delete session %s: %v", domain.ErrDurableStore, externalUserID, err)
	}
	return nil
}

// successor builds the record that follows the user's stored one
func (d *SessionDirectory) successor(ctx context.Context, externalUserID, backendSessionID string) *domain.UserSession {
	now := d.now()
	next := &domain.UserSession{
		ExternalUserID:   externalUserID,
		BackendSessionID: backendSessionID,
		CreatedAt:        now,
		LastActivity:     now,
		FirstSeen:        now,
		TotalSessions:    1,
		IsReturningUser:  true,
	}

	previous, err := d.load(ctx, externalUserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logrus.Warnf("Session directory degraded, previous state unavailable: userID=%s, err=%v", externalUserID, err)
		}
		return next
	}

	if !previous.FirstSeen.IsZero() {
		next.FirstSeen = previous.FirstSeen
	}
	next.TotalSessions = previous.TotalSessions + 1
	return next
}

func (d *SessionDirectory) load(ctx context.Context, externalUserID string) (*domain.UserSession, error) {
	blob, err := d.store.Get(ctx, sessionPath(externalUserID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDurableStore, err)
	}

	var session domain.UserSession
	if err := json.Unmarshal(blob.Data, &session); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", errUnreadableSession, externalUserID, err)
	}
	if session.BackendSessionID == "" {
		return nil, fmt.Errorf("%w: session %s has no backend session id", errUnreadableSession, externalUserID)
	}
	session.ExternalUserID = externalUserID
	return &session, nil
}

func (d *SessionDirectory) persist(ctx context.Context, session *domain.UserSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return d.store.Put(ctx, sessionPath(session.ExternalUserID), domain.Blob{
		Data:        data,
		ContentType: "application/json",
		UpdatedAt:   d.now(),
	})
}
