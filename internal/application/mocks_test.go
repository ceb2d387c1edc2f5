package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"agent-bridge/internal/domain"
)

// Mock implementations for testing

// MockDurableStore implements output.DurableStore for testing.
// It keeps blobs in a map; the Func fields inject failures.
type MockDurableStore struct {
	GetFunc    func(ctx context.Context, path string) (*domain.Blob, error)
	PutFunc    func(ctx context.Context, path string, blob domain.Blob) error
	DeleteFunc func(ctx context.Context, path string) error
	ListFunc   func(ctx context.Context, prefix string) ([]string, error)

	mu    sync.Mutex
	blobs map[string]domain.Blob

	// Captured values for assertions
	PutPaths    []string
	DeletePaths []string
}

func NewMockDurableStore() *MockDurableStore {
	return &MockDurableStore{blobs: make(map[string]domain.Blob)}
}

func (m *MockDurableStore) Get(ctx context.Context, path string) (*domain.Blob, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &blob, nil
}

func (m *MockDurableStore) Put(ctx context.Context, path string, blob domain.Blob) error {
	m.mu.Lock()
	m.PutPaths = append(m.PutPaths, path)
	m.mu.Unlock()
	if m.PutFunc != nil {
		return m.PutFunc(ctx, path, blob)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = blob
	return nil
}

func (m *MockDurableStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	m.DeletePaths = append(m.DeletePaths, path)
	m.mu.Unlock()
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

func (m *MockDurableStore) List(ctx context.Context, prefix string) ([]string, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, prefix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for path := range m.blobs {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MockDurableStore) Ping(ctx context.Context) error {
	return nil
}

// Seed writes a blob directly, bypassing PutFunc and the captured paths
func (m *MockDurableStore) Seed(path string, data []byte, contentType string, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = domain.Blob{Data: data, ContentType: contentType, UpdatedAt: updatedAt}
}

// MockBackendClient implements output.BackendClient for testing
type MockBackendClient struct {
	CreateSessionFunc func(ctx context.Context, externalUserID string, initialState map[string]any) (string, error)
	SubmitTurnFunc    func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error)
	Timeout           time.Duration

	mu sync.Mutex

	// Captured values for assertions
	CreateSessionStates []map[string]any
	SubmittedTurns      []domain.PendingTurn
}

func (m *MockBackendClient) CreateSession(ctx context.Context, externalUserID string, initialState map[string]any) (string, error) {
	m.mu.Lock()
	m.CreateSessionStates = append(m.CreateSessionStates, initialState)
	n := len(m.CreateSessionStates)
	m.mu.Unlock()
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, externalUserID, initialState)
	}
	return fmt.Sprintf("session-%d", n), nil
}

func (m *MockBackendClient) SubmitTurn(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
	m.mu.Lock()
	m.SubmittedTurns = append(m.SubmittedTurns, turn)
	m.mu.Unlock()
	if m.SubmitTurnFunc != nil {
		return m.SubmitTurnFunc(ctx, turn)
	}
	return envelopeResponse("backend reply"), nil
}

func (m *MockBackendClient) RequestTimeout() time.Duration {
	if m.Timeout == 0 {
		return time.Second
	}
	return m.Timeout
}

// MockDocumentConverter implements output.DocumentConverter for testing
type MockDocumentConverter struct {
	SpreadsheetToTextFunc  func(data []byte) (string, error)
	WordDocumentToTextFunc func(data []byte) (string, error)
}

func (m *MockDocumentConverter) SpreadsheetToText(data []byte) (string, error) {
	if m.SpreadsheetToTextFunc != nil {
		return m.SpreadsheetToTextFunc(data)
	}
	return "=== Sheet: Sheet1 ===\na,b\n", nil
}

func (m *MockDocumentConverter) WordDocumentToText(data []byte) (string, error) {
	if m.WordDocumentToTextFunc != nil {
		return m.WordDocumentToTextFunc(data)
	}
	return "document text", nil
}

// MockSessionCache implements output.SessionCache for testing
type MockSessionCache struct {
	mu       sync.Mutex
	sessions map[string]domain.UserSession

	// Captured values for assertions
	PutCalls    []domain.UserSession
	DeleteCalls []string
}

func NewMockSessionCache() *MockSessionCache {
	return &MockSessionCache{sessions: make(map[string]domain.UserSession)}
}

func (m *MockSessionCache) Get(externalUserID string) (*domain.UserSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[externalUserID]
	if !ok {
		return nil, false
	}
	return &session, true
}

func (m *MockSessionCache) Put(session *domain.UserSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ExternalUserID] = *session
	m.PutCalls = append(m.PutCalls, *session)
}

func (m *MockSessionCache) Delete(externalUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, externalUserID)
	m.DeleteCalls = append(m.DeleteCalls, externalUserID)
}

func (m *MockSessionCache) Sweep(maxAge time.Duration) int {
	return 0
}

// MockLineClient implements output.LineClient for testing
type MockLineClient struct {
	ReplyMessageFunc      func(request domain.LineReplyMessageRequest) (*domain.LineMessageResponse, error)
	PushMessageFunc       func(request domain.LinePushMessageRequest) (*domain.LineMessageResponse, error)
	GetMessageContentFunc func(messageID string) (*domain.LineMessageContent, error)

	// Captured values for assertions
	LastReplyRequest *domain.LineReplyMessageRequest
	LastPushRequest  *domain.LinePushMessageRequest

	// Track all push requests for multi-message testing
	PushRequests []domain.LinePushMessageRequest
}

func (m *MockLineClient) ReplyMessage(request domain.LineReplyMessageRequest) (*domain.LineMessageResponse, error) {
	m.LastReplyRequest = &request
	if m.ReplyMessageFunc != nil {
		return m.ReplyMessageFunc(request)
	}
	return &domain.LineMessageResponse{Status: "ok"}, nil
}

func (m *MockLineClient) PushMessage(request domain.LinePushMessageRequest) (*domain.LineMessageResponse, error) {
	m.LastPushRequest = &request
	m.PushRequests = append(m.PushRequests, request)
	if m.PushMessageFunc != nil {
		return m.PushMessageFunc(request)
	}
	return &domain.LineMessageResponse{Status: "ok"}, nil
}

func (m *MockLineClient) GetMessageContent(messageID string) (*domain.LineMessageContent, error) {
	if m.GetMessageContentFunc != nil {
		return m.GetMessageContentFunc(messageID)
	}
	return &domain.LineMessageContent{Data: []byte("content"), ContentType: "application/octet-stream"}, nil
}

// MockTurnDispatcher implements input.TurnDispatcher for testing
type MockTurnDispatcher struct {
	HandleTurnFunc   func(ctx context.Context, externalUserID, text string, attachments []domain.Attachment) (*domain.TurnReply, error)
	ResetSessionFunc func(ctx context.Context, externalUserID string) error

	// Captured values for assertions
	LastUserID      string
	LastText        string
	LastAttachments []domain.Attachment
	ResetCalls      []string
}

func (m *MockTurnDispatcher) HandleTurn(ctx context.Context, externalUserID, text string, attachments []domain.Attachment) (*domain.TurnReply, error) {
	m.LastUserID = externalUserID
	m.LastText = text
	m.LastAttachments = attachments
	if m.HandleTurnFunc != nil {
		return m.HandleTurnFunc(ctx, externalUserID, text, attachments)
	}
	return &domain.TurnReply{Text: "AI response", Outcome: domain.TurnOutcomeReplied, BackendSessionID: "session-1"}, nil
}

func (m *MockTurnDispatcher) ResetSession(ctx context.Context, externalUserID string) error {
	m.ResetCalls = append(m.ResetCalls, externalUserID)
	if m.ResetSessionFunc != nil {
		return m.ResetSessionFunc(ctx, externalUserID)
	}
	return nil
}

// Helper functions

func textPtr(s string) *string {
	return &s
}

func envelopeResponse(text string) *domain.TurnResponse {
	return &domain.TurnResponse{
		Envelope: &domain.StreamFragment{TextDelta: textPtr(text)},
		Mode:     domain.DeltaModeCumulative,
	}
}

// streamResponse returns a closed channel pre-filled with fragments
func streamResponse(mode domain.DeltaMode, fragments ...domain.StreamFragment) *domain.TurnResponse {
	stream := make(chan domain.StreamFragment, len(fragments))
	for _, fragment := range fragments {
		stream <- fragment
	}
	close(stream)
	return &domain.TurnResponse{Stream: stream, Mode: mode}
}

func partial(text string) domain.StreamFragment {
	return domain.StreamFragment{IsPartial: true, TextDelta: textPtr(text)}
}

func final(text string) domain.StreamFragment {
	return domain.StreamFragment{TextDelta: textPtr(text)}
}
