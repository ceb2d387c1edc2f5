package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agent-bridge/internal/domain"
)

// MockSessionDirectory implements input.SessionDirectory for testing
type MockSessionDirectory struct {
	ResolveSessionFunc       func(ctx context.Context, externalUserID string) (*domain.UserSession, error)
	CreateBackendSessionFunc func(ctx context.Context, externalUserID string) (string, error)
	ForgetSessionFunc        func(ctx context.Context, externalUserID string) error

	mu sync.Mutex

	// Captured values for assertions
	ResolveCalls []string
	ReplaceCalls []string
	ForgetCalls  []string
}

func (m *MockSessionDirectory) ResolveSession(ctx context.Context, externalUserID string) (*domain.UserSession, error) {
	m.mu.Lock()
	m.ResolveCalls = append(m.ResolveCalls, externalUserID)
	m.mu.Unlock()
	if m.ResolveSessionFunc != nil {
		return m.ResolveSessionFunc(ctx, externalUserID)
	}
	return &domain.UserSession{ExternalUserID: externalUserID, BackendSessionID: "session-1"}, nil
}

func (m *MockSessionDirectory) CreateBackendSession(ctx context.Context, externalUserID string) (string, error) {
	if m.CreateBackendSessionFunc != nil {
		return m.CreateBackendSessionFunc(ctx, externalUserID)
	}
	return "session-2", nil
}

func (m *MockSessionDirectory) ReplaceSession(ctx context.Context, externalUserID, newBackendSessionID string) (*domain.UserSession, error) {
	m.ReplaceCalls = append(m.ReplaceCalls, newBackendSessionID)
	return &domain.UserSession{ExternalUserID: externalUserID, BackendSessionID: newBackendSessionID, TotalSessions: 2}, nil
}

func (m *MockSessionDirectory) ForgetSession(ctx context.Context, externalUserID string) error {
	m.ForgetCalls = append(m.ForgetCalls, externalUserID)
	if m.ForgetSessionFunc != nil {
		return m.ForgetSessionFunc(ctx, externalUserID)
	}
	return nil
}

type dispatcherFixture struct {
	directory *MockSessionDirectory
	cache     *MockSessionCache
	store     *MockDurableStore
	converter *MockDocumentConverter
	backend   *MockBackendClient
	dispatch  *TurnDispatcher
}

func newDispatcherFixture(streamTimeout time.Duration) *dispatcherFixture {
	f := &dispatcherFixture{
		directory: &MockSessionDirectory{},
		cache:     NewMockSessionCache(),
		store:     NewMockDurableStore(),
		converter: &MockDocumentConverter{},
		backend:   &MockBackendClient{Timeout: streamTimeout},
	}
	artifacts := NewArtifactStore(f.store)
	f.dispatch = NewTurnDispatcher(
		f.directory,
		f.cache,
		NewMediaNormalizer(f.converter, 0),
		artifacts,
		NewStreamAggregator(artifacts, f.backend.RequestTimeout(), 1),
		f.backend,
		"app",
	)
	return f
}

func sessionFault() error {
	return &domain.BackendStatusError{StatusCode: 500, Body: "session not found"}
}

// TestTurnDispatcher_HandleTurn_Success tests a plain text turn
func TestTurnDispatcher_HandleTurn_Success(t *testing.T) {
	f := newDispatcherFixture(time.Second)

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Text != "backend reply" || reply.Outcome != domain.TurnOutcomeReplied {
		t.Errorf("reply = %q (%s), want backend reply", reply.Text, reply.Outcome)
	}
	if len(f.backend.SubmittedTurns) != 1 {
		t.Fatalf("SubmitTurn called %d times, want 1", len(f.backend.SubmittedTurns))
	}
	turn := f.backend.SubmittedTurns[0]
	if turn.BackendSessionID != "session-1" || turn.Text != "Hello" {
		t.Errorf("submitted turn = %+v", turn)
	}
}

// TestTurnDispatcher_HandleTurn_UsesCache tests that the directory is consulted once per user
func TestTurnDispatcher_HandleTurn_UsesCache(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.dispatch.HandleTurn(ctx, "U123", "Hello", nil); err != nil {
			t.Fatalf("HandleTurn() error = %v", err)
		}
	}

	if len(f.directory.ResolveCalls) != 1 {
		t.Errorf("ResolveSession called %d times, want 1", len(f.directory.ResolveCalls))
	}
}

// TestTurnDispatcher_HandleTurn_SessionRecovery tests one replacement and retry after a session fault
func TestTurnDispatcher_HandleTurn_SessionRecovery(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
		if turn.BackendSessionID == "session-1" {
			return nil, sessionFault()
		}
		return envelopeResponse("recovered"), nil
	}

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Text != "recovered" || reply.BackendSessionID != "session-2" {
		t.Errorf("reply = %q on %q, want recovered on session-2", reply.Text, reply.BackendSessionID)
	}
	if len(f.directory.ReplaceCalls) != 1 {
		t.Errorf("ReplaceSession called %d times, want 1", len(f.directory.ReplaceCalls))
	}
	cached, ok := f.cache.Get("U123")
	if !ok || cached.BackendSessionID != "session-2" {
		t.Errorf("cache not updated with replacement session: %+v", cached)
	}
}

// TestTurnDispatcher_HandleTurn_SessionFaultTwice tests that recovery is attempted exactly once
func TestTurnDispatcher_HandleTurn_SessionFaultTwice(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
		return nil, sessionFault()
	}

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

	if !errors.Is(err, domain.ErrSessionFault) {
		t.Errorf("error = %v, want ErrSessionFault", err)
	}
	if len(f.directory.ReplaceCalls) != 1 {
		t.Errorf("ReplaceSession called %d times, want 1", len(f.directory.ReplaceCalls))
	}
	if len(f.backend.SubmittedTurns) != 2 {
		t.Errorf("SubmitTurn called %d times, want 2", len(f.backend.SubmittedTurns))
	}
	if reply.Text != ReplyUnavailable || reply.Outcome != domain.TurnOutcomeUnavailable {
		t.Errorf("reply = %q (%s), want unavailable", reply.Text, reply.Outcome)
	}
}

// TestTurnDispatcher_HandleTurn_NoRetryOnOtherErrors tests that only session faults trigger recovery
func TestTurnDispatcher_HandleTurn_NoRetryOnOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"timeout", domain.ErrBackendTimeout},
		{"unavailable", domain.ErrBackendUnavailable},
		{"client error", &domain.BackendStatusError{StatusCode: 422, Body: "bad part"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(time.Second)
			f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
				return nil, tt.err
			}

			reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if len(f.backend.SubmittedTurns) != 1 {
				t.Errorf("SubmitTurn called %d times, want 1", len(f.backend.SubmittedTurns))
			}
			if len(f.directory.ReplaceCalls) != 0 {
				t.Error("ReplaceSession should not be called")
			}
			if reply.Text != ReplyUnavailable {
				t.Errorf("reply = %q, want unavailable", reply.Text)
			}
		})
	}
}

// TestTurnDispatcher_HandleTurn_SessionCreationFailure tests the terminal session failure
func TestTurnDispatcher_HandleTurn_SessionCreationFailure(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.directory.ResolveSessionFunc = func(ctx context.Context, externalUserID string) (*domain.UserSession, error) {
		return nil, domain.ErrSessionCreation
	}

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

	if !errors.Is(err, domain.ErrSessionCreation) {
		t.Errorf("error = %v, want ErrSessionCreation", err)
	}
	if reply.Outcome != domain.TurnOutcomeUnavailable {
		t.Errorf("Outcome = %s, want unavailable", reply.Outcome)
	}
	if len(f.backend.SubmittedTurns) != 0 {
		t.Error("nothing should be submitted without a session")
	}
}

// TestTurnDispatcher_HandleTurn_Timeout tests that a timed out stream is not retried
func TestTurnDispatcher_HandleTurn_Timeout(t *testing.T) {
	tests := []struct {
		name      string
		fragments []domain.StreamFragment
		wantText  string
	}{
		{"with partial text", []domain.StreamFragment{partial("partial answer")}, "partial answer"},
		{"without text", nil, ReplyTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(50 * time.Millisecond)
			f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
				stream := make(chan domain.StreamFragment, len(tt.fragments))
				for _, fragment := range tt.fragments {
					stream <- fragment
				}
				return &domain.TurnResponse{Stream: stream, Mode: domain.DeltaModeCumulative}, nil
			}

			reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

			if err != nil {
				t.Errorf("HandleTurn() error = %v", err)
			}
			if reply.Text != tt.wantText || reply.Outcome != domain.TurnOutcomeDegraded {
				t.Errorf("reply = %q (%s), want %q degraded", reply.Text, reply.Outcome, tt.wantText)
			}
			if len(f.backend.SubmittedTurns) != 1 {
				t.Errorf("SubmitTurn called %d times, want 1", len(f.backend.SubmittedTurns))
			}
		})
	}
}

// TestTurnDispatcher_HandleTurn_EmptyAnswer tests the apology when the backend says nothing
func TestTurnDispatcher_HandleTurn_EmptyAnswer(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
		return streamResponse(domain.DeltaModeCumulative), nil
	}

	reply, _ := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

	if reply.Text != ReplyFallbackApology {
		t.Errorf("reply = %q, want apology", reply.Text)
	}
}

// TestTurnDispatcher_HandleTurn_StreamError tests the stream error reply
func TestTurnDispatcher_HandleTurn_StreamError(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
		return streamResponse(domain.DeltaModeCumulative,
			partial("half an answer"), domain.StreamFragment{Err: errors.New("connection reset")}), nil
	}

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "Hello", nil)

	if !errors.Is(err, domain.ErrStreamFailed) {
		t.Errorf("error = %v, want ErrStreamFailed", err)
	}
	if reply.Text != ReplyStreamError || reply.Outcome != domain.TurnOutcomeFailed {
		t.Errorf("reply = %q (%s), want stream error", reply.Text, reply.Outcome)
	}
}

// TestTurnDispatcher_HandleTurn_Attachments tests that attachments are stored and forwarded in order
func TestTurnDispatcher_HandleTurn_Attachments(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	attachments := []domain.Attachment{
		{Data: pngHeader, MimeType: "image/png", Filename: "a.png"},
		{Data: []byte("%PDF-1.4"), MimeType: "application/pdf", Filename: "b.pdf"},
		{Data: []byte("PK"), MimeType: domain.MimeTypeWordProcessor, Filename: "c.docx"},
	}

	_, err := f.dispatch.HandleTurn(context.Background(), "U123", "", attachments)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	turn := f.backend.SubmittedTurns[0]
	if len(turn.Parts) != 3 {
		t.Fatalf("Parts = %d, want 3", len(turn.Parts))
	}
	wantTypes := []string{"image/png", "application/pdf", domain.MimeTypeTextPlain}
	for i, part := range turn.Parts {
		if part.MimeType != wantTypes[i] {
			t.Errorf("Parts[%d].MimeType = %q, want %q", i, part.MimeType, wantTypes[i])
		}
	}

	wantPaths := []string{"app/U123/session-1/a.png/1", "app/U123/session-1/b.pdf/1", "app/U123/session-1/c.txt/1"}
	if strings.Join(f.store.PutPaths, ",") != strings.Join(wantPaths, ",") {
		t.Errorf("PutPaths = %v, want %v", f.store.PutPaths, wantPaths)
	}
}

// TestTurnDispatcher_HandleTurn_ConversionNotice tests that a corrupt document is reported and skipped
func TestTurnDispatcher_HandleTurn_ConversionNotice(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.converter.SpreadsheetToTextFunc = func(data []byte) (string, error) {
		return "", errors.New("zip: not a valid zip file")
	}
	attachments := []domain.Attachment{{Data: []byte("garbage"), MimeType: domain.MimeTypeSpreadsheet, Filename: "budget.xlsx"}}

	t.Run("alone", func(t *testing.T) {
		reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "", attachments)

		if err != nil {
			t.Errorf("HandleTurn() error = %v", err)
		}
		if reply.Outcome != domain.TurnOutcomeAttachmentRejected {
			t.Errorf("Outcome = %s, want attachment_rejected", reply.Outcome)
		}
		if !strings.Contains(reply.Text, "Excel spreadsheet") || !strings.Contains(reply.Text, ".xlsx") {
			t.Errorf("reply = %q, should name the format", reply.Text)
		}
		if len(f.backend.SubmittedTurns) != 0 {
			t.Error("nothing should be submitted")
		}
	})

	t.Run("with text", func(t *testing.T) {
		reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "What is in this?", attachments)

		if err != nil {
			t.Errorf("HandleTurn() error = %v", err)
		}
		if !strings.HasPrefix(reply.Text, "backend reply") || !strings.Contains(reply.Text, "budget.xlsx") {
			t.Errorf("reply = %q, want answer followed by notice", reply.Text)
		}
		if len(f.backend.SubmittedTurns[0].Parts) != 0 {
			t.Error("rejected attachment should not be forwarded")
		}
	})
}

// TestTurnDispatcher_HandleTurn_StorageFailure tests that a failed save aborts the turn
func TestTurnDispatcher_HandleTurn_StorageFailure(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.store.PutFunc = func(ctx context.Context, path string, blob domain.Blob) error {
		return errors.New("bucket unavailable")
	}

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "", []domain.Attachment{{Data: pngHeader, MimeType: "image/png"}})

	if !errors.Is(err, domain.ErrDurableStore) {
		t.Errorf("error = %v, want ErrDurableStore", err)
	}
	if reply.Text != ReplyStorageError {
		t.Errorf("reply = %q, want storage error", reply.Text)
	}
	if len(f.backend.SubmittedTurns) != 0 {
		t.Error("nothing should be submitted")
	}
}

// TestTurnDispatcher_HandleTurn_EmptyTurn tests a turn with nothing to send
func TestTurnDispatcher_HandleTurn_EmptyTurn(t *testing.T) {
	f := newDispatcherFixture(time.Second)

	reply, err := f.dispatch.HandleTurn(context.Background(), "U123", "   ", nil)

	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
	if reply.Text != ReplyEmptyTurn {
		t.Errorf("reply = %q, want empty turn reply", reply.Text)
	}
}

// TestTurnDispatcher_HandleTurn_ConcurrentUsers tests that users do not share sessions
func TestTurnDispatcher_HandleTurn_ConcurrentUsers(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.directory.ResolveSessionFunc = func(ctx context.Context, externalUserID string) (*domain.UserSession, error) {
		return &domain.UserSession{ExternalUserID: externalUserID, BackendSessionID: "session-" + externalUserID}, nil
	}
	f.backend.SubmitTurnFunc = func(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
		return envelopeResponse(turn.BackendSessionID), nil
	}

	users := []string{"A", "B", "C", "D"}
	replies := make([]*domain.TurnReply, len(users))
	var wg sync.WaitGroup
	for i, user := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies[i], _ = f.dispatch.HandleTurn(context.Background(), user, "hi", nil)
		}()
	}
	wg.Wait()

	for i, user := range users {
		if replies[i].Text != "session-"+user {
			t.Errorf("user %s got reply from %q", user, replies[i].Text)
		}
	}
}

// TestTurnDispatcher_ResetSession tests that both cache and directory are cleared
func TestTurnDispatcher_ResetSession(t *testing.T) {
	f := newDispatcherFixture(time.Second)
	f.cache.Put(&domain.UserSession{ExternalUserID: "U123", BackendSessionID: "session-1"})

	if err := f.dispatch.ResetSession(context.Background(), "U123"); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}

	if _, ok := f.cache.Get("U123"); ok {
		t.Error("cache entry should be gone")
	}
	if len(f.directory.ForgetCalls) != 1 {
		t.Errorf("ForgetSession called %d times, want 1", len(f.directory.ForgetCalls))
	}
}
