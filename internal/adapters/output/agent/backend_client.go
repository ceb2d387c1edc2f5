package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agent-bridge/configs"
	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	"github.com/sirupsen/logrus"
)

// Compile-time check to ensure BackendClientAdapter implements output.BackendClient interface
var _ output.BackendClient = (*BackendClientAdapter)(nil)

// Streaming configuration constants
const (
	streamingChannelBufferSize = 100
	maxSSELineBytes            = 10 << 20
	maxErrorBodyBytes          = 4 << 10
)

// BackendClientAdapter struct - Output adapter for the agent backend HTTP API
type BackendClientAdapter struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	appName      string
	timeout      time.Duration
	streaming    bool
	deltaMode    domain.DeltaMode
}

// NewBackendClientAdapter func - Creates new agent backend client adapter
func NewBackendClientAdapter(config configs.Backend) (*BackendClientAdapter, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	// Remove trailing slash if present
	baseURL = strings.TrimSuffix(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base url %q: %w", baseURL, err)
	}

	appName := config.AppName
	if appName == "" {
		appName = "app"
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if config.Timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	deltaMode := domain.DeltaModeIncremental
	if config.CumulativeDeltas {
		deltaMode = domain.DeltaModeCumulative
	}

	adapter := &BackendClientAdapter{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		// No overall timeout: the body of a stream is bounded by the response aggregator
		streamClient: &http.Client{
			Transport: transport,
		},
		baseURL:   baseURL,
		appName:   appName,
		timeout:   timeout,
		streaming: config.Streaming,
		deltaMode: deltaMode,
	}

	logrus.Infof("Agent backend client adapter initialized with base URL: %s, app: %s, timeout: %v, streaming: %t",
		baseURL, appName, timeout, config.Streaming)

	return adapter, nil
}

// RequestTimeout func
func (a *BackendClientAdapter) RequestTimeout() time.Duration {
	return a.timeout
}

// CreateSession asks the backend to open a new session seeded with initialState
func (a *BackendClientAdapter) CreateSession(ctx context.Context, externalUserID string, initialState map[string]any) (string, error) {
	endpoint := fmt.Sprintf("%s/apps/%s/users/%s/sessions", a.baseURL, url.PathEscape(a.appName), url.PathEscape(externalUserID))

	bodyBytes, err := json.Marshal(createSessionAPIRequest{State: initialState})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", a.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var apiResp createSessionAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to parse session response: %w", err)
	}
	if apiResp.ID == "" {
		return "", fmt.Errorf("%w: session response carried no id", domain.ErrBackendUnavailable)
	}

	logrus.Infof("Backend session created: userID=%s, sessionID=%s", externalUserID, apiResp.ID)
	return apiResp.ID, nil
}

// SubmitTurn sends one turn, streaming over SSE when enabled, otherwise as a single envelope
func (a *BackendClientAdapter) SubmitTurn(ctx context.Context, turn domain.PendingTurn) (*domain.TurnResponse, error) {
	reqBody := runAPIRequest{
		AppName:   a.appName,
		UserID:    turn.ExternalUserID,
		SessionID: turn.BackendSessionID,
		NewMessage: contentAPI{
			Role:  "user",
			Parts: buildParts(turn),
		},
		Streaming: a.streaming,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	if a.streaming {
		return a.submitStreaming(ctx, bodyBytes)
	}
	return a.submitEnvelope(ctx, bodyBytes)
}

func (a *BackendClientAdapter) submitEnvelope(ctx context.Context, bodyBytes []byte) (*domain.TurnResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/run", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, a.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var events []eventAPI
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("%w: failed to parse run response: %v", domain.ErrStreamFailed, err)
	}

	envelope := flattenEvents(events)
	logrus.Infof("Run completed: events=%d, images=%d, artifacts=%d",
		len(events), len(envelope.InlineParts), len(envelope.ArtifactReferences))

	return &domain.TurnResponse{
		Envelope: &envelope,
		Mode:     a.deltaMode,
	}, nil
}

func (a *BackendClientAdapter) submitStreaming(ctx context.Context, bodyBytes []byte) (*domain.TurnResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/run_sse", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No retry for streaming - the dispatcher owns the retry budget
	resp, err := a.streamClient.Do(req)
	if err != nil {
		return nil, a.classifyTransportError(err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	// Create buffered channel for fragments
	fragments := make(chan domain.StreamFragment, streamingChannelBufferSize)

	// Launch goroutine to parse SSE and emit fragments
	go a.processStreamingResponse(ctx, resp, fragments)

	logrus.Debug("Started streaming run")

	return &domain.TurnResponse{
		Stream: fragments,
		Mode:   a.deltaMode,
	}, nil
}

// processStreamingResponse parses SSE from response body and sends fragments to channel
// This runs in a goroutine and is responsible for closing the channel when done
func (a *BackendClientAdapter) processStreamingResponse(ctx context.Context, resp *http.Response, fragments chan<- domain.StreamFragment) {
	defer func() {
		resp.Body.Close()
		close(fragments)
		logrus.Debug("Streaming response processing completed, channel closed")
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines
		if line == "" {
			continue
		}

		event, done, err := parseSSELine(line)
		if err != nil {
			logrus.Warnf("Error parsing SSE line: %v", err)
			continue // Skip malformed lines but continue processing
		}
		if done {
			logrus.Debug("Received [DONE] marker, completing stream")
			return
		}
		if event == nil {
			continue
		}

		if msg := event.errorMessage(); msg != "" {
			a.sendFragment(ctx, fragments, domain.StreamFragment{
				Err: fmt.Errorf("backend reported error: %s", msg),
			})
			return
		}

		if !a.sendFragment(ctx, fragments, event.toFragment()) {
			logrus.Debug("Streaming cancelled by context during send")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// Reader has gone away
			return
		}
		logrus.Errorf("Error reading streaming response: %v", err)
		a.sendFragment(ctx, fragments, domain.StreamFragment{
			Err: fmt.Errorf("failed to read streaming response: %w", err),
		})
	}
}

// sendFragment blocks until the fragment is delivered or ctx is done.
// It reports false when the reader is gone.
func (a *BackendClientAdapter) sendFragment(ctx context.Context, fragments chan<- domain.StreamFragment, fragment domain.StreamFragment) bool {
	select {
	case fragments <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// classifyTransportError determines whether a transport failure was a timeout
func (a *BackendClientAdapter) classifyTransportError(err error) error {
	if isTimeoutError(err) {
		return fmt.Errorf("%w: %v", domain.ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "i/o timeout")
}

// checkStatus turns a non-2xx response into *domain.BackendStatusError
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &domain.BackendStatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// parseSSELine parses a single SSE line and extracts the backend event
// Returns (event, done, error) where:
//   - event: the parsed event (nil if line doesn't carry data)
//   - done: true if this is the [DONE] marker
//   - error: parsing error (non-fatal, caller should continue)
func parseSSELine(line string) (*eventAPI, bool, error) {
	// SSE lines start with "data:"
	if !strings.HasPrefix(line, "data:") {
		// Not a data line, skip it (could be event:, id:, retry:, or comment)
		return nil, false, nil
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return nil, true, nil
	}
	if data == "" {
		return nil, false, nil
	}

	var event eventAPI
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, false, fmt.Errorf("failed to parse SSE JSON: %w", err)
	}
	return &event, false, nil
}

// flattenEvents applies the fragment extraction rules once across a whole /run response
func flattenEvents(events []eventAPI) domain.StreamFragment {
	envelope := domain.StreamFragment{IsPartial: false}
	for _, event := range events {
		if msg := event.errorMessage(); msg != "" {
			envelope.Err = fmt.Errorf("backend reported error: %s", msg)
			return envelope
		}
		fragment := event.toFragment()
		if fragment.TextDelta != nil {
			envelope.TextDelta = fragment.TextDelta
		}
		envelope.InlineParts = append(envelope.InlineParts, fragment.InlineParts...)
		envelope.ArtifactReferences = append(envelope.ArtifactReferences, fragment.ArtifactReferences...)
	}
	return envelope
}

func buildParts(turn domain.PendingTurn) []partAPI {
	parts := make([]partAPI, 0, len(turn.Parts)+1)
	if strings.TrimSpace(turn.Text) != "" {
		text := turn.Text
		parts = append(parts, partAPI{Text: &text})
	}
	for _, part := range turn.Parts {
		parts = append(parts, partAPI{InlineData: &inlineDataAPI{
			MimeType: part.MimeType,
			Data:     base64.StdEncoding.EncodeToString(part.Data),
		}})
	}
	return parts
}
