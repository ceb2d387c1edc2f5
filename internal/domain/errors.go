package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Durable store errors

var (
	// ErrNotFound indicates no object exists at the requested path
	ErrNotFound = errors.New("object not found")

	// ErrDurableStore indicates the durable object store could not be read or written
	ErrDurableStore = errors.New("durable store failure")
)

// Agent backend error types

var (
	// ErrSessionCreation indicates the backend could not issue a session
	ErrSessionCreation = errors.New("backend session creation failed")

	// ErrSessionFault indicates the backend answered a turn with a server error,
	// interpreted as the session identifier no longer being valid
	ErrSessionFault = errors.New("backend session fault")

	// ErrBackendUnavailable indicates the backend could not be reached
	ErrBackendUnavailable = errors.New("backend service unavailable")

	// ErrBackendTimeout indicates a request to the backend timed out
	ErrBackendTimeout = errors.New("backend request timeout")

	// ErrInvalidRequest indicates an invalid request was made (4xx client errors)
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStreamFailed indicates the response stream broke while it was being read
	ErrStreamFailed = errors.New("response stream failed")
)

// Media and artifact errors

var (
	// ErrConversion indicates a rich document could not be converted to text
	ErrConversion = errors.New("document conversion failed")

	// ErrEmptyPayload indicates an attachment carried no bytes
	ErrEmptyPayload = errors.New("attachment payload is empty")

	// ErrPayloadTooLarge indicates an attachment exceeds the configured size limit
	ErrPayloadTooLarge = errors.New("attachment payload too large")

	// ErrArtifactNotFound indicates no artifact exists for the requested key
	ErrArtifactNotFound = errors.New("artifact not found")
)

// BackendStatusError carries a non-2xx HTTP status returned by the backend.
// 5xx statuses unwrap to ErrSessionFault, 4xx to ErrInvalidRequest.
type BackendStatusError struct {
	StatusCode int
	Body       string
}

func (e *BackendStatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the status class onto the matching sentinel
func (e *BackendStatusError) Unwrap() error {
	switch {
	case e.StatusCode >= 500:
		return ErrSessionFault
	case e.StatusCode >= 400:
		return ErrInvalidRequest
	default:
		return ErrBackendUnavailable
	}
}

// ConversionError is returned when a spreadsheet or word-processor payload cannot be converted
type ConversionError struct {
	Format DocumentFormat
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Format.DisplayName(), e.Err)
}

// Unwrap func
func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversion, e.Err}
}

// ArtifactNotFoundError lists every filename variant that was tried
type ArtifactNotFoundError struct {
	Attempted []string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact not found, tried: %s", strings.Join(e.Attempted, ", "))
}

// Unwrap func
func (e *ArtifactNotFoundError) Unwrap() error {
	return ErrArtifactNotFound
}
