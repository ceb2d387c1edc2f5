package agent

import (
	"encoding/base64"
	"sort"
	"strings"

	"agent-bridge/internal/domain"

	"github.com/sirupsen/logrus"
)

// API request/response structures for the agent backend

type createSessionAPIRequest struct {
	State map[string]any `json:"state"`
}

type createSessionAPIResponse struct {
	ID string `json:"id"`
}

type runAPIRequest struct {
	AppName    string     `json:"appName"`
	UserID     string     `json:"userId"`
	SessionID  string     `json:"sessionId"`
	NewMessage contentAPI `json:"newMessage"`
	Streaming  bool       `json:"streaming"`
}

type contentAPI struct {
	Role  string    `json:"role,omitempty"`
	Parts []partAPI `json:"parts"`
}

// partAPI accepts both camelCase and snake_case spellings of inline data
type partAPI struct {
	Text            *string        `json:"text,omitempty"`
	Thought         bool           `json:"thought,omitempty"`
	InlineData      *inlineDataAPI `json:"inlineData,omitempty"`
	InlineDataSnake *inlineDataAPI `json:"inline_data,omitempty"`
}

type inlineDataAPI struct {
	MimeType      string `json:"mimeType,omitempty"`
	MimeTypeSnake string `json:"mime_type,omitempty"`
	Data          string `json:"data"`
}

type actionsAPI struct {
	ArtifactDelta      map[string]int `json:"artifactDelta,omitempty"`
	ArtifactDeltaSnake map[string]int `json:"artifact_delta,omitempty"`
}

// eventAPI is one event of a /run or /run_sse response
type eventAPI struct {
	Partial           bool        `json:"partial"`
	Content           *contentAPI `json:"content,omitempty"`
	Actions           *actionsAPI `json:"actions,omitempty"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
	ErrorMessageSnake string      `json:"error_message,omitempty"`
}

func (e *eventAPI) errorMessage() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	return e.ErrorMessageSnake
}

// toFragment extracts text, inline binaries and artifact references from one event
func (e *eventAPI) toFragment() domain.StreamFragment {
	fragment := domain.StreamFragment{IsPartial: e.Partial}

	if e.Content != nil {
		var (
			text    strings.Builder
			hasText bool
		)
		for _, part := range e.Content.Parts {
			if part.Text != nil && !part.Thought {
				text.WriteString(*part.Text)
				hasText = true
			}

			inline := part.InlineData
			if inline == nil {
				inline = part.InlineDataSnake
			}
			if inline == nil {
				continue
			}
			data, err := decodeBase64(inline.Data)
			if err != nil {
				logrus.Warnf("Skipping undecodable inline data: %v", err)
				continue
			}
			mimeType := inline.MimeType
			if mimeType == "" {
				mimeType = inline.MimeTypeSnake
			}
			fragment.InlineParts = append(fragment.InlineParts, domain.InlinePart{MimeType: mimeType, Data: data})
		}
		if hasText {
			s := text.String()
			fragment.TextDelta = &s
		}
	}

	if e.Actions != nil {
		delta := e.Actions.ArtifactDelta
		if len(delta) == 0 {
			delta = e.Actions.ArtifactDeltaSnake
		}
		for filename := range delta {
			fragment.ArtifactReferences = append(fragment.ArtifactReferences, filename)
		}
		// Map order is random; keep references deterministic
		sort.Strings(fragment.ArtifactReferences)
	}

	return fragment
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not
func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
