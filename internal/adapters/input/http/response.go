package http

import (
	"net/http"
)

var (
	// Success response
	Success = Status{Code: http.StatusOK, Message: []string{"Success"}}
	// BadRequest response
	BadRequest = Status{Code: http.StatusBadRequest, Message: []string{"Sorry, Not responding because of incorrect syntax"}}
	// NotFound response
	NotFound = Status{Code: http.StatusNotFound, Message: []string{"Sorry, Resource not found"}}
	// InternalServerError response
	InternalServerError = Status{Code: http.StatusInternalServerError, Message: []string{"Internal Server Error"}}
	// ServiceUnavailable response
	ServiceUnavailable = Status{Code: http.StatusServiceUnavailable, Message: []string{"Sorry, Service is temporarily unavailable"}}
)

// ResponseBody struct - Generic HTTP response wrapper
type ResponseBody struct {
	Status Status      `json:"status,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// Status struct
type Status struct {
	Code    int      `json:"code,omitempty"`
	Message []string `json:"message,omitempty"`
}

type (
	// TurnResponse struct - HTTP response DTO for a handled turn
	TurnResponse struct {
		ReplyText   string          `json:"reply_text"`
		ReplyImages []ImageResponse `json:"reply_images"`
		Outcome     string          `json:"outcome"`
		SessionID   string          `json:"session_id,omitempty"`
	}

	// ImageResponse struct - base64 encoded reply image
	ImageResponse struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	}

	// ArtifactListResponse struct - HTTP response DTO for a user's artifact names
	ArtifactListResponse struct {
		UserID    string   `json:"user_id"`
		Filenames []string `json:"filenames"`
	}
)

func withMessage(status Status, message string) ResponseBody {
	status.Message = []string{message}
	return ResponseBody{Status: status}
}
