package http

type (
	// TurnRequest struct - HTTP request DTO for a transport-neutral turn
	TurnRequest struct {
		UserID      string              `json:"user_id" validate:"required,max=128"`
		Text        string              `json:"text" validate:"omitempty,max=20000"`
		Attachments []AttachmentRequest `json:"attachments" validate:"omitempty,max=10,dive"`
	}

	// AttachmentRequest struct - base64 encoded attachment
	AttachmentRequest struct {
		Data     string `json:"data" validate:"required,base64"`
		MimeType string `json:"mime_type" validate:"omitempty,max=255"`
		Filename string `json:"filename" validate:"omitempty,max=255,excludesall=/\\"`
	}

	// ArtifactPathParams struct - path parameters of the artifact API
	ArtifactPathParams struct {
		UserID    string `params:"user" validate:"required,max=128"`
		SessionID string `params:"session" validate:"omitempty,max=128"`
		Filename  string `params:"filename" validate:"omitempty,max=255,excludesall=/\\"`
	}
)
