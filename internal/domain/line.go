package domain

import "time"

// LineEventType represents the type of webhook event from LINE
type LineEventType string

const (
	// LineEventTypeMessage - Message event
	LineEventTypeMessage LineEventType = "message"
	// LineEventTypeFollow - Follow event
	LineEventTypeFollow LineEventType = "follow"
	// LineEventTypeUnfollow - Unfollow event
	LineEventTypeUnfollow LineEventType = "unfollow"
)

// LineMessageType represents the type of message
type LineMessageType string

const (
	// LineMessageTypeText - Text message
	LineMessageTypeText LineMessageType = "text"
	// LineMessageTypeImage - Image message
	LineMessageTypeImage LineMessageType = "image"
	// LineMessageTypeVideo - Video message
	LineMessageTypeVideo LineMessageType = "video"
	// LineMessageTypeAudio - Audio message
	LineMessageTypeAudio LineMessageType = "audio"
	// LineMessageTypeFile - File message
	LineMessageTypeFile LineMessageType = "file"
	// LineMessageTypeSticker - Sticker message
	LineMessageTypeSticker LineMessageType = "sticker"
	// LineMessageTypeUnsupported - any message kind the bridge does not read
	LineMessageTypeUnsupported LineMessageType = "unsupported"
)

// LineSourceType represents the source type of the event
type LineSourceType string

const (
	// LineSourceTypeUser - User source
	LineSourceTypeUser LineSourceType = "user"
	// LineSourceTypeGroup - Group source
	LineSourceTypeGroup LineSourceType = "group"
	// LineSourceTypeRoom - Room source
	LineSourceTypeRoom LineSourceType = "room"
)

// LineWebhookEvent is a verified LINE callback event reduced to what the bridge acts on
type LineWebhookEvent struct {
	ID         string
	Type       LineEventType
	Timestamp  time.Time
	Source     LineSource
	ReplyToken string
	Message    *LineMessage
}

// LineSource represents the source of the event
type LineSource struct {
	Type   LineSourceType
	UserID string
}

// LineMessage represents a message from LINE
type LineMessage struct {
	ID       string
	Type     LineMessageType
	Text     string
	FileName string // file messages only
	FileSize int64
}

// HasContent reports whether the message carries binary content that must be downloaded
func (m *LineMessage) HasContent() bool {
	switch m.Type {
	case LineMessageTypeImage, LineMessageTypeVideo, LineMessageTypeAudio, LineMessageTypeFile:
		return true
	default:
		return false
	}
}
