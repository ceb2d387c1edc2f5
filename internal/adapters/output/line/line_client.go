package line

import (
	"fmt"
	"io"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/sirupsen/logrus"
)

// Compile-time check to ensure LineClientAdapter implements output.LineClient interface
var _ output.LineClient = (*LineClientAdapter)(nil)

// LineClientAdapter struct - Output adapter for LINE messaging platform
type LineClientAdapter struct {
	client     *messaging_api.MessagingApiAPI
	blobClient *messaging_api.MessagingApiBlobAPI
	maxBytes   int64
}

// NewLineClientAdapter func - Creates new LINE client adapter.
// Content downloads larger than maxBytes are cut off one byte past the limit so
// the size check downstream still rejects them.
func NewLineClientAdapter(channelToken string, maxBytes int64) (*LineClientAdapter, error) {
	client, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE messaging API client: %w", err)
	}

	blobClient, err := messaging_api.NewMessagingApiBlobAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE blob API client: %w", err)
	}

	return &LineClientAdapter{
		client:     client,
		blobClient: blobClient,
		maxBytes:   maxBytes,
	}, nil
}

// ReplyMessage - Answers an event through its one-shot reply token
func (a *LineClientAdapter) ReplyMessage(request domain.LineReplyMessageRequest) (*domain.LineMessageResponse, error) {
	messages, err := a.buildMessages(request.Messages)
	if err != nil {
		return nil, err
	}

	if _, err := a.client.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: request.ReplyToken,
		Messages:   messages,
	}); err != nil {
		return nil, fmt.Errorf("failed to send reply message: %w", err)
	}

	logrus.Debugf("Replied with %d message(s)", len(messages))
	return &domain.LineMessageResponse{Status: "success", Message: "reply sent"}, nil
}

// PushMessage - Sends messages to a user outside of a reply window
func (a *LineClientAdapter) PushMessage(request domain.LinePushMessageRequest) (*domain.LineMessageResponse, error) {
	messages, err := a.buildMessages(request.Messages)
	if err != nil {
		return nil, err
	}

	if _, err := a.client.PushMessage(&messaging_api.PushMessageRequest{
		To:       request.To,
		Messages: messages,
	}, ""); err != nil {
		return nil, fmt.Errorf("failed to send push message: %w", err)
	}

	logrus.Debugf("Pushed %d message(s) to %s", len(messages), request.To)
	return &domain.LineMessageResponse{Status: "success", Message: "push sent"}, nil
}

// buildMessages drops messages the SDK cannot represent and fails only when none are left
func (a *LineClientAdapter) buildMessages(outgoing []domain.LineOutgoingMessage) ([]messaging_api.MessageInterface, error) {
	messages := make([]messaging_api.MessageInterface, 0, len(outgoing))
	for _, msg := range outgoing {
		lineMsg, err := a.convertToLineMessage(msg)
		if err != nil {
			logrus.Warnf("Dropping outgoing LINE message: %v", err)
			continue
		}
		messages = append(messages, lineMsg)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no valid messages to send")
	}
	return messages, nil
}

// GetMessageContent - Downloads the binary content of an image, video, audio or file message
func (a *LineClientAdapter) GetMessageContent(messageID string) (*domain.LineMessageContent, error) {
	resp, err := a.blobClient.GetMessageContent(messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message content: %w", err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if a.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, a.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read message content: %w", err)
	}

	logrus.Infof("Downloaded message content: messageID=%s, bytes=%d, type=%s",
		messageID, len(data), resp.Header.Get("Content-Type"))

	return &domain.LineMessageContent{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// convertToLineMessage maps text and URL images; replies carry nothing else
func (a *LineClientAdapter) convertToLineMessage(msg domain.LineOutgoingMessage) (messaging_api.MessageInterface, error) {
	switch msg.Type {
	case domain.LineMessageTypeText:
		return &messaging_api.TextMessage{
			Text: msg.Text,
		}, nil

	case domain.LineMessageTypeImage:
		if msg.OriginalContentURL == "" {
			return nil, fmt.Errorf("image message requires a content url")
		}
		preview := msg.PreviewImageURL
		if preview == "" {
			preview = msg.OriginalContentURL
		}
		return &messaging_api.ImageMessage{
			OriginalContentUrl: msg.OriginalContentURL,
			PreviewImageUrl:    preview,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}
