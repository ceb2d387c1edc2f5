package application

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/input"
	"agent-bridge/internal/ports/output"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LINE messaging limits
const (
	lineMaxMessageChars     = 5000
	lineMaxTextParts        = 5
	lineMaxMessagesPerCall  = 5
	lineTruncatedMarker     = "\n\n(message truncated)"
	lineContentFailedReply  = "Sorry, I couldn't download your file from LINE. Please send it again."
	lineUnsupportedTypeNote = "Sorry, I can only read text, images, video, audio and files."
)

// LineWebhookService struct - Application service implementing LINE webhook use cases
type LineWebhookService struct {
	lineClient    output.LineClient
	dispatcher    input.TurnDispatcher
	artifacts     input.ArtifactStore
	appName       string
	publicBaseURL string
	maxBytes      int64
}

// NewLineWebhookService func - Creates new LINE webhook service
func NewLineWebhookService(
	lineClient output.LineClient,
	dispatcher input.TurnDispatcher,
	artifacts input.ArtifactStore,
	appName string,
	publicBaseURL string,
	maxBytes int64,
) *LineWebhookService {
	return &LineWebhookService{
		lineClient:    lineClient,
		dispatcher:    dispatcher,
		artifacts:     artifacts,
		appName:       appName,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		maxBytes:      maxBytes,
	}
}

// HandleWebhook func - Use case: Handle incoming webhook events from LINE
func (s *LineWebhookService) HandleWebhook(ctx context.Context, request domain.LineWebhookRequest) error {
	for _, event := range request.Events {
		logrus.Infof("Received LINE event: type=%s, source=%s, userID=%s",
			event.Type, event.Source.Type, event.Source.UserID)

		switch event.Type {
		case domain.LineEventTypeMessage:
			if err := s.handleMessageEvent(ctx, event); err != nil {
				logrus.Errorf("Failed to handle message event: %v", err)
				return err
			}

		case domain.LineEventTypeFollow:
			if err := s.handleFollowEvent(event); err != nil {
				logrus.Errorf("Failed to handle follow event: %v", err)
				return err
			}

		case domain.LineEventTypeUnfollow:
			logrus.Infof("User unfollowed: userID=%s", event.Source.UserID)

		default:
			logrus.Infof("Unhandled event type: %s", event.Type)
		}
	}

	return nil
}

// handleMessageEvent - Turns a LINE message into a dispatcher call and delivers the reply
func (s *LineWebhookService) handleMessageEvent(ctx context.Context, event domain.LineWebhookEvent) error {
	if event.Message == nil {
		return nil
	}
	userID := event.Source.UserID

	var (
		text        string
		attachments []domain.Attachment
	)

	switch {
	case event.Message.Type == domain.LineMessageTypeText:
		text = strings.TrimSpace(event.Message.Text)
		if strings.HasPrefix(text, "/") {
			return s.reply(event, userID, s.handleCommand(ctx, text, userID))
		}

	case event.Message.HasContent():
		if s.maxBytes > 0 && event.Message.FileSize > s.maxBytes {
			logrus.Infof("Skipping oversized file: messageID=%s, bytes=%d", event.Message.ID, event.Message.FileSize)
			oversized := domain.Attachment{Filename: event.Message.FileName}
			return s.reply(event, userID, textMessages(attachmentNotice(oversized, domain.ErrPayloadTooLarge)))
		}
		content, err := s.lineClient.GetMessageContent(event.Message.ID)
		if err != nil {
			logrus.Errorf("Failed to download message content: messageID=%s, err=%v", event.Message.ID, err)
			return s.reply(event, userID, textMessages(lineContentFailedReply))
		}
		attachments = append(attachments, attachmentFromContent(event.Message, content))

	default:
		logrus.Infof("Ignoring unsupported message: type=%s", event.Message.Type)
		return s.reply(event, userID, textMessages(lineUnsupportedTypeNote))
	}

	turnReply, err := s.dispatcher.HandleTurn(ctx, userID, text, attachments)
	if err != nil {
		logrus.Warnf("Turn ended with %s: userID=%s, err=%v", turnReply.Outcome, userID, err)
	}

	messages := textMessages(splitReply(turnReply.Text, lineMaxMessageChars, lineMaxTextParts)...)
	messages = append(messages, s.imageMessages(ctx, userID, turnReply)...)
	return s.reply(event, userID, messages)
}

// handleCommand - Business logic for command processing
func (s *LineWebhookService) handleCommand(ctx context.Context, text, userID string) []domain.LineOutgoingMessage {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	switch command {
	case "/help":
		return textMessages("Available commands:\n/help - Show this message\n/about - About this bot\n/clear - Start a new conversation\n\nYou can also send images, audio, video, PDFs, Excel and Word files.")

	case "/about":
		return textMessages("LINE bridge to the agent backend\nBuilt with Go + Fiber")

	case "/clear":
		if err := s.dispatcher.ResetSession(ctx, userID); err != nil {
			logrus.Errorf("Failed to clear session: userID=%s, err=%v", userID, err)
			return textMessages(ReplyUnavailable)
		}
		return textMessages("Conversation history cleared.")

	default:
		return textMessages(fmt.Sprintf("Unknown command: %s\nType /help for available commands", command))
	}
}

// handleFollowEvent - Business logic for follow events
func (s *LineWebhookService) handleFollowEvent(event domain.LineWebhookEvent) error {
	logrus.Infof("User followed: userID=%s", event.Source.UserID)

	welcomeMsg := domain.LinePushMessageRequest{
		To:       event.Source.UserID,
		Messages: textMessages("Welcome! Thank you for adding me as a friend!\n\nAsk me anything, or send a file. Type /help to see available commands."),
	}

	if _, err := s.lineClient.PushMessage(welcomeMsg); err != nil {
		return fmt.Errorf("failed to send welcome message: %w", err)
	}

	return nil
}

// imageMessages stores reply images as artifacts and links them for LINE, which only accepts image URLs
func (s *LineWebhookService) imageMessages(ctx context.Context, userID string, turnReply *domain.TurnReply) []domain.LineOutgoingMessage {
	if len(turnReply.Images) == 0 {
		return nil
	}
	if s.publicBaseURL == "" {
		logrus.Warnf("Dropping %d reply images: media.public_base_url is not set", len(turnReply.Images))
		return nil
	}

	messages := make([]domain.LineOutgoingMessage, 0, len(turnReply.Images))
	for _, image := range turnReply.Images {
		filename := "reply-" + uuid.NewString() + imageExtension(image)
		key := domain.ArtifactKey{
			AppName:   s.appName,
			UserID:    userID,
			SessionID: turnReply.BackendSessionID,
			Filename:  filename,
		}
		if _, err := s.artifacts.Save(ctx, key, image.MimeType, image.Data); err != nil {
			logrus.Warnf("Could not store reply image: userID=%s, err=%v", userID, err)
			continue
		}

		link := fmt.Sprintf("%s/v1/api/artifacts/%s/%s/%s", s.publicBaseURL,
			url.PathEscape(userID), url.PathEscape(turnReply.BackendSessionID), url.PathEscape(filename))
		messages = append(messages, domain.LineOutgoingMessage{
			Type:               domain.LineMessageTypeImage,
			OriginalContentURL: link,
			PreviewImageURL:    link,
		})
	}
	return messages
}

// reply sends the first batch with the reply token and pushes the rest.
// If the reply token has expired the first batch is pushed as well.
func (s *LineWebhookService) reply(event domain.LineWebhookEvent, userID string, messages []domain.LineOutgoingMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batches := batchMessages(messages, lineMaxMessagesPerCall)
	first := batches[0]

	if event.ReplyToken != "" {
		_, err := s.lineClient.ReplyMessage(domain.LineReplyMessageRequest{
			ReplyToken: event.ReplyToken,
			Messages:   first,
		})
		if err == nil {
			first = nil
		} else {
			logrus.Warnf("Reply token rejected, falling back to push: userID=%s, err=%v", userID, err)
		}
	}

	if first != nil {
		if err := s.push(userID, first); err != nil {
			return err
		}
	}
	for _, batch := range batches[1:] {
		if err := s.push(userID, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *LineWebhookService) push(userID string, messages []domain.LineOutgoingMessage) error {
	if userID == "" {
		return fmt.Errorf("failed to send reply: no user to push to")
	}
	if _, err := s.lineClient.PushMessage(domain.LinePushMessageRequest{To: userID, Messages: messages}); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// attachmentFromContent builds an attachment from downloaded LINE content.
// A generic content type is dropped so the normalizer sniffs the bytes instead.
func attachmentFromContent(message *domain.LineMessage, content *domain.LineMessageContent) domain.Attachment {
	contentType := baseMimeType(content.ContentType)
	if contentType == domain.MimeTypeOctetStream {
		contentType = ""
	}
	return domain.Attachment{
		Data:     content.Data,
		MimeType: contentType,
		Filename: message.FileName,
	}
}

func imageExtension(image domain.InlinePart) string {
	if ext := extensionFor(baseMimeType(image.MimeType)); ext != ".bin" {
		return ext
	}
	if mime := mimetype.Lookup(baseMimeType(image.MimeType)); mime != nil {
		return mime.Extension()
	}
	return mimetype.Detect(image.Data).Extension()
}

func textMessages(texts ...string) []domain.LineOutgoingMessage {
	messages := make([]domain.LineOutgoingMessage, 0, len(texts))
	for _, text := range texts {
		if text == "" {
			continue
		}
		messages = append(messages, domain.LineOutgoingMessage{
			Type: domain.LineMessageTypeText,
			Text: text,
		})
	}
	return messages
}

func batchMessages(messages []domain.LineOutgoingMessage, size int) [][]domain.LineOutgoingMessage {
	var batches [][]domain.LineOutgoingMessage
	for start := 0; start < len(messages); start += size {
		end := min(start+size, len(messages))
		batches = append(batches, messages[start:end])
	}
	return batches
}

// splitReply breaks text into at most maxParts messages of at most limit characters,
// preferring sentence then word boundaries, and frames each part as "(i/N)".
func splitReply(text string, limit, maxParts int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= limit {
		return []string{text}
	}

	// Room for the "(i/N)\n" header
	budget := limit - len(fmt.Sprintf("(%d/%d)\n", maxParts, maxParts))

	var chunks []string
	rest := []rune(text)
	for len(rest) > 0 {
		if len(rest) <= budget {
			chunks = append(chunks, strings.TrimSpace(string(rest)))
			break
		}
		cut := splitPoint(rest[:budget])
		chunks = append(chunks, strings.TrimSpace(string(rest[:cut])))
		rest = []rune(strings.TrimLeft(string(rest[cut:]), " \n"))
	}

	if len(chunks) > maxParts {
		chunks = chunks[:maxParts]
		last := []rune(chunks[maxParts-1])
		room := budget - len([]rune(lineTruncatedMarker))
		if len(last) > room {
			last = last[:splitPoint(last[:room])]
		}
		chunks[maxParts-1] = strings.TrimSpace(string(last)) + lineTruncatedMarker
	}

	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = fmt.Sprintf("(%d/%d)\n%s", i+1, len(chunks), chunk)
	}
	return parts
}

// splitPoint returns where window should be cut: after the last sentence end, else at
// the last space, else at the end of the window. Full-width stops end a sentence without
// a following space.
func splitPoint(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i > half; i-- {
		switch window[i] {
		case '\n':
			return i + 1
		case '。', '！', '？':
			return i + 1
		case '.', '!', '?':
			if i+1 == len(window) || window[i+1] == ' ' || window[i+1] == '\n' {
				return i + 1
			}
		}
	}
	for i := len(window) - 1; i > half; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return len(window)
}
