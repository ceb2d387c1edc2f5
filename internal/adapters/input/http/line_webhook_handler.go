package http

import (
	"bytes"
	"net/http"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/input"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/sirupsen/logrus"
)

// LineWebhookHandler struct - verifies LINE callbacks and hands domain events to the service
type LineWebhookHandler struct {
	service       input.LineWebhookService
	channelSecret string
}

// NewLineWebhookHandler func - Creates new LINE webhook handler
func NewLineWebhookHandler(service input.LineWebhookService, channelSecret string) *LineWebhookHandler {
	return &LineWebhookHandler{
		service:       service,
		channelSecret: channelSecret,
	}
}

// HandleWebhook func - Handles incoming LINE webhook requests
// @Summary LINE Webhook
// @Description Verifies the X-Line-Signature header and turns message events into agent turns
// @Tags LINE
// @Accept application/json
// @Produce json
// @Success 200 {object} ResponseBody
// @Failure 400 {object} ResponseBody
// @Failure 500 {object} ResponseBody
// @Router /webhook/line [post]
func (h *LineWebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	callback, err := h.parseCallback(c)
	if err != nil {
		logrus.Warnf("Rejected LINE callback: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(withMessage(BadRequest, "invalid signature or payload"))
	}

	request := domain.LineWebhookRequest{
		Events: make([]domain.LineWebhookEvent, 0, len(callback.Events)),
	}
	for _, event := range callback.Events {
		if domainEvent, ok := toDomainEvent(event); ok {
			request.Events = append(request.Events, domainEvent)
		}
	}

	if err := h.service.HandleWebhook(c.UserContext(), request); err != nil {
		logrus.Errorf("Failed to handle LINE webhook: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseBody{Status: InternalServerError})
	}

	return c.Status(fiber.StatusOK).JSON(ResponseBody{Status: Success})
}

// parseCallback replays the fiber request as a net/http request so the SDK can check the signature
func (h *LineWebhookHandler) parseCallback(c *fiber.Ctx) (*webhook.CallbackRequest, error) {
	httpReq, err := http.NewRequestWithContext(c.UserContext(), http.MethodPost, c.OriginalURL(), bytes.NewReader(c.Body()))
	if err != nil {
		return nil, err
	}
	c.Request().Header.VisitAll(func(key, value []byte) {
		httpReq.Header.Set(string(key), string(value))
	})
	return webhook.ParseRequest(h.channelSecret, httpReq)
}

func toDomainEvent(event webhook.EventInterface) (domain.LineWebhookEvent, bool) {
	switch e := event.(type) {
	case webhook.MessageEvent:
		message, ok := toDomainMessage(e.Message)
		if !ok {
			return domain.LineWebhookEvent{}, false
		}
		return domain.LineWebhookEvent{
			ID:         e.WebhookEventId,
			Type:       domain.LineEventTypeMessage,
			Timestamp:  time.UnixMilli(e.Timestamp),
			ReplyToken: e.ReplyToken,
			Source:     toDomainSource(e.Source),
			Message:    message,
		}, true

	case webhook.FollowEvent:
		return domain.LineWebhookEvent{
			ID:         e.WebhookEventId,
			Type:       domain.LineEventTypeFollow,
			Timestamp:  time.UnixMilli(e.Timestamp),
			ReplyToken: e.ReplyToken,
			Source:     toDomainSource(e.Source),
		}, true

	case webhook.UnfollowEvent:
		return domain.LineWebhookEvent{
			ID:        e.WebhookEventId,
			Type:      domain.LineEventTypeUnfollow,
			Timestamp: time.UnixMilli(e.Timestamp),
			Source:    toDomainSource(e.Source),
		}, true

	default:
		logrus.Debugf("Skipping LINE event %T", event)
		return domain.LineWebhookEvent{}, false
	}
}

// toDomainMessage keeps text and downloadable content; anything else is passed on by type only
// so the service can answer with the unsupported-type note.
func toDomainMessage(content webhook.MessageContentInterface) (*domain.LineMessage, bool) {
	switch msg := content.(type) {
	case webhook.TextMessageContent:
		return &domain.LineMessage{ID: msg.Id, Type: domain.LineMessageTypeText, Text: msg.Text}, true
	case webhook.ImageMessageContent:
		return &domain.LineMessage{ID: msg.Id, Type: domain.LineMessageTypeImage}, true
	case webhook.VideoMessageContent:
		return &domain.LineMessage{ID: msg.Id, Type: domain.LineMessageTypeVideo}, true
	case webhook.AudioMessageContent:
		return &domain.LineMessage{ID: msg.Id, Type: domain.LineMessageTypeAudio}, true
	case webhook.FileMessageContent:
		return &domain.LineMessage{
			ID:       msg.Id,
			Type:     domain.LineMessageTypeFile,
			FileName: msg.FileName,
			FileSize: int64(msg.FileSize),
		}, true
	case webhook.StickerMessageContent:
		return &domain.LineMessage{ID: msg.Id, Type: domain.LineMessageTypeSticker}, true
	case nil:
		return nil, false
	default:
		return &domain.LineMessage{Type: domain.LineMessageTypeUnsupported}, true
	}
}

// toDomainSource keeps the sender; group and room messages are answered per user
func toDomainSource(source webhook.SourceInterface) domain.LineSource {
	switch s := source.(type) {
	case webhook.UserSource:
		return domain.LineSource{Type: domain.LineSourceTypeUser, UserID: s.UserId}
	case webhook.GroupSource:
		return domain.LineSource{Type: domain.LineSourceTypeGroup, UserID: s.UserId}
	case webhook.RoomSource:
		return domain.LineSource{Type: domain.LineSourceTypeRoom, UserID: s.UserId}
	default:
		return domain.LineSource{}
	}
}
