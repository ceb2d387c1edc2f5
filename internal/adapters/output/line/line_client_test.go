package line

import (
	"testing"

	"agent-bridge/internal/domain"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// TestConvertToLineMessage tests the domain to SDK message mapping
func TestConvertToLineMessage(t *testing.T) {
	adapter, err := NewLineClientAdapter("test-token", 1024)
	if err != nil {
		t.Fatalf("NewLineClientAdapter() error = %v", err)
	}

	t.Run("text", func(t *testing.T) {
		msg, err := adapter.convertToLineMessage(domain.LineOutgoingMessage{Type: domain.LineMessageTypeText, Text: "hi"})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		text, ok := msg.(*messaging_api.TextMessage)
		if !ok || text.Text != "hi" {
			t.Errorf("message = %#v", msg)
		}
	})

	t.Run("image uses original as preview", func(t *testing.T) {
		msg, err := adapter.convertToLineMessage(domain.LineOutgoingMessage{
			Type:               domain.LineMessageTypeImage,
			OriginalContentURL: "https://bot.example.com/a.png",
		})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		image, ok := msg.(*messaging_api.ImageMessage)
		if !ok {
			t.Fatalf("message = %#v", msg)
		}
		if image.PreviewImageUrl != "https://bot.example.com/a.png" {
			t.Errorf("PreviewImageUrl = %q", image.PreviewImageUrl)
		}
	})

	t.Run("image without url", func(t *testing.T) {
		if _, err := adapter.convertToLineMessage(domain.LineOutgoingMessage{Type: domain.LineMessageTypeImage}); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := adapter.convertToLineMessage(domain.LineOutgoingMessage{Type: domain.LineMessageTypeVideo}); err == nil {
			t.Error("expected an error")
		}
	})
}
