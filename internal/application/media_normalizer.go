package application

import (
	"fmt"
	"path/filepath"
	"strings"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultMaxAttachmentBytes is applied when no attachment size limit is configured
const DefaultMaxAttachmentBytes int64 = 20 << 20

var extensionByMimeType = map[string]string{
	"image/jpeg":                 ".jpg",
	"image/png":                  ".png",
	"audio/mpeg":                 ".mp3",
	"video/mp4":                  ".mp4",
	"application/pdf":            ".pdf",
	domain.MimeTypeSpreadsheet:   ".xlsx",
	domain.MimeTypeWordProcessor: ".docx",
}

// MediaNormalizer struct - Resolves MIME type and filename of attachments and converts office documents to text
type MediaNormalizer struct {
	converter output.DocumentConverter
	maxBytes  int64
}

// NewMediaNormalizer func - Creates new media normalizer. maxBytes <= 0 applies the default limit.
func NewMediaNormalizer(converter output.DocumentConverter, maxBytes int64) *MediaNormalizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	return &MediaNormalizer{
		converter: converter,
		maxBytes:  maxBytes,
	}
}

// Normalize func - Use case: make an attachment ready for storage and the backend
func (n *MediaNormalizer) Normalize(attachment domain.Attachment) (*domain.NormalizedMedia, error) {
	if len(attachment.Data) == 0 {
		return nil, domain.ErrEmptyPayload
	}
	if int64(len(attachment.Data)) > n.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrPayloadTooLarge, len(attachment.Data), n.maxBytes)
	}

	mimeType := baseMimeType(attachment.MimeType)
	if mimeType == "" {
		mimeType = baseMimeType(mimetype.Detect(attachment.Data).String())
	}

	filename := strings.TrimSpace(attachment.Filename)
	if filename == "" {
		filename = uuid.NewString() + extensionFor(mimeType)
	}

	media := &domain.NormalizedMedia{
		Filename: filename,
		MimeType: mimeType,
		Payload:  attachment.Data,
	}

	var (
		format  domain.DocumentFormat
		text    string
		convErr error
	)
	switch mimeType {
	case domain.MimeTypeSpreadsheet:
		format = domain.DocumentFormatSpreadsheet
		text, convErr = n.converter.SpreadsheetToText(attachment.Data)
	case domain.MimeTypeWordProcessor:
		format = domain.DocumentFormatWordProcessor
		text, convErr = n.converter.WordDocumentToText(attachment.Data)
	default:
		return media, nil
	}
	if convErr != nil {
		return nil, &domain.ConversionError{Format: format, Err: convErr}
	}

	media.Filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".txt"
	media.MimeType = domain.MimeTypeTextPlain
	media.Payload = []byte(text)
	media.Converted = true
	media.OriginalFormat = format
	return media, nil
}

// baseMimeType drops parameters such as charset and lowercases the type
func baseMimeType(value string) string {
	value, _, _ = strings.Cut(value, ";")
	return strings.ToLower(strings.TrimSpace(value))
}

func extensionFor(mimeType string) string {
	if ext, ok := extensionByMimeType[mimeType]; ok {
		return ext
	}
	return ".bin"
}
