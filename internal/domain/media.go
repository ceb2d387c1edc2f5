package domain

// Attachment is an inbound binary payload as delivered by the transport
type Attachment struct {
	Data     []byte
	MimeType string
	Filename string
}

// DocumentFormat names a rich document format that is converted to text before it reaches the backend
type DocumentFormat string

const (
	DocumentFormatSpreadsheet   DocumentFormat = "spreadsheet"
	DocumentFormatWordProcessor DocumentFormat = "word_processor"
)

// DisplayName returns the human-facing name of the format
func (f DocumentFormat) DisplayName() string {
	switch f {
	case DocumentFormatSpreadsheet:
		return "Excel spreadsheet"
	case DocumentFormatWordProcessor:
		return "Word document"
	default:
		return string(f)
	}
}

// Extension returns the file extension valid files of this format carry
func (f DocumentFormat) Extension() string {
	switch f {
	case DocumentFormatSpreadsheet:
		return ".xlsx"
	case DocumentFormatWordProcessor:
		return ".docx"
	default:
		return ""
	}
}

// MIME types the normalizer knows about
const (
	MimeTypeSpreadsheet   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeTypeWordProcessor = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTypeTextPlain     = "text/plain"
	MimeTypeOctetStream   = "application/octet-stream"
)

// NormalizedMedia is an attachment ready to be stored and forwarded to the backend
type NormalizedMedia struct {
	Filename       string
	MimeType       string
	Payload        []byte
	Converted      bool
	OriginalFormat DocumentFormat
}
